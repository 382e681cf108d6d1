package loader

import (
	"bytes"
	"encoding/json"
	"path/filepath"
	"strings"

	"github.com/xhad/docqa/internal/apperr"
)

// ParseQuestions reads a questions file. Accepted shapes are
// {"questions": [...]}, a bare array, {"question": "..."}, or an object whose
// first list-valued field, in document order, holds the questions.
func ParseQuestions(filename string, data []byte) ([]string, error) {
	if filepath.Ext(filename) != "" && FormatOf(filename) != FormatJSON {
		return nil, apperr.Validation("questions file must be a JSON file")
	}

	var value interface{}
	if err := json.Unmarshal(data, &value); err != nil {
		return nil, apperr.Validation("error parsing questions JSON file: %v", err)
	}

	raw, err := questionList(value, data)
	if err != nil {
		return nil, err
	}
	if len(raw) == 0 {
		return nil, apperr.Validation("no questions found in the questions file")
	}

	questions := make([]string, 0, len(raw))
	for i, item := range raw {
		q, ok := item.(string)
		if !ok {
			return nil, apperr.Validation("question %d is not a string", i+1)
		}
		if strings.TrimSpace(q) == "" {
			return nil, apperr.Validation("question %d is empty", i+1)
		}
		questions = append(questions, q)
	}
	return questions, nil
}

func questionList(value interface{}, data []byte) ([]interface{}, error) {
	switch v := value.(type) {
	case []interface{}:
		return v, nil
	case map[string]interface{}:
		if qs, ok := v["questions"]; ok {
			list, ok := qs.([]interface{})
			if !ok {
				return nil, apperr.Validation("'questions' field must be a list")
			}
			return list, nil
		}
		if q, ok := v["question"]; ok {
			return []interface{}{q}, nil
		}
		if list, ok := firstListField(data); ok {
			return list, nil
		}
		return nil, apperr.Validation("no 'questions' field found in JSON")
	default:
		return nil, apperr.Validation("invalid JSON structure for questions file")
	}
}

// firstListField walks the top-level object of data and returns the first
// value that is a JSON array.
func firstListField(data []byte) ([]interface{}, bool) {
	dec := json.NewDecoder(bytes.NewReader(data))
	if tok, err := dec.Token(); err != nil || tok != json.Delim('{') {
		return nil, false
	}

	for dec.More() {
		if _, err := dec.Token(); err != nil {
			return nil, false
		}
		var raw json.RawMessage
		if err := dec.Decode(&raw); err != nil {
			return nil, false
		}
		var list []interface{}
		if err := json.Unmarshal(raw, &list); err == nil && list != nil {
			return list, true
		}
	}
	return nil, false
}
