package models

// Document is one loadable unit of text: a single PDF page or a whole JSON
// document.
type Document struct {
	Content  string
	Metadata map[string]interface{}
}

// Fragment is a bounded slice of a Document's text. Metadata is a copy of the
// parent document's metadata.
type Fragment struct {
	Content  string
	Metadata map[string]interface{}
}

// IndexedFragment is a Fragment stored in a vector index.
type IndexedFragment struct {
	Fragment
	ID        string
	Seq       int
	Embedding []float32
}

// Answer pairs a question with the model's answer.
type Answer struct {
	Question string
	Answer   string
}

// CopyMetadata returns a shallow copy of m. A nil map is returned as an empty one.
func CopyMetadata(m map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
