package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/fatih/color"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/xhad/docqa/pkg/pipeline"
)

func newAskCmd(configPath *string) *cobra.Command {
	var documentPath, questionsPath string

	cmd := &cobra.Command{
		Use:   "ask",
		Short: "Answer a questions file against a document locally",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(*configPath)
			if err != nil {
				return err
			}

			document, err := os.ReadFile(documentPath)
			if err != nil {
				return fmt.Errorf("failed to read document: %w", err)
			}
			questions, err := os.ReadFile(questionsPath)
			if err != nil {
				return fmt.Errorf("failed to read questions: %w", err)
			}

			// Progress output replaces request logging on the terminal.
			log := zap.NewNop()
			if cfg.Log.Level == "debug" {
				if log, err = newLogger(cfg); err != nil {
					return err
				}
			}

			out := cmd.OutOrStdout()
			progress := newProgressObserver(out)

			a, err := newApp(cmd.Context(), cfg, log, progress)
			if err != nil {
				return err
			}
			defer a.Close()

			color.Blue("\nAnswering %s against %s\n", filepath.Base(questionsPath), filepath.Base(documentPath))

			res, err := a.pipeline.Run(cmd.Context(), pipeline.Request{
				DocumentName:  filepath.Base(documentPath),
				Document:      document,
				QuestionsName: filepath.Base(questionsPath),
				Questions:     questions,
			})
			progress.finish()
			if err != nil {
				return err
			}

			color.Green("\n✓ Answered %d questions from %d fragments\n", len(res.Answers), res.Fragments)
			printAnswers(out, res)
			return nil
		},
	}

	cmd.Flags().StringVarP(&documentPath, "document", "d", "", "PDF or JSON document")
	cmd.Flags().StringVarP(&questionsPath, "questions", "q", "", "JSON questions file")
	_ = cmd.MarkFlagRequired("document")
	_ = cmd.MarkFlagRequired("questions")
	return cmd
}

func printAnswers(w io.Writer, res *pipeline.Result) {
	question := color.New(color.FgGreen).FprintfFunc()
	answer := color.New(color.FgCyan).FprintfFunc()

	for i, a := range res.Answers {
		question(w, "\nQ%d: %s\n", i+1, a.Question)
		answer(w, "A%d: %s\n", i+1, a.Answer)
	}
}

// progressObserver shows a spinner per pipeline stage and a bar over the
// questions.
type progressObserver struct {
	out     io.Writer
	spinner *progressbar.ProgressBar
	bar     *progressbar.ProgressBar
}

func newProgressObserver(out io.Writer) *progressObserver {
	return &progressObserver{out: out}
}

var stageDescriptions = map[pipeline.State]string{
	pipeline.StateValidated:      "📄 Loading document...",
	pipeline.StateDocumentLoaded: "💾 Building index...",
}

func (p *progressObserver) OnState(state pipeline.State) {
	p.stopSpinner()
	if desc, ok := stageDescriptions[state]; ok {
		p.spinner = getSpinner(p.out, desc)
	}
}

func (p *progressObserver) OnAnswer(i, n int) {
	if p.bar == nil {
		p.bar = getProgressBar(p.out, n, "🤖 Answering questions...")
	}
	_ = p.bar.Set(i)
}

func (p *progressObserver) stopSpinner() {
	if p.spinner != nil {
		_ = p.spinner.Finish()
		p.spinner = nil
	}
}

func (p *progressObserver) finish() {
	p.stopSpinner()
	if p.bar != nil {
		_ = p.bar.Finish()
	}
}

func getProgressBar(w io.Writer, total int, description string) *progressbar.ProgressBar {
	return progressbar.NewOptions(total,
		progressbar.OptionSetWriter(w),
		progressbar.OptionSetDescription(color.BlueString(description)),
		progressbar.OptionSetItsString("questions"),
		progressbar.OptionShowCount(),
		progressbar.OptionSetTheme(progressbar.Theme{
			Saucer:        "█",
			SaucerHead:    "█",
			SaucerPadding: "░",
			BarStart:      "[",
			BarEnd:        "]",
		}),
		progressbar.OptionEnableColorCodes(true),
		progressbar.OptionSetWidth(40),
		progressbar.OptionShowElapsedTimeOnFinish(),
		progressbar.OptionSetRenderBlankState(true),
	)
}

func getSpinner(w io.Writer, description string) *progressbar.ProgressBar {
	return progressbar.NewOptions(-1,
		progressbar.OptionSetWriter(w),
		progressbar.OptionSetDescription(color.CyanString(description)),
		progressbar.OptionSpinnerType(14),
		progressbar.OptionSetWidth(20),
		progressbar.OptionEnableColorCodes(true),
		progressbar.OptionSetRenderBlankState(true),
	)
}
