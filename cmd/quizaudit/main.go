// Command quizaudit exports the compiled-in question bank and its answer-key
// defects to an XLSX workbook.
package main

import (
	"flag"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/p-n-ai/geoquiz-bot/internal/platform/logger"
	"github.com/p-n-ai/geoquiz-bot/internal/quiz"
	"github.com/p-n-ai/geoquiz-bot/internal/report"
)

func main() {
	out := flag.String("out", "quiz-audit.xlsx", "workbook path")
	sets := flag.String("sets", "", "comma-separated question sets (default: all)")
	flag.Parse()

	l, sync, err := logger.New("info", "console")
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer sync()
	slog.SetDefault(l)

	if err := run(*out, *sets); err != nil {
		slog.Error("audit failed", "error", err)
		sync()
		os.Exit(1)
	}
}

func run(path, setList string) error {
	bank, err := quiz.LoadBank()
	if err != nil {
		return err
	}
	selected, err := selectSets(bank, setList)
	if err != nil {
		return err
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating %s: %w", path, err)
	}
	sum, err := report.Write(f, selected)
	if cerr := f.Close(); err == nil && cerr != nil {
		err = fmt.Errorf("closing %s: %w", path, cerr)
	}
	if err != nil {
		return err
	}

	for _, fd := range sum.Findings {
		slog.Warn("answer key defect",
			"set", fd.Set,
			"country", fd.Country,
			"question", fd.Index+1,
			"kind", fd.Kind,
			"answer", fd.Answer,
		)
	}
	slog.Info("audit written", "path", path, "questions", sum.Questions, "findings", len(sum.Findings))
	return nil
}

func selectSets(bank *quiz.Bank, list string) ([]quiz.QuestionSet, error) {
	names := bank.SetNames()
	if strings.TrimSpace(list) != "" {
		names = strings.Split(list, ",")
	}
	sets := make([]quiz.QuestionSet, 0, len(names))
	for _, n := range names {
		set, err := bank.Set(strings.TrimSpace(n))
		if err != nil {
			return nil, err
		}
		sets = append(sets, set)
	}
	return sets, nil
}
