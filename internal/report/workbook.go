// Package report exports the question bank and its content audit as an
// XLSX workbook for the content owner.
package report

import (
	"fmt"
	"io"

	"github.com/xuri/excelize/v2"

	"github.com/p-n-ai/geoquiz-bot/internal/quiz"
)

const (
	SheetQuestions = "Perguntas"
	SheetFindings  = "Problemas"
)

var (
	questionHeader = []any{"Conjunto", "País", "Nº", "Pergunta", "Opção 1", "Opção 2", "Opção 3", "Resposta", "Problema"}
	findingHeader  = []any{"Conjunto", "País", "Nº", "Pergunta", "Resposta", "Tipo"}
)

// Summary counts what a workbook contains.
type Summary struct {
	Questions int
	Findings  []quiz.Finding
}

// Build creates the workbook for sets. Question numbers are 1-based.
func Build(sets []quiz.QuestionSet) (*excelize.File, Summary, error) {
	f := excelize.NewFile()
	var sum Summary

	if err := f.SetSheetName("Sheet1", SheetQuestions); err != nil {
		f.Close()
		return nil, sum, fmt.Errorf("renaming sheet: %w", err)
	}
	if _, err := f.NewSheet(SheetFindings); err != nil {
		f.Close()
		return nil, sum, fmt.Errorf("creating sheet: %w", err)
	}

	bold, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		f.Close()
		return nil, sum, fmt.Errorf("creating header style: %w", err)
	}

	qw := &sheetWriter{f: f, sheet: SheetQuestions}
	fw := &sheetWriter{f: f, sheet: SheetFindings}
	qw.row(questionHeader)
	fw.row(findingHeader)

	for _, set := range sets {
		findings := quiz.Audit(set)
		sum.Findings = append(sum.Findings, findings...)

		byQuestion := make(map[string]quiz.FindingKind, len(findings))
		for _, fd := range findings {
			byQuestion[findingKey(fd.Country, fd.Index)] = fd.Kind
			fw.row([]any{fd.Set, fd.Country, fd.Index + 1, fd.Prompt, fd.Answer, string(fd.Kind)})
		}

		for _, country := range set.Countries() {
			questions, _ := set.Questions(country)
			for i, q := range questions {
				row := []any{set.Name(), country, i + 1, q.Prompt}
				for j := range 3 {
					opt := ""
					if j < len(q.Options) {
						opt = q.Options[j]
					}
					row = append(row, opt)
				}
				row = append(row, q.Answer, string(byQuestion[findingKey(country, i)]))
				qw.row(row)
				sum.Questions++
			}
		}
	}

	for _, w := range []*sheetWriter{qw, fw} {
		if w.err != nil {
			f.Close()
			return nil, sum, w.err
		}
		if err := w.finish(bold, len(w.header)); err != nil {
			f.Close()
			return nil, sum, err
		}
	}
	return f, sum, nil
}

// Write builds the workbook for sets and writes it to w.
func Write(w io.Writer, sets []quiz.QuestionSet) (Summary, error) {
	f, sum, err := Build(sets)
	if err != nil {
		return sum, err
	}
	defer f.Close()

	if err := f.Write(w); err != nil {
		return sum, fmt.Errorf("writing workbook: %w", err)
	}
	return sum, nil
}

func findingKey(country string, index int) string {
	return fmt.Sprintf("%s#%d", country, index)
}

type sheetWriter struct {
	f      *excelize.File
	sheet  string
	next   int
	header []any
	err    error
}

func (s *sheetWriter) row(values []any) {
	if s.err != nil {
		return
	}
	if s.next == 0 {
		s.header = values
	}
	s.next++
	cell, err := excelize.CoordinatesToCellName(1, s.next)
	if err != nil {
		s.err = err
		return
	}
	if err := s.f.SetSheetRow(s.sheet, cell, &values); err != nil {
		s.err = fmt.Errorf("writing %s row %d: %w", s.sheet, s.next, err)
	}
}

func (s *sheetWriter) finish(headerStyle, columns int) error {
	last, err := excelize.ColumnNumberToName(columns)
	if err != nil {
		return err
	}
	if err := s.f.SetCellStyle(s.sheet, "A1", last+"1", headerStyle); err != nil {
		return fmt.Errorf("styling %s header: %w", s.sheet, err)
	}
	if err := s.f.SetColWidth(s.sheet, "D", "D", 45); err != nil {
		return fmt.Errorf("sizing %s columns: %w", s.sheet, err)
	}
	return nil
}
