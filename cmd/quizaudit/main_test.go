package main

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/p-n-ai/geoquiz-bot/internal/quiz"
)

func TestSelectSets(t *testing.T) {
	bank, err := quiz.LoadBank()
	if err != nil {
		t.Fatalf("LoadBank() error = %v", err)
	}

	tests := []struct {
		name    string
		list    string
		want    []string
		wantErr error
	}{
		{"all", "", []string{"classic", "extended"}, nil},
		{"one", "extended", []string{"extended"}, nil},
		{"spaces", " classic , extended", []string{"classic", "extended"}, nil},
		{"unknown", "classic,missing", nil, quiz.ErrUnknownQuestionSet},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sets, err := selectSets(bank, tt.list)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("selectSets() error = %v, want %v", err, tt.wantErr)
			}
			if len(sets) != len(tt.want) {
				t.Fatalf("got %d sets, want %d", len(sets), len(tt.want))
			}
			for i, s := range sets {
				if s.Name() != tt.want[i] {
					t.Errorf("set[%d] = %q, want %q", i, s.Name(), tt.want[i])
				}
			}
		})
	}
}

func TestRun_WritesWorkbook(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.xlsx")

	if err := run(path, "extended"); err != nil {
		t.Fatalf("run() error = %v", err)
	}
	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("workbook not written: %v", err)
	}
	if info.Size() == 0 {
		t.Error("workbook is empty")
	}
}
