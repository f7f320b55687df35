package quiz

import (
	"slices"
	"strings"
)

// FindingKind classifies an answer-key defect.
type FindingKind string

const (
	// KindAnswerNotInOptions: the answer key matches none of the options.
	KindAnswerNotInOptions FindingKind = "answer_not_in_options"
	// KindMultiValueAnswer: the answer key is several options joined by
	// commas, so no single selection can match it.
	KindMultiValueAnswer FindingKind = "multi_value_answer"
	// KindAmbiguousAnswer: the answer key appears more than once among the
	// options.
	KindAmbiguousAnswer FindingKind = "ambiguous_answer"
)

// Finding is one content defect for the content owner to review.
type Finding struct {
	Set     string
	Country string
	Index   int
	Prompt  string
	Answer  string
	Kind    FindingKind
}

// Audit checks that every answer key equals exactly one option. It reports
// defects and never alters the content.
func Audit(set QuestionSet) []Finding {
	var findings []Finding
	for _, country := range set.countries {
		for i, q := range set.questions[country] {
			kind, ok := checkAnswer(q)
			if !ok {
				continue
			}
			findings = append(findings, Finding{
				Set:     set.name,
				Country: country,
				Index:   i,
				Prompt:  q.Prompt,
				Answer:  q.Answer,
				Kind:    kind,
			})
		}
	}
	return findings
}

func checkAnswer(q Question) (FindingKind, bool) {
	switch n := countOption(q.Options, q.Answer); {
	case n == 1:
		return "", false
	case n > 1:
		return KindAmbiguousAnswer, true
	}

	parts := strings.Split(q.Answer, ",")
	if len(parts) < 2 {
		return KindAnswerNotInOptions, true
	}
	for _, p := range parts {
		if !slices.Contains(q.Options, strings.TrimSpace(p)) {
			return KindAnswerNotInOptions, true
		}
	}
	return KindMultiValueAnswer, true
}

func countOption(options []string, answer string) int {
	n := 0
	for _, o := range options {
		if o == answer {
			n++
		}
	}
	return n
}
