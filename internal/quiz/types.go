// Package quiz holds the compiled-in question bank and the per-user quiz
// session state machine.
package quiz

import "slices"

// Question is a single multiple-choice question.
type Question struct {
	Prompt  string   `json:"prompt" yaml:"prompt"`
	Options []string `json:"options" yaml:"options"`
	Answer  string   `json:"answer" yaml:"answer"`
}

// Clone returns a deep copy of q.
func (q Question) Clone() Question {
	q.Options = slices.Clone(q.Options)
	return q
}

// IsCorrect reports whether option is exactly the answer key.
func (q Question) IsCorrect(option string) bool {
	return option == q.Answer
}

// QuestionSet maps country names to their ordered questions. It is immutable
// once built: every accessor returns copies.
type QuestionSet struct {
	name      string
	countries []string
	questions map[string][]Question
}

// Name returns the variant name of the set (e.g. "classic").
func (s QuestionSet) Name() string {
	return s.name
}

// Countries returns the country keys in content order.
func (s QuestionSet) Countries() []string {
	return slices.Clone(s.countries)
}

// HasCountry reports whether country is a key of the set.
func (s QuestionSet) HasCountry(country string) bool {
	_, ok := s.questions[country]
	return ok
}

// Questions returns a copy of the questions for country.
func (s QuestionSet) Questions(country string) ([]Question, bool) {
	qs, ok := s.questions[country]
	if !ok {
		return nil, false
	}
	return cloneQuestions(qs), true
}

func cloneQuestions(qs []Question) []Question {
	out := make([]Question, len(qs))
	for i, q := range qs {
		out[i] = q.Clone()
	}
	return out
}
