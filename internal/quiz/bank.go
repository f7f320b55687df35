package quiz

import (
	_ "embed"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/xeipuuv/gojsonschema"
	"gopkg.in/yaml.v3"
)

// DefaultSet is the question set served when none is configured.
const DefaultSet = "classic"

// ErrUnknownQuestionSet is returned when a set name is not in the bank.
var ErrUnknownQuestionSet = errors.New("unknown question set")

var (
	//go:embed data/questions.yaml
	embeddedContent []byte

	//go:embed data/questions.schema.json
	contentSchema string
)

// Bank holds every compiled-in question set.
type Bank struct {
	sets  map[string]QuestionSet
	order []string
}

type contentFile struct {
	Sets []struct {
		Name      string `yaml:"name"`
		Countries []struct {
			Country   string     `yaml:"country"`
			Questions []Question `yaml:"questions"`
		} `yaml:"countries"`
	} `yaml:"sets"`
}

// LoadBank parses the content embedded in the binary.
func LoadBank() (*Bank, error) {
	return ParseBank(embeddedContent)
}

// ParseBank validates data against the content schema and builds a Bank.
func ParseBank(data []byte) (*Bank, error) {
	var doc any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse quiz content: %w", err)
	}

	result, err := gojsonschema.Validate(
		gojsonschema.NewStringLoader(contentSchema),
		gojsonschema.NewGoLoader(doc),
	)
	if err != nil {
		return nil, fmt.Errorf("validate quiz content: %w", err)
	}
	if !result.Valid() {
		msgs := make([]string, 0, len(result.Errors()))
		for _, e := range result.Errors() {
			msgs = append(msgs, e.String())
		}
		return nil, fmt.Errorf("invalid quiz content: %s", strings.Join(msgs, "; "))
	}

	var file contentFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("decode quiz content: %w", err)
	}

	b := &Bank{sets: make(map[string]QuestionSet, len(file.Sets))}
	for _, s := range file.Sets {
		if _, dup := b.sets[s.Name]; dup {
			return nil, fmt.Errorf("duplicate question set %q", s.Name)
		}
		set := QuestionSet{
			name:      s.Name,
			countries: make([]string, 0, len(s.Countries)),
			questions: make(map[string][]Question, len(s.Countries)),
		}
		for _, c := range s.Countries {
			if set.HasCountry(c.Country) {
				return nil, fmt.Errorf("question set %q: duplicate country %q", s.Name, c.Country)
			}
			set.countries = append(set.countries, c.Country)
			set.questions[c.Country] = cloneQuestions(c.Questions)
		}
		b.sets[s.Name] = set
		b.order = append(b.order, s.Name)
	}

	slog.Debug("quiz content loaded", "sets", len(b.order))
	return b, nil
}

// Set returns the named question set.
func (b *Bank) Set(name string) (QuestionSet, error) {
	s, ok := b.sets[name]
	if !ok {
		return QuestionSet{}, fmt.Errorf("%w: %q", ErrUnknownQuestionSet, name)
	}
	return s, nil
}

// SetNames returns the set names in content order.
func (b *Bank) SetNames() []string {
	return append([]string(nil), b.order...)
}
