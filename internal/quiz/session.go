package quiz

import (
	"encoding/json"
	"errors"
	"fmt"
	"maps"
)

var (
	// ErrInvalidTransition is returned when an operation is requested from a
	// screen that does not offer it. The session is left untouched.
	ErrInvalidTransition = errors.New("invalid screen transition")
	// ErrUnknownCountry is returned when a quiz is started for a country that
	// has no questions.
	ErrUnknownCountry = errors.New("unknown country")
)

// Screen is the view a session is currently on.
type Screen int

const (
	ScreenHome Screen = iota
	ScreenSelectCountry
	ScreenQuiz
	ScreenResult
)

func (s Screen) String() string {
	switch s {
	case ScreenHome:
		return "home"
	case ScreenSelectCountry:
		return "select_country"
	case ScreenQuiz:
		return "quiz"
	case ScreenResult:
		return "result"
	default:
		return "unknown"
	}
}

// MarshalText encodes the screen by name.
func (s Screen) MarshalText() ([]byte, error) {
	if s < ScreenHome || s > ScreenResult {
		return nil, fmt.Errorf("invalid screen %d", int(s))
	}
	return []byte(s.String()), nil
}

// UnmarshalText decodes a screen name written by MarshalText.
func (s *Screen) UnmarshalText(text []byte) error {
	for c := ScreenHome; c <= ScreenResult; c++ {
		if c.String() == string(text) {
			*s = c
			return nil
		}
	}
	return fmt.Errorf("invalid screen %q", text)
}

// Session is the state of one user's quiz. The zero value is not usable;
// create sessions with NewSession.
//
// Lifecycle: StartQuiz replaces the questions and clears the selections,
// Submit stores the score and moves to ScreenResult, GoHome changes the
// screen only. Stale country, questions and score stay around until the next
// StartQuiz overwrites them.
type Session struct {
	screen     Screen
	country    *string
	questions  []Question
	selections map[int]string
	score      *int
}

// NewSession returns a session on the home screen with nothing selected.
func NewSession() *Session {
	return &Session{
		screen:     ScreenHome,
		selections: make(map[int]string),
	}
}

// Screen returns the screen the user is on.
func (s *Session) Screen() Screen {
	return s.screen
}

// Country returns the country of the last started quiz.
func (s *Session) Country() (string, bool) {
	if s.country == nil {
		return "", false
	}
	return *s.country, true
}

// Questions returns a copy of the active questions.
func (s *Session) Questions() []Question {
	return cloneQuestions(s.questions)
}

// Selection returns the option chosen for question index i.
func (s *Session) Selection(i int) (string, bool) {
	opt, ok := s.selections[i]
	return opt, ok
}

// Selections returns a copy of all recorded selections.
func (s *Session) Selections() map[int]string {
	return maps.Clone(s.selections)
}

// Result returns the score and the number of active questions. ok is false
// unless the session is on the result screen.
func (s *Session) Result() (score, total int, ok bool) {
	if s.screen != ScreenResult || s.score == nil {
		return 0, 0, false
	}
	return *s.score, len(s.questions), true
}

// OpenCountrySelection moves from the home screen to country selection.
func (s *Session) OpenCountrySelection() error {
	if s.screen != ScreenHome {
		return s.invalid("open country selection")
	}
	s.screen = ScreenSelectCountry
	return nil
}

// StartQuiz loads the questions of country from set and clears previous
// selections.
func (s *Session) StartQuiz(set QuestionSet, country string) error {
	if s.screen != ScreenSelectCountry {
		return s.invalid("start quiz")
	}
	questions, ok := set.Questions(country)
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownCountry, country)
	}
	s.country = &country
	s.questions = questions
	s.selections = make(map[int]string)
	s.screen = ScreenQuiz
	return nil
}

// Select records option as the answer to question index. The option is not
// checked against the question's options; a foreign value simply never
// scores.
func (s *Session) Select(index int, option string) error {
	if s.screen != ScreenQuiz {
		return s.invalid("select option")
	}
	s.selections[index] = option
	return nil
}

// Submit scores the current selections and moves to the result screen.
func (s *Session) Submit() error {
	if s.screen != ScreenQuiz {
		return s.invalid("submit")
	}
	score := Score(s.questions, s.selections)
	s.score = &score
	s.screen = ScreenResult
	return nil
}

// SwitchQuiz leaves a quiz in progress for country selection.
func (s *Session) SwitchQuiz() error {
	if s.screen != ScreenQuiz {
		return s.invalid("switch quiz")
	}
	s.screen = ScreenSelectCountry
	return nil
}

// GoHome returns to the home screen from country selection or the result
// screen. It is a no-op on the home screen.
func (s *Session) GoHome() error {
	switch s.screen {
	case ScreenHome, ScreenSelectCountry, ScreenResult:
		s.screen = ScreenHome
		return nil
	default:
		return s.invalid("go home")
	}
}

func (s *Session) invalid(op string) error {
	return fmt.Errorf("%w: %s from %s", ErrInvalidTransition, op, s.screen)
}

// Score counts the questions whose selection equals the answer key exactly.
// Unanswered questions never score.
func Score(questions []Question, selections map[int]string) int {
	correct := 0
	for i, q := range questions {
		if opt, ok := selections[i]; ok && q.IsCorrect(opt) {
			correct++
		}
	}
	return correct
}

type sessionJSON struct {
	Screen     Screen         `json:"screen"`
	Country    *string        `json:"country,omitempty"`
	Questions  []Question     `json:"questions,omitempty"`
	Selections map[int]string `json:"selections,omitempty"`
	Score      *int           `json:"score,omitempty"`
}

func (s *Session) MarshalJSON() ([]byte, error) {
	return json.Marshal(sessionJSON{
		Screen:     s.screen,
		Country:    s.country,
		Questions:  s.questions,
		Selections: s.selections,
		Score:      s.score,
	})
}

func (s *Session) UnmarshalJSON(data []byte) error {
	var raw sessionJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if raw.Screen == ScreenResult && raw.Score == nil {
		return errors.New("result screen without score")
	}
	if raw.Screen == ScreenQuiz && raw.Country == nil {
		return errors.New("quiz screen without country")
	}
	if raw.Selections == nil {
		raw.Selections = make(map[int]string)
	}
	*s = Session{
		screen:     raw.Screen,
		country:    raw.Country,
		questions:  raw.Questions,
		selections: raw.Selections,
		score:      raw.Score,
	}
	return nil
}
