package game

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/p-n-ai/geoquiz-bot/internal/chat"
	"github.com/p-n-ai/geoquiz-bot/internal/geo"
	"github.com/p-n-ai/geoquiz-bot/internal/quiz"
)

type stubResolver struct {
	country string
	gate    chan struct{}
	calls   atomic.Int32
}

func (r *stubResolver) Resolve(_ context.Context, src geo.PositionSource) geo.LocationInfo {
	r.calls.Add(1)
	if r.gate != nil {
		<-r.gate
	}
	if _, ok := src.(geo.DeclinedPosition); ok {
		return geo.LocationInfo{Status: geo.StatusDenied}
	}
	country := r.country
	return geo.LocationInfo{Status: geo.StatusResolved, Country: &country}
}

type failingStore struct{}

func (failingStore) Load(context.Context, string) (*State, bool, error) {
	return nil, false, errors.New("store down")
}
func (failingStore) Save(context.Context, string, *State) error { return errors.New("store down") }

func newTestEngine(t *testing.T, res LocationResolver, store SessionStore) (*Engine, *chat.MockChannel) {
	t.Helper()
	bank, err := quiz.LoadBank()
	if err != nil {
		t.Fatalf("LoadBank() error = %v", err)
	}
	set, err := bank.Set(quiz.DefaultSet)
	if err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	mock := &chat.MockChannel{}
	gw := chat.NewGateway()
	gw.Register("telegram", mock)
	return NewEngine(EngineConfig{Set: set, Resolver: res, Sender: gw, Store: store}), mock
}

func text(e *Engine, s string) {
	e.HandleMessage(context.Background(), chat.InboundMessage{Channel: "telegram", UserID: "7", Text: s})
}

func press(e *Engine, action string) {
	e.HandleMessage(context.Background(), chat.InboundMessage{Channel: "telegram", UserID: "7", Action: action, MessageID: 99})
}

func shareLocation(e *Engine) {
	e.HandleMessage(context.Background(), chat.InboundMessage{
		Channel:  "telegram",
		UserID:   "7",
		Location: &chat.Location{Latitude: -15.79, Longitude: -47.88},
	})
}

func last(t *testing.T, mock *chat.MockChannel) chat.OutboundMessage {
	t.Helper()
	msg, ok := mock.Last()
	if !ok {
		t.Fatal("no message sent")
	}
	return msg
}

func TestEngine_StartSendsHomeAndLocationPrompt(t *testing.T) {
	e, mock := newTestEngine(t, &stubResolver{country: "Brazil"}, nil)

	text(e, "/start")

	msgs := mock.Messages()
	if len(msgs) != 2 {
		t.Fatalf("sent %d messages, want 2", len(msgs))
	}
	home := msgs[0]
	if home.Screen != "home" {
		t.Errorf("Screen = %q, want home", home.Screen)
	}
	if !strings.Contains(home.Text, "Bem-vindo!") || !strings.Contains(home.Text, "Carregando...") {
		t.Errorf("home text = %q", home.Text)
	}
	if home.Channel != "telegram" || home.UserID != "7" {
		t.Errorf("addressed to %s/%s", home.Channel, home.UserID)
	}
	prompt := msgs[1]
	if prompt.RequestLocation == nil || prompt.RequestLocation.DeclineLabel != LabelDecline {
		t.Errorf("prompt = %+v, want a location request", prompt)
	}
}

func TestEngine_FirstMessageLaunchesSession(t *testing.T) {
	e, mock := newTestEngine(t, &stubResolver{}, nil)

	text(e, "oi")

	if n := len(mock.Messages()); n != 2 {
		t.Errorf("sent %d messages, want home and location prompt", n)
	}
}

func TestEngine_BrazilQuiz(t *testing.T) {
	e, mock := newTestEngine(t, &stubResolver{}, nil)

	text(e, "/start")
	press(e, "select")
	if got := last(t, mock); got.Screen != "select_country" {
		t.Fatalf("Screen = %q, want select_country", got.Screen)
	}

	press(e, "country:Brazil")
	quizMsg := last(t, mock)
	if quizMsg.Screen != "quiz" {
		t.Fatalf("Screen = %q, want quiz", quizMsg.Screen)
	}
	if !strings.Contains(quizMsg.Text, "Qual é a capital do Brasil?") {
		t.Errorf("quiz text = %q", quizMsg.Text)
	}

	press(e, "opt:0:2") // Brasília
	press(e, "opt:1:1") // Português
	press(e, "opt:2:1") // Rio São Francisco
	press(e, "submit")

	result := last(t, mock)
	if result.Screen != "result" {
		t.Fatalf("Screen = %q, want result", result.Screen)
	}
	if result.Text != "Você acertou 2 de 3 perguntas!" {
		t.Errorf("Text = %q", result.Text)
	}

	press(e, "home")
	if got := last(t, mock); got.Screen != "home" {
		t.Errorf("Screen = %q, want home", got.Screen)
	}
}

func TestEngine_SelectionIsMarked(t *testing.T) {
	e, mock := newTestEngine(t, &stubResolver{}, nil)

	text(e, "/start")
	press(e, "select")
	press(e, "country:Japan")
	press(e, "opt:0:1")

	got := last(t, mock)
	if got.EditMessageID != 99 {
		t.Errorf("EditMessageID = %d, want 99", got.EditMessageID)
	}
	row := got.Buttons[0]
	if !row[1].Selected || row[0].Selected || row[2].Selected {
		t.Errorf("selection marks = %v %v %v", row[0].Selected, row[1].Selected, row[2].Selected)
	}
	if !strings.Contains(got.Text, selectedMarker+"Tóquio") {
		t.Errorf("quiz text should show the selection, got %q", got.Text)
	}
}

func TestEngine_StaleActionsRerenderCurrentScreen(t *testing.T) {
	tests := []struct {
		name   string
		setup  []string
		action string
		want   string
	}{
		{"submit-from-home", nil, "submit", "home"},
		{"switch-from-select", []string{"select"}, "switch", "select_country"},
		{"unknown-country", []string{"select"}, "country:Narnia", "select_country"},
		{"option-out-of-range", []string{"select", "country:USA"}, "opt:9:0", "quiz"},
		{"malformed-option", []string{"select", "country:USA"}, "opt:x", "quiz"},
		{"home-from-quiz", []string{"select", "country:USA"}, "home", "quiz"},
		{"unknown-action", nil, "dance", "home"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e, mock := newTestEngine(t, &stubResolver{}, nil)
			text(e, "/start")
			for _, a := range tt.setup {
				press(e, a)
			}
			press(e, tt.action)
			if got := last(t, mock); got.Screen != tt.want {
				t.Errorf("Screen = %q, want %q", got.Screen, tt.want)
			}
		})
	}
}

func TestEngine_OutOfRangeOptionRecordsNothing(t *testing.T) {
	store := NewMemoryStore(0)
	e, _ := newTestEngine(t, &stubResolver{}, store)

	text(e, "/start")
	press(e, "select")
	press(e, "country:USA")
	press(e, "opt:0:7")

	st, _, err := store.Load(context.Background(), "telegram:7")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if n := len(st.Quiz.Selections()); n != 0 {
		t.Errorf("selections = %d, want 0", n)
	}
}

func TestEngine_QuizCommand(t *testing.T) {
	tests := []struct {
		name  string
		setup []string
	}{
		{"from-home", nil},
		{"from-quiz", []string{"select", "country:Brazil"}},
		{"from-result", []string{"select", "country:Brazil", "submit"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e, mock := newTestEngine(t, &stubResolver{}, nil)
			text(e, "/start")
			for _, a := range tt.setup {
				press(e, a)
			}
			text(e, "/quiz")
			if got := last(t, mock); got.Screen != "select_country" {
				t.Errorf("Screen = %q, want select_country", got.Screen)
			}
		})
	}
}

func TestEngine_LocationResolvedUpdatesHome(t *testing.T) {
	e, mock := newTestEngine(t, &stubResolver{country: "Brazil"}, nil)

	text(e, "/start")
	shareLocation(e)

	ack := last(t, mock)
	if !ack.RemoveKeyboard {
		t.Error("location acknowledgement should remove the reply keyboard")
	}

	e.Wait()
	got := last(t, mock)
	if got.Screen != "home" || !strings.Contains(got.Text, "Você está no país: Brazil") {
		t.Errorf("home after resolution = %+v", got)
	}
}

func TestEngine_LocationDeclined(t *testing.T) {
	tests := []struct {
		name string
		msg  chat.InboundMessage
	}{
		{"decline-label", chat.InboundMessage{Channel: "telegram", UserID: "7", Text: LabelDecline}},
		{"declined-flag", chat.InboundMessage{Channel: "telegram", UserID: "7", LocationDeclined: true}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e, mock := newTestEngine(t, &stubResolver{country: "Brazil"}, nil)
			text(e, "/start")
			e.HandleMessage(context.Background(), tt.msg)
			e.Wait()

			got := last(t, mock)
			if !strings.Contains(got.Text, textDenied) {
				t.Errorf("home text = %q, want denial message", got.Text)
			}
			if strings.Contains(got.Text, textLoading) {
				t.Error("home should not keep loading after a denial")
			}
		})
	}
}

func TestEngine_LocationAwayFromHomeIsNotPushed(t *testing.T) {
	e, mock := newTestEngine(t, &stubResolver{country: "Japan"}, nil)

	text(e, "/start")
	press(e, "select")
	shareLocation(e)
	e.Wait()

	if got := last(t, mock); got.Screen == "home" {
		t.Error("home should not be pushed while the user is elsewhere")
	}

	press(e, "home")
	if got := last(t, mock); !strings.Contains(got.Text, "Você está no país: Japan") {
		t.Errorf("home text = %q", got.Text)
	}
}

func TestEngine_LocationOnlyOncePerLaunch(t *testing.T) {
	res := &stubResolver{country: "Brazil"}
	e, _ := newTestEngine(t, res, nil)

	text(e, "/start")
	shareLocation(e)
	e.Wait()
	shareLocation(e)
	e.Wait()

	if n := res.calls.Load(); n != 1 {
		t.Errorf("resolver calls = %d, want 1", n)
	}
}

func TestEngine_RelaunchDiscardsOldLookup(t *testing.T) {
	res := &stubResolver{country: "Brazil", gate: make(chan struct{})}
	store := NewMemoryStore(0)
	e, _ := newTestEngine(t, res, store)

	text(e, "/start")
	shareLocation(e)
	text(e, "/start")
	close(res.gate)
	e.Wait()

	st, found, err := store.Load(context.Background(), "telegram:7")
	if err != nil || !found {
		t.Fatalf("Load() = %v, %v", found, err)
	}
	if st.Location.Status != geo.StatusPending {
		t.Errorf("Status = %q, want pending for the new launch", st.Location.Status)
	}
}

func TestEngine_StoreFailure(t *testing.T) {
	e, mock := newTestEngine(t, &stubResolver{}, failingStore{})

	text(e, "/start")

	if got := last(t, mock); got.Text != textError {
		t.Errorf("Text = %q, want apology", got.Text)
	}
}

func TestEngine_ConcurrentEventsPerUser(t *testing.T) {
	store := NewMemoryStore(0)
	e, _ := newTestEngine(t, &stubResolver{}, store)

	text(e, "/start")
	press(e, "select")
	press(e, "country:Brazil")

	var wg sync.WaitGroup
	for i := range 3 {
		for range 10 {
			wg.Add(1)
			go func() {
				defer wg.Done()
				press(e, optionAction(i, 0))
			}()
		}
	}
	wg.Wait()

	st, _, err := store.Load(context.Background(), "telegram:7")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if n := len(st.Quiz.Selections()); n != 3 {
		t.Errorf("selections = %d, want 3", n)
	}
	if len(e.locks) != 0 {
		t.Errorf("locks = %d, want 0 after all events", len(e.locks))
	}
}

// flakyStore fails the nth Load or Save and delegates everything else.
type flakyStore struct {
	*MemoryStore
	failLoad, failSave int

	mu           sync.Mutex
	loads, saves int
}

func (f *flakyStore) Load(ctx context.Context, key string) (*State, bool, error) {
	f.mu.Lock()
	f.loads++
	n := f.loads
	f.mu.Unlock()
	if n == f.failLoad {
		return nil, false, errors.New("store timeout")
	}
	return f.MemoryStore.Load(ctx, key)
}

func (f *flakyStore) Save(ctx context.Context, key string, st *State) error {
	f.mu.Lock()
	f.saves++
	n := f.saves
	f.mu.Unlock()
	if n == f.failSave {
		return errors.New("store timeout")
	}
	return f.MemoryStore.Save(ctx, key, st)
}

func TestEngine_LookupStoreFailureAllowsNewShare(t *testing.T) {
	tests := []struct {
		name  string
		store *flakyStore
	}{
		// /start and the share use the first two loads and saves; the
		// third belongs to the lookup.
		{"load-fails", &flakyStore{MemoryStore: NewMemoryStore(0), failLoad: 3}},
		{"save-fails", &flakyStore{MemoryStore: NewMemoryStore(0), failSave: 3}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := &stubResolver{country: "Brazil"}
			e, mock := newTestEngine(t, res, tt.store)

			text(e, "/start")
			shareLocation(e)
			e.Wait()

			shareLocation(e)
			e.Wait()

			if n := res.calls.Load(); n != 2 {
				t.Errorf("resolver calls = %d, want 2", n)
			}
			got := last(t, mock)
			if !strings.Contains(got.Text, "Você está no país: Brazil") {
				t.Errorf("home text = %q, want resolved country", got.Text)
			}
		})
	}
}

func TestEngine_LookupStoreFailureHomeNotStuck(t *testing.T) {
	store := &flakyStore{MemoryStore: NewMemoryStore(0), failLoad: 3}
	e, _ := newTestEngine(t, &stubResolver{country: "Brazil"}, store)

	text(e, "/start")
	shareLocation(e)
	e.Wait()
	text(e, "oi")

	st, _, err := store.MemoryStore.Load(context.Background(), "telegram:7")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if st.Location.Status != geo.StatusPending {
		t.Errorf("Status = %q, want pending once the lookup is gone", st.Location.Status)
	}
}

func TestEngine_CancelledLookupReturnsToPending(t *testing.T) {
	res := &stubResolver{country: "Brazil", gate: make(chan struct{})}
	store := NewMemoryStore(0)
	e, mock := newTestEngine(t, res, store)

	ctx, cancel := context.WithCancel(context.Background())
	e.HandleMessage(ctx, chat.InboundMessage{Channel: "telegram", UserID: "7", Text: "/start"})
	e.HandleMessage(ctx, chat.InboundMessage{
		Channel:  "telegram",
		UserID:   "7",
		Location: &chat.Location{Latitude: -15.79, Longitude: -47.88},
	})
	cancel()
	close(res.gate)
	e.Wait()

	st, _, err := store.Load(context.Background(), "telegram:7")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if st.Location.Status != geo.StatusPending {
		t.Errorf("Status = %q, want pending after cancellation", st.Location.Status)
	}
	if got := last(t, mock); got.Screen == "home" {
		t.Error("an abandoned lookup should not push the home screen")
	}

	shareLocation(e)
	e.Wait()
	if n := res.calls.Load(); n != 2 {
		t.Errorf("resolver calls = %d, want 2", n)
	}
	if got := last(t, mock); !strings.Contains(got.Text, "Você está no país: Brazil") {
		t.Errorf("home text = %q", got.Text)
	}
}

func TestEngine_TypingBeforeLookup(t *testing.T) {
	tests := []struct {
		name       string
		msg        chat.InboundMessage
		wantTyping int
	}{
		{"shared", chat.InboundMessage{Channel: "telegram", UserID: "7", Location: &chat.Location{Latitude: 1, Longitude: 2}}, 1},
		{"declined", chat.InboundMessage{Channel: "telegram", UserID: "7", LocationDeclined: true}, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e, mock := newTestEngine(t, &stubResolver{country: "Brazil"}, nil)
			text(e, "/start")
			e.HandleMessage(context.Background(), tt.msg)
			e.Wait()

			if mock.Typing != tt.wantTyping {
				t.Errorf("typing indicators = %d, want %d", mock.Typing, tt.wantTyping)
			}
		})
	}
}
