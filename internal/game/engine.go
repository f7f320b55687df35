// Package game turns chat events into quiz session operations and renders
// the resulting screens.
package game

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/p-n-ai/geoquiz-bot/internal/chat"
	"github.com/p-n-ai/geoquiz-bot/internal/geo"
	"github.com/p-n-ai/geoquiz-bot/internal/quiz"
)

const (
	cmdStart = "/start"
	cmdQuiz  = "/quiz"

	// storeTimeout bounds the write-back of a lookup abandoned on shutdown.
	storeTimeout = 2 * time.Second
)

var errUnknownAction = errors.New("unknown action")

// Sender delivers outbound messages. *chat.Gateway satisfies it.
type Sender interface {
	Send(ctx context.Context, msg chat.OutboundMessage) error
	SendTyping(ctx context.Context, channel, userID string) error
}

// LocationResolver runs the location chain. *geo.Resolver satisfies it.
type LocationResolver interface {
	Resolve(ctx context.Context, src geo.PositionSource) geo.LocationInfo
}

// EngineConfig holds dependencies for the game engine.
type EngineConfig struct {
	Set      quiz.QuestionSet
	Resolver LocationResolver
	Sender   Sender
	Store    SessionStore // defaults to a MemoryStore
}

// Engine is the core event processor. Events of one user are handled one at
// a time; different users proceed in parallel.
type Engine struct {
	set      quiz.QuestionSet
	resolver LocationResolver
	sender   Sender
	store    SessionStore
	now      func() time.Time

	mu      sync.Mutex
	locks   map[string]*keyLock
	lookups map[string]string // session key -> launch id of the running lookup

	wg sync.WaitGroup
}

type keyLock struct {
	mu   sync.Mutex
	refs int
}

// NewEngine creates a new game engine.
func NewEngine(cfg EngineConfig) *Engine {
	store := cfg.Store
	if store == nil {
		store = NewMemoryStore(DefaultSessionTTL)
	}
	return &Engine{
		set:      cfg.Set,
		resolver: cfg.Resolver,
		sender:   cfg.Sender,
		store:    store,
		now:      time.Now,
		locks:    make(map[string]*keyLock),
		lookups:  make(map[string]string),
	}
}

// HandleMessage processes one inbound event and sends whatever it renders.
// ctx also bounds location lookups started by the event.
func (e *Engine) HandleMessage(ctx context.Context, msg chat.InboundMessage) {
	slog.Info("processing message",
		"channel", msg.Channel,
		"user_id", msg.UserID,
		"action", msg.Action,
		"has_location", msg.Location != nil,
	)

	key := sessionKey(msg.Channel, msg.UserID)
	unlock := e.lock(key)
	defer unlock()

	st, found, err := e.store.Load(ctx, key)
	if err != nil {
		slog.Error("failed to load session", "key", key, "error", err)
		e.reply(ctx, msg, chat.OutboundMessage{Text: textError})
		return
	}

	if found && st.Location.Status == geo.StatusResolving && !e.lookupRunning(key, st.LaunchID) {
		// The lookup ended without storing a result; accept a new share.
		slog.Warn("location lookup lost, resetting to pending", "key", key, "launch_id", st.LaunchID)
		st.Location = geo.Pending()
	}

	declined := msg.LocationDeclined || msg.Text == LabelDecline
	launched := false
	if !found || msg.Text == cmdStart {
		st = NewState()
		launched = true
		slog.Info("session launched", "key", key, "launch_id", st.LaunchID)
		e.reply(ctx, msg, renderScreen(st, e.set))
		if msg.Location == nil && !declined {
			e.reply(ctx, msg, renderLocationPrompt())
		}
	}

	switch {
	case msg.Location != nil:
		e.handleLocation(ctx, key, msg, st, geo.SharedPosition{
			Latitude:  msg.Location.Latitude,
			Longitude: msg.Location.Longitude,
		})
	case declined:
		e.handleLocation(ctx, key, msg, st, geo.DeclinedPosition{})
	case msg.Action != "":
		e.handleAction(msg, st)
		out := renderScreen(st, e.set)
		out.EditMessageID = msg.MessageID
		e.reply(ctx, msg, out)
	case msg.Text == cmdQuiz:
		e.openCountrySelection(st.Quiz)
		e.reply(ctx, msg, renderScreen(st, e.set))
	case launched:
		// home screen already sent
	default:
		e.reply(ctx, msg, renderScreen(st, e.set))
	}

	st.UpdatedAt = e.now()
	if err := e.store.Save(ctx, key, st); err != nil {
		slog.Error("failed to save session", "key", key, "error", err)
	}
}

// Wait blocks until every location lookup started so far has finished.
func (e *Engine) Wait() {
	e.wg.Wait()
}

func (e *Engine) handleAction(msg chat.InboundMessage, st *State) {
	s := st.Quiz
	name, arg, _ := strings.Cut(msg.Action, ":")

	var err error
	switch name {
	case actionHome:
		err = s.GoHome()
	case actionSelect:
		err = s.OpenCountrySelection()
	case actionCountry:
		err = s.StartQuiz(e.set, arg)
	case actionOption:
		var index int
		var option string
		if index, option, err = optionFor(s, arg); err == nil {
			err = s.Select(index, option)
		}
	case actionSubmit:
		err = s.Submit()
	case actionSwitch:
		err = s.SwitchQuiz()
	default:
		err = fmt.Errorf("%w: %q", errUnknownAction, msg.Action)
	}

	if err != nil {
		// Stale buttons are expected in chat; the current screen is re-sent.
		slog.Debug("action ignored", "user_id", msg.UserID, "action", msg.Action, "error", err)
		return
	}
	if name == actionSubmit {
		score, total, _ := s.Result()
		country, _ := s.Country()
		slog.Info("quiz submitted", "user_id", msg.UserID, "country", country, "score", score, "total", total)
	}
}

// openCountrySelection reaches the country list from any screen using the
// session's own transitions.
func (e *Engine) openCountrySelection(s *quiz.Session) {
	switch s.Screen() {
	case quiz.ScreenQuiz:
		_ = s.SwitchQuiz()
	case quiz.ScreenResult:
		_ = s.GoHome()
		_ = s.OpenCountrySelection()
	case quiz.ScreenHome:
		_ = s.OpenCountrySelection()
	}
}

// optionFor decodes "<question>:<option>" against the active questions.
func optionFor(s *quiz.Session, arg string) (int, string, error) {
	if s.Screen() != quiz.ScreenQuiz {
		return 0, "", fmt.Errorf("%w: select option from %s", quiz.ErrInvalidTransition, s.Screen())
	}
	qPart, oPart, ok := strings.Cut(arg, ":")
	if !ok {
		return 0, "", fmt.Errorf("%w: option %q", errUnknownAction, arg)
	}
	qi, err := strconv.Atoi(qPart)
	if err != nil {
		return 0, "", fmt.Errorf("%w: option %q", errUnknownAction, arg)
	}
	oi, err := strconv.Atoi(oPart)
	if err != nil {
		return 0, "", fmt.Errorf("%w: option %q", errUnknownAction, arg)
	}
	questions := s.Questions()
	if qi < 0 || qi >= len(questions) || oi < 0 || oi >= len(questions[qi].Options) {
		return 0, "", fmt.Errorf("%w: option %q out of range", quiz.ErrInvalidTransition, arg)
	}
	return qi, questions[qi].Options[oi], nil
}

func (e *Engine) handleLocation(ctx context.Context, key string, msg chat.InboundMessage, st *State, src geo.PositionSource) {
	if st.Location.Status != geo.StatusPending {
		slog.Debug("location already handled for this launch", "key", key, "status", st.Location.Status)
		e.reply(ctx, msg, chat.OutboundMessage{Text: locationLine(st.Location), RemoveKeyboard: true})
		return
	}

	ack := textLocationAck
	if _, denied := src.(geo.DeclinedPosition); denied {
		ack = textDeclineAck
	}
	st.Location.Status = geo.StatusResolving
	e.reply(ctx, msg, chat.OutboundMessage{Text: ack, RemoveKeyboard: true})
	if _, denied := src.(geo.DeclinedPosition); !denied {
		if err := e.sender.SendTyping(ctx, msg.Channel, msg.UserID); err != nil {
			slog.Warn("failed to send typing indicator", "channel", msg.Channel, "user_id", msg.UserID, "error", err)
		}
	}

	e.startLookup(key, st.LaunchID)
	e.wg.Add(1)
	go e.resolve(ctx, key, msg, st.LaunchID, src)
}

// resolve runs the location chain outside the user's lock and stores the
// result only if the launch that asked for it is still current. A lookup
// cut short by ctx puts the launch back to pending. If nothing can be
// stored, the next event of the user finds no running lookup and resets the
// status itself.
func (e *Engine) resolve(ctx context.Context, key string, msg chat.InboundMessage, launchID string, src geo.PositionSource) {
	defer e.wg.Done()

	info := e.resolver.Resolve(ctx, src)
	abandoned := ctx.Err() != nil
	storeCtx := ctx
	if abandoned {
		slog.Debug("location lookup abandoned", "key", key)
		info = geo.Pending()
		var cancel context.CancelFunc
		storeCtx, cancel = context.WithTimeout(context.WithoutCancel(ctx), storeTimeout)
		defer cancel()
	}

	unlock := e.lock(key)
	defer unlock()
	defer e.endLookup(key, launchID)

	st, found, err := e.store.Load(storeCtx, key)
	if err != nil {
		slog.Error("failed to load session", "key", key, "error", err)
		return
	}
	if !found || st.LaunchID != launchID {
		slog.Info("discarding location for a finished launch", "key", key, "launch_id", launchID)
		return
	}

	st.Location = info
	st.UpdatedAt = e.now()
	if err := e.store.Save(storeCtx, key, st); err != nil {
		slog.Error("failed to save session", "key", key, "error", err)
		return
	}
	slog.Info("location stored", "key", key, "status", info.Status)

	if !abandoned && st.Quiz.Screen() == quiz.ScreenHome {
		e.reply(ctx, msg, renderScreen(st, e.set))
	}
}

func (e *Engine) reply(ctx context.Context, msg chat.InboundMessage, out chat.OutboundMessage) {
	out.Channel = msg.Channel
	out.UserID = msg.UserID
	if err := e.sender.Send(ctx, out); err != nil {
		slog.Error("failed to send message",
			"channel", msg.Channel,
			"user_id", msg.UserID,
			"screen", out.Screen,
			"error", err,
		)
	}
}

func (e *Engine) startLookup(key, launchID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.lookups[key] = launchID
}

func (e *Engine) endLookup(key, launchID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.lookups[key] == launchID {
		delete(e.lookups, key)
	}
}

func (e *Engine) lookupRunning(key, launchID string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.lookups[key] == launchID
}

func (e *Engine) lock(key string) func() {
	e.mu.Lock()
	l, ok := e.locks[key]
	if !ok {
		l = &keyLock{}
		e.locks[key] = l
	}
	l.refs++
	e.mu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		e.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(e.locks, key)
		}
		e.mu.Unlock()
	}
}
