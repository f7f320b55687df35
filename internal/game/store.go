package game

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"github.com/p-n-ai/geoquiz-bot/internal/geo"
	"github.com/p-n-ai/geoquiz-bot/internal/quiz"
)

// DefaultSessionTTL is how long an idle session is kept.
const DefaultSessionTTL = 24 * time.Hour

// State is everything the engine keeps for one chat user.
type State struct {
	LaunchID  string           `json:"launch_id"`
	Quiz      *quiz.Session    `json:"quiz"`
	Location  geo.LocationInfo `json:"location"`
	UpdatedAt time.Time        `json:"updated_at"`
}

// NewState starts a new launch: home screen, location pending.
func NewState() *State {
	return &State{
		LaunchID: uuid.NewString(),
		Quiz:     quiz.NewSession(),
		Location: geo.Pending(),
	}
}

// SessionStore persists State per session key ("channel:user").
type SessionStore interface {
	Load(ctx context.Context, key string) (*State, bool, error)
	Save(ctx context.Context, key string, st *State) error
}

func sessionKey(channel, userID string) string {
	return channel + ":" + userID
}

func encodeState(st *State) ([]byte, error) {
	data, err := json.Marshal(st)
	if err != nil {
		return nil, fmt.Errorf("encoding session: %w", err)
	}
	return data, nil
}

func decodeState(data []byte) (*State, error) {
	var st State
	if err := json.Unmarshal(data, &st); err != nil {
		return nil, fmt.Errorf("decoding session: %w", err)
	}
	if st.Quiz == nil {
		st.Quiz = quiz.NewSession()
	}
	return &st, nil
}

type memoryEntry struct {
	data []byte
	seen time.Time
}

// MemoryStore is an in-memory implementation of SessionStore. States are
// kept encoded so a loaded State never aliases the stored one.
type MemoryStore struct {
	entries map[string]memoryEntry
	mu      sync.RWMutex
	ttl     time.Duration
	now     func() time.Time
	cron    *cron.Cron
}

// NewMemoryStore creates a memory store that forgets sessions idle for
// longer than ttl. A zero ttl uses DefaultSessionTTL.
func NewMemoryStore(ttl time.Duration) *MemoryStore {
	if ttl <= 0 {
		ttl = DefaultSessionTTL
	}
	return &MemoryStore{
		entries: make(map[string]memoryEntry),
		ttl:     ttl,
		now:     time.Now,
	}
}

func (s *MemoryStore) Load(_ context.Context, key string) (*State, bool, error) {
	s.mu.RLock()
	e, ok := s.entries[key]
	s.mu.RUnlock()

	if !ok || s.expired(e) {
		return nil, false, nil
	}
	st, err := decodeState(e.data)
	if err != nil {
		return nil, false, err
	}
	return st, true, nil
}

func (s *MemoryStore) Save(_ context.Context, key string, st *State) error {
	data, err := encodeState(st)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[key] = memoryEntry{data: data, seen: s.now()}
	return nil
}

func (s *MemoryStore) expired(e memoryEntry) bool {
	return s.now().Sub(e.seen) > s.ttl
}

// Sweep drops expired sessions and returns how many were removed.
func (s *MemoryStore) Sweep() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for key, e := range s.entries {
		if s.expired(e) {
			delete(s.entries, key)
			removed++
		}
	}
	return removed
}

// Len returns the number of stored sessions, expired or not.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// StartSweeper runs Sweep on a cron schedule (e.g. "@every 10m").
func (s *MemoryStore) StartSweeper(spec string) error {
	c := cron.New()
	_, err := c.AddFunc(spec, func() {
		if n := s.Sweep(); n > 0 {
			slog.Info("expired sessions swept", "count", n)
		}
	})
	if err != nil {
		return fmt.Errorf("scheduling session sweep %q: %w", spec, err)
	}
	c.Start()
	s.cron = c
	return nil
}

// Close stops the sweeper, waiting for a running sweep to finish.
func (s *MemoryStore) Close() error {
	if s.cron != nil {
		<-s.cron.Stop().Done()
	}
	return nil
}
