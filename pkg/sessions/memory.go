package sessions

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/maestro-ai/maestro/pkg/apperrors"
	"github.com/maestro-ai/maestro/pkg/config"
	"github.com/maestro-ai/maestro/pkg/models"
)

// sessionState is the in-memory record for one session. The mutex guards
// both the session snapshot and the event queue; notify is closed and
// replaced on every enqueue so blocked readers wake without polling.
type sessionState struct {
	mu      sync.Mutex
	sess    models.Session
	events  []models.Event
	cursor  uint64
	notify  chan struct{}
	closed  bool
	closedT time.Time
}

// MemoryStore is the single-instance session backend.
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]*sessionState

	cfg      config.SessionConfig
	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates the in-memory store and starts its expiry sweep.
func NewMemoryStore(cfg config.SessionConfig) *MemoryStore {
	s := &MemoryStore{
		sessions: make(map[string]*sessionState),
		cfg:      cfg,
		stopCh:   make(chan struct{}),
	}
	s.wg.Add(1)
	go s.runSweep()
	return s
}

// Stop terminates the expiry sweep.
func (s *MemoryStore) Stop() {
	s.stopOnce.Do(func() { close(s.stopCh) })
	s.wg.Wait()
}

func (s *MemoryStore) Create(_ context.Context, req models.CreateSessionRequest) (*models.Session, error) {
	now := time.Now()
	sess := models.Session{
		ID:          uuid.New().String(),
		UserID:      req.UserID,
		CreatedAt:   now,
		LastTouched: now,
		Status:      models.SessionStatusIdle,
		Metadata:    req.Metadata,
	}

	st := &sessionState{
		sess:   sess,
		notify: make(chan struct{}),
	}

	s.mu.Lock()
	s.sessions[sess.ID] = st
	s.mu.Unlock()

	slog.Info("Session created", "session_id", sess.ID, "user_id", req.UserID)
	snapshot := sess
	return &snapshot, nil
}

// lookup returns the live state or a SessionNotFound error.
func (s *MemoryStore) lookup(id string) (*sessionState, error) {
	s.mu.RLock()
	st, ok := s.sessions[id]
	s.mu.RUnlock()
	if !ok {
		return nil, apperrors.New(apperrors.KindSessionNotFound, "session %s not found", id)
	}
	return st, nil
}

func (s *MemoryStore) Get(_ context.Context, id string) (*models.Session, error) {
	st, err := s.lookup(id)
	if err != nil {
		return nil, err
	}

	st.mu.Lock()
	defer st.mu.Unlock()
	if s.expiredLocked(st, time.Now()) {
		return nil, apperrors.New(apperrors.KindSessionExpired, "session %s expired", id)
	}
	snapshot := cloneSession(&st.sess)
	return snapshot, nil
}

func (s *MemoryStore) SetStatus(_ context.Context, id string, status models.SessionStatus) error {
	st, err := s.lookup(id)
	if err != nil {
		return err
	}

	st.mu.Lock()
	defer st.mu.Unlock()
	if st.closed {
		return apperrors.New(apperrors.KindSessionClosed, "session %s is closed", id)
	}
	st.sess.Status = status
	st.sess.LastTouched = time.Now()
	return nil
}

func (s *MemoryStore) AppendMessage(_ context.Context, id string, msg models.Message) error {
	st, err := s.lookup(id)
	if err != nil {
		return err
	}

	st.mu.Lock()
	defer st.mu.Unlock()
	if st.closed {
		return apperrors.New(apperrors.KindSessionClosed, "session %s is closed", id)
	}

	if msg.ID == "" {
		msg.ID = uuid.New().String()
	}
	st.sess.Messages = append(st.sess.Messages, msg)
	if limit := s.cfg.MessageLogLimit; limit > 0 && len(st.sess.Messages) > limit {
		st.sess.Messages = st.sess.Messages[len(st.sess.Messages)-limit:]
	}
	st.sess.LastTouched = time.Now()
	return nil
}

func (s *MemoryStore) EnqueueEvent(_ context.Context, id string, typ models.EventType, payload map[string]any) (*models.Event, error) {
	st, err := s.lookup(id)
	if err != nil {
		return nil, err
	}

	st.mu.Lock()
	defer st.mu.Unlock()
	if st.closed && typ != models.EventTypeClosed {
		return nil, apperrors.New(apperrors.KindSessionClosed, "session %s is closed", id)
	}

	evt := s.appendEventLocked(st, typ, payload)
	s.wakeLocked(st)
	return &evt, nil
}

// appendEventLocked assigns the next cursor, appends, and applies the
// bounded-capacity drop policy. Caller holds st.mu.
func (s *MemoryStore) appendEventLocked(st *sessionState, typ models.EventType, payload map[string]any) models.Event {
	st.cursor++
	evt := models.Event{
		ID:        uuid.New().String(),
		SessionID: st.sess.ID,
		Type:      typ,
		Payload:   payload,
		Cursor:    st.cursor,
		Timestamp: time.Now(),
	}
	st.events = append(st.events, evt)

	if dropped := s.trimLocked(st); dropped > 0 {
		st.cursor++
		st.events = append(st.events, models.Event{
			ID:        uuid.New().String(),
			SessionID: st.sess.ID,
			Type:      models.EventTypeBackpressure,
			Payload:   map[string]any{"dropped": dropped},
			Cursor:    st.cursor,
			Timestamp: time.Now(),
		})
		slog.Warn("Session event queue overflow",
			"session_id", st.sess.ID, "dropped", dropped)
	}
	return evt
}

// trimLocked drops the oldest non-terminal events until the queue fits the
// configured capacity. Terminal events are never dropped, so the queue may
// exceed capacity when only terminal events remain.
func (s *MemoryStore) trimLocked(st *sessionState) int {
	capacity := s.cfg.EventQueueCapacity
	if capacity <= 0 || len(st.events) <= capacity {
		return 0
	}

	dropped := 0
	for len(st.events) > capacity {
		idx := -1
		for i, e := range st.events {
			if !e.Type.Terminal() {
				idx = i
				break
			}
		}
		if idx < 0 {
			break
		}
		st.events = append(st.events[:idx], st.events[idx+1:]...)
		dropped++
	}
	return dropped
}

// wakeLocked wakes all blocked readers. Caller holds st.mu.
func (s *MemoryStore) wakeLocked(st *sessionState) {
	close(st.notify)
	st.notify = make(chan struct{})
}

func (s *MemoryStore) DequeueEvents(ctx context.Context, id string, since uint64) ([]models.Event, uint64, error) {
	for {
		st, err := s.lookup(id)
		if err != nil {
			return nil, since, err
		}

		st.mu.Lock()
		var out []models.Event
		for _, e := range st.events {
			if e.Cursor > since {
				out = append(out, e)
			}
		}
		if len(out) > 0 {
			cursor := out[len(out)-1].Cursor
			st.mu.Unlock()
			return out, cursor, nil
		}
		if st.closed {
			st.mu.Unlock()
			return nil, since, apperrors.New(apperrors.KindSessionClosed, "session %s is closed", id)
		}
		notify := st.notify
		st.mu.Unlock()

		select {
		case <-ctx.Done():
			return nil, since, ctx.Err()
		case <-notify:
		}
	}
}

func (s *MemoryStore) Close(_ context.Context, id string) error {
	st, err := s.lookup(id)
	if err != nil {
		return err
	}

	st.mu.Lock()
	defer st.mu.Unlock()
	if st.closed {
		return nil
	}
	st.closed = true
	st.closedT = time.Now()
	st.sess.Status = models.SessionStatusClosed
	st.sess.LastTouched = st.closedT
	s.appendEventLocked(st, models.EventTypeClosed, map[string]any{"session_id": id})
	s.wakeLocked(st)

	slog.Info("Session closed", "session_id", id)
	return nil
}

// expiredLocked reports whether the session exceeded its absolute TTL or
// idle timeout. Caller holds st.mu.
func (s *MemoryStore) expiredLocked(st *sessionState, now time.Time) bool {
	if ttl := s.cfg.TTL(); ttl > 0 && now.Sub(st.sess.CreatedAt) > ttl {
		return true
	}
	if idle := s.cfg.IdleTimeout(); idle > 0 && now.Sub(st.sess.LastTouched) > idle {
		return true
	}
	return false
}

// runSweep closes idle/expired sessions and deletes closed ones after one
// sweep interval of linger (so connected transports can drain the closed
// terminal event).
func (s *MemoryStore) runSweep() {
	defer s.wg.Done()

	interval := s.cfg.SweepInterval()
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopCh:
			return
		case now := <-ticker.C:
			s.sweep(now, interval)
		}
	}
}

func (s *MemoryStore) sweep(now time.Time, linger time.Duration) {
	s.mu.RLock()
	ids := make([]string, 0, len(s.sessions))
	for id := range s.sessions {
		ids = append(ids, id)
	}
	s.mu.RUnlock()

	for _, id := range ids {
		st, err := s.lookup(id)
		if err != nil {
			continue
		}

		st.mu.Lock()
		remove := false
		switch {
		case st.closed:
			remove = now.Sub(st.closedT) > linger
		case s.expiredLocked(st, now):
			st.closed = true
			st.closedT = now
			st.sess.Status = models.SessionStatusClosed
			s.appendEventLocked(st, models.EventTypeClosed, map[string]any{"session_id": id, "reason": "expired"})
			s.wakeLocked(st)
			slog.Info("Session expired", "session_id", id)
		}
		st.mu.Unlock()

		if remove {
			s.mu.Lock()
			delete(s.sessions, id)
			s.mu.Unlock()
			slog.Debug("Session removed", "session_id", id)
		}
	}
}

// cloneSession copies the session so callers never alias store state.
func cloneSession(in *models.Session) *models.Session {
	out := *in
	out.Messages = make([]models.Message, len(in.Messages))
	copy(out.Messages, in.Messages)
	return &out
}
