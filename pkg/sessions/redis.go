package sessions

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/maestro-ai/maestro/pkg/apperrors"
	"github.com/maestro-ai/maestro/pkg/config"
	"github.com/maestro-ai/maestro/pkg/models"
)

// RedisStore shares session state between instances through a Redis
// backend. Key layout:
//
//	session:{id}          meta JSON (id, user, created_at)
//	session:{id}:status   current status
//	session:{id}:last     last-touched, RFC3339Nano
//	session:{id}:messages message log list (bounded)
//	session:{id}:events   event list (bounded by queue capacity)
//	session:{id}:cursor   monotonic event cursor
//
// Wakeups for blocked readers ride the "session:{id}:notify" pub/sub
// channel. Idle expiry is enforced with key TTLs refreshed on touch;
// absolute TTL is checked against the stored creation time.
type RedisStore struct {
	rdb *redis.Client
	cfg config.SessionConfig
}

var _ Store = (*RedisStore)(nil)

// NewRedisStore connects to url and pings the server.
func NewRedisStore(ctx context.Context, url string, cfg config.SessionConfig) (*RedisStore, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parsing redis url: %w", err)
	}
	rdb := redis.NewClient(opts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	slog.Info("Session store connected to Redis", "addr", opts.Addr)
	return &RedisStore{rdb: rdb, cfg: cfg}, nil
}

// Stop closes the Redis connection.
func (s *RedisStore) Stop() {
	_ = s.rdb.Close()
}

type sessionMeta struct {
	ID        string         `json:"id"`
	UserID    string         `json:"user_id,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

func metaKey(id string) string     { return "session:" + id }
func statusKey(id string) string   { return "session:" + id + ":status" }
func lastKey(id string) string     { return "session:" + id + ":last" }
func messagesKey(id string) string { return "session:" + id + ":messages" }
func eventsKey(id string) string   { return "session:" + id + ":events" }
func cursorKey(id string) string   { return "session:" + id + ":cursor" }
func notifyChannel(id string) string {
	return "session:" + id + ":notify"
}

func (s *RedisStore) keys(id string) []string {
	return []string{metaKey(id), statusKey(id), lastKey(id), messagesKey(id), eventsKey(id), cursorKey(id)}
}

// keyTTL is the idle expiry applied on every touch, capped by what remains
// of the absolute TTL.
func (s *RedisStore) keyTTL(createdAt time.Time) time.Duration {
	idle := s.cfg.IdleTimeout()
	if idle <= 0 {
		idle = s.cfg.TTL()
	}
	remaining := s.cfg.TTL() - time.Since(createdAt)
	if remaining < idle {
		return remaining
	}
	return idle
}

func (s *RedisStore) touch(ctx context.Context, id string, createdAt time.Time) {
	ttl := s.keyTTL(createdAt)
	if ttl <= 0 {
		return
	}
	pipe := s.rdb.Pipeline()
	pipe.Set(ctx, lastKey(id), time.Now().Format(time.RFC3339Nano), ttl)
	for _, k := range s.keys(id) {
		pipe.Expire(ctx, k, ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		slog.Warn("Failed to refresh session TTL", "session_id", id, "error", err)
	}
}

func (s *RedisStore) Create(ctx context.Context, req models.CreateSessionRequest) (*models.Session, error) {
	now := time.Now()
	meta := sessionMeta{
		ID:        uuid.New().String(),
		UserID:    req.UserID,
		CreatedAt: now,
		Metadata:  req.Metadata,
	}
	data, err := json.Marshal(meta)
	if err != nil {
		return nil, fmt.Errorf("marshaling session meta: %w", err)
	}

	ttl := s.cfg.TTL()
	pipe := s.rdb.Pipeline()
	pipe.Set(ctx, metaKey(meta.ID), data, ttl)
	pipe.Set(ctx, statusKey(meta.ID), string(models.SessionStatusIdle), ttl)
	pipe.Set(ctx, lastKey(meta.ID), now.Format(time.RFC3339Nano), ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("creating session: %w", err)
	}

	slog.Info("Session created", "session_id", meta.ID, "user_id", req.UserID)
	return &models.Session{
		ID:          meta.ID,
		UserID:      meta.UserID,
		CreatedAt:   now,
		LastTouched: now,
		Status:      models.SessionStatusIdle,
		Metadata:    req.Metadata,
	}, nil
}

// loadMeta fetches and validates the session meta record.
func (s *RedisStore) loadMeta(ctx context.Context, id string) (*sessionMeta, error) {
	data, err := s.rdb.Get(ctx, metaKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, apperrors.New(apperrors.KindSessionNotFound, "session %s not found", id)
	}
	if err != nil {
		return nil, apperrors.Wrap(apperrors.KindInternal, err, "session lookup failed")
	}

	var meta sessionMeta
	if err := json.Unmarshal(data, &meta); err != nil {
		return nil, apperrors.Wrap(apperrors.KindInternal, err, "corrupt session record")
	}
	if ttl := s.cfg.TTL(); ttl > 0 && time.Since(meta.CreatedAt) > ttl {
		return nil, apperrors.New(apperrors.KindSessionExpired, "session %s expired", id)
	}
	return &meta, nil
}

func (s *RedisStore) status(ctx context.Context, id string) (models.SessionStatus, error) {
	v, err := s.rdb.Get(ctx, statusKey(id)).Result()
	if errors.Is(err, redis.Nil) {
		return "", apperrors.New(apperrors.KindSessionNotFound, "session %s not found", id)
	}
	if err != nil {
		return "", apperrors.Wrap(apperrors.KindInternal, err, "session status lookup failed")
	}
	return models.SessionStatus(v), nil
}

func (s *RedisStore) Get(ctx context.Context, id string) (*models.Session, error) {
	meta, err := s.loadMeta(ctx, id)
	if err != nil {
		return nil, err
	}
	status, err := s.status(ctx, id)
	if err != nil {
		return nil, err
	}

	last := meta.CreatedAt
	if v, err := s.rdb.Get(ctx, lastKey(id)).Result(); err == nil {
		if t, perr := time.Parse(time.RFC3339Nano, v); perr == nil {
			last = t
		}
	}

	raw, err := s.rdb.LRange(ctx, messagesKey(id), 0, -1).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, apperrors.Wrap(apperrors.KindInternal, err, "message log lookup failed")
	}
	msgs := make([]models.Message, 0, len(raw))
	for _, item := range raw {
		var m models.Message
		if err := json.Unmarshal([]byte(item), &m); err != nil {
			continue
		}
		msgs = append(msgs, m)
	}

	return &models.Session{
		ID:          meta.ID,
		UserID:      meta.UserID,
		CreatedAt:   meta.CreatedAt,
		LastTouched: last,
		Status:      status,
		Messages:    msgs,
		Metadata:    meta.Metadata,
	}, nil
}

func (s *RedisStore) SetStatus(ctx context.Context, id string, status models.SessionStatus) error {
	meta, err := s.loadMeta(ctx, id)
	if err != nil {
		return err
	}
	current, err := s.status(ctx, id)
	if err != nil {
		return err
	}
	if current == models.SessionStatusClosed {
		return apperrors.New(apperrors.KindSessionClosed, "session %s is closed", id)
	}

	if err := s.rdb.Set(ctx, statusKey(id), string(status), s.keyTTL(meta.CreatedAt)).Err(); err != nil {
		return apperrors.Wrap(apperrors.KindInternal, err, "status update failed")
	}
	s.touch(ctx, id, meta.CreatedAt)
	return nil
}

func (s *RedisStore) AppendMessage(ctx context.Context, id string, msg models.Message) error {
	meta, err := s.loadMeta(ctx, id)
	if err != nil {
		return err
	}
	current, err := s.status(ctx, id)
	if err != nil {
		return err
	}
	if current == models.SessionStatusClosed {
		return apperrors.New(apperrors.KindSessionClosed, "session %s is closed", id)
	}

	if msg.ID == "" {
		msg.ID = uuid.New().String()
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshaling message: %w", err)
	}

	pipe := s.rdb.Pipeline()
	pipe.RPush(ctx, messagesKey(id), data)
	if limit := s.cfg.MessageLogLimit; limit > 0 {
		pipe.LTrim(ctx, messagesKey(id), int64(-limit), -1)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return apperrors.Wrap(apperrors.KindInternal, err, "message append failed")
	}
	s.touch(ctx, id, meta.CreatedAt)
	return nil
}

func (s *RedisStore) EnqueueEvent(ctx context.Context, id string, typ models.EventType, payload map[string]any) (*models.Event, error) {
	meta, err := s.loadMeta(ctx, id)
	if err != nil {
		return nil, err
	}
	current, err := s.status(ctx, id)
	if err != nil {
		return nil, err
	}
	if current == models.SessionStatusClosed && typ != models.EventTypeClosed {
		return nil, apperrors.New(apperrors.KindSessionClosed, "session %s is closed", id)
	}

	evt, err := s.pushEvent(ctx, id, typ, payload)
	if err != nil {
		return nil, err
	}
	s.touch(ctx, id, meta.CreatedAt)
	return evt, nil
}

// pushEvent assigns a cursor, appends to the event list, applies the drop
// policy, and publishes a wakeup.
func (s *RedisStore) pushEvent(ctx context.Context, id string, typ models.EventType, payload map[string]any) (*models.Event, error) {
	cursor, err := s.rdb.Incr(ctx, cursorKey(id)).Result()
	if err != nil {
		return nil, apperrors.Wrap(apperrors.KindInternal, err, "cursor allocation failed")
	}

	evt := models.Event{
		ID:        uuid.New().String(),
		SessionID: id,
		Type:      typ,
		Payload:   payload,
		Cursor:    uint64(cursor),
		Timestamp: time.Now(),
	}
	data, err := json.Marshal(evt)
	if err != nil {
		return nil, fmt.Errorf("marshaling event: %w", err)
	}

	if err := s.rdb.RPush(ctx, eventsKey(id), data).Err(); err != nil {
		return nil, apperrors.Wrap(apperrors.KindInternal, err, "event enqueue failed")
	}

	if dropped := s.enforceCapacity(ctx, id); dropped > 0 {
		bp := models.Event{
			ID:        uuid.New().String(),
			SessionID: id,
			Type:      models.EventTypeBackpressure,
			Payload:   map[string]any{"dropped": dropped},
			Timestamp: time.Now(),
		}
		if c, err := s.rdb.Incr(ctx, cursorKey(id)).Result(); err == nil {
			bp.Cursor = uint64(c)
			if bpData, err := json.Marshal(bp); err == nil {
				_ = s.rdb.RPush(ctx, eventsKey(id), bpData).Err()
			}
		}
		slog.Warn("Session event queue overflow", "session_id", id, "dropped", dropped)
	}

	_ = s.rdb.Publish(ctx, notifyChannel(id), "1").Err()
	return &evt, nil
}

// enforceCapacity pops oldest non-terminal events while the list exceeds
// the configured capacity. Terminal events at the head are preserved by
// rotating past them; with multiple writers the check is best-effort.
func (s *RedisStore) enforceCapacity(ctx context.Context, id string) int {
	capacity := int64(s.cfg.EventQueueCapacity)
	if capacity <= 0 {
		return 0
	}

	dropped := 0
	for range 8 {
		size, err := s.rdb.LLen(ctx, eventsKey(id)).Result()
		if err != nil || size <= capacity {
			break
		}
		head, err := s.rdb.LIndex(ctx, eventsKey(id), 0).Result()
		if err != nil {
			break
		}
		var evt models.Event
		if err := json.Unmarshal([]byte(head), &evt); err == nil && evt.Type.Terminal() {
			break
		}
		if err := s.rdb.LPop(ctx, eventsKey(id)).Err(); err != nil {
			break
		}
		dropped++
	}
	return dropped
}

func (s *RedisStore) DequeueEvents(ctx context.Context, id string, since uint64) ([]models.Event, uint64, error) {
	sub := s.rdb.Subscribe(ctx, notifyChannel(id))
	defer func() { _ = sub.Close() }()
	wake := sub.Channel()

	for {
		raw, err := s.rdb.LRange(ctx, eventsKey(id), 0, -1).Result()
		if err != nil && !errors.Is(err, redis.Nil) {
			return nil, since, apperrors.Wrap(apperrors.KindInternal, err, "event fetch failed")
		}

		var out []models.Event
		for _, item := range raw {
			var e models.Event
			if err := json.Unmarshal([]byte(item), &e); err != nil {
				continue
			}
			if e.Cursor > since {
				out = append(out, e)
			}
		}
		if len(out) > 0 {
			return out, out[len(out)-1].Cursor, nil
		}

		status, err := s.status(ctx, id)
		if err != nil {
			return nil, since, err
		}
		if status == models.SessionStatusClosed {
			return nil, since, apperrors.New(apperrors.KindSessionClosed, "session %s is closed", id)
		}

		select {
		case <-ctx.Done():
			return nil, since, ctx.Err()
		case <-wake:
		}
	}
}

func (s *RedisStore) Close(ctx context.Context, id string) error {
	meta, err := s.loadMeta(ctx, id)
	if err != nil {
		return err
	}
	current, err := s.status(ctx, id)
	if err != nil {
		return err
	}
	if current == models.SessionStatusClosed {
		return nil
	}

	if err := s.rdb.Set(ctx, statusKey(id), string(models.SessionStatusClosed), s.keyTTL(meta.CreatedAt)).Err(); err != nil {
		return apperrors.Wrap(apperrors.KindInternal, err, "close failed")
	}
	if _, err := s.pushEvent(ctx, id, models.EventTypeClosed, map[string]any{"session_id": id}); err != nil {
		return err
	}

	// Linger one sweep interval so connected transports drain the closed
	// event, then let the keys expire.
	linger := s.cfg.SweepInterval()
	if linger <= 0 {
		linger = time.Minute
	}
	pipe := s.rdb.Pipeline()
	for _, k := range s.keys(id) {
		pipe.Expire(ctx, k, linger)
	}
	_, _ = pipe.Exec(ctx)

	slog.Info("Session closed", "session_id", id)
	return nil
}
