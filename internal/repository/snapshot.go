package repository

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/lhj1982/hotel-chatbot/internal/domain"
)

const (
	// MaxSnapshotMessages caps the persisted history; older entries are dropped on save.
	MaxSnapshotMessages = 50
	// SnapshotTTL is how long a snapshot stays valid after its last save.
	SnapshotTTL = 24 * time.Hour

	storageKeyPrefix = "hotel_chat_"
)

// StorageKey returns the store key for a widget key.
func StorageKey(widgetKey string) string {
	return storageKeyPrefix + widgetKey
}

// SnapshotStore encodes chat snapshots on top of a KVStore. Every backend
// failure is logged and swallowed: callers see "no snapshot" and keep
// working in memory.
type SnapshotStore struct {
	kv     KVStore
	logger *slog.Logger
	now    func() time.Time
}

type SnapshotOption func(*SnapshotStore)

func WithLogger(l *slog.Logger) SnapshotOption {
	return func(s *SnapshotStore) {
		if l != nil {
			s.logger = l
		}
	}
}

func WithClock(now func() time.Time) SnapshotOption {
	return func(s *SnapshotStore) {
		if now != nil {
			s.now = now
		}
	}
}

func NewSnapshotStore(kv KVStore, opts ...SnapshotOption) *SnapshotStore {
	s := &SnapshotStore{kv: kv, logger: slog.Default(), now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Load returns the snapshot for key, or nil if absent, expired or unreadable.
// Expired and corrupt records are removed.
func (s *SnapshotStore) Load(ctx context.Context, key string) *domain.Snapshot {
	if s == nil || s.kv == nil {
		return nil
	}
	raw, ok, err := s.kv.Get(ctx, key)
	if err != nil {
		s.logger.Warn("snapshot load failed", "key", key, "err", err)
		return nil
	}
	if !ok || raw == "" {
		return nil
	}

	var snap domain.Snapshot
	if err := json.Unmarshal([]byte(raw), &snap); err != nil {
		s.logger.Warn("discarding corrupt snapshot", "key", key, "err", err)
		s.remove(ctx, key)
		return nil
	}
	if s.now().UnixMilli()-snap.UpdatedAt > SnapshotTTL.Milliseconds() {
		s.logger.Debug("discarding expired snapshot", "key", key, "updated_at", snap.UpdatedAt)
		s.remove(ctx, key)
		return nil
	}
	return &snap
}

// Save persists the most recent MaxSnapshotMessages messages under key.
// The synthesized greeting is never written.
func (s *SnapshotStore) Save(ctx context.Context, key, conversationID string, messages []domain.ChatMessage) {
	if s == nil || s.kv == nil {
		return
	}
	kept := make([]domain.ChatMessage, 0, len(messages))
	for _, m := range messages {
		if m.IsGreeting() {
			continue
		}
		kept = append(kept, m)
	}
	if len(kept) > MaxSnapshotMessages {
		kept = kept[len(kept)-MaxSnapshotMessages:]
	}

	raw, err := json.Marshal(domain.Snapshot{
		ConversationID: conversationID,
		Messages:       kept,
		UpdatedAt:      s.now().UnixMilli(),
	})
	if err != nil {
		s.logger.Warn("snapshot encode failed", "key", key, "err", err)
		return
	}
	if err := s.kv.Set(ctx, key, string(raw)); err != nil {
		s.logger.Warn("snapshot save failed", "key", key, "err", err)
	}
}

// Clear removes the snapshot for key.
func (s *SnapshotStore) Clear(ctx context.Context, key string) {
	if s == nil || s.kv == nil {
		return
	}
	s.remove(ctx, key)
}

func (s *SnapshotStore) remove(ctx context.Context, key string) {
	if err := s.kv.Delete(ctx, key); err != nil {
		s.logger.Warn("snapshot delete failed", "key", key, "err", err)
	}
}
