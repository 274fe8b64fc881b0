package session

import (
	"context"
	"sync"

	"github.com/samsaffron/toolstream/internal/llm"
	"github.com/samsaffron/toolstream/internal/telemetry"
)

// LoggingStore wraps a Store and logs write failures once per operation.
// Errors are still returned to the caller.
type LoggingStore struct {
	Store
	logger telemetry.Logger
	mu     sync.Mutex
	warned map[string]bool
}

// NewLoggingStore creates a new LoggingStore wrapper.
func NewLoggingStore(store Store, logger telemetry.Logger) *LoggingStore {
	if logger == nil {
		logger = telemetry.NewNoopLogger()
	}
	return &LoggingStore{
		Store:  store,
		logger: logger,
		warned: make(map[string]bool),
	}
}

func (s *LoggingStore) logOnce(ctx context.Context, op, sessionID string, err error) {
	if err == nil {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.warned[op] {
		return
	}
	s.warned[op] = true
	s.logger.Warn(ctx, "session write failed", "op", op, "session_id", sessionID, "err", err)
}

func (s *LoggingStore) Create(ctx context.Context, sess *Session) error {
	err := s.Store.Create(ctx, sess)
	s.logOnce(ctx, "Create", sess.ID, err)
	return err
}

func (s *LoggingStore) AppendMessages(ctx context.Context, sessionID string, msgs []llm.Message) error {
	err := s.Store.AppendMessages(ctx, sessionID, msgs)
	s.logOnce(ctx, "AppendMessages", sessionID, err)
	return err
}

func (s *LoggingStore) RecordTurn(ctx context.Context, sessionID string, turn Turn) error {
	err := s.Store.RecordTurn(ctx, sessionID, turn)
	s.logOnce(ctx, "RecordTurn", sessionID, err)
	return err
}
