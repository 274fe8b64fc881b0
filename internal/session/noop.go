package session

import (
	"context"

	"github.com/samsaffron/toolstream/internal/llm"
)

// NoopStore discards everything. It is used when sessions are disabled.
type NoopStore struct{}

func (s *NoopStore) Create(ctx context.Context, sess *Session) error {
	if sess.ID == "" {
		sess.ID = NewID()
	}
	return nil
}

func (s *NoopStore) Get(ctx context.Context, id string) (*Session, error) {
	return nil, nil
}

func (s *NoopStore) List(ctx context.Context, limit int) ([]SessionSummary, error) {
	return nil, nil
}

func (s *NoopStore) AppendMessages(ctx context.Context, sessionID string, msgs []llm.Message) error {
	return nil
}

func (s *NoopStore) Messages(ctx context.Context, sessionID string) ([]Message, error) {
	return nil, nil
}

func (s *NoopStore) RecordTurn(ctx context.Context, sessionID string, turn Turn) error {
	return nil
}

func (s *NoopStore) UpdateStatus(ctx context.Context, sessionID string, status SessionStatus) error {
	return nil
}

func (s *NoopStore) Close() error {
	return nil
}
