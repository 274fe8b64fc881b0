package session

import (
	"context"

	"github.com/samsaffron/toolstream/internal/config"
	"github.com/samsaffron/toolstream/internal/llm"
)

// Store is the interface for transcript persistence.
type Store interface {
	Create(ctx context.Context, s *Session) error
	// Get returns nil, nil when the session does not exist.
	Get(ctx context.Context, id string) (*Session, error)
	List(ctx context.Context, limit int) ([]SessionSummary, error)

	// AppendMessages stores msgs after the existing messages of the session.
	AppendMessages(ctx context.Context, sessionID string, msgs []llm.Message) error
	Messages(ctx context.Context, sessionID string) ([]Message, error)

	// RecordTurn stores one model turn and adds it to the session totals.
	RecordTurn(ctx context.Context, sessionID string, turn Turn) error
	UpdateStatus(ctx context.Context, sessionID string, status SessionStatus) error

	Close() error
}

// Config holds session storage configuration.
type Config struct {
	Enabled    bool
	Path       string // sqlite file
	MaxAgeDays int    // Auto-delete after N days (0=never)
	MaxCount   int    // Keep at most N sessions (0=unlimited)
}

// ConfigFromConfig maps the loaded configuration onto a store Config.
func ConfigFromConfig(cfg *config.Config) Config {
	return Config{
		Enabled: cfg.Session.Enabled,
		Path:    cfg.SessionPath(),
	}
}

// NewStore creates a new Store based on the configuration.
// If sessions are disabled, returns a no-op store.
func NewStore(cfg Config) (Store, error) {
	if !cfg.Enabled {
		return &NoopStore{}, nil
	}
	return NewSQLiteStore(cfg)
}
