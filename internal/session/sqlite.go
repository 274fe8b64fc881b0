package session

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/samsaffron/toolstream/internal/config"
	"github.com/samsaffron/toolstream/internal/llm"
)

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db  *sql.DB
	cfg Config
}

// NewSQLiteStore opens or creates the database at cfg.Path and migrates it
// to the current schema.
func NewSQLiteStore(cfg Config) (*SQLiteStore, error) {
	dbPath := cfg.Path
	if dbPath == "" {
		dbPath = filepath.Join(config.GetDataDir(), "sessions.db")
	}

	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create data directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath+"?_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if err := migrate(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("initialize schema: %w", err)
	}

	store := &SQLiteStore{db: db, cfg: cfg}
	if err := store.cleanup(); err != nil {
		db.Close()
		return nil, fmt.Errorf("session cleanup: %w", err)
	}
	return store, nil
}

// migration upgrades the schema by one version.
type migration struct {
	description string
	stmts       []string
}

// migrations are applied in order. The schema version is the index of the
// last applied migration plus one, kept in PRAGMA user_version. Append new
// migrations; never edit applied ones.
var migrations = []migration{
	{
		description: "create sessions and messages",
		stmts: []string{
			`CREATE TABLE sessions (
				id TEXT PRIMARY KEY,
				summary TEXT,
				provider TEXT NOT NULL,
				model TEXT NOT NULL,
				user_id TEXT,
				cwd TEXT,
				status TEXT NOT NULL DEFAULT 'active',
				created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
				updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
			)`,
			`CREATE TABLE messages (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				session_id TEXT NOT NULL REFERENCES sessions(id) ON DELETE CASCADE,
				role TEXT NOT NULL CHECK (role IN ('user', 'assistant', 'system', 'tool')),
				parts TEXT NOT NULL,
				ttl TEXT,
				text_content TEXT,
				created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
				sequence INTEGER NOT NULL
			)`,
			`CREATE UNIQUE INDEX idx_messages_session_sequence ON messages(session_id, sequence)`,
			`CREATE INDEX idx_sessions_updated_at ON sessions(updated_at DESC)`,
		},
	},
	{
		description: "record turns and session totals",
		stmts: []string{
			`CREATE TABLE turns (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				session_id TEXT NOT NULL REFERENCES sessions(id) ON DELETE CASCADE,
				message_id TEXT,
				credits INTEGER NOT NULL DEFAULT 0,
				tool_calls INTEGER NOT NULL DEFAULT 0,
				input_tokens INTEGER NOT NULL DEFAULT 0,
				output_tokens INTEGER NOT NULL DEFAULT 0,
				created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
			)`,
			`CREATE INDEX idx_turns_session_id ON turns(session_id)`,
			`ALTER TABLE sessions ADD COLUMN turns INTEGER NOT NULL DEFAULT 0`,
			`ALTER TABLE sessions ADD COLUMN tool_calls INTEGER NOT NULL DEFAULT 0`,
			`ALTER TABLE sessions ADD COLUMN credits INTEGER NOT NULL DEFAULT 0`,
			`ALTER TABLE sessions ADD COLUMN input_tokens INTEGER NOT NULL DEFAULT 0`,
			`ALTER TABLE sessions ADD COLUMN output_tokens INTEGER NOT NULL DEFAULT 0`,
		},
	},
}

// schemaVersion is the version a fully migrated database reports.
var schemaVersion = len(migrations)

// migrate applies pending migrations, each in its own transaction.
func migrate(db *sql.DB) error {
	var current int
	if err := db.QueryRow("PRAGMA user_version").Scan(&current); err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}
	if current > schemaVersion {
		return fmt.Errorf("database schema version %d is newer than supported version %d", current, schemaVersion)
	}

	for v := current; v < schemaVersion; v++ {
		m := migrations[v]
		tx, err := db.Begin()
		if err != nil {
			return fmt.Errorf("begin migration %d: %w", v+1, err)
		}
		for _, stmt := range m.stmts {
			if _, err := tx.Exec(stmt); err != nil {
				tx.Rollback()
				return fmt.Errorf("migration %d (%s): %w", v+1, m.description, err)
			}
		}
		// PRAGMA does not accept bind parameters.
		if _, err := tx.Exec(fmt.Sprintf("PRAGMA user_version = %d", v+1)); err != nil {
			tx.Rollback()
			return fmt.Errorf("update version to %d: %w", v+1, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration %d: %w", v+1, err)
		}
	}
	return nil
}

// cleanup removes old sessions based on configuration.
func (s *SQLiteStore) cleanup() error {
	ctx := context.Background()

	if s.cfg.MaxAgeDays > 0 {
		cutoff := time.Now().AddDate(0, 0, -s.cfg.MaxAgeDays)
		if _, err := s.db.ExecContext(ctx, "DELETE FROM sessions WHERE updated_at < ?", cutoff); err != nil {
			return fmt.Errorf("delete old sessions: %w", err)
		}
	}

	if s.cfg.MaxCount > 0 {
		_, err := s.db.ExecContext(ctx, `
			DELETE FROM sessions WHERE id IN (
				SELECT id FROM sessions
				ORDER BY updated_at DESC
				LIMIT -1 OFFSET ?
			)`, s.cfg.MaxCount)
		if err != nil {
			return fmt.Errorf("enforce max count: %w", err)
		}
	}
	return nil
}

// Create inserts a new session.
func (s *SQLiteStore) Create(ctx context.Context, sess *Session) error {
	if sess.ID == "" {
		sess.ID = NewID()
	}
	if sess.CreatedAt.IsZero() {
		sess.CreatedAt = time.Now()
	}
	if sess.UpdatedAt.IsZero() {
		sess.UpdatedAt = sess.CreatedAt
	}
	if sess.Status == "" {
		sess.Status = StatusActive
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sessions (id, summary, provider, model, user_id, cwd, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		sess.ID, nullString(sess.Summary), sess.Provider, sess.Model, nullString(sess.UserID),
		nullString(sess.CWD), string(sess.Status), sess.CreatedAt, sess.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert session: %w", err)
	}
	return nil
}

// Get retrieves a session by ID.
func (s *SQLiteStore) Get(ctx context.Context, id string) (*Session, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, summary, provider, model, user_id, cwd, status, created_at, updated_at,
		       turns, tool_calls, credits, input_tokens, output_tokens
		FROM sessions WHERE id = ?`, id)

	var sess Session
	var summary, userID, cwd sql.NullString
	var status string
	err := row.Scan(&sess.ID, &summary, &sess.Provider, &sess.Model, &userID, &cwd, &status,
		&sess.CreatedAt, &sess.UpdatedAt,
		&sess.Turns, &sess.ToolCalls, &sess.Credits, &sess.InputTokens, &sess.OutputTokens)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan session: %w", err)
	}
	sess.Summary = summary.String
	sess.UserID = userID.String
	sess.CWD = cwd.String
	sess.Status = SessionStatus(status)
	return &sess, nil
}

// List returns the most recently updated sessions.
func (s *SQLiteStore) List(ctx context.Context, limit int) ([]SessionSummary, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT s.id, s.summary, s.provider, s.model, s.status, s.updated_at,
		       (SELECT COUNT(*) FROM messages WHERE session_id = s.id) AS message_count,
		       s.turns, s.credits
		FROM sessions s
		ORDER BY s.updated_at DESC, s.rowid DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query sessions: %w", err)
	}
	defer rows.Close()

	var results []SessionSummary
	for rows.Next() {
		var sum SessionSummary
		var summary sql.NullString
		var status string
		if err := rows.Scan(&sum.ID, &summary, &sum.Provider, &sum.Model, &status, &sum.UpdatedAt,
			&sum.MessageCount, &sum.Turns, &sum.Credits); err != nil {
			return nil, fmt.Errorf("scan session summary: %w", err)
		}
		sum.Summary = summary.String
		sum.Status = SessionStatus(status)
		results = append(results, sum)
	}
	return results, rows.Err()
}

// AppendMessages adds msgs to a session in one transaction. Sequence
// numbers continue from the last stored message.
func (s *SQLiteStore) AppendMessages(ctx context.Context, sessionID string, msgs []llm.Message) error {
	if len(msgs) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	var maxSeq sql.NullInt64
	if err := tx.QueryRowContext(ctx,
		`SELECT MAX(sequence) FROM messages WHERE session_id = ?`, sessionID).Scan(&maxSeq); err != nil {
		return fmt.Errorf("get max sequence: %w", err)
	}
	next := 0
	if maxSeq.Valid {
		next = int(maxSeq.Int64) + 1
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO messages (session_id, role, parts, ttl, text_content, created_at, sequence)
		VALUES (?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare insert: %w", err)
	}
	defer stmt.Close()

	for i, m := range msgs {
		msg := NewMessage(sessionID, m, next+i)
		partsJSON, err := msg.PartsJSON()
		if err != nil {
			return fmt.Errorf("serialize parts: %w", err)
		}
		if _, err := stmt.ExecContext(ctx, sessionID, string(msg.Role), partsJSON,
			nullString(string(msg.TTL)), msg.TextContent, msg.CreatedAt, msg.Sequence); err != nil {
			return fmt.Errorf("insert message: %w", err)
		}
	}

	res, err := tx.ExecContext(ctx, `UPDATE sessions SET updated_at = ? WHERE id = ?`, time.Now(), sessionID)
	if err != nil {
		return fmt.Errorf("update session timestamp: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("session not found: %s", sessionID)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// Messages retrieves all messages of a session in sequence order.
func (s *SQLiteStore) Messages(ctx context.Context, sessionID string) ([]Message, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, session_id, role, parts, ttl, text_content, created_at, sequence
		FROM messages
		WHERE session_id = ?
		ORDER BY sequence ASC`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}
	defer rows.Close()

	var messages []Message
	for rows.Next() {
		var msg Message
		var partsJSON string
		var ttl, text sql.NullString
		if err := rows.Scan(&msg.ID, &msg.SessionID, &msg.Role, &partsJSON,
			&ttl, &text, &msg.CreatedAt, &msg.Sequence); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		msg.TTL = llm.TimeToLive(ttl.String)
		msg.TextContent = text.String
		if err := msg.SetPartsFromJSON(partsJSON); err != nil {
			return nil, fmt.Errorf("deserialize parts: %w", err)
		}
		messages = append(messages, msg)
	}
	return messages, rows.Err()
}

// RecordTurn inserts the turn and adds it to the session totals.
func (s *SQLiteStore) RecordTurn(ctx context.Context, sessionID string, turn Turn) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	now := time.Now()
	res, err := tx.ExecContext(ctx, `
		UPDATE sessions SET
		       turns = turns + 1,
		       tool_calls = tool_calls + ?,
		       credits = credits + ?,
		       input_tokens = input_tokens + ?,
		       output_tokens = output_tokens + ?,
		       updated_at = ?
		WHERE id = ?`,
		turn.ToolCalls, turn.Credits, turn.InputTokens, turn.OutputTokens, now, sessionID)
	if err != nil {
		return fmt.Errorf("update session totals: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("session not found: %s", sessionID)
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO turns (session_id, message_id, credits, tool_calls, input_tokens, output_tokens, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		sessionID, nullString(turn.MessageID), turn.Credits, turn.ToolCalls,
		turn.InputTokens, turn.OutputTokens, now); err != nil {
		return fmt.Errorf("insert turn: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// UpdateStatus updates just the session status.
func (s *SQLiteStore) UpdateStatus(ctx context.Context, id string, status SessionStatus) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE sessions SET status = ?, updated_at = ?
		WHERE id = ?`,
		string(status), time.Now(), id)
	return err
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// nullString converts an empty string to NULL for database storage.
func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}
