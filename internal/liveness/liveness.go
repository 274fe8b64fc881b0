// Package liveness tracks which user inputs are still wanted. A stream or
// tool step for an input that was cancelled, or whose client session has
// disconnected, is skipped.
package liveness

import (
	"context"
	"errors"
	"strings"
	"sync"

	"github.com/samsaffron/toolstream/internal/telemetry"
)

// ErrNotLive is returned when work is skipped for a canceled user input.
var ErrNotLive = errors.New("user input is no longer live")

// Oracle answers whether work for a user input should proceed.
type Oracle interface {
	IsLive(userID, userInputID, clientSessionID string) bool
}

// OracleFunc adapts a function to the Oracle interface.
type OracleFunc func(userID, userInputID, clientSessionID string) bool

func (f OracleFunc) IsLive(userID, userInputID, clientSessionID string) bool {
	return f(userID, userInputID, clientSessionID)
}

// Always reports every input as live.
var Always Oracle = OracleFunc(func(string, string, string) bool { return true })

type (
	// UserInputRecord maps a user id to the ids of its live inputs.
	UserInputRecord map[string][]string

	// SessionRecord holds the client sessions that are connected.
	SessionRecord map[string]bool
)

// Registry is the process-wide Oracle. Both checks start disabled.
type Registry struct {
	mu           sync.RWMutex
	inputs       UserInputRecord
	sessions     SessionRecord
	inputCheck   bool
	sessionCheck bool
	logger       telemetry.Logger
}

func NewRegistry(logger telemetry.Logger) *Registry {
	if logger == nil {
		logger = telemetry.NewNoopLogger()
	}
	return &Registry{
		inputs:   UserInputRecord{},
		sessions: SessionRecord{},
		logger:   logger,
	}
}

func (r *Registry) EnableInputCheck()    { r.setInputCheck(true) }
func (r *Registry) DisableInputCheck()   { r.setInputCheck(false) }
func (r *Registry) EnableSessionCheck()  { r.setSessionCheck(true) }
func (r *Registry) DisableSessionCheck() { r.setSessionCheck(false) }

func (r *Registry) setInputCheck(on bool) {
	r.mu.Lock()
	r.inputCheck = on
	r.mu.Unlock()
}

func (r *Registry) setSessionCheck(on bool) {
	r.mu.Lock()
	r.sessionCheck = on
	r.mu.Unlock()
}

// Reset clears all records and disables both checks.
func (r *Registry) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.inputs = UserInputRecord{}
	r.sessions = SessionRecord{}
	r.inputCheck = false
	r.sessionCheck = false
}

// StartUserInput marks userInputID live for userID.
func (r *Registry) StartUserInput(userID, userInputID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, id := range r.inputs[userID] {
		if id == userInputID {
			return
		}
	}
	r.inputs[userID] = append(r.inputs[userID], userInputID)
}

// EndUserInput removes userInputID once its work has finished.
func (r *Registry) EndUserInput(userID, userInputID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.remove(userID, userInputID)
}

// CancelUserInput removes userInputID so pending streams are skipped.
func (r *Registry) CancelUserInput(ctx context.Context, userID, userInputID string) {
	r.mu.Lock()
	removed := r.remove(userID, userInputID)
	r.mu.Unlock()
	if removed {
		r.logger.Info(ctx, "canceled user input", "user_id", userID, "user_input_id", userInputID)
	}
}

func (r *Registry) remove(userID, userInputID string) bool {
	ids := r.inputs[userID]
	for i, id := range ids {
		if id == userInputID {
			ids = append(ids[:i:i], ids[i+1:]...)
			if len(ids) == 0 {
				delete(r.inputs, userID)
			} else {
				r.inputs[userID] = ids
			}
			return true
		}
	}
	return false
}

// SetSessionConnected records the connection state of a client session.
func (r *Registry) SetSessionConnected(clientSessionID string, connected bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if connected {
		r.sessions[clientSessionID] = true
	} else {
		delete(r.sessions, clientSessionID)
	}
}

// LiveUserInputIDs returns a copy of the live input ids for userID.
func (r *Registry) LiveUserInputIDs(userID string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := r.inputs[userID]
	if len(ids) == 0 {
		return nil
	}
	return append([]string(nil), ids...)
}

// IsLive implements Oracle. Sub-agent input ids extend their parent's id,
// so a live parent keeps its descendants live.
func (r *Registry) IsLive(userID, userInputID, clientSessionID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if !r.inputCheck {
		return true
	}
	if userID == "" {
		return false
	}
	if r.sessionCheck && !r.sessions[clientSessionID] {
		return false
	}
	for _, id := range r.inputs[userID] {
		if strings.HasPrefix(userInputID, id) {
			return true
		}
	}
	return false
}
