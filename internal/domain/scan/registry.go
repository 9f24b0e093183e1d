package scan

import (
	"sync"
	"time"

	"stockscan/internal/core/apperror"
	"stockscan/internal/core/id"
	"stockscan/internal/domain/nomenclature"
)

// Session binds one engine to one warehouse operation for its lifetime.
// Replacing a session discards the engine together with its consumed-URN set
// and scan memory.
type Session struct {
	ID            id.ID     `json:"id"`
	OperationType string    `json:"operationType"`
	CreatedAt     time.Time `json:"createdAt"`

	Engine *Engine `json:"-"`
}

// Registry tracks live scan sessions by id.
type Registry struct {
	mu       sync.RWMutex
	sessions map[id.ID]*Session
}

// NewRegistry builds an empty session registry.
func NewRegistry() *Registry {
	return &Registry{sessions: make(map[id.ID]*Session)}
}

// Create opens a session over freshly loaded lines. The caller supplies the
// session id so collaborators keyed on it, like the audit sink, can be built
// up front.
func (r *Registry) Create(sessionID id.ID, cfg Config, nom *nomenclature.Nomenclature, cache RecordSource, lines []*Line, opts ...Option) (*Session, error) {
	state := NewOperationState(lines, DefaultGroupKey)
	engine, err := NewEngine(cfg, nom, cache, state, opts...)
	if err != nil {
		return nil, apperror.NewValidation(err.Error())
	}
	s := &Session{
		ID:            sessionID,
		OperationType: cfg.OperationType,
		CreatedAt:     time.Now(),
		Engine:        engine,
	}
	r.mu.Lock()
	r.sessions[s.ID] = s
	r.mu.Unlock()
	return s, nil
}

// Get returns a session by id.
func (r *Registry) Get(sessionID id.ID) (*Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[sessionID]
	if !ok {
		return nil, apperror.NewNotFound("session", sessionID.String())
	}
	return s, nil
}

// Delete closes a session.
func (r *Registry) Delete(sessionID id.ID) {
	r.mu.Lock()
	delete(r.sessions, sessionID)
	r.mu.Unlock()
}

// List returns all live sessions.
func (r *Registry) List() []*Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, s)
	}
	return out
}
