package menu

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/rendis/actionkit/internal/expressions"
	"github.com/rendis/actionkit/pkg/datactx"
	"github.com/rendis/actionkit/pkg/schema"
)

// State is the JSON document data keys are queried from. A state backed by
// a file re-reads it when its modification time changes.
type State struct {
	path   string
	logger *slog.Logger

	mu      sync.RWMutex
	doc     any
	modTime time.Time
}

// NewState wraps an in-memory document.
func NewState(doc any) *State {
	return &State{doc: doc}
}

// OpenState reads the state file at path. Failed reloads are reported
// through logger.
func OpenState(path string, logger *slog.Logger) (*State, error) {
	if logger == nil {
		logger = slog.Default()
	}
	s := &State{path: path, logger: logger}
	if _, err := s.refresh(); err != nil {
		return nil, err
	}
	return s, nil
}

// Doc returns the current document, reloading a changed file first. A
// file that fails to reload keeps the previous document.
func (s *State) Doc() any {
	return s.current(context.Background())
}

func (s *State) current(ctx context.Context) any {
	if s.path != "" {
		if _, err := s.refresh(); err != nil {
			s.logger.WarnContext(ctx, "state reload failed; keeping previous document", "path", s.path, "error", err)
		}
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.doc
}

// Set replaces the document.
func (s *State) Set(doc any) {
	s.mu.Lock()
	s.doc = doc
	s.mu.Unlock()
}

// refresh reloads the file if it changed and reports whether it did.
func (s *State) refresh() (bool, error) {
	info, err := os.Stat(s.path)
	if err != nil {
		return false, fmt.Errorf("stat state %s: %w", s.path, err)
	}
	s.mu.RLock()
	same := !s.modTime.IsZero() && info.ModTime().Equal(s.modTime)
	s.mu.RUnlock()
	if same {
		return false, nil
	}

	data, err := os.ReadFile(s.path)
	if err != nil {
		return false, fmt.Errorf("read state %s: %w", s.path, err)
	}
	var doc any
	if err := json.Unmarshal(data, &doc); err != nil {
		return false, schema.NewErrorf(schema.ErrCodeValidation, "state %s is not valid JSON", s.path).WithCause(err)
	}
	s.mu.Lock()
	s.doc = doc
	s.modTime = info.ModTime()
	s.mu.Unlock()
	return true, nil
}

// Context returns a live data context with one provider per declared data
// key. Each provider runs its jq query over the current document; a query
// that fails resolves to nothing.
func (s *State) Context(def *schema.MenuDefinition, jq *expressions.GoJQEngine, logger *slog.Logger) (*datactx.Live, error) {
	if logger == nil {
		logger = s.logger
	}
	if logger == nil {
		logger = slog.Default()
	}
	live := datactx.NewLive(nil)
	for name, key := range def.Data {
		var delay time.Duration
		if key.Delay != "" {
			d, err := time.ParseDuration(key.Delay)
			if err != nil {
				return nil, schema.NewErrorf(schema.ErrCodeValidation, "data key %q: invalid delay %q", name, key.Delay).WithCause(err)
			}
			delay = d
		}
		query := key.Query
		keyName := name
		live.Provide(datactx.Key(name), datactx.Provider{
			Fast: key.Fast,
			Resolve: func(ctx context.Context) (any, bool) {
				if delay > 0 && simulateCost(ctx, delay) != nil {
					return nil, false
				}
				v, ok, err := jq.Query(ctx, query, s.current(ctx))
				if err != nil {
					logger.WarnContext(ctx, "data key query failed", "key", keyName, "error", err)
					return nil, false
				}
				return v, ok
			},
		})
	}
	return live, nil
}
