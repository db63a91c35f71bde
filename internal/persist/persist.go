// Package persist snapshots session state into a key-value store.
package persist

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/draftpilot/draftpilot/internal/jsonx"
	"github.com/draftpilot/draftpilot/internal/metrics"
	"github.com/draftpilot/draftpilot/internal/research"
	"github.com/draftpilot/draftpilot/internal/session"
	"github.com/draftpilot/draftpilot/internal/store"
)

const (
	// SchemaVersion tags every record. Records carrying any other tag are
	// treated as absent.
	SchemaVersion = "draftpilot.session.v1"
	KeyPrefix     = "draftpilot:session:"
)

type Record struct {
	SchemaVersion    string            `json:"schemaVersion"`
	SavedAt          time.Time         `json:"savedAt"`
	Stage            session.Stage     `json:"stage"`
	Options          []research.Option `json:"options"`
	SelectedOptionID string            `json:"selectedOptionId,omitempty"`
	FinalDocument    string            `json:"finalDocument,omitempty"`
	Inputs           session.Inputs    `json:"inputs"`
}

func Key(sessionID string) string {
	return KeyPrefix + sessionID
}

// Adapter persists one session. Failures are logged and counted, never
// returned.
type Adapter struct {
	store  store.Store
	key    string
	logger *zap.Logger
	now    func() time.Time
}

type Option func(*Adapter)

func WithLogger(logger *zap.Logger) Option {
	return func(a *Adapter) {
		if logger != nil {
			a.logger = logger
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(a *Adapter) {
		if now != nil {
			a.now = now
		}
	}
}

func New(st store.Store, sessionID string, opts ...Option) *Adapter {
	a := &Adapter{
		store:  st,
		key:    Key(sessionID),
		logger: zap.NewNop(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(a)
	}
	a.logger = a.logger.With(zap.String("key", a.key))
	return a
}

func (a *Adapter) Save(ctx context.Context, state session.State) {
	payload, err := Encode(state, a.now())
	if err != nil {
		a.fail("encode", err)
		return
	}
	if err := a.store.Put(ctx, a.key, payload); err != nil {
		a.fail("save", err)
	}
}

// Encode renders state as a current-version record.
func Encode(state session.State, savedAt time.Time) ([]byte, error) {
	options := state.Options
	if options == nil {
		options = []research.Option{}
	}
	return jsonx.Marshal(Record{
		SchemaVersion:    SchemaVersion,
		SavedAt:          savedAt.UTC(),
		Stage:            state.Stage,
		Options:          options,
		SelectedOptionID: state.SelectedOptionID,
		FinalDocument:    state.FinalDocument,
		Inputs:           state.Inputs,
	})
}

// Load reports false for a missing, unreadable or foreign-version record.
func (a *Adapter) Load(ctx context.Context) (session.State, bool) {
	payload, err := a.store.Get(ctx, a.key)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			a.fail("load", err)
		}
		return session.State{}, false
	}
	var record Record
	if err := jsonx.Unmarshal(payload, &record); err != nil {
		a.fail("decode", err)
		return session.State{}, false
	}
	if record.SchemaVersion != SchemaVersion {
		a.logger.Info("discarding session record",
			zap.String("schema_version", record.SchemaVersion),
			zap.String("want", SchemaVersion),
		)
		return session.State{}, false
	}
	switch record.Stage {
	case session.StageInput, session.StageResearch, session.StageStatement:
	default:
		a.logger.Warn("discarding session record with unknown stage", zap.String("stage", string(record.Stage)))
		return session.State{}, false
	}
	options := record.Options
	if options == nil {
		options = []research.Option{}
	}
	return session.State{
		Stage:            record.Stage,
		Options:          options,
		SelectedOptionID: record.SelectedOptionID,
		FinalDocument:    record.FinalDocument,
		Inputs:           record.Inputs,
	}, true
}

func (a *Adapter) Clear(ctx context.Context) {
	if err := a.store.Delete(ctx, a.key); err != nil {
		a.fail("clear", err)
	}
}

func (a *Adapter) fail(operation string, err error) {
	metrics.PersistenceErrors.WithLabelValues(operation).Inc()
	a.logger.Warn("session persistence failed", zap.String("operation", operation), zap.Error(err))
}

var _ session.Persister = (*Adapter)(nil)
