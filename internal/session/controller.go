package session

import (
	"context"
	"errors"
	"slices"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/draftpilot/draftpilot/internal/events"
	"github.com/draftpilot/draftpilot/internal/llm"
	"github.com/draftpilot/draftpilot/internal/markup"
	"github.com/draftpilot/draftpilot/internal/metrics"
	"github.com/draftpilot/draftpilot/internal/research"
	"github.com/draftpilot/draftpilot/internal/stream"
)

const (
	DefaultFlushBytes    = 64
	DefaultFlushInterval = 75 * time.Millisecond
)

// Buffer is a snapshot of the in-flight stream.
type Buffer struct {
	Open    bool              `json:"open"`
	Intent  llm.Intent        `json:"intent,omitempty"`
	Text    string            `json:"text"`
	Options []research.Option `json:"options,omitempty"`
}

type streamBuffer struct {
	open      bool
	intent    llm.Intent
	text      strings.Builder
	options   []research.Option
	startedAt time.Time
	published int
	lastFlush time.Time
}

// Controller is the only writer of a session's State. Every stream it opens
// is tagged with a generation number; callbacks from a stream whose
// generation is no longer current are ignored.
type Controller struct {
	id            string
	generator     llm.Generator
	persister     Persister
	publisher     Publisher
	logger        *zap.Logger
	now           func() time.Time
	flushBytes    int
	flushInterval time.Duration

	mu         sync.Mutex
	state      State
	buf        *streamBuffer
	generation uint64
	cancel     context.CancelFunc
	credential string
	lastErr    string
}

type Option func(*Controller)

func WithPersister(p Persister) Option {
	return func(c *Controller) { c.persister = p }
}

func WithPublisher(p Publisher) Option {
	return func(c *Controller) { c.publisher = p }
}

func WithLogger(logger *zap.Logger) Option {
	return func(c *Controller) {
		if logger != nil {
			c.logger = logger
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(c *Controller) {
		if now != nil {
			c.now = now
		}
	}
}

// WithFlushPolicy sets how much text, or how much time, accumulates before a
// stream.delta event is published. Non-positive values keep the defaults.
func WithFlushPolicy(bytes int, interval time.Duration) Option {
	return func(c *Controller) {
		if bytes > 0 {
			c.flushBytes = bytes
		}
		if interval > 0 {
			c.flushInterval = interval
		}
	}
}

// WithCredential sets the credential sent with every generation request.
func WithCredential(credential string) Option {
	return func(c *Controller) { c.credential = credential }
}

// New builds a controller and restores its state from the persister, if any.
func New(ctx context.Context, id string, generator llm.Generator, opts ...Option) *Controller {
	c := &Controller{
		id:            id,
		generator:     generator,
		logger:        zap.NewNop(),
		now:           time.Now,
		flushBytes:    DefaultFlushBytes,
		flushInterval: DefaultFlushInterval,
		state:         NewState(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.With(zap.String("session_id", id))
	if c.persister != nil {
		if restored, ok := c.persister.Load(ctx); ok {
			if restored.Options == nil {
				restored.Options = []research.Option{}
			}
			if _, found := restored.SelectedOption(); !found {
				restored.SelectedOptionID = ""
			}
			c.state = restored
		}
	}
	return c
}

func (c *Controller) ID() string {
	return c.id
}

func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state.clone()
}

func (c *Controller) Buffer() Buffer {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.buf == nil {
		return Buffer{}
	}
	return Buffer{
		Open:    c.buf.open,
		Intent:  c.buf.intent,
		Text:    c.buf.text.String(),
		Options: append([]research.Option(nil), c.buf.options...),
	}
}

// LastError is the message of the most recent failed stream, cleared when
// the next stream starts.
func (c *Controller) LastError() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastErr
}

func (c *Controller) SetCredential(credential string) {
	c.mu.Lock()
	c.credential = credential
	c.mu.Unlock()
}

// CheckResearch validates a research request without starting it.
func (c *Controller) CheckResearch(in Inputs) error {
	return ValidateInputs(in)
}

// CheckStatement validates a statement request without starting it.
func (c *Controller) CheckStatement() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, err := c.statementSeedLocked()
	return err
}

// StartResearchGeneration streams research options for in and blocks until
// the stream ends. On success the session moves to the research stage with
// the extracted options, which may be empty. On failure State is unchanged.
func (c *Controller) StartResearchGeneration(ctx context.Context, in Inputs) error {
	in = in.trimmed()
	if err := ValidateInputs(in); err != nil {
		return err
	}
	req := llm.Request{
		School:          in.School,
		Major:           in.Major,
		Courses:         in.Courses,
		Extracurricular: in.Extracurricular,
		Intent:          llm.IntentResearch,
	}
	return c.run(ctx, req, func(text string, options []research.Option) {
		c.transitionLocked(StageResearch)
		c.state.Options = options
		c.state.SelectedOptionID = ""
		c.state.FinalDocument = ""
		c.state.Inputs = in
	})
}

// StartStatementGeneration streams the final document for the selected
// option. It is rejected unless the session is in the research stage with a
// selection that resolves against the current options.
func (c *Controller) StartStatementGeneration(ctx context.Context) error {
	c.mu.Lock()
	option, err := c.statementSeedLocked()
	inputs := c.state.Inputs
	c.mu.Unlock()
	if err != nil {
		return err
	}
	req := llm.Request{
		School:          inputs.School,
		Major:           inputs.Major,
		Courses:         inputs.Courses,
		Extracurricular: inputs.Extracurricular,
		Intent:          llm.IntentStatement,
		SelectedOption:  &option,
	}
	return c.run(ctx, req, func(text string, _ []research.Option) {
		c.transitionLocked(StageStatement)
		c.state.FinalDocument = markup.Normalize(text)
	})
}

func (c *Controller) statementSeedLocked() (research.Option, error) {
	if c.state.Stage != StageResearch {
		return research.Option{}, llm.ValidationError{
			Field:   "stage",
			Message: "statement generation requires the research stage",
			Err:     ErrInvalidTransition,
		}
	}
	option, ok := c.state.SelectedOption()
	if !ok {
		return research.Option{}, llm.ValidationError{
			Field:   "selectedOptionId",
			Message: "no research option selected",
			Err:     ErrInvalidTransition,
		}
	}
	return option, nil
}

// SelectOption records the selection. An id that is not in the current
// options is rejected and the previous selection is kept.
func (c *Controller) SelectOption(ctx context.Context, id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := research.Find(c.state.Options, id); !ok {
		return llm.ValidationError{Field: "optionId", Message: "unknown research option", Err: ErrInvalidTransition}
	}
	c.state.SelectedOptionID = id
	c.saveLocked(ctx)
	return nil
}

// GoBack steps one stage back without touching generated artifacts. Any open
// stream is abandoned first. It is a no-op in the input stage.
func (c *Controller) GoBack(ctx context.Context) Stage {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.abandonLocked()
	switch c.state.Stage {
	case StageStatement:
		c.transitionLocked(StageResearch)
	case StageResearch:
		c.transitionLocked(StageInput)
	default:
		return c.state.Stage
	}
	c.saveLocked(ctx)
	return c.state.Stage
}

// Reset abandons any open stream, clears every field and deletes the
// persisted record.
func (c *Controller) Reset(ctx context.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.abandonLocked()
	c.state = NewState()
	c.lastErr = ""
	if c.persister != nil {
		c.persister.Clear(ctx)
	}
	c.publishLocked(events.TypeSessionReset, nil)
}

// Abandon stops consuming the open stream and discards its buffer. Late
// callbacks from that stream become no-ops.
func (c *Controller) Abandon() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.abandonLocked()
}

func (c *Controller) abandonLocked() {
	if c.buf == nil || !c.buf.open {
		return
	}
	intent := c.buf.intent
	c.generation++
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
	c.buf = nil
	c.logger.Debug("stream abandoned", zap.String("intent", string(intent)))
	metrics.GenerationsFinished.WithLabelValues(string(intent), "abandoned").Inc()
	c.publishLocked(events.TypeStreamFailed, map[string]any{"intent": string(intent), "reason": "abandoned"})
}

// run opens a stream for req after discarding any stream still open, and
// applies commit under the lock once the stream completes while still
// current.
func (c *Controller) run(ctx context.Context, req llm.Request, commit func(text string, options []research.Option)) error {
	c.mu.Lock()
	c.abandonLocked()
	c.generation++
	gen := c.generation
	streamCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	started := c.now()
	c.buf = &streamBuffer{open: true, intent: req.Intent, startedAt: started, lastFlush: started}
	c.lastErr = ""
	req.Credential = c.credential
	c.publishLocked(events.TypeStreamStarted, map[string]any{"intent": string(req.Intent)})
	c.mu.Unlock()
	defer cancel()

	metrics.GenerationsStarted.WithLabelValues(string(req.Intent)).Inc()
	c.logger.Info("stream started", zap.String("intent", string(req.Intent)))

	completed := false
	err := c.generator.Stream(streamCtx, req, stream.Handler{
		OnChunk: func(content string) {
			c.onChunk(gen, content)
		},
		OnComplete: func() {
			completed = c.complete(ctx, gen, commit)
		},
	})

	c.mu.Lock()
	defer c.mu.Unlock()
	// A committed result stands even if a newer stream has started since.
	if err == nil && completed {
		return nil
	}
	if gen != c.generation {
		return ErrStreamAbandoned
	}
	if err == nil {
		err = errors.New("stream ended without completion")
	}
	c.failLocked(req.Intent, started, err)
	return err
}

func (c *Controller) onChunk(gen uint64, content string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if gen != c.generation || c.buf == nil || !c.buf.open {
		return
	}
	c.buf.text.WriteString(content)

	if c.buf.intent == llm.IntentResearch {
		if options, ok := research.TryExtract(c.buf.text.String(), c.buf.startedAt); ok && !slices.Equal(options, c.buf.options) {
			c.buf.options = options
			c.publishLocked(events.TypeOptionsUpdated, map[string]any{"options": options, "final": false})
		}
	}

	pending := c.buf.text.Len() - c.buf.published
	if pending >= c.flushBytes || c.now().Sub(c.buf.lastFlush) >= c.flushInterval {
		c.flushLocked()
	}
}

func (c *Controller) flushLocked() {
	text := c.buf.text.String()
	if len(text) == c.buf.published {
		return
	}
	delta := text[c.buf.published:]
	c.buf.published = len(text)
	c.buf.lastFlush = c.now()
	metrics.StreamFlushes.Inc()
	c.publishLocked(events.TypeStreamDelta, map[string]any{
		"intent": string(c.buf.intent),
		"delta":  delta,
		"length": len(text),
	})
}

func (c *Controller) complete(ctx context.Context, gen uint64, commit func(string, []research.Option)) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if gen != c.generation || c.buf == nil || !c.buf.open {
		return false
	}
	c.flushLocked()

	text := c.buf.text.String()
	intent := c.buf.intent
	options := c.buf.options
	if intent == llm.IntentResearch {
		if extracted, ok := research.TryExtract(text, c.buf.startedAt); ok {
			options = extracted
		}
		if options == nil {
			options = []research.Option{}
		}
	}
	commit(text, options)

	metrics.GenerationsFinished.WithLabelValues(string(intent), "completed").Inc()
	metrics.GenerationDuration.WithLabelValues(string(intent)).Observe(c.now().Sub(c.buf.startedAt).Seconds())
	c.buf.open = false
	c.cancel = nil
	c.logger.Info("stream completed",
		zap.String("intent", string(intent)),
		zap.Int("bytes", len(text)),
		zap.Int("options", len(c.state.Options)),
	)
	if intent == llm.IntentResearch {
		c.publishLocked(events.TypeOptionsUpdated, map[string]any{"options": c.state.Options, "final": true})
	}
	c.publishLocked(events.TypeStreamCompleted, map[string]any{"intent": string(intent)})
	c.saveLocked(ctx)
	return true
}

func (c *Controller) failLocked(intent llm.Intent, started time.Time, err error) {
	c.buf = nil
	c.cancel = nil
	c.lastErr = err.Error()
	metrics.GenerationsFinished.WithLabelValues(string(intent), "failed").Inc()
	metrics.GenerationDuration.WithLabelValues(string(intent)).Observe(c.now().Sub(started).Seconds())
	c.logger.Warn("stream failed", zap.String("intent", string(intent)), zap.Error(err))
	c.publishLocked(events.TypeStreamFailed, map[string]any{"intent": string(intent), "error": err.Error()})
}

func (c *Controller) transitionLocked(to Stage) {
	from := c.state.Stage
	if from == to {
		return
	}
	c.state.Stage = to
	metrics.StageTransitions.WithLabelValues(string(from), string(to)).Inc()
	c.publishLocked(events.TypeStageChanged, map[string]any{"from": string(from), "to": string(to)})
}

func (c *Controller) saveLocked(ctx context.Context) {
	if c.persister == nil {
		return
	}
	c.persister.Save(context.WithoutCancel(ctx), c.state.clone())
}

func (c *Controller) publishLocked(eventType string, payload map[string]any) {
	if c.publisher == nil {
		return
	}
	c.publisher.Publish(events.SessionEvent{SessionID: c.id, Type: eventType, Payload: payload})
}
