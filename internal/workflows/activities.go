package workflows

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.temporal.io/sdk/temporal"
	"go.uber.org/zap"

	"github.com/draftpilot/draftpilot/internal/llm"
	"github.com/draftpilot/draftpilot/internal/markup"
	"github.com/draftpilot/draftpilot/internal/persist"
	"github.com/draftpilot/draftpilot/internal/research"
	"github.com/draftpilot/draftpilot/internal/session"
	"github.com/draftpilot/draftpilot/internal/store"
)

type ResearchInput struct {
	DraftID string
	Inputs  session.Inputs
}

type ResearchOutput struct {
	Options []research.Option
}

type StatementInput struct {
	DraftID string
	Inputs  session.Inputs
	Option  research.Option
}

type StatementOutput struct {
	Document string
}

type SaveInput struct {
	DraftID          string
	Stage            session.Stage
	Inputs           session.Inputs
	Options          []research.Option
	SelectedOptionID string
	Document         string
}

// DraftActivities runs the generator calls of a batch draft. The credential
// stays on the worker and never enters workflow history.
type DraftActivities struct {
	generator  llm.Generator
	store      store.Store
	credential string
	logger     *zap.Logger
	now        func() time.Time
}

type DraftActivitiesOption func(*DraftActivities)

func WithCredential(credential string) DraftActivitiesOption {
	return func(a *DraftActivities) {
		a.credential = credential
	}
}

func WithLogger(logger *zap.Logger) DraftActivitiesOption {
	return func(a *DraftActivities) {
		if logger != nil {
			a.logger = logger
		}
	}
}

func WithClock(now func() time.Time) DraftActivitiesOption {
	return func(a *DraftActivities) {
		if now != nil {
			a.now = now
		}
	}
}

func NewDraftActivities(generator llm.Generator, st store.Store, opts ...DraftActivitiesOption) *DraftActivities {
	activities := &DraftActivities{
		generator: generator,
		store:     st,
		logger:    zap.NewNop(),
		now:       time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(activities)
		}
	}
	return activities
}

func (a *DraftActivities) GenerateResearch(ctx context.Context, input ResearchInput) (ResearchOutput, error) {
	if strings.TrimSpace(input.DraftID) == "" {
		return ResearchOutput{}, errors.New("draft_id required")
	}
	if err := session.ValidateInputs(input.Inputs); err != nil {
		return ResearchOutput{}, nonRetryable(err)
	}
	startedAt := a.now()
	text, err := a.generator.Generate(ctx, a.request(input.Inputs, llm.IntentResearch, nil))
	if err != nil {
		return ResearchOutput{}, nonRetryable(err)
	}
	options, ok := research.TryExtract(text, startedAt)
	if !ok {
		a.logger.Warn("research response carried no options", zap.String("draft_id", input.DraftID), zap.Int("bytes", len(text)))
		options = []research.Option{}
	}
	a.logger.Info("research generated", zap.String("draft_id", input.DraftID), zap.Int("options", len(options)))
	return ResearchOutput{Options: options}, nil
}

func (a *DraftActivities) GenerateStatement(ctx context.Context, input StatementInput) (StatementOutput, error) {
	if strings.TrimSpace(input.DraftID) == "" {
		return StatementOutput{}, errors.New("draft_id required")
	}
	if input.Option.ID == "" {
		return StatementOutput{}, temporal.NewNonRetryableApplicationError("option required", "InvalidInput", nil)
	}
	option := input.Option
	text, err := a.generator.Generate(ctx, a.request(input.Inputs, llm.IntentStatement, &option))
	if err != nil {
		return StatementOutput{}, nonRetryable(err)
	}
	document := markup.Normalize(text)
	a.logger.Info("statement generated", zap.String("draft_id", input.DraftID), zap.Int("bytes", len(document)))
	return StatementOutput{Document: document}, nil
}

// SaveDraft writes the outcome under the draft id so the interactive API can
// open it as a session.
func (a *DraftActivities) SaveDraft(ctx context.Context, input SaveInput) error {
	if strings.TrimSpace(input.DraftID) == "" {
		return errors.New("draft_id required")
	}
	payload, err := persist.Encode(session.State{
		Stage:            input.Stage,
		Options:          input.Options,
		SelectedOptionID: input.SelectedOptionID,
		FinalDocument:    input.Document,
		Inputs:           input.Inputs,
	}, a.now())
	if err != nil {
		return err
	}
	return a.store.Put(ctx, persist.Key(input.DraftID), payload)
}

func (a *DraftActivities) request(in session.Inputs, intent llm.Intent, option *research.Option) llm.Request {
	return llm.Request{
		School:          strings.TrimSpace(in.School),
		Major:           strings.TrimSpace(in.Major),
		Courses:         strings.TrimSpace(in.Courses),
		Extracurricular: strings.TrimSpace(in.Extracurricular),
		Credential:      a.credential,
		Intent:          intent,
		SelectedOption:  option,
	}
}

// nonRetryable stops Temporal from repeating calls the generator client has
// already retried or that can never succeed.
func nonRetryable(err error) error {
	var validation llm.ValidationError
	var credential llm.CredentialError
	var network llm.NetworkError
	switch {
	case errors.As(err, &validation):
		return temporal.NewNonRetryableApplicationError(err.Error(), "ValidationError", err)
	case errors.As(err, &credential):
		return temporal.NewNonRetryableApplicationError(err.Error(), "CredentialError", err)
	case errors.As(err, &network):
		return temporal.NewNonRetryableApplicationError(err.Error(), "NetworkError", err)
	default:
		return err
	}
}
