// Package session owns the input -> research -> statement workflow for one
// drafting session.
package session

import (
	"context"
	"errors"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/draftpilot/draftpilot/internal/events"
	"github.com/draftpilot/draftpilot/internal/llm"
	"github.com/draftpilot/draftpilot/internal/research"
)

type Stage string

const (
	StageInput     Stage = "input"
	StageResearch  Stage = "research"
	StageStatement Stage = "statement"
)

var (
	// ErrStreamAbandoned is returned to the caller of a stream that was
	// superseded by a newer stream, a reset or an explicit abandon.
	ErrStreamAbandoned = errors.New("stream abandoned")
	// ErrInvalidTransition is wrapped by the llm.ValidationError returned
	// for a rejected stage transition.
	ErrInvalidTransition = errors.New("invalid transition")
)

// Inputs are the form fields carried through the workflow. They are owned by
// the caller and only committed to State once research generation succeeds.
type Inputs struct {
	School          string `json:"school"`
	Major           string `json:"major" validate:"required"`
	Courses         string `json:"courses" validate:"required_without=Extracurricular"`
	Extracurricular string `json:"extracurricular" validate:"required_without=Courses"`
}

func (in Inputs) trimmed() Inputs {
	return Inputs{
		School:          strings.TrimSpace(in.School),
		Major:           strings.TrimSpace(in.Major),
		Courses:         strings.TrimSpace(in.Courses),
		Extracurricular: strings.TrimSpace(in.Extracurricular),
	}
}

// State is the durable part of a session.
type State struct {
	Stage            Stage             `json:"stage"`
	Options          []research.Option `json:"options"`
	SelectedOptionID string            `json:"selectedOptionId,omitempty"`
	FinalDocument    string            `json:"finalDocument,omitempty"`
	Inputs           Inputs            `json:"inputs"`
}

func NewState() State {
	return State{Stage: StageInput, Options: []research.Option{}}
}

func (s State) clone() State {
	out := s
	out.Options = append([]research.Option{}, s.Options...)
	return out
}

// SelectedOption resolves the weak selection reference. A dangling id is
// reported as no selection.
func (s State) SelectedOption() (research.Option, bool) {
	return research.Find(s.Options, s.SelectedOptionID)
}

// Persister stores the durable state of one session. Implementations are
// best effort and never fail the caller.
type Persister interface {
	Save(ctx context.Context, state State)
	Load(ctx context.Context) (State, bool)
	Clear(ctx context.Context)
}

// Publisher receives live session events.
type Publisher interface {
	Publish(event events.SessionEvent) events.SessionEvent
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(field reflect.StructField) string {
		name := strings.SplitN(field.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// ValidateInputs reports the first missing required field as an
// llm.ValidationError.
func ValidateInputs(in Inputs) error {
	err := validate.Struct(in.trimmed())
	if err == nil {
		return nil
	}
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) || len(fieldErrs) == 0 {
		return llm.ValidationError{Message: err.Error(), Err: err}
	}
	first := fieldErrs[0]
	switch first.Tag() {
	case "required_without":
		return llm.ValidationError{Field: first.Field(), Message: "courses or extracurricular is required", Err: err}
	default:
		return llm.ValidationError{Field: first.Field(), Message: "is required", Err: err}
	}
}
