package llm

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/draftpilot/draftpilot/internal/research"
	"github.com/draftpilot/draftpilot/internal/stream"
)

type Intent string

const (
	IntentResearch  Intent = "research"
	IntentStatement Intent = "statement"
)

// Request is the body shared by the single-shot and streaming endpoints.
// Zero-valued tuning fields are filled from the client configuration.
type Request struct {
	School          string           `json:"school"`
	Major           string           `json:"major"`
	Courses         string           `json:"courses"`
	Extracurricular string           `json:"extracurricular"`
	Credential      string           `json:"credential"`
	ModelName       string           `json:"model_name,omitempty"`
	Temperature     float64          `json:"temperature,omitempty"`
	MaxOutputTokens int              `json:"max_output_tokens,omitempty"`
	Intent          Intent           `json:"intent,omitempty"`
	SelectedOption  *research.Option `json:"selected_option,omitempty"`
}

type Generator interface {
	Generate(ctx context.Context, req Request) (string, error)
	Stream(ctx context.Context, req Request, h stream.Handler) error
}

type Config struct {
	Provider              string
	BaseURL               string
	GeneratePath          string
	StreamPath            string
	Model                 string
	Temperature           float64
	MaxOutputTokens       int
	StreamMaxOutputTokens int
	Credential            string
	Timeout               time.Duration
	MaxRetries            int
	Logger                *zap.Logger
}

func NewGenerator(cfg Config) (Generator, error) {
	switch cfg.Provider {
	case "", "remote":
		return NewRemoteClient(cfg), nil
	default:
		return nil, ErrUnsupportedProvider{Provider: cfg.Provider}
	}
}

func defaultIfEmpty(value string, fallback string) string {
	if value == "" {
		return fallback
	}
	return value
}
