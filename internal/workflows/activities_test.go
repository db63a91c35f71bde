package workflows

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.temporal.io/sdk/temporal"
	"go.uber.org/zap/zaptest"

	"github.com/draftpilot/draftpilot/internal/llm"
	"github.com/draftpilot/draftpilot/internal/persist"
	"github.com/draftpilot/draftpilot/internal/research"
	"github.com/draftpilot/draftpilot/internal/session"
	"github.com/draftpilot/draftpilot/internal/store/memory"
	"github.com/draftpilot/draftpilot/internal/stream"
)

type cannedGenerator struct {
	text     string
	err      error
	requests []llm.Request
}

func (g *cannedGenerator) Generate(ctx context.Context, req llm.Request) (string, error) {
	g.requests = append(g.requests, req)
	return g.text, g.err
}

func (g *cannedGenerator) Stream(ctx context.Context, req llm.Request, h stream.Handler) error {
	return errors.New("streaming is not used by batch drafts")
}

var fixedNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func newTestActivities(t *testing.T, gen llm.Generator) (*DraftActivities, *memory.MemoryStore) {
	t.Helper()
	st := memory.New(0)
	activities := NewDraftActivities(gen, st,
		WithCredential("worker-cred"),
		WithLogger(zaptest.NewLogger(t)),
		WithClock(func() time.Time { return fixedNow }),
	)
	return activities, st
}

func TestGenerateResearch(t *testing.T) {
	gen := &cannedGenerator{text: "Here you go: " + `{"options":[{"title":"Robotics","matchScore":90},{"title":"Vision","matchScore":40}]}`}
	activities, _ := newTestActivities(t, gen)

	out, err := activities.GenerateResearch(context.Background(), ResearchInput{DraftID: "d-1", Inputs: testInputs})
	require.NoError(t, err)
	require.Len(t, out.Options, 2)
	require.Equal(t, "Robotics", out.Options[0].Title)
	require.Equal(t, float64(research.MinMatchScore), out.Options[1].MatchScore)
	require.NotEqual(t, out.Options[0].ID, out.Options[1].ID)

	require.Len(t, gen.requests, 1)
	req := gen.requests[0]
	require.Equal(t, llm.IntentResearch, req.Intent)
	require.Equal(t, "worker-cred", req.Credential)
	require.Equal(t, "CS", req.Major)
	require.Nil(t, req.SelectedOption)
}

func TestGenerateResearch_FencedPayload(t *testing.T) {
	gen := &cannedGenerator{text: "**Options:**\n```json\n" + `{"options":[{"title":"Robotics","matchScore":90}]}` + "\n```"}
	activities, _ := newTestActivities(t, gen)

	out, err := activities.GenerateResearch(context.Background(), ResearchInput{DraftID: "d-1", Inputs: testInputs})
	require.NoError(t, err)
	require.Len(t, out.Options, 1)
	require.Equal(t, "Robotics", out.Options[0].Title)
}

func TestGenerateResearch_NoPayload(t *testing.T) {
	activities, _ := newTestActivities(t, &cannedGenerator{text: "sorry, nothing"})

	out, err := activities.GenerateResearch(context.Background(), ResearchInput{DraftID: "d-1", Inputs: testInputs})
	require.NoError(t, err)
	require.NotNil(t, out.Options)
	require.Empty(t, out.Options)
}

func TestGenerateResearch_Validation(t *testing.T) {
	gen := &cannedGenerator{}
	activities, _ := newTestActivities(t, gen)

	_, err := activities.GenerateResearch(context.Background(), ResearchInput{DraftID: "d-1", Inputs: session.Inputs{Major: "CS"}})
	var appErr *temporal.ApplicationError
	require.ErrorAs(t, err, &appErr)
	require.True(t, appErr.NonRetryable())
	require.Equal(t, "ValidationError", appErr.Type())
	require.Empty(t, gen.requests)

	_, err = activities.GenerateResearch(context.Background(), ResearchInput{Inputs: testInputs})
	require.Error(t, err)
}

func TestGenerateResearch_GeneratorErrors(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		errType   string
		retryable bool
	}{
		{name: "credential", err: llm.CredentialError{}, errType: "CredentialError"},
		{name: "network", err: llm.NetworkError{StatusCode: 503}, errType: "NetworkError"},
		{name: "other", err: errors.New("boom"), retryable: true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			activities, _ := newTestActivities(t, &cannedGenerator{err: tc.err})
			_, err := activities.GenerateResearch(context.Background(), ResearchInput{DraftID: "d-1", Inputs: testInputs})
			require.ErrorIs(t, err, tc.err)
			var appErr *temporal.ApplicationError
			if tc.retryable {
				require.False(t, errors.As(err, &appErr))
				return
			}
			require.ErrorAs(t, err, &appErr)
			require.Equal(t, tc.errType, appErr.Type())
		})
	}
}

func TestGenerateStatement(t *testing.T) {
	gen := &cannedGenerator{text: "## Why **robots**\n\n\n\nI built one."}
	activities, _ := newTestActivities(t, gen)

	out, err := activities.GenerateStatement(context.Background(), StatementInput{DraftID: "d-1", Inputs: testInputs, Option: testOptions[1]})
	require.NoError(t, err)
	require.Equal(t, "Why robots\n\nI built one.", out.Document)

	require.Len(t, gen.requests, 1)
	require.Equal(t, llm.IntentStatement, gen.requests[0].Intent)
	require.NotNil(t, gen.requests[0].SelectedOption)
	require.Equal(t, "Robotics", gen.requests[0].SelectedOption.Title)
}

func TestGenerateStatement_RequiresOption(t *testing.T) {
	gen := &cannedGenerator{}
	activities, _ := newTestActivities(t, gen)

	_, err := activities.GenerateStatement(context.Background(), StatementInput{DraftID: "d-1", Inputs: testInputs})
	require.Error(t, err)
	require.Empty(t, gen.requests)
}

func TestSaveDraft(t *testing.T) {
	activities, st := newTestActivities(t, &cannedGenerator{})

	err := activities.SaveDraft(context.Background(), SaveInput{
		DraftID:          "d-1",
		Stage:            session.StageStatement,
		Inputs:           testInputs,
		Options:          testOptions,
		SelectedOptionID: "opt-1",
		Document:         "Why robots",
	})
	require.NoError(t, err)

	state, ok := persist.New(st, "d-1").Load(context.Background())
	require.True(t, ok)
	require.Equal(t, session.StageStatement, state.Stage)
	require.Equal(t, "opt-1", state.SelectedOptionID)
	require.Equal(t, "Why robots", state.FinalDocument)
	require.Equal(t, testInputs, state.Inputs)
	require.Len(t, state.Options, 3)

	require.Error(t, activities.SaveDraft(context.Background(), SaveInput{}))
}
