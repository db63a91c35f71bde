package workflows

import (
	"fmt"
	"time"

	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"

	"github.com/draftpilot/draftpilot/internal/research"
	"github.com/draftpilot/draftpilot/internal/session"
)

const (
	ActivityGenerateResearch  = "GenerateResearch"
	ActivityGenerateStatement = "GenerateStatement"
	ActivitySaveDraft         = "SaveDraft"

	errNoOptions   = "NoResearchOptions"
	errPickInvalid = "PickOutOfRange"
)

// DraftInput drives one unattended research -> statement run. Pick is the
// 1-based position in display order; zero selects the best match.
type DraftInput struct {
	DraftID string
	Inputs  session.Inputs
	Pick    int
}

type DraftResult struct {
	Status           string
	SelectedOptionID string
	DocumentLength   int
}

func DraftWorkflow(ctx workflow.Context, input DraftInput) (DraftResult, error) {
	activityOptions := workflow.ActivityOptions{
		StartToCloseTimeout: 10 * time.Minute,
		RetryPolicy: &temporal.RetryPolicy{
			MaximumAttempts: 1,
		},
	}
	ctx = workflow.WithActivityOptions(ctx, activityOptions)
	logger := workflow.GetLogger(ctx)

	researchResult := ResearchOutput{}
	if err := workflow.ExecuteActivity(ctx, ActivityGenerateResearch, ResearchInput{
		DraftID: input.DraftID,
		Inputs:  input.Inputs,
	}).Get(ctx, &researchResult); err != nil {
		logger.Error("research activity failed", "error", err)
		return DraftResult{Status: "failed"}, err
	}

	option, err := chooseOption(researchResult.Options, input.Pick)
	if err != nil {
		logger.Warn("no usable research option", "error", err)
		saveErr := workflow.ExecuteActivity(ctx, ActivitySaveDraft, SaveInput{
			DraftID: input.DraftID,
			Stage:   session.StageResearch,
			Inputs:  input.Inputs,
			Options: researchResult.Options,
		}).Get(ctx, nil)
		if saveErr != nil {
			logger.Error("failed to save research results", "error", saveErr)
		}
		return DraftResult{Status: "failed"}, err
	}

	statementResult := StatementOutput{}
	if err := workflow.ExecuteActivity(ctx, ActivityGenerateStatement, StatementInput{
		DraftID: input.DraftID,
		Inputs:  input.Inputs,
		Option:  option,
	}).Get(ctx, &statementResult); err != nil {
		logger.Error("statement activity failed", "error", err)
		// Leave the draft at research with the pick selected so an
		// interactive session can retry the statement.
		saveErr := workflow.ExecuteActivity(ctx, ActivitySaveDraft, SaveInput{
			DraftID:          input.DraftID,
			Stage:            session.StageResearch,
			Inputs:           input.Inputs,
			Options:          researchResult.Options,
			SelectedOptionID: option.ID,
		}).Get(ctx, nil)
		if saveErr != nil {
			logger.Error("failed to save research results", "error", saveErr)
		}
		return DraftResult{Status: "failed"}, err
	}

	if err := workflow.ExecuteActivity(ctx, ActivitySaveDraft, SaveInput{
		DraftID:          input.DraftID,
		Stage:            session.StageStatement,
		Inputs:           input.Inputs,
		Options:          researchResult.Options,
		SelectedOptionID: option.ID,
		Document:         statementResult.Document,
	}).Get(ctx, nil); err != nil {
		logger.Error("save activity failed", "error", err)
		return DraftResult{Status: "failed"}, err
	}

	return DraftResult{
		Status:           "completed",
		SelectedOptionID: option.ID,
		DocumentLength:   len(statementResult.Document),
	}, nil
}

func chooseOption(options []research.Option, pick int) (research.Option, error) {
	if len(options) == 0 {
		return research.Option{}, temporal.NewNonRetryableApplicationError("research produced no options", errNoOptions, nil)
	}
	display := research.SortForDisplay(options)
	if pick == 0 {
		return display[0], nil
	}
	if pick < 0 || pick > len(display) {
		return research.Option{}, temporal.NewNonRetryableApplicationError(
			fmt.Sprintf("pick %d out of range 1..%d", pick, len(display)), errPickInvalid, nil)
	}
	return display[pick-1], nil
}
