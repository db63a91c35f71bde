package workflows

import (
	"context"
	"fmt"

	"go.temporal.io/sdk/client"

	"github.com/draftpilot/draftpilot/internal/session"
)

const DefaultTaskQueue = "draftpilot-drafts"

type Service struct {
	client    client.Client
	taskQueue string
}

func NewService(client client.Client, taskQueue string) *Service {
	if taskQueue == "" {
		taskQueue = DefaultTaskQueue
	}
	return &Service{client: client, taskQueue: taskQueue}
}

func (s *Service) StartDraft(ctx context.Context, draftID string, inputs session.Inputs, pick int) error {
	options := client.StartWorkflowOptions{
		ID:        workflowID(draftID),
		TaskQueue: s.taskQueue,
	}
	_, err := s.client.ExecuteWorkflow(ctx, options, DraftWorkflow, DraftInput{
		DraftID: draftID,
		Inputs:  inputs,
		Pick:    pick,
	})
	return err
}

func (s *Service) CancelDraft(ctx context.Context, draftID string) error {
	return s.client.CancelWorkflow(ctx, workflowID(draftID), "")
}

func workflowID(draftID string) string {
	return fmt.Sprintf("draft:%s", draftID)
}
