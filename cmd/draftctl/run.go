package main

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/draftpilot/draftpilot/internal/events"
	"github.com/draftpilot/draftpilot/internal/session"
)

type inputFlags struct {
	school          string
	major           string
	courses         string
	extracurricular string
	pick            int
}

func (f *inputFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.school, "school", "", "target school")
	cmd.Flags().StringVar(&f.major, "major", "", "intended major (required)")
	cmd.Flags().StringVar(&f.courses, "courses", "", "relevant coursework")
	cmd.Flags().StringVar(&f.extracurricular, "extracurricular", "", "activities and projects")
	cmd.Flags().IntVar(&f.pick, "pick", 0, "1-based research option to draft from; 0 picks the best match")
}

func (f *inputFlags) inputs() session.Inputs {
	return session.Inputs{
		School:          f.school,
		Major:           f.major,
		Courses:         f.courses,
		Extracurricular: f.extracurricular,
	}
}

func clientFor(cmd *cobra.Command) *apiClient {
	server, _ := cmd.Flags().GetString("server")
	credential, _ := cmd.Flags().GetString("credential")
	return newAPIClient(server, credential)
}

func newRunCommand() *cobra.Command {
	var flags inputFlags
	var timeout time.Duration
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Research options and stream a statement interactively",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := session.ValidateInputs(flags.inputs()); err != nil {
				return err
			}
			if flags.pick < 0 {
				return fmt.Errorf("--pick must not be negative")
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()
			return runSession(ctx, clientFor(cmd), flags.inputs(), flags.pick, cmd.OutOrStdout())
		},
	}
	flags.register(cmd)
	cmd.Flags().DurationVar(&timeout, "timeout", 5*time.Minute, "overall deadline")
	return cmd
}

func newDraftCommand() *cobra.Command {
	var flags inputFlags
	cmd := &cobra.Command{
		Use:   "draft",
		Short: "Queue an unattended draft on the worker",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := session.ValidateInputs(flags.inputs()); err != nil {
				return err
			}
			draftID, err := clientFor(cmd).startDraft(cmd.Context(), flags.inputs(), flags.pick)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", green("queued draft"), bold(draftID))
			fmt.Fprintln(cmd.OutOrStdout(), gray("open it later with GET /sessions/"+draftID))
			return nil
		},
	}
	flags.register(cmd)
	return cmd
}

func runSession(ctx context.Context, client *apiClient, in session.Inputs, pick int, out io.Writer) error {
	id, err := client.createSession(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "%s %s\n", gray("session"), id)

	streamCtx, stop := context.WithCancel(ctx)
	defer stop()
	feed, err := client.subscribe(streamCtx, id)
	if err != nil {
		return err
	}
	// The snapshot confirms the subscription is live before anything starts.
	if _, err := nextEvent(ctx, feed); err != nil {
		return err
	}

	fmt.Fprint(out, cyan("researching"))
	if err := client.startResearch(ctx, id, in); err != nil {
		return err
	}
	if err := awaitStream(ctx, feed, out, false); err != nil {
		return err
	}

	view, err := client.getSession(ctx, id)
	if err != nil {
		return err
	}
	if len(view.DisplayOptions) == 0 {
		return fmt.Errorf("research returned no options; try rephrasing the inputs")
	}
	for i, option := range view.DisplayOptions {
		fmt.Fprintf(out, "%s %s %s\n", bold(fmt.Sprintf("%d.", i+1)), option.Title, yellow(fmt.Sprintf("(%.0f)", option.MatchScore)))
		if option.Description != "" {
			fmt.Fprintf(out, "   %s\n", gray(option.Description))
		}
	}
	if pick > len(view.DisplayOptions) {
		return fmt.Errorf("--pick %d out of range 1..%d", pick, len(view.DisplayOptions))
	}
	chosen := view.DisplayOptions[0]
	if pick > 0 {
		chosen = view.DisplayOptions[pick-1]
	}
	if err := client.selectOption(ctx, id, chosen.ID); err != nil {
		return err
	}

	fmt.Fprintf(out, "%s %s\n", cyan("writing statement for"), bold(chosen.Title))
	if err := client.startStatement(ctx, id); err != nil {
		return err
	}
	if err := awaitStream(ctx, feed, out, true); err != nil {
		return err
	}

	view, err = client.getSession(ctx, id)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "\n%s\n\n%s\n", green("final document"), view.State.FinalDocument)
	return nil
}

// awaitStream consumes events until the current generation completes or
// fails. Deltas are echoed when echo is set, otherwise shown as progress dots.
func awaitStream(ctx context.Context, feed <-chan events.SessionEvent, out io.Writer, echo bool) error {
	for {
		event, err := nextEvent(ctx, feed)
		if err != nil {
			return err
		}
		switch event.Type {
		case events.TypeStreamDelta:
			if echo {
				delta, _ := event.Payload["delta"].(string)
				fmt.Fprint(out, gray(delta))
			} else {
				fmt.Fprint(out, ".")
			}
		case events.TypeStreamCompleted:
			fmt.Fprintln(out)
			return nil
		case events.TypeStreamFailed:
			fmt.Fprintln(out)
			message, _ := event.Payload["error"].(string)
			return fmt.Errorf("generation failed: %s", message)
		}
	}
}

func nextEvent(ctx context.Context, feed <-chan events.SessionEvent) (events.SessionEvent, error) {
	select {
	case event, ok := <-feed:
		if !ok {
			return events.SessionEvent{}, errEventsClosed
		}
		return event, nil
	case <-ctx.Done():
		return events.SessionEvent{}, ctx.Err()
	}
}
