package main

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/draftpilot/draftpilot/internal/api"
	"github.com/draftpilot/draftpilot/internal/events"
	"github.com/draftpilot/draftpilot/internal/jsonx"
	"github.com/draftpilot/draftpilot/internal/research"
	"github.com/draftpilot/draftpilot/internal/session"
)

type apiClient struct {
	baseURL    string
	credential string
	http       *http.Client
}

func newAPIClient(baseURL, credential string) *apiClient {
	return &apiClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		credential: credential,
		http:       &http.Client{},
	}
}

type sessionView struct {
	SessionID      string            `json:"session_id"`
	State          session.State     `json:"state"`
	DisplayOptions []research.Option `json:"display_options"`
	LastError      string            `json:"last_error"`
}

type apiError struct {
	Status  int
	Message string
	Field   string
}

func (e apiError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("server returned %d: %s (%s)", e.Status, e.Message, e.Field)
	}
	return fmt.Sprintf("server returned %d: %s", e.Status, e.Message)
}

func (c *apiClient) createSession(ctx context.Context) (string, error) {
	var out struct {
		SessionID string `json:"session_id"`
	}
	if err := c.do(ctx, http.MethodPost, "/sessions", nil, &out); err != nil {
		return "", err
	}
	return out.SessionID, nil
}

func (c *apiClient) getSession(ctx context.Context, id string) (sessionView, error) {
	var out sessionView
	err := c.do(ctx, http.MethodGet, "/sessions/"+id, nil, &out)
	return out, err
}

func (c *apiClient) startResearch(ctx context.Context, id string, in session.Inputs) error {
	return c.do(ctx, http.MethodPost, "/sessions/"+id+"/research", in, nil)
}

func (c *apiClient) selectOption(ctx context.Context, id, optionID string) error {
	return c.do(ctx, http.MethodPost, "/sessions/"+id+"/select", map[string]string{"option_id": optionID}, nil)
}

func (c *apiClient) startStatement(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodPost, "/sessions/"+id+"/statement", nil, nil)
}

func (c *apiClient) startDraft(ctx context.Context, in session.Inputs, pick int) (string, error) {
	body := map[string]any{
		"school":          in.School,
		"major":           in.Major,
		"courses":         in.Courses,
		"extracurricular": in.Extracurricular,
		"pick":            pick,
	}
	var out struct {
		DraftID string `json:"draft_id"`
	}
	if err := c.do(ctx, http.MethodPost, "/drafts", body, &out); err != nil {
		return "", err
	}
	return out.DraftID, nil
}

// subscribe opens the session event stream. The returned channel yields the
// initial snapshot first and closes when ctx ends or the server hangs up.
func (c *apiClient) subscribe(ctx context.Context, id string) (<-chan events.SessionEvent, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/sessions/"+id+"/events", nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "text/event-stream")
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		return nil, readAPIError(resp)
	}

	out := make(chan events.SessionEvent, 64)
	go func() {
		defer close(out)
		defer resp.Body.Close()
		scanner := bufio.NewScanner(resp.Body)
		scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
		for scanner.Scan() {
			line := scanner.Text()
			if !strings.HasPrefix(line, "data:") {
				continue
			}
			var event events.SessionEvent
			if err := jsonx.Unmarshal([]byte(strings.TrimSpace(strings.TrimPrefix(line, "data:"))), &event); err != nil {
				continue
			}
			select {
			case out <- event:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

func (c *apiClient) do(ctx context.Context, method, path string, body any, out any) error {
	var reader io.Reader
	if body != nil {
		payload, err := jsonx.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.credential != "" {
		req.Header.Set(api.CredentialHeader, c.credential)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= http.StatusBadRequest {
		return readAPIError(resp)
	}
	if out == nil {
		return nil
	}
	return jsonx.NewDecoder(resp.Body).Decode(out)
}

func readAPIError(resp *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
	var parsed struct {
		Error string `json:"error"`
		Field string `json:"field"`
	}
	if err := jsonx.Unmarshal(raw, &parsed); err == nil && parsed.Error != "" {
		return apiError{Status: resp.StatusCode, Message: parsed.Error, Field: parsed.Field}
	}
	return apiError{Status: resp.StatusCode, Message: strings.TrimSpace(string(raw))}
}

var errEventsClosed = errors.New("event stream closed before the generation finished")
