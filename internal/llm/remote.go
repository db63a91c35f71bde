package llm

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	backoff "github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"github.com/draftpilot/draftpilot/internal/jsonx"
	"github.com/draftpilot/draftpilot/internal/metrics"
	"github.com/draftpilot/draftpilot/internal/stream"
)

const (
	defaultGeneratePath          = "/api/generate"
	defaultStreamPath            = "/api/generate/stream"
	defaultMaxOutputTokens       = 2048
	defaultStreamMaxOutputTokens = 8192
	defaultTimeout               = 120 * time.Second
	maxErrorBody                 = 64 * 1024
)

type RemoteClient struct {
	baseURL               string
	generatePath          string
	streamPath            string
	model                 string
	temperature           float64
	maxOutputTokens       int
	streamMaxOutputTokens int
	credential            string
	maxRetries            int
	client                *http.Client
	streamClient          *http.Client
	newBackOff            func() backoff.BackOff
	logger                *zap.Logger
}

func NewRemoteClient(cfg Config) *RemoteClient {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	maxOutputTokens := cfg.MaxOutputTokens
	if maxOutputTokens <= 0 {
		maxOutputTokens = defaultMaxOutputTokens
	}
	streamMaxOutputTokens := cfg.StreamMaxOutputTokens
	if streamMaxOutputTokens <= 0 {
		streamMaxOutputTokens = defaultStreamMaxOutputTokens
	}
	maxRetries := cfg.MaxRetries
	if maxRetries < 0 {
		maxRetries = 0
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RemoteClient{
		baseURL:               strings.TrimRight(cfg.BaseURL, "/"),
		generatePath:          defaultIfEmpty(cfg.GeneratePath, defaultGeneratePath),
		streamPath:            defaultIfEmpty(cfg.StreamPath, defaultStreamPath),
		model:                 cfg.Model,
		temperature:           cfg.Temperature,
		maxOutputTokens:       maxOutputTokens,
		streamMaxOutputTokens: streamMaxOutputTokens,
		credential:            cfg.Credential,
		maxRetries:            maxRetries,
		client:                &http.Client{Timeout: timeout},
		// Streams run until the body closes; only ctx bounds them.
		streamClient: &http.Client{},
		newBackOff: func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = time.Second
			b.MaxElapsedTime = 0
			return b
		},
		logger: logger,
	}
}

// Generate sends a single-shot request and returns the `result` field.
// Transient failures are retried; missing credentials and client errors
// other than 429 are not.
func (c *RemoteClient) Generate(ctx context.Context, req Request) (string, error) {
	body, err := c.encode(req, c.maxOutputTokens)
	if err != nil {
		return "", err
	}

	var result string
	attempt := 0
	operation := func() error {
		attempt++
		out, err := c.generateOnce(ctx, body)
		if err != nil {
			if !retryable(err) {
				return backoff.Permanent(err)
			}
			c.logger.Warn("generate attempt failed", zap.Int("attempt", attempt), zap.Error(err))
			return err
		}
		result = out
		return nil
	}
	policy := backoff.WithContext(backoff.WithMaxRetries(c.newBackOff(), uint64(c.maxRetries)), ctx)
	if err := backoff.Retry(operation, policy); err != nil {
		metrics.GenerateRequests.WithLabelValues("error").Inc()
		return "", err
	}
	metrics.GenerateRequests.WithLabelValues("ok").Inc()
	return result, nil
}

func (c *RemoteClient) generateOnce(ctx context.Context, body []byte) (string, error) {
	resp, err := c.post(ctx, c.client, c.generatePath, body)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	var parsed struct {
		Result string `json:"result"`
	}
	if err := jsonx.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", fmt.Errorf("decode generator response: %w", err)
	}
	content := strings.TrimSpace(parsed.Result)
	if content == "" {
		return "", errors.New("generator response was empty")
	}
	return content, nil
}

// Stream opens the streaming endpoint and decodes its frames into h. An error
// frame from the generator aborts the stream as a NetworkError.
func (c *RemoteClient) Stream(ctx context.Context, req Request, h stream.Handler) error {
	body, err := c.encode(req, c.streamMaxOutputTokens)
	if err != nil {
		return err
	}
	resp, err := c.post(ctx, c.streamClient, c.streamPath, body)
	if err != nil {
		return err
	}

	err = stream.Decode(ctx, resp.Body, h, stream.WithLogger(c.logger))
	var remote stream.RemoteError
	if errors.As(err, &remote) {
		return NetworkError{Body: remote.Message, Err: remote}
	}
	if err != nil && ctx.Err() == nil {
		return NetworkError{Err: err}
	}
	return err
}

func (c *RemoteClient) encode(req Request, maxOutputTokens int) ([]byte, error) {
	if c.baseURL == "" {
		return nil, errors.New("missing base URL for remote generator")
	}
	if strings.TrimSpace(req.Credential) == "" {
		req.Credential = c.credential
	}
	if strings.TrimSpace(req.Credential) == "" {
		return nil, CredentialError{}
	}
	req.ModelName = defaultIfEmpty(req.ModelName, c.model)
	if req.Temperature == 0 {
		req.Temperature = c.temperature
	}
	if req.MaxOutputTokens <= 0 {
		req.MaxOutputTokens = maxOutputTokens
	}
	return jsonx.Marshal(req)
}

func (c *RemoteClient) post(ctx context.Context, client *http.Client, path string, body []byte) (*http.Response, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(httpReq)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, NetworkError{Err: err}
	}
	if resp.StatusCode >= 400 {
		defer resp.Body.Close()
		text, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return nil, NetworkError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(text))}
	}
	return resp, nil
}

func retryable(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var credErr CredentialError
	if errors.As(err, &credErr) {
		return false
	}
	var netErr NetworkError
	if errors.As(err, &netErr) {
		if netErr.StatusCode == http.StatusTooManyRequests {
			return true
		}
		return netErr.StatusCode == 0 || netErr.StatusCode >= 500
	}
	return false
}
