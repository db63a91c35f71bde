// Package stream decodes the newline-delimited event frames a generator
// pushes over a chunked HTTP body.
package stream

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"unicode"

	"go.uber.org/zap"

	"github.com/draftpilot/draftpilot/internal/jsonx"
	"github.com/draftpilot/draftpilot/internal/markup"
	"github.com/draftpilot/draftpilot/internal/metrics"
)

const (
	DataPrefix   = "data:"
	DoneSentinel = "[DONE]"

	scannerInitialBuffer = 64 * 1024
	scannerMaxBuffer     = 1024 * 1024
)

// Handler receives decoded content in arrival order. OnComplete fires exactly
// once, after the body reports end of data; it never fires when Decode
// returns an error.
type Handler struct {
	OnChunk    func(content string)
	OnComplete func()
}

// FrameError describes a data frame whose payload could not be decoded. It is
// logged and the frame is skipped.
type FrameError struct {
	Frame string
	Err   error
}

func (e FrameError) Error() string {
	return fmt.Sprintf("undecodable stream frame %q: %v", e.Frame, e.Err)
}

func (e FrameError) Unwrap() error {
	return e.Err
}

// RemoteError is reported by the generator inside the stream itself.
type RemoteError struct {
	Message string
}

func (e RemoteError) Error() string {
	return "generator reported: " + e.Message
}

type framePayload struct {
	Content string `json:"content"`
	Error   string `json:"error"`
}

type decoder struct {
	logger    *zap.Logger
	normalize func(string) string
}

type Option func(*decoder)

func WithLogger(logger *zap.Logger) Option {
	return func(d *decoder) {
		if logger != nil {
			d.logger = logger
		}
	}
}

// WithNormalizer replaces markup.Normalize as the per-chunk cleaner.
func WithNormalizer(normalize func(string) string) Option {
	return func(d *decoder) {
		if normalize != nil {
			d.normalize = normalize
		}
	}
}

// Decode reads body until end of data, cancellation or a read error. The body
// is closed on every path. Once ctx is done no further chunks are delivered.
func Decode(ctx context.Context, body io.ReadCloser, h Handler, opts ...Option) error {
	defer func() { _ = body.Close() }()

	d := decoder{logger: zap.NewNop(), normalize: markup.Normalize}
	for _, opt := range opts {
		opt(&d)
	}

	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, scannerInitialBuffer), scannerMaxBuffer)

	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return err
		}
		content, ok, err := d.parseFrame(scanner.Text())
		if err != nil {
			var frameErr FrameError
			if errors.As(err, &frameErr) {
				metrics.StreamFramesSkipped.Inc()
				d.logger.Warn("skipping stream frame", zap.String("frame", frameErr.Frame), zap.Error(frameErr.Err))
				continue
			}
			return err
		}
		if ok && h.OnChunk != nil {
			h.OnChunk(content)
		}
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("read stream: %w", err)
	}
	if h.OnComplete != nil {
		h.OnComplete()
	}
	return nil
}

func (d decoder) parseFrame(line string) (string, bool, error) {
	line = strings.TrimSpace(line)
	if line == "" || line == DoneSentinel {
		return "", false, nil
	}
	if !strings.HasPrefix(line, DataPrefix) {
		d.logger.Debug("ignoring non-data stream line", zap.String("line", line))
		return "", false, nil
	}
	data := strings.TrimSpace(strings.TrimPrefix(line, DataPrefix))
	if data == "" || data == DoneSentinel {
		return "", false, nil
	}

	var payload framePayload
	if err := jsonx.Unmarshal([]byte(data), &payload); err != nil {
		return "", false, FrameError{Frame: data, Err: err}
	}
	if payload.Error != "" {
		return "", false, RemoteError{Message: payload.Error}
	}
	if payload.Content == "" {
		return "", false, nil
	}
	return normalizeChunk(payload.Content, d.normalize), true, nil
}

// normalizeChunk cleans the chunk but keeps its boundary whitespace, so words
// split across frames stay separated once the chunks are concatenated.
func normalizeChunk(raw string, normalize func(string) string) string {
	core := normalize(raw)
	if core == "" {
		if strings.TrimSpace(raw) == "" {
			return raw
		}
		return ""
	}
	lead := raw[:len(raw)-len(strings.TrimLeftFunc(raw, unicode.IsSpace))]
	trail := raw[len(strings.TrimRightFunc(raw, unicode.IsSpace)):]
	return lead + core + trail
}
