// Package research extracts candidate research directions from the text a
// generator streams back. Extraction is opportunistic: callers feed the whole
// accumulated buffer after every chunk and keep the latest successful result.
package research

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/kaptinlin/jsonrepair"

	"github.com/draftpilot/draftpilot/internal/jsonx"
)

const (
	MinMatchScore = 70
	MaxMatchScore = 100
)

type Option struct {
	ID          string  `json:"id"`
	Title       string  `json:"title"`
	Description string  `json:"description"`
	Reasoning   string  `json:"reasoning"`
	References  string  `json:"references"`
	MatchScore  float64 `json:"matchScore"`
}

type payload struct {
	Options *[]wireOption `json:"options"`
}

type wireOption struct {
	Title           string   `json:"title"`
	Description     string   `json:"description"`
	Summary         string   `json:"summary"`
	Reasoning       textList `json:"reasoning"`
	References      textList `json:"references"`
	MatchScore      score    `json:"matchScore"`
	MatchScoreSnake score    `json:"match_score"`
}

// TryExtract parses the first balanced {...} span of text and returns its
// options. It reports false while the span is incomplete or unparseable; it
// never fails. IDs are derived from generatedAt and the ordinal index, so the
// same stream re-extracting a longer buffer yields the same IDs.
func TryExtract(text string, generatedAt time.Time) ([]Option, bool) {
	span, ok := firstObject(text)
	if !ok {
		return nil, false
	}
	var parsed payload
	if err := jsonx.Unmarshal([]byte(span), &parsed); err != nil {
		repaired, repairErr := jsonrepair.JSONRepair(span)
		if repairErr != nil {
			return nil, false
		}
		parsed = payload{}
		if err := jsonx.Unmarshal([]byte(repaired), &parsed); err != nil {
			return nil, false
		}
	}
	if parsed.Options == nil {
		return nil, false
	}

	stamp := generatedAt.UnixMilli()
	options := make([]Option, 0, len(*parsed.Options))
	for _, raw := range *parsed.Options {
		title := strings.TrimSpace(raw.Title)
		if title == "" {
			continue
		}
		description := strings.TrimSpace(raw.Description)
		if description == "" {
			description = strings.TrimSpace(raw.Summary)
		}
		options = append(options, Option{
			ID:          fmt.Sprintf("opt-%d-%d", stamp, len(options)),
			Title:       title,
			Description: description,
			Reasoning:   raw.Reasoning.String(),
			References:  raw.References.String(),
			MatchScore:  raw.matchScore(),
		})
	}
	return options, true
}

func (w wireOption) matchScore() float64 {
	switch {
	case w.MatchScore.ok:
		return ClampScore(w.MatchScore.value)
	case w.MatchScoreSnake.ok:
		return ClampScore(w.MatchScoreSnake.value)
	default:
		return 0
	}
}

// ClampScore pulls a reported score into [MinMatchScore, MaxMatchScore].
func ClampScore(value float64) float64 {
	if value < MinMatchScore {
		return MinMatchScore
	}
	if value > MaxMatchScore {
		return MaxMatchScore
	}
	return value
}

// SortForDisplay returns a copy ordered by descending score. Ties keep their
// extraction order. The input slice is not modified.
func SortForDisplay(options []Option) []Option {
	sorted := append([]Option(nil), options...)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].MatchScore > sorted[j].MatchScore
	})
	return sorted
}

func Find(options []Option, id string) (Option, bool) {
	if id == "" {
		return Option{}, false
	}
	for _, option := range options {
		if option.ID == id {
			return option, true
		}
	}
	return Option{}, false
}

func firstObject(text string) (string, bool) {
	start := strings.IndexByte(text, '{')
	if start < 0 {
		return "", false
	}
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(text); i++ {
		c := text[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return text[start : i+1], true
			}
		}
	}
	return "", false
}

// textList accepts either a string or a list of strings joined by newlines.
type textList string

func (t *textList) UnmarshalJSON(data []byte) error {
	trimmed := strings.TrimSpace(string(data))
	if trimmed == "null" {
		*t = ""
		return nil
	}
	if strings.HasPrefix(trimmed, "[") {
		var items []any
		if err := jsonx.Unmarshal(data, &items); err != nil {
			return err
		}
		parts := make([]string, 0, len(items))
		for _, item := range items {
			text := strings.TrimSpace(fmt.Sprint(item))
			if item == nil || text == "" {
				continue
			}
			parts = append(parts, text)
		}
		*t = textList(strings.Join(parts, "\n"))
		return nil
	}
	var text string
	if err := jsonx.Unmarshal(data, &text); err != nil {
		return err
	}
	*t = textList(strings.TrimSpace(text))
	return nil
}

func (t textList) String() string {
	return string(t)
}

// score accepts a JSON number or a numeric string such as "85" or "85%".
// Anything else leaves the option unscored instead of failing the payload.
type score struct {
	value float64
	ok    bool
}

func (s *score) UnmarshalJSON(data []byte) error {
	trimmed := strings.TrimSpace(string(data))
	if strings.HasPrefix(trimmed, `"`) {
		var text string
		if err := jsonx.Unmarshal(data, &text); err != nil {
			return err
		}
		trimmed = strings.TrimSuffix(strings.TrimSpace(text), "%")
	}
	value, err := strconv.ParseFloat(trimmed, 64)
	if err != nil {
		*s = score{}
		return nil
	}
	*s = score{value: value, ok: true}
	return nil
}
