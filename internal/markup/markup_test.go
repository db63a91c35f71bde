package markup

import (
	"strings"
	"testing"
)

func TestNormalize(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{name: "bold then italic", input: "**Bold** and *italic*", expected: "Bold and italic"},
		{name: "underscore emphasis", input: "__strong__ and _soft_ text", expected: "strong and soft text"},
		{name: "italic nested in bold", input: "**a *b* c**", expected: "a b c"},
		{name: "adjacent italics", input: "*a* *b*", expected: "a b"},
		{name: "headings", input: "# Heading\n## Sub\nText", expected: "Heading\nSub\nText"},
		{name: "list markers", input: "- one\n* two\n1. three\n2) four", expected: "one\ntwo\nthree\nfour"},
		{name: "fenced block removed", input: "before\n```go\nfmt.Println()\n```\nafter with `code`", expected: "before\n\nafter with code"},
		{name: "block quote", input: "> quoted\n>> nested\ntext", expected: "quoted\nnested\ntext"},
		{name: "horizontal rule", input: "above\n---\nbelow", expected: "above\n\nbelow"},
		{name: "spaced star rule", input: "above\n* * *\nbelow", expected: "above\n\nbelow"},
		{name: "spaced dash rule", input: "above\n- - -\nbelow", expected: "above\n\nbelow"},
		{name: "quoted rule", input: "> ---\ntext", expected: "text"},
		{name: "hash without space is text", input: "#1 priority\n#hashtag", expected: "#1 priority\n#hashtag"},
		{name: "bare heading marker", input: "##\nText", expected: "Text"},
		{name: "links and images", input: "see [docs](https://x.io) and ![img](a.png)", expected: "see docs and img"},
		{name: "inline tags", input: "a <b>bold</b> word<br/>", expected: "a bold word"},
		{name: "blank lines collapse", input: "a\n\n\n\n\nb", expected: "a\n\nb"},
		{name: "trims lines", input: "  padded  \n  line ", expected: "padded\nline"},
		{name: "multiplication survives", input: "2 * 3 = 6 and 4*5*6", expected: "2 * 3 = 6 and 4*5*6"},
		{name: "stray bold marker", input: "**unterminated start", expected: "unterminated start"},
		{name: "snake case survives", input: "call snake_case_name now", expected: "call snake_case_name now"},
		{name: "crlf", input: "# Title\r\nBody\r\n", expected: "Title\nBody"},
		{name: "empty", input: "", expected: ""},
		{name: "json payload untouched", input: `{"options":[{"title":"A","matchScore":80}]}`, expected: `{"options":[{"title":"A","matchScore":80}]}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Normalize(tt.input)
			if got != tt.expected {
				t.Errorf("Normalize(%q) = %q, want %q", tt.input, got, tt.expected)
			}
		})
	}
}

func TestNormalize_Idempotent(t *testing.T) {
	inputs := []string{
		"**Bold** and *italic*",
		"*<b>x</b>*",
		"- - item",
		"> - # quoted heading list",
		"[**label**](http://x)",
		"```\ncode\n```\n\n\n\n- a\n\n\n\n> b",
		"  ***  \n___\n* * *",
		"2 * 3 * 4",
		"_a_ __b__ *c* **d**",
		"<p>para</p>\n\n\n<p>two</p>",
		"#1 priority\n1. first",
	}
	for _, input := range inputs {
		once := Normalize(input)
		twice := Normalize(once)
		if once != twice {
			t.Errorf("Normalize not idempotent for %q: once=%q twice=%q", input, once, twice)
		}
	}
}

func TestNormalize_NoLeadingMarkers(t *testing.T) {
	inputs := []string{
		"# a\n- b\n* c\n**d**",
		"- - nested\n## ## double",
		"text ** stray ** markers",
	}
	for _, input := range inputs {
		out := Normalize(input)
		if strings.Contains(out, "**") {
			t.Errorf("output %q still contains **", out)
		}
		for _, line := range strings.Split(out, "\n") {
			if strings.HasPrefix(line, "#") || strings.HasPrefix(line, "- ") || strings.HasPrefix(line, "* ") {
				t.Errorf("output line %q keeps a leading marker", line)
			}
		}
	}
}
