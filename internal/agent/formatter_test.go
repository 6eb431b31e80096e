package agent

import (
	"strings"
	"testing"
)

func TestFormatResponse(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"bold", "**hi**", "*hi*"},
		{"bold is non-greedy", "**a** and **b**", "*a* and *b*"},
		{"plain text untouched", "nothing to do", "nothing to do"},
		{"single asterisks untouched", "*already*", "*already*"},
		{"code fence with language", "```python\ncode\n```", "*python*:\n```\ncode\n```"},
		{"language with symbols", "```c#\nx\n```\n```c++\ny\n```\n```objective-c\nz\n```",
			"*c#*:\n```\nx\n```\n*c++*:\n```\ny\n```\n*objective-c*:\n```\nz\n```"},
		{"bare fence untouched", "```\nplain\n```", "```\nplain\n```"},
		{"unrecognised tag untouched", "```py thon\nx\n```", "```py thon\nx\n```"},
		{"bold and code together", "**Run:**\n```bash\nls\n```", "*Run:*\n*bash*:\n```\nls\n```"},
		{"empty", "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := FormatResponse(tt.in); got != tt.want {
				t.Fatalf("FormatResponse(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestFormatResponse_LabelPrecedesBareFence(t *testing.T) {
	out := FormatResponse("```python\nprint(1)\n```")
	if !strings.Contains(out, "*python*:\n```\n") {
		t.Fatalf("expected label before a bare fence, got %q", out)
	}
	if strings.Contains(out, "```python") {
		t.Fatalf("language tag left on the fence: %q", out)
	}
}
