package chat_test

import (
	"strings"
	"testing"

	"github.com/MegaGrindStone/thinkmate/internal/chat"
	"github.com/MegaGrindStone/thinkmate/internal/models"
	"github.com/stretchr/testify/assert"
)

func TestOutputAdd(t *testing.T) {
	o := chat.NewOutput()
	chunks := []string{"Hello ", "world\n\n```py", "thon\nprint(1)\n```", " done"}
	for _, c := range chunks {
		o.Add(c)
	}

	segs, tail := o.View()
	assert.Equal(t, []models.Segment{
		models.NormalSegment("Hello world"),
		models.CodeSegment("print(1)\n", "python"),
	}, segs)
	assert.Equal(t, " done", tail)
	assert.Equal(t, strings.Join(chunks, ""), o.Raw())
	assert.False(t, o.InCode())
}

func TestOutputRawKeepsUnterminatedTail(t *testing.T) {
	o := chat.NewOutput()
	o.Add("Look:\n\n```go\nfunc main() {")

	assert.Equal(t, []models.Segment{models.NormalSegment("Look:")}, o.Segments())
	assert.Equal(t, "go\nfunc main() {", o.Tail())
	assert.True(t, o.InCode())
	assert.Equal(t, "Look:\n\n```go\nfunc main() {", o.Raw())
}

func TestOutputSegmentsIsACopy(t *testing.T) {
	o := chat.ParseOutput("a\n\nb\n\n")
	segs := o.Segments()
	segs[0] = models.NormalSegment("changed")

	assert.Equal(t, models.NormalSegment("a"), o.Segments()[0])
}

func TestParseOutputMatchesStreaming(t *testing.T) {
	raw := "First.\n\n```sh\nls -la\n```\nSecond\n\nthird ```unterminated"

	streamed := chat.NewOutput()
	for _, r := range raw {
		streamed.Add(string(r))
	}
	parsed := chat.ParseOutput(raw)

	assert.Equal(t, streamed.Segments(), parsed.Segments())
	assert.Equal(t, streamed.Tail(), parsed.Tail())
	assert.Equal(t, raw, parsed.Raw())
}
