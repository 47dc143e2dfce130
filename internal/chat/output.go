package chat

import (
	"slices"

	"github.com/MegaGrindStone/thinkmate/internal/models"
	"github.com/MegaGrindStone/thinkmate/internal/segment"
)

// Output is a single model reply being segmented as it streams in. It owns its segmenter and the
// ordered list of segments finalized so far.
type Output struct {
	segmenter segment.Segmenter
	segments  []models.Segment
}

// NewOutput returns an empty reply.
func NewOutput() *Output {
	return &Output{}
}

// ParseOutput replays a stored reply through a fresh segmenter, so a reloaded reply is segmented
// exactly like it was while streaming.
func ParseOutput(raw string) *Output {
	o := NewOutput()
	o.Add(raw)
	return o
}

// Add appends a chunk of the reply and collects every segment it completes.
func (o *Output) Add(text string) {
	o.segmenter.Add(text)
	for {
		seg, ok := o.segmenter.Next()
		if !ok {
			return
		}
		o.segments = append(o.segments, seg)
	}
}

// Raw returns the reply verbatim, including delimiters and the unterminated tail.
func (o *Output) Raw() string {
	return o.segmenter.Raw()
}

// Segments returns a copy of the finalized segments in stream order.
func (o *Output) Segments() []models.Segment {
	return slices.Clone(o.segments)
}

// Tail returns the text that is not part of any finalized segment yet.
func (o *Output) Tail() string {
	return o.segmenter.Tail()
}

// InCode reports whether the tail is inside an unclosed code fence.
func (o *Output) InCode() bool {
	return o.segmenter.Mode() == segment.ModeCode
}

// View returns what the presentation shows for this reply: the finalized segments followed by the
// unterminated tail, which is displayed raw.
func (o *Output) View() ([]models.Segment, string) {
	return o.Segments(), o.Tail()
}
