// Package segment classifies a streamed model reply into prose and fenced code blocks as the
// delimiters arrive.
package segment

import (
	"bytes"
	"strings"

	"github.com/MegaGrindStone/thinkmate/internal/models"
)

// Mode tells which delimiter rule applies to the bytes after the cursor.
type Mode int

const (
	// ModeNormal looks for a blank line or an opening fence.
	ModeNormal Mode = iota
	// ModeCode looks for the closing fence.
	ModeCode
)

var (
	blankLine = []byte("\n\n")
	fence     = []byte("```")
)

func (m Mode) String() string {
	if m == ModeCode {
		return "code"
	}
	return "normal"
}

// Segmenter is an incremental classifier over an append-only text buffer. Bytes before the cursor
// have already been emitted as segments; bytes after it are the pending tail. The buffer only grows
// and the cursor only moves forward, and every scan starts at the cursor, so the whole stream is
// classified in time linear to its length no matter how it is chunked.
//
// The zero value is an empty segmenter in normal mode.
type Segmenter struct {
	buf    []byte
	cursor int
	mode   Mode
}

// Add appends a chunk to the buffer. Callers drain Next after every Add.
func (s *Segmenter) Add(chunk string) {
	s.buf = append(s.buf, chunk...)
}

// Next emits the next segment that has become complete, if any. Delimiters are consumed and never
// appear in segment text. Prose that would be empty (a delimiter right at the cursor) is skipped.
func (s *Segmenter) Next() (models.Segment, bool) {
	for {
		pending := s.buf[s.cursor:]

		switch s.mode {
		case ModeNormal:
			blank := bytes.Index(pending, blankLine)
			open := bytes.Index(pending, fence)

			var end, width int
			switch {
			case blank < 0 && open < 0:
				return models.Segment{}, false
			case open < 0 || (blank >= 0 && blank < open):
				end, width = blank, len(blankLine)
			default:
				end, width = open, len(fence)
				s.mode = ModeCode
			}

			s.cursor += end + width
			if end == 0 {
				continue
			}
			return models.NormalSegment(string(pending[:end])), true

		case ModeCode:
			end := bytes.Index(pending, fence)
			if end < 0 {
				return models.Segment{}, false
			}

			s.cursor += end + len(fence)
			s.mode = ModeNormal
			return codeSegment(string(pending[:end])), true
		}
	}
}

// codeSegment splits fenced text into the language hint on its first line and the code body.
func codeSegment(text string) models.Segment {
	hint, body, ok := strings.Cut(text, "\n")
	if !ok {
		return models.CodeSegment(text, "")
	}
	return models.CodeSegment(body, hint)
}

// Tail returns the pending text that no delimiter has finalized yet.
func (s *Segmenter) Tail() string {
	return string(s.buf[s.cursor:])
}

// Raw returns every byte received so far, delimiters included.
func (s *Segmenter) Raw() string {
	return string(s.buf)
}

// Mode returns the delimiter rule that applies to the tail.
func (s *Segmenter) Mode() Mode {
	return s.mode
}

// Cursor returns the offset of the first byte not yet emitted.
func (s *Segmenter) Cursor() int {
	return s.cursor
}

// Len returns the number of bytes received so far.
func (s *Segmenter) Len() int {
	return len(s.buf)
}
