package models

// SegmentKind tells how a segment of a reply should be presented.
type SegmentKind int

const (
	// SegmentNormal is a block of plain prose.
	SegmentNormal SegmentKind = iota
	// SegmentCode is a fenced code block.
	SegmentCode
)

func (k SegmentKind) String() string {
	switch k {
	case SegmentNormal:
		return "normal"
	case SegmentCode:
		return "code"
	}
	return "unknown"
}

// Segment is a finalized, classified block of reply content.
type Segment struct {
	Kind SegmentKind
	Text string

	// Language would be filled if Kind is SegmentCode and the fence carried a hint.
	Language string
}

// NormalSegment returns a prose segment.
func NormalSegment(text string) Segment {
	return Segment{Kind: SegmentNormal, Text: text}
}

// CodeSegment returns a code segment with its language hint.
func CodeSegment(text, language string) Segment {
	return Segment{Kind: SegmentCode, Text: text, Language: language}
}
