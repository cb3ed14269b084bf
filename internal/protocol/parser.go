package protocol

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// Telegram line markers
const (
	HeaderPrefix = "/"
	DataPrefix   = "ID:"
)

// Field layout of a data telegram: 4 fixed fields (ID:a:I:b) followed by
// 3 fields per channel (marker, interval count, lifetime count).
const (
	fixedFields      = 4
	fieldsPerChannel = 3

	// FieldCount2CH and FieldCount5CH are the only valid telegram widths,
	// fixed by the two hardware variants.
	FieldCount2CH = fixedFields + 2*fieldsPerChannel // 10
	FieldCount5CH = fixedFields + 5*fieldsPerChannel // 19
)

// Decode failures. All are recoverable: the telegram is dropped and the
// serial connection stays up.
var (
	ErrFieldCount     = errors.New("invalid field count")
	ErrMarkerMismatch = errors.New("channel marker mismatch")
	ErrNotANumber     = errors.New("pulsecount is not a number")
)

// Kind classifies one serial line.
type Kind int

const (
	KindInvalid Kind = iota
	KindHeader
	KindData
	KindEmpty
)

// String returns a human-readable name for the telegram kind
func (k Kind) String() string {
	switch k {
	case KindHeader:
		return "header"
	case KindData:
		return "data"
	case KindEmpty:
		return "empty"
	default:
		return "invalid"
	}
}

// Classify determines what kind of telegram a serial line is.
// The line must already be stripped of its CR/LF terminator.
func Classify(line string) Kind {
	switch {
	case line == "":
		return KindEmpty
	case strings.HasPrefix(line, HeaderPrefix):
		return KindHeader
	case strings.HasPrefix(line, DataPrefix):
		return KindData
	default:
		return KindInvalid
	}
}

// ParseHeader extracts the firmware identification from a header telegram.
// The text after the first ":" is returned verbatim; if there is no ":",
// everything after the leading "/" is used.
func ParseHeader(line string) string {
	if idx := strings.Index(line, ":"); idx >= 0 {
		return strings.TrimSpace(line[idx+1:])
	}
	return strings.TrimSpace(strings.TrimPrefix(line, HeaderPrefix))
}

// ParseTelegram decodes a data telegram into {channel -> lifetime pulse count}.
// A 10-field telegram yields channels 1..2, a 19-field telegram channels 1..5.
// Any structural failure rejects the whole telegram.
func ParseTelegram(line string) (map[int]int, error) {
	fields := strings.Split(line, ":")

	var channels int
	switch len(fields) {
	case FieldCount2CH:
		channels = 2
	case FieldCount5CH:
		channels = 5
	default:
		return nil, fmt.Errorf("%w: expected %d or %d fields, got %d",
			ErrFieldCount, FieldCount2CH, FieldCount5CH, len(fields))
	}

	counts := make(map[int]int, channels)
	for ch := 1; ch <= channels; ch++ {
		offset := fixedFields + (ch-1)*fieldsPerChannel

		marker := "M" + strconv.Itoa(ch)
		if fields[offset] != marker {
			return nil, fmt.Errorf("%w: expected %q, received %q",
				ErrMarkerMismatch, marker, fields[offset])
		}

		pulsecount, err := strconv.Atoi(fields[offset+2])
		if err != nil {
			return nil, fmt.Errorf("%w: cannot convert %q for channel %d",
				ErrNotANumber, fields[offset+2], ch)
		}

		counts[ch] = pulsecount
	}

	return counts, nil
}
