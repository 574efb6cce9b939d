package codec

import (
	"regexp"
	"strconv"
	"strings"
)

// JobRecord is the parsed form of a GET_JOB reply, independent of
// which wire variant produced it.
type JobRecord struct {
	JobNumber       int
	Size            float64
	Direction       int
	Speed           int
	StartX, StartY  float64
	PitchX, PitchY  float64
	Tail            []string
	CharacterString string
}

var segmentSplit = regexp.MustCompile(`_`)

// ParseJobSegments parses an underscore-joined GET_JOB body, the same
// layout SetJob produces after its `%J{n}_` header: size, direction,
// speed, startX, startY, pitchX, pitchY, then the round-trip tail
// tokens and the quoted CharacterString. Only leading and trailing
// 0x1F, NUL, space, CR and LF bytes are trimmed; an embedded 0x1F is
// not treated as a separator (ParseRawJobSegments splits on it first).
func ParseJobSegments(raw string) (JobRecord, bool) {
	raw = strings.Trim(raw, "\x1f\x00 \r\n")
	if raw == "" {
		return JobRecord{}, false
	}
	parts := segmentSplit.Split(raw, -1)
	if len(parts) < 9 {
		return JobRecord{}, false
	}

	rec := JobRecord{}
	var ok bool
	if rec.Size, ok = parseFloat(parts[0]); !ok {
		return JobRecord{}, false
	}
	if rec.Direction, ok = parseInt(parts[1]); !ok {
		return JobRecord{}, false
	}
	if rec.Speed, ok = parseInt(parts[2]); !ok {
		return JobRecord{}, false
	}
	if rec.StartX, ok = parseFloat(parts[3]); !ok {
		return JobRecord{}, false
	}
	if rec.StartY, ok = parseFloat(parts[4]); !ok {
		return JobRecord{}, false
	}
	if rec.PitchX, ok = parseFloat(parts[5]); !ok {
		return JobRecord{}, false
	}
	if rec.PitchY, ok = parseFloat(parts[6]); !ok {
		return JobRecord{}, false
	}

	rest := parts[7:]
	for len(rest) > 0 && rest[len(rest)-1] == `""` {
		rest = rest[:len(rest)-1]
	}
	csIdx := lastQuotedIndex(rest)
	if csIdx >= 0 {
		rec.CharacterString = strings.Trim(rest[csIdx], `"`)
		rec.Tail = rest[:csIdx]
	} else {
		rec.Tail = rest
	}
	return rec, true
}

// lastQuotedIndex finds the last token that both starts with a quote
// and still carries a CharacterString once quotes are stripped, so a
// trailing `""` sentinel (or a merged `"..."""`-style sentinel that
// Trim has reduced to empty) is never mistaken for the value itself.
func lastQuotedIndex(tokens []string) int {
	for i := len(tokens) - 1; i >= 0; i-- {
		if strings.HasPrefix(tokens[i], `"`) && strings.Trim(tokens[i], `"`) != "" {
			return i
		}
	}
	return -1
}

var jobHeaderPattern = regexp.MustCompile(`%J\s*\d+\s*_B`)

// ParseRawJobSegments implements GET_JOB option (a) from spec §4.1: the
// raw-read fallback path, where the device's reply arrives as one
// contiguous buffer with an embedded 0x1F separating two logical
// segments instead of two successive completion events. It splits on
// 0x1F, picks the body segment, and parses it with ParseJobSegments.
//
// When there are exactly two segments and only one matches the
// `%J{n}_B` header token, that one is the echoed acknowledgement and
// the other is the body. Otherwise the segment with the most
// underscores is taken as the body, since the numeric-field list
// dominates its token count (documented open question in spec §9:
// unvalidated against a device capture, kept explicit rather than
// guessed further).
func ParseRawJobSegments(raw string) (JobRecord, bool) {
	segments := strings.Split(raw, "\x1f")
	return ParseJobSegments(selectBodySegment(segments))
}

func selectBodySegment(segments []string) string {
	if len(segments) == 0 {
		return ""
	}
	if len(segments) == 2 {
		h0, h1 := jobHeaderPattern.MatchString(segments[0]), jobHeaderPattern.MatchString(segments[1])
		if h0 && !h1 {
			return segments[1]
		}
		if h1 && !h0 {
			return segments[0]
		}
	}
	best := segments[0]
	bestCount := strings.Count(best, "_")
	for _, s := range segments[1:] {
		if c := strings.Count(s, "_"); c > bestCount {
			best, bestCount = s, c
		}
	}
	return best
}

func parseFloat(s string) (float64, bool) {
	v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

func parseInt(s string) (int, bool) {
	v, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return 0, false
	}
	return v, true
}

// kv matches a bare `key=value` pair inside a noisy ASCII reply body,
// the fallback path used when the device talks free-form text instead
// of the canonical underscore-delimited layout.
var kv = regexp.MustCompile(`(?i)([A-Z_]+)\s*=\s*("[^"]*"|[^\s,;]+)`)

// ParseJobAsciiFallback recovers whatever fields it can from a
// free-form `KEY=value` formatted reply, the shape seen when a Marker
// firmware predates the structured GET_JOB layout. Fields not present
// are left at their zero value and are not reported as errors: this
// path is inherently best-effort.
func ParseJobAsciiFallback(raw string) JobRecord {
	var rec JobRecord
	for _, m := range kv.FindAllStringSubmatch(raw, -1) {
		key := strings.ToUpper(m[1])
		val := strings.Trim(m[2], `"`)
		switch key {
		case "SIZE":
			rec.Size, _ = parseFloat(val)
		case "DIR", "DIRECTION":
			rec.Direction, _ = parseInt(val)
		case "SPEED":
			rec.Speed, _ = parseInt(val)
		case "STARTX", "START_X":
			rec.StartX, _ = parseFloat(val)
		case "STARTY", "START_Y":
			rec.StartY, _ = parseFloat(val)
		case "PITCHX", "PITCH_X":
			rec.PitchX, _ = parseFloat(val)
		case "PITCHY", "PITCH_Y":
			rec.PitchY, _ = parseFloat(val)
		case "TEXT", "CHARACTERSTRING", "CHARACTER_STRING":
			rec.CharacterString = val
		}
	}
	return rec
}
