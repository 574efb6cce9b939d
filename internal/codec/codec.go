// Package codec builds framed byte sequences for the Marker ("VM2030")
// protocol and parses its multi-segment GET_JOB replies back into
// structured records.
package codec

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/D1nhkh01/controller/internal/xerrors"
)

// Kind enumerates the Marker command set from the data model.
type Kind string

const (
	KindHome          Kind = "HOME"
	KindReset         Kind = "RESET"
	KindSetJob        Kind = "SET_JOB"
	KindGetJob        Kind = "GET_JOB"
	KindStartJob      Kind = "START_JOB"
	KindSetSequence   Kind = "SET_SEQUENCE"
	KindStartSequence Kind = "START_SEQUENCE"
	KindMoveAxis      Kind = "MOVE_AXIS"
	KindToggleEcho    Kind = "TOGGLE_ECHO"
)

// WaitMode selects how OperationCoordinator waits for a command's
// completion once it has been written to the Marker.
type WaitMode int

const (
	AwaitCode WaitMode = iota
	CollectUntilCode
	FireAndForget
)

// Axis identifies a MOVE_AXIS target.
type Axis string

const (
	AxisX Axis = "X"
	AxisY Axis = "Y"
)

var axisRange = map[Axis][2]float64{
	AxisX: {-80.0, 80.0},
	AxisY: {-30.0, 30.0},
}

// DefaultCompletionCodes is the {0x1F, 0x87} set every command expects
// unless overridden.
var DefaultCompletionCodes = []byte{0x1F, 0x87}

// Command is the immutable result of building a Marker operation: the
// framed bytes to transmit plus the metadata the coordinator needs to
// drive completion/timeout handling.
type Command struct {
	Kind               Kind
	Frame              []byte
	ExpectedCompletion []byte
	WaitMode           WaitMode
	TimeoutMs          int
	Meta               map[string]any
}

func hasCode(codes []byte, code byte) bool {
	for _, c := range codes {
		if c == code {
			return true
		}
	}
	return false
}

// HasCompletionCode reports whether code is one of cmd's expected
// completion codes.
func (c Command) HasCompletionCode(code byte) bool {
	return hasCode(c.ExpectedCompletion, code)
}

func newCommand(kind Kind, frame []byte, wait WaitMode, meta map[string]any) Command {
	return Command{
		Kind:               kind,
		Frame:              frame,
		ExpectedCompletion: DefaultCompletionCodes,
		WaitMode:           wait,
		Meta:               meta,
	}
}

// Home builds the HOME command: `%H<CR>`.
func Home() Command {
	return newCommand(KindHome, EnsureEvenBeforeCR(EncodeTokens("%H<CR>")), AwaitCode, nil)
}

// Reset builds the RESET command: a bare 0x1D byte, no terminator —
// the even-before-CR rule does not apply since it never ends in CR.
func Reset() Command {
	cmd := newCommand(KindReset, EncodeTokens("<0x1D>"), AwaitCode, nil)
	cmd.ExpectedCompletion = []byte{0x87}
	return cmd
}

// StartJob builds `%J{n}_N<CR>`.
func StartJob(jobNumber int) Command {
	text := fmt.Sprintf("%%J%d_N<CR>", jobNumber)
	return newCommand(KindStartJob, EnsureEvenBeforeCR(EncodeTokens(text)), AwaitCode,
		map[string]any{"jobNumber": jobNumber})
}

// StartSequence builds `%S{n}_N<CR>`.
func StartSequence(seqIndex int) Command {
	text := fmt.Sprintf("%%S%d_N<CR>", seqIndex)
	cmd := newCommand(KindStartSequence, EnsureEvenBeforeCR(EncodeTokens(text)), AwaitCode,
		map[string]any{"index": seqIndex})
	return cmd
}

// GetJob builds `%J{n}_B<CR>`. The wait mode is CollectUntilCode: the
// device streams an ASCII payload ahead of the completion byte.
func GetJob(jobNumber int) Command {
	text := fmt.Sprintf("%%J%d_B<CR>", jobNumber)
	return newCommand(KindGetJob, EnsureEvenBeforeCR(EncodeTokens(text)), CollectUntilCode,
		map[string]any{"jobNumber": jobNumber})
}

// SetSequence builds `%S{n}_{s}<CR>`.
func SetSequence(seqIndex int, cmdString string) Command {
	text := fmt.Sprintf("%%S%d_%s<CR>", seqIndex, cmdString)
	return newCommand(KindSetSequence, EnsureEvenBeforeCR(EncodeTokens(text)), AwaitCode,
		map[string]any{"index": seqIndex, "commandString": cmdString})
}

// ToggleEcho builds `%E_{0|1}<CR>`.
func ToggleEcho(on bool) Command {
	bit := 0
	if on {
		bit = 1
	}
	text := fmt.Sprintf("%%E_%d<CR>", bit)
	return newCommand(KindToggleEcho, EnsureEvenBeforeCR(EncodeTokens(text)), AwaitCode,
		map[string]any{"on": on})
}

// MoveAxis builds `%P_{axis}{v:.1f}<CR>`. Returns ErrValueOutOfRange
// when v falls outside the axis's configured range; no bytes are
// produced in that case.
func MoveAxis(axis Axis, v float64) (Command, error) {
	bounds, ok := axisRange[axis]
	if !ok {
		return Command{}, xerrors.New(xerrors.ValueOutOfRange, fmt.Sprintf("unknown axis %q", axis), nil)
	}
	if v < bounds[0] || v > bounds[1] {
		return Command{}, xerrors.New(xerrors.ValueOutOfRange,
			fmt.Sprintf("%s value out of range [%.1f, %.1f]", axis, bounds[0], bounds[1]), nil)
	}
	text := fmt.Sprintf("%%P_%s%.1f<CR>", axis, v)
	return newCommand(KindMoveAxis, EnsureEvenBeforeCR(EncodeTokens(text)), AwaitCode,
		map[string]any{"axis": axis, "value": v}), nil
}

// defaultTail is the 16-token fixed default used for SET_JOB when no
// cached round-trip tail exists yet for this job.
var defaultTail = []string{
	"0.1", "0.0", "0.0", "<NUL>", "<NUL>", "<NUL>", "0", "0.0",
	"0.0", "0.0", "0.0", "0.0", "0.0", "N", "1", `""`,
}

// JobPayload is the subset of a Job's fields the SET_JOB body encodes.
type JobPayload struct {
	Size            float64
	Direction       int
	Speed           int
	StartX, StartY  float64
	PitchX, PitchY  float64
	CharacterString string
}

// SetJob builds the SET_JOB frame: `%J{n:03d}_{body}<CR>` where body
// is the underscore-joined numeric fields, the 16-token round-trip
// tail (last sentinel token always dropped), then the quoted
// character string (underscores turned into spaces and whitespace
// runs collapsed) with a trailing `""` sentinel appended directly —
// no separating underscore — so the wire body ends `..._"ABC"""`,
// matching the shape ParseJobSegments expects back on GET_JOB.
func SetJob(jobNumber int, p JobPayload, cachedTail []string) Command {
	tail := cachedTail
	if len(tail) != 16 {
		tail = defaultTail
	}

	fields := []string{
		fmt.Sprintf("%.1f", p.Size),
		strconv.Itoa(p.Direction),
		strconv.Itoa(p.Speed),
		fmt.Sprintf("%.1f", p.StartX),
		fmt.Sprintf("%.1f", p.StartY),
		fmt.Sprintf("%.1f", p.PitchX),
		fmt.Sprintf("%.1f", p.PitchY),
	}
	fields = append(fields, tail[:15]...) // 16 tail tokens, last sentinel dropped

	charStr := normalizeCharacterString(p.CharacterString)
	body := strings.Join(fields, "_") + "_" + `"` + charStr + `"` + `""`

	text := fmt.Sprintf("%%J%03d_%s<CR>", jobNumber, body)
	return newCommand(KindSetJob, EnsureEvenBeforeCR(EncodeTokens(text)), AwaitCode,
		map[string]any{"jobNumber": jobNumber, "characterStringLen": len(charStr)})
}

var whitespaceRun = strings.NewReplacer("\t", " ", "\n", " ", "\r", " ")

func normalizeCharacterString(s string) string {
	s = strings.ReplaceAll(s, "_", " ")
	s = whitespaceRun.Replace(s)
	fields := strings.Fields(s)
	return strings.Join(fields, " ")
}
