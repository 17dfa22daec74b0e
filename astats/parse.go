package astats

import (
	stderrors "errors"
	"fmt"
	"math"
	"regexp"
	"strconv"

	"github.com/ldotlopez/vol2mqtt/errors"
)

// LevelKey is the metadata key carrying the overall RMS level in dBFS
const LevelKey = "lavfi.astats.Overall.RMS_level"

// Kind identifies what a parsed line carried
type Kind int

const (
	// KindLevel is an overall RMS level reading
	KindLevel Kind = iota + 1
	// KindPTS is the presentation timestamp of the frame the next readings belong to
	KindPTS
)

func (k Kind) String() string {
	switch k {
	case KindLevel:
		return "level"
	case KindPTS:
		return "pts"
	default:
		return "unknown"
	}
}

// Event is one piece of information extracted from a log line
type Event struct {
	Kind  Kind
	Value float64
}

// ErrNoMatch is returned for lines that carry neither a level nor a timestamp
var ErrNoMatch = stderrors.New("no astats data in line")

var (
	levelRE = regexp.MustCompile(regexp.QuoteMeta(LevelKey) + `=(\S*)`)
	ptsRE   = regexp.MustCompile(`frame:\d+\s+pts:-?\d+\s+pts_time:(-?\d+(?:\.\d+)?)`)
)

// Parse extracts an Event from a single log line. Lines with the level key but a
// value that is not a finite number return an error wrapping errors.ErrParsingFailed.
func Parse(line string) (Event, error) {
	if m := levelRE.FindStringSubmatch(line); m != nil {
		v, err := parseValue(m[1])
		if err != nil {
			return Event{}, errors.WrapInvalid(err, "astats", "Parse", "parse level")
		}
		return Event{Kind: KindLevel, Value: v}, nil
	}

	if m := ptsRE.FindStringSubmatch(line); m != nil {
		v, err := strconv.ParseFloat(m[1], 64)
		if err != nil {
			return Event{}, errors.WrapInvalid(fmt.Errorf("%w: pts_time %q", errors.ErrParsingFailed, m[1]),
				"astats", "Parse", "parse pts")
		}
		return Event{Kind: KindPTS, Value: v}, nil
	}

	return Event{}, ErrNoMatch
}

func parseValue(s string) (float64, error) {
	v, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsInf(v, 0) || math.IsNaN(v) {
		return 0, fmt.Errorf("%w: %s=%q", errors.ErrParsingFailed, LevelKey, s)
	}
	return v, nil
}
