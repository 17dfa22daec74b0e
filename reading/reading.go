// Package reading defines the level sample forwarded to the broker and its wire encodings.
package reading

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/ldotlopez/vol2mqtt/errors"
)

// Reading is one RMS level sample. It is never stored; it lives from parse to publish.
type Reading struct {
	Value float64   `json:"value" msgpack:"value"`
	PTS   float64   `json:"pts"   msgpack:"pts"`  // stream time in seconds, 0 until the first timestamp
	Time  time.Time `json:"time"  msgpack:"time"` // wall clock at parse time
}

// New creates a Reading stamped with the current time
func New(value, pts float64) Reading {
	return Reading{Value: value, PTS: pts, Time: time.Now()}
}

// Format selects the payload encoding
type Format string

// Supported payload formats
const (
	FormatText    Format = "text"
	FormatJSON    Format = "json"
	FormatMsgpack Format = "msgpack"
)

// ParseFormat converts a configuration string into a Format. The empty string is text.
func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(strings.TrimSpace(s))); f {
	case "":
		return FormatText, nil
	case FormatText, FormatJSON, FormatMsgpack:
		return f, nil
	default:
		return "", errors.WrapInvalid(fmt.Errorf("%w: unknown payload format %q", errors.ErrInvalidConfig, s),
			"reading", "ParseFormat", "parse format")
	}
}

// ContentType returns the MIME type of payloads in this format
func (f Format) ContentType() string {
	switch f {
	case FormatJSON:
		return "application/json"
	case FormatMsgpack:
		return "application/msgpack"
	default:
		return "text/plain"
	}
}

// FormatValue returns the shortest decimal string that parses back to v
func FormatValue(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// Encode serialises r as a broker payload
func Encode(r Reading, f Format) ([]byte, error) {
	switch f {
	case FormatText, "":
		return []byte(FormatValue(r.Value)), nil
	case FormatJSON:
		data, err := json.Marshal(r)
		if err != nil {
			return nil, errors.WrapInvalid(err, "reading", "Encode", "marshal json")
		}
		return data, nil
	case FormatMsgpack:
		data, err := msgpack.Marshal(r)
		if err != nil {
			return nil, errors.WrapInvalid(err, "reading", "Encode", "marshal msgpack")
		}
		return data, nil
	default:
		return nil, errors.WrapInvalid(fmt.Errorf("%w: unknown payload format %q", errors.ErrInvalidData, f),
			"reading", "Encode", "select format")
	}
}
