package influxdb

import (
	"fmt"
	"strings"
	"time"
)

// Precision is the time unit in which point timestamps are sent to InfluxDB.
//
// The zero value is PrecisionSeconds. A new precision needs a case in each
// method below; Timestamp and Duration panic on one they do not know.
// EncodeLine only ever sees the integer timestamp.
type Precision int

const (
	// PrecisionSeconds sends whole-second timestamps ("s").
	PrecisionSeconds Precision = iota
)

// String returns the value of the precision query parameter.
func (p Precision) String() string {
	switch p {
	case PrecisionSeconds:
		return "s"
	default:
		return fmt.Sprintf("Precision(%d)", int(p))
	}
}

// Timestamp converts a wall-clock time to an integer timestamp in this precision.
// Sub-unit remainders are truncated.
func (p Precision) Timestamp(t time.Time) int64 {
	switch p {
	case PrecisionSeconds:
		return t.Unix()
	default:
		panic(fmt.Sprintf("influxdb: no timestamp conversion for %v", p))
	}
}

// Duration returns the unit length, as expected by influxdb-client-go options.
func (p Precision) Duration() time.Duration {
	switch p {
	case PrecisionSeconds:
		return time.Second
	default:
		panic(fmt.Sprintf("influxdb: no unit duration for %v", p))
	}
}

// ParsePrecision parses a configured precision name.
//
// Accepted values: "s", "seconds" (case-insensitive).
func ParsePrecision(s string) (Precision, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "s", "seconds":
		return PrecisionSeconds, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrInvalidPrecision, s)
	}
}
