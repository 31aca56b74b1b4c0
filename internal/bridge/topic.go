package bridge

import "strings"

// Defaults used when a topic does not follow the naming convention.
const (
	DefaultMeasurement = "unknown_measurement"
	DefaultFieldKey    = "default"
)

// ParseTopic derives the measurement and field key from a topic.
//
// The third "/"-separated segment is split on ".":
//
//	"bucket/f/temp.reading" -> ("temp", "reading")
//	"bucket/f/temp"         -> ("temp", "default")
//	"bucket/f/"             -> ("unknown_measurement", "default")
//	"bucket/f/.x"           -> ("", "x")
//	"bucket/f/a.b.c"        -> ("unknown_measurement", "default")
//	"a/b"                   -> ("unknown_measurement", "default")
//
// Segments after the third are ignored. ParseTopic never fails.
func ParseTopic(topic string) (measurement, fieldKey string) {
	measurement, fieldKey = DefaultMeasurement, DefaultFieldKey

	segments := strings.Split(topic, "/")
	if len(segments) < 3 {
		return measurement, fieldKey
	}

	parts := strings.Split(segments[2], ".")
	switch len(parts) {
	case 1:
		if parts[0] != "" {
			measurement = parts[0]
		}
	case 2:
		// Taken verbatim, empty pieces included.
		measurement, fieldKey = parts[0], parts[1]
	}

	return measurement, fieldKey
}
