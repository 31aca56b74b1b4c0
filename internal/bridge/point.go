package bridge

import (
	"github.com/aramnhammer/mqtt-to-influxdb/internal/infrastructure/influxdb"
)

// decoded is a message after topic parsing and payload decoding.
type decoded struct {
	point    influxdb.Point
	text     string
	fellBack bool
}

// decodeMessage runs the topic parser and payload decoder for one message.
func decodeMessage(topic string, chunks [][]byte) (decoded, error) {
	measurement, fieldKey := ParseTopic(topic)

	text, err := BytesToText(chunks)
	if err != nil {
		return decoded{}, err
	}

	value, fellBack, err := TextToValue(text)
	if err != nil {
		return decoded{text: text}, err
	}

	return decoded{
		point: influxdb.Point{
			Measurement: measurement,
			Fields:      map[string]float64{fieldKey: value},
		},
		text:     text,
		fellBack: fellBack,
	}, nil
}

// BuildPoint turns a topic and payload into a single-field point.
//
// Errors are the *DecodeError values from BytesToText and TextToValue.
func BuildPoint(topic string, chunks [][]byte) (influxdb.Point, error) {
	d, err := decodeMessage(topic, chunks)
	if err != nil {
		return influxdb.Point{}, err
	}
	return d.point, nil
}
