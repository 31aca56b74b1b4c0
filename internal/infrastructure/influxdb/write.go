package influxdb

import (
	"sort"
	"strconv"
	"strings"
)

// Point is one decoded, ready-to-write unit of data.
//
// Fields normally holds exactly one entry. The timestamp is not part of the
// point; it is stamped at delivery time.
type Point struct {
	Measurement string
	Fields      map[string]float64
}

// EncodeLine formats a point as a single InfluxDB line protocol record.
//
// Format: measurement field1=val1,field2=val2 timestamp
//
// The first space separates the measurement from the field set and the second
// separates the field set from the timestamp, so both names are escaped.
// Fields are written in key order. Values use the shortest decimal form with
// no exponent: 72.5 -> "72.5", 5 -> "5".
//
// Example:
//
//	EncodeLine(Point{Measurement: "temp", Fields: map[string]float64{"field_key": 72.5}}, 1690000000)
//	// "temp field_key=72.5 1690000000"
func EncodeLine(p Point, timestamp int64) string {
	var b strings.Builder

	b.WriteString(escapeMeasurement(p.Measurement))
	b.WriteByte(' ')

	keys := make([]string, 0, len(p.Fields))
	for k := range p.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for i, k := range keys {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(escapeKey(k))
		b.WriteByte('=')
		b.WriteString(strconv.FormatFloat(p.Fields[k], 'f', -1, 64))
	}

	b.WriteByte(' ')
	b.WriteString(strconv.FormatInt(timestamp, 10))

	return b.String()
}

// escapeKey escapes special characters in field keys per line protocol spec.
// Commas, equals signs, and spaces must be backslash-escaped.
// Newlines are stripped to prevent line protocol injection.
func escapeKey(s string) string {
	s = strings.ReplaceAll(s, "\n", "")
	s = strings.ReplaceAll(s, "\r", "")
	s = strings.ReplaceAll(s, " ", "\\ ")
	s = strings.ReplaceAll(s, ",", "\\,")
	s = strings.ReplaceAll(s, "=", "\\=")
	return s
}

// escapeMeasurement escapes special characters in measurement names.
// Newlines are stripped to prevent line protocol injection.
func escapeMeasurement(s string) string {
	s = strings.ReplaceAll(s, "\n", "")
	s = strings.ReplaceAll(s, "\r", "")
	s = strings.ReplaceAll(s, " ", "\\ ")
	s = strings.ReplaceAll(s, ",", "\\,")
	return s
}
