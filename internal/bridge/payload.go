package bridge

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"
	"unicode/utf8"
)

// valueKey is the only key the bridge reads from a payload.
const valueKey = "value"

// BytesToText joins payload chunks into one lower-cased string.
//
// Every chunk must be valid UTF-8 on its own; the first one that is not
// yields a *DecodeError wrapping ErrInvalidUTF8.
func BytesToText(chunks [][]byte) (string, error) {
	var b strings.Builder
	for i, chunk := range chunks {
		if !utf8.Valid(chunk) {
			return "", &DecodeError{
				Chunk:   i,
				Payload: strconv.Quote(string(bytes.Join(chunks, nil))),
				Err:     ErrInvalidUTF8,
			}
		}
		b.Write(chunk)
	}
	return strings.ToLower(b.String()), nil
}

// TextToValue reads the "value" key from a JSON object of numbers.
//
// Text that is not such an object (syntax error, trailing data, a string,
// null or nested value, a top-level non-object) is replaced by the default
// mapping {"value": 0}. fellBack reports that the resulting mapping equals
// the default, which also holds for a literal {"value": 0}; callers warn
// in that case. A mapping without "value" yields a *DecodeError wrapping
// ErrMissingValue.
func TextToValue(text string) (value float64, fellBack bool, err error) {
	fields, ok := parseNumberObject(text)
	if !ok {
		fields = map[string]float64{valueKey: 0}
	}

	if v, has := fields[valueKey]; has && v == 0 && len(fields) == 1 {
		fellBack = true
	}

	v, has := fields[valueKey]
	if !has {
		return 0, false, &DecodeError{Chunk: -1, Payload: strconv.Quote(text), Err: ErrMissingValue}
	}

	return v, fellBack, nil
}

// DecodePayload composes BytesToText and TextToValue.
func DecodePayload(chunks [][]byte) (float64, error) {
	text, err := BytesToText(chunks)
	if err != nil {
		return 0, err
	}
	v, _, err := TextToValue(text)
	return v, err
}

// parseNumberObject decodes text as a JSON object whose values are all numbers.
func parseNumberObject(text string) (map[string]float64, bool) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal([]byte(text), &raw); err != nil || raw == nil {
		return nil, false
	}

	fields := make(map[string]float64, len(raw))
	for k, v := range raw {
		// Unmarshal treats null as a no-op for numbers.
		if bytes.Equal(bytes.TrimSpace(v), []byte("null")) {
			return nil, false
		}
		var f float64
		if err := json.Unmarshal(v, &f); err != nil {
			return nil, false
		}
		fields[k] = f
	}

	return fields, true
}

// isEmpty reports whether a payload carries no bytes at all.
func isEmpty(chunks [][]byte) bool {
	for _, c := range chunks {
		if len(c) > 0 {
			return false
		}
	}
	return true
}
