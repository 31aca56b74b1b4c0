package influxdb

import "errors"

// Sentinel errors for InfluxDB operations.
//
// These errors can be checked using errors.Is() for specific handling:
//
//	if errors.Is(err, influxdb.ErrWriteFailed) {
//	    // Point was dropped
//	}
var (
	// ErrNotConnected indicates the client has been closed.
	ErrNotConnected = errors.New("influxdb: not connected")

	// ErrWriteFailed indicates a delivery did not complete a round trip.
	ErrWriteFailed = errors.New("influxdb: write failed")

	// ErrInvalidPrecision indicates an unsupported timestamp precision.
	ErrInvalidPrecision = errors.New("influxdb: invalid precision")

	// ErrInvalidTransport indicates an unknown transport name.
	ErrInvalidTransport = errors.New("influxdb: invalid transport")

	// ErrEmptyPoint indicates a point without fields, which is not valid line protocol.
	ErrEmptyPoint = errors.New("influxdb: point has no fields")
)
