// Package influxdb delivers points to an InfluxDB v2 write endpoint.
//
// Each point becomes one line protocol record sent in its own HTTP request.
// The timestamp is taken from the wall clock at delivery time.
//
// # Usage
//
//	session, err := influxdb.SessionFromConfig(cfg.InfluxDB)
//	if err != nil {
//	    return err
//	}
//
//	client, err := influxdb.New(session)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	res, err := client.Push(ctx, influxdb.Point{
//	    Measurement: "temp",
//	    Fields:      map[string]float64{"reading": 72.5},
//	})
//
// # Transports
//
// "http" (default) posts the record with net/http to
// {url}/api/v2/write?org=..&bucket=..&precision=s with an
// "Authorization: Token ..." header. Any HTTP status is a completed
// delivery; the status and body come back in Result.
//
// "client" writes through influxdb-client-go's blocking write API, which
// reports non-2xx statuses as errors.
//
// HealthCheck always uses influxdb-client-go's Ping.
//
// # Error Handling
//
// Transport failures and timeouts wrap ErrWriteFailed. Nothing is retried
// or queued.
package influxdb
