// Package bridge turns MQTT messages into InfluxDB points.
//
// For every message the loop:
//
//  1. derives a measurement and field key from the topic (ParseTopic)
//  2. decodes the payload into one number (DecodePayload)
//  3. hands the point to a Deliverer, which stamps and writes it
//
// Topic convention: {prefix}/{anything}/{measurement}.{field}[/...]
//
//	bucket/f/temp.reading  + {"value": 72.5}  ->  temp reading=72.5 <ts>
//
// Payloads are lower-cased before parsing, so {"VALUE": 5} is accepted. A
// payload that is not a JSON object of numbers falls back to {"value": 0}
// and a warning is logged. Invalid UTF-8 and a missing "value" key are
// per-message errors: the message is logged, counted and dead-lettered, or
// with fail_fast the loop stops.
//
// # Concurrency
//
// With one worker (the default) each message is fully delivered before the
// next one is read. With more workers, messages are sharded by topic so
// each topic is still delivered in arrival order.
package bridge
