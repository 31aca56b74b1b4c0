// Package mqtt provides the broker side of the bridge.
//
// This package manages:
//   - Connection to the broker with auto-reconnect and connect-retry
//   - A retained online/offline document on an optional status topic,
//     with a Last Will for unexpected disconnects
//   - Topic subscriptions, restored after every reconnect
//   - Source, which turns one subscription into a stream of bridge.Messages
//
// # Ordering and backpressure
//
// Handlers run in order on paho's router goroutine. Source's handler blocks
// while its buffer is full, so a slow InfluxDB slows down reads from the
// broker rather than dropping messages. Per-topic order is preserved from
// the broker to the bridge loop.
//
// # Security Considerations
//
//   - Enable TLS (cfg.Broker.TLS=true) when the broker is not on localhost
//   - Anonymous access is used when no username is configured
//
// # Usage
//
//	client, err := mqtt.Connect(cfg.MQTT)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	src := mqtt.NewSource(cfg.MQTT)
//	if err := src.Start(client); err != nil {
//	    return err
//	}
//	defer src.Close()
//
//	msg, err := src.Receive(ctx)
package mqtt
