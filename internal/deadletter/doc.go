// Package deadletter keeps the messages the bridge had to drop.
//
// A message lands here when its payload cannot be decoded (stage "decode")
// or when the InfluxDB write fails or is rejected (stage "deliver"). Entries
// are kept for inspection only; nothing is replayed.
//
// Entries live in the SQLite table dead_letters, created by the embedded
// migrations. Old entries are removed with Prune.
package deadletter
