package deadletter

import "time"

// Stages at which a message can be dropped.
const (
	StageDecode  = "decode"
	StageDeliver = "deliver"
)

// Entry is one dropped message.
type Entry struct {
	ID    string `json:"id"`
	Topic string `json:"topic"`
	// Payload is the concatenated payload. Payloads that are not valid
	// UTF-8 are stored Go-quoted so no byte is lost.
	Payload    string    `json:"payload"`
	Stage      string    `json:"stage"`
	Reason     string    `json:"reason"`
	ReceivedAt time.Time `json:"received_at"`
	RecordedAt time.Time `json:"recorded_at"`
}
