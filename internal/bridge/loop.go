package bridge

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"net/http"
	"strconv"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/aramnhammer/mqtt-to-influxdb/internal/deadletter"
	"github.com/aramnhammer/mqtt-to-influxdb/internal/infrastructure/config"
	"github.com/aramnhammer/mqtt-to-influxdb/internal/infrastructure/influxdb"
)

// deadLetterTimeout bounds a single dead-letter insert.
const deadLetterTimeout = 5 * time.Second

// Message is one inbound MQTT message.
type Message struct {
	Topic string
	// Payload is the message body as received, possibly in several chunks.
	Payload    [][]byte
	ReceivedAt time.Time
}

// Receiver yields inbound messages. Receive blocks until a message is
// available and returns ErrSourceClosed once no more will arrive.
type Receiver interface {
	Receive(ctx context.Context) (Message, error)
}

// Deliverer writes one point. *influxdb.Client satisfies it.
type Deliverer interface {
	Push(ctx context.Context, p influxdb.Point) (influxdb.Result, error)
}

// DeadLetterRecorder stores dropped messages. *deadletter.SQLiteRepository satisfies it.
type DeadLetterRecorder interface {
	Record(ctx context.Context, e *deadletter.Entry) error
}

// Logger is the logging surface the loop needs.
// Compatible with logging.Logger and slog.Logger.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// Option configures a Loop.
type Option func(*Loop)

// WithLogger sets the loop logger.
func WithLogger(l Logger) Option {
	return func(lp *Loop) {
		lp.logger = l
	}
}

// WithMetrics sets the metrics the loop records to.
func WithMetrics(m *Metrics) Option {
	return func(lp *Loop) {
		lp.metrics = m
	}
}

// WithDeadLetters sets where dropped messages are recorded.
func WithDeadLetters(r DeadLetterRecorder) Option {
	return func(lp *Loop) {
		lp.deadLetters = r
	}
}

// Loop reads messages from a Receiver, decodes them and hands the points
// to a Deliverer.
type Loop struct {
	source      Receiver
	sink        Deliverer
	cfg         config.BridgeConfig
	ignore      map[string]struct{}
	logger      Logger
	metrics     *Metrics
	deadLetters DeadLetterRecorder
}

// NewLoop creates a loop. Workers below 1 are treated as 1.
func NewLoop(source Receiver, sink Deliverer, cfg config.BridgeConfig, opts ...Option) *Loop {
	if cfg.Workers < 1 {
		cfg.Workers = 1
	}
	if cfg.QueueSize < 1 {
		cfg.QueueSize = 1
	}

	l := &Loop{
		source: source,
		sink:   sink,
		cfg:    cfg,
		ignore: make(map[string]struct{}, len(cfg.IgnoreTopics)),
		logger: nopLogger{},
	}
	for _, t := range cfg.IgnoreTopics {
		l.ignore[t] = struct{}{}
	}
	for _, opt := range opts {
		opt(l)
	}

	return l
}

// Run processes messages until ctx is cancelled or the source is closed,
// both of which return nil. With fail_fast set, the first decode error is
// returned. Any other receive error is returned wrapped.
func (l *Loop) Run(ctx context.Context) error {
	l.logger.Info("bridge loop started",
		"workers", l.cfg.Workers,
		"fail_fast", l.cfg.FailFast,
	)
	defer l.logger.Info("bridge loop stopped")

	if l.cfg.Workers == 1 {
		return l.runSequential(ctx)
	}
	return l.runSharded(ctx)
}

// runSequential handles each message to completion before reading the next.
// Cancellation stops receiving; a message already received is still delivered.
func (l *Loop) runSequential(ctx context.Context) error {
	workCtx := context.WithoutCancel(ctx)
	for {
		msg, err := l.source.Receive(ctx)
		if err != nil {
			return l.stopError(ctx, err)
		}
		if err := l.handle(workCtx, msg); err != nil {
			return err
		}
	}
}

// runSharded fans messages out to per-worker queues keyed by topic hash.
// A full queue blocks the receive side. Queues are drained before Run returns.
func (l *Loop) runSharded(ctx context.Context) error {
	recvCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	// Workers finish queued messages even after shutdown starts.
	workCtx := context.WithoutCancel(ctx)

	var (
		wg       sync.WaitGroup
		failOnce sync.Once
		failErr  error
	)

	queues := make([]chan Message, l.cfg.Workers)
	for i := range queues {
		queues[i] = make(chan Message, l.cfg.QueueSize)
		wg.Add(1)
		go func(q <-chan Message) {
			defer wg.Done()
			for msg := range q {
				if err := l.handle(workCtx, msg); err != nil {
					failOnce.Do(func() {
						failErr = err
						cancel()
					})
				}
			}
		}(queues[i])
	}

	var runErr error
receive:
	for {
		msg, err := l.source.Receive(recvCtx)
		if err != nil {
			runErr = l.stopError(recvCtx, err)
			break
		}

		select {
		case queues[shardFor(msg.Topic, len(queues))] <- msg:
		case <-recvCtx.Done():
			break receive
		}
	}

	for _, q := range queues {
		close(q)
	}
	wg.Wait()

	if failErr != nil {
		return failErr
	}
	return runErr
}

// stopError maps a receive error to Run's result.
func (l *Loop) stopError(ctx context.Context, err error) error {
	if errors.Is(err, ErrSourceClosed) || ctx.Err() != nil {
		return nil
	}
	return fmt.Errorf("receiving message: %w", err)
}

// shardFor picks the worker for a topic.
func shardFor(topic string, n int) int {
	h := fnv.New32a()
	h.Write([]byte(topic)) //nolint:errcheck // hash.Hash never returns an error
	return int(h.Sum32() % uint32(n))
}

// handle processes one message. The only error it returns is a decode
// error when fail_fast is set.
func (l *Loop) handle(ctx context.Context, msg Message) error {
	l.metrics.incReceived()

	if _, skip := l.ignore[msg.Topic]; skip {
		l.metrics.incIgnored()
		l.logger.Debug("ignoring message", "topic", msg.Topic)
		return nil
	}
	if isEmpty(msg.Payload) {
		l.metrics.incEmpty()
		l.logger.Debug("skipping empty payload", "topic", msg.Topic)
		return nil
	}

	d, err := decodeMessage(msg.Topic, msg.Payload)
	if err != nil {
		l.metrics.incDecodeFailure()
		l.logger.Error("decoding payload failed",
			"topic", msg.Topic,
			"stage", deadletter.StageDecode,
			"error", err,
		)
		l.recordDeadLetter(ctx, msg, deadletter.StageDecode, err.Error())
		if l.cfg.FailFast {
			return fmt.Errorf("topic %q: %w", msg.Topic, err)
		}
		return nil
	}

	l.logger.Debug("decoded message",
		"topic", msg.Topic,
		"measurement", d.point.Measurement,
		"payload", d.text,
	)
	if d.fellBack {
		l.metrics.incFallback()
		l.logger.Warn("payload is not a JSON object of numbers, using default fields",
			"topic", msg.Topic,
			"payload", d.text,
		)
	}

	l.deliver(ctx, msg, d.point)
	return nil
}

// deliver pushes the point and reports the outcome. Failures are never retried.
func (l *Loop) deliver(ctx context.Context, msg Message, p influxdb.Point) {
	start := time.Now()
	res, err := l.sink.Push(ctx, p)
	elapsed := time.Since(start)

	if err != nil {
		l.metrics.observeDelivery(res.StatusCode, elapsed, true)
		l.logger.Error("delivering point failed",
			"topic", msg.Topic,
			"stage", deadletter.StageDeliver,
			"line", res.Line,
			"error", err,
		)
		l.recordDeadLetter(ctx, msg, deadletter.StageDeliver, err.Error())
		return
	}

	l.metrics.observeDelivery(res.StatusCode, elapsed, false)

	if res.StatusCode >= http.StatusBadRequest {
		l.logger.Warn("point rejected by InfluxDB",
			"topic", msg.Topic,
			"line", res.Line,
			"status", res.StatusCode,
			"response", res.Body,
		)
		l.recordDeadLetter(ctx, msg, deadletter.StageDeliver,
			"HTTP "+strconv.Itoa(res.StatusCode)+": "+res.Body)
		return
	}

	l.logger.Debug("delivered point",
		"topic", msg.Topic,
		"line", res.Line,
		"status", res.StatusCode,
		"response", res.Body,
		"duration", elapsed,
	)
}

// recordDeadLetter stores a dropped message. It outlives ctx cancellation
// so messages dropped during shutdown are still kept.
func (l *Loop) recordDeadLetter(ctx context.Context, msg Message, stage, reason string) {
	if l.deadLetters == nil {
		return
	}

	dlCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), deadLetterTimeout)
	defer cancel()

	entry := &deadletter.Entry{
		Topic:      msg.Topic,
		Payload:    payloadText(msg.Payload),
		Stage:      stage,
		Reason:     reason,
		ReceivedAt: msg.ReceivedAt,
	}
	if err := l.deadLetters.Record(dlCtx, entry); err != nil {
		l.logger.Error("recording dead letter failed", "topic", msg.Topic, "error", err)
		return
	}
	l.metrics.incDeadLetter()
}

// payloadText joins the chunks, Go-quoting them if they are not valid UTF-8.
func payloadText(chunks [][]byte) string {
	var n int
	for _, c := range chunks {
		n += len(c)
	}
	buf := make([]byte, 0, n)
	for _, c := range chunks {
		buf = append(buf, c...)
	}
	if utf8.Valid(buf) {
		return string(buf)
	}
	return strconv.Quote(string(buf))
}

type nopLogger struct{}

func (nopLogger) Debug(string, ...any) {}
func (nopLogger) Info(string, ...any)  {}
func (nopLogger) Warn(string, ...any)  {}
func (nopLogger) Error(string, ...any) {}
