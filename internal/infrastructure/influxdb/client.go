package influxdb

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	ihttp "github.com/influxdata/influxdb-client-go/v2/api/http"

	"github.com/aramnhammer/mqtt-to-influxdb/internal/infrastructure/config"
)

// Transport names accepted in influxdb.transport.
const (
	TransportHTTP   = "http"
	TransportClient = "client"
)

const (
	defaultTimeout     = 10 * time.Second
	defaultPingTimeout = 5 * time.Second

	// maxResponseBody caps how much of a response body is kept for logging.
	maxResponseBody = 64 * 1024
)

// Session holds everything needed to reach one InfluxDB bucket.
// It is built once at startup and only read afterwards.
type Session struct {
	URL       string
	Token     string
	Org       string
	Bucket    string
	Precision Precision
	Timeout   time.Duration
	Transport string
}

// SessionFromConfig converts the influxdb config section into a Session.
//
// Returns:
//   - Session: Ready to pass to New
//   - error: ErrInvalidPrecision or ErrInvalidTransport
func SessionFromConfig(cfg config.InfluxDBConfig) (Session, error) {
	precision, err := ParsePrecision(cfg.Precision)
	if err != nil {
		return Session{}, err
	}

	transport := cfg.Transport
	if transport == "" {
		transport = TransportHTTP
	}
	if transport != TransportHTTP && transport != TransportClient {
		return Session{}, fmt.Errorf("%w: %q", ErrInvalidTransport, cfg.Transport)
	}

	return Session{
		URL:       cfg.URL,
		Token:     cfg.Token,
		Org:       cfg.Org,
		Bucket:    cfg.Bucket,
		Precision: precision,
		Timeout:   cfg.DeliveryTimeout(),
		Transport: transport,
	}, nil
}

// WriteURL returns the write endpoint for a session:
//
//	{url}/api/v2/write?org={org}&bucket={bucket}&precision={precision}
//
// A trailing slash on the base URL is dropped and query values are escaped.
func WriteURL(s Session) string {
	return fmt.Sprintf("%s/api/v2/write?org=%s&bucket=%s&precision=%s",
		strings.TrimRight(s.URL, "/"),
		url.QueryEscape(s.Org),
		url.QueryEscape(s.Bucket),
		url.QueryEscape(s.Precision.String()),
	)
}

// Result describes one completed delivery round trip.
//
// A non-2xx StatusCode is reported here, not as an error, on the http
// transport. Callers decide what to log.
type Result struct {
	// Line is the line protocol record that was sent.
	Line       string
	StatusCode int
	Body       string
}

// writer performs the single network round trip for one record.
type writer interface {
	write(ctx context.Context, line string) (Result, error)
}

// Option configures a Client.
type Option func(*Client)

// WithClock replaces the wall clock used to stamp points.
func WithClock(now func() time.Time) Option {
	return func(c *Client) {
		c.now = now
	}
}

// WithHTTPClient replaces the HTTP client used by the http transport.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// Client delivers points to InfluxDB, one request per point.
//
// There is no batching, queueing, or retry: a failed delivery is reported
// to the caller and the point is gone.
//
// Thread Safety:
//   - Push and HealthCheck are safe for concurrent use.
type Client struct {
	session    Session
	influx     influxdb2.Client
	writer     writer
	httpClient *http.Client
	now        func() time.Time

	closed bool
	mu     sync.RWMutex
}

// New creates a client for the session. It does not contact the server;
// use HealthCheck for that.
//
// Parameters:
//   - s: Session built by SessionFromConfig
//   - opts: Optional overrides (clock, HTTP client)
//
// Returns:
//   - *Client: Ready for Push
//   - error: ErrInvalidTransport for an unknown transport name
func New(s Session, opts ...Option) (*Client, error) {
	if s.Timeout <= 0 {
		s.Timeout = defaultTimeout
	}

	c := &Client{
		session:    s,
		httpClient: &http.Client{},
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}

	// #nosec G115 -- timeout is positive, checked above
	c.influx = influxdb2.NewClientWithOptions(
		s.URL,
		s.Token,
		influxdb2.DefaultOptions().
			SetPrecision(s.Precision.Duration()).
			SetHTTPRequestTimeout(uint(s.Timeout/time.Second)+1).
			SetHTTPClient(c.httpClient),
	)

	switch s.Transport {
	case TransportHTTP, "":
		c.writer = &httpWriter{
			client: c.httpClient,
			url:    WriteURL(s),
			token:  s.Token,
		}
	case TransportClient:
		c.writer = &clientWriter{
			api: c.influx.WriteAPIBlocking(s.Org, s.Bucket),
		}
	default:
		c.influx.Close()
		return nil, fmt.Errorf("%w: %q", ErrInvalidTransport, s.Transport)
	}

	return c, nil
}

// Session returns the session the client was built with.
func (c *Client) Session() Session {
	return c.session
}

// Push stamps the point with the current time, encodes it and sends it in
// a single request bounded by the session timeout.
//
// Parameters:
//   - ctx: Context for cancellation
//   - p: Point to deliver
//
// Returns:
//   - Result: The sent line and, when the round trip completed, the response
//   - error: ErrWriteFailed wrapping the transport error, ErrNotConnected
//     after Close, or ErrEmptyPoint
func (c *Client) Push(ctx context.Context, p Point) (Result, error) {
	c.mu.RLock()
	closed := c.closed
	c.mu.RUnlock()
	if closed {
		return Result{}, ErrNotConnected
	}
	if len(p.Fields) == 0 {
		return Result{}, ErrEmptyPoint
	}

	line := EncodeLine(p, c.session.Precision.Timestamp(c.now()))

	writeCtx, cancel := context.WithTimeout(ctx, c.session.Timeout)
	defer cancel()

	res, err := c.writer.write(writeCtx, line)
	res.Line = line
	return res, err
}

// HealthCheck pings the server through the InfluxDB client library.
//
// Parameters:
//   - ctx: Context for timeout/cancellation
//
// Returns:
//   - error: nil if healthy, error describing the issue otherwise
func (c *Client) HealthCheck(ctx context.Context) error {
	c.mu.RLock()
	closed := c.closed
	c.mu.RUnlock()
	if closed {
		return ErrNotConnected
	}

	checkCtx, cancel := context.WithTimeout(ctx, defaultPingTimeout)
	defer cancel()

	healthy, err := c.influx.Ping(checkCtx)
	if err != nil {
		return fmt.Errorf("influxdb health check failed: %w", err)
	}
	if !healthy {
		return fmt.Errorf("influxdb health check failed: server not healthy")
	}

	return nil
}

// Close releases the underlying client. Later calls to Push fail with
// ErrNotConnected. Safe to call more than once.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}
	c.closed = true
	c.influx.Close()

	return nil
}

// httpWriter posts the record with net/http. Any HTTP status counts as a
// completed round trip.
type httpWriter struct {
	client *http.Client
	url    string
	token  string
}

func (w *httpWriter) write(ctx context.Context, line string) (Result, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, strings.NewReader(line))
	if err != nil {
		return Result{}, fmt.Errorf("%w: creating request: %w", ErrWriteFailed, err)
	}
	req.Header.Set("Authorization", "Token "+w.token)
	req.Header.Set("Content-Type", "text/plain; charset=utf-8")

	resp, err := w.client.Do(req)
	if err != nil {
		return Result{}, fmt.Errorf("%w: %w", ErrWriteFailed, err)
	}
	defer resp.Body.Close() //nolint:errcheck // read-only body

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return Result{StatusCode: resp.StatusCode}, fmt.Errorf("%w: reading response: %w", ErrWriteFailed, err)
	}

	return Result{StatusCode: resp.StatusCode, Body: string(body)}, nil
}

// clientWriter writes through the blocking write API of influxdb-client-go.
// The library treats non-2xx statuses as errors.
type clientWriter struct {
	api api.WriteAPIBlocking
}

func (w *clientWriter) write(ctx context.Context, line string) (Result, error) {
	if err := w.api.WriteRecord(ctx, line); err != nil {
		res := Result{}
		var herr *ihttp.Error
		if errors.As(err, &herr) {
			res.StatusCode = herr.StatusCode
			res.Body = herr.Message
		}
		return res, fmt.Errorf("%w: %w", ErrWriteFailed, err)
	}
	return Result{StatusCode: http.StatusNoContent}, nil
}
