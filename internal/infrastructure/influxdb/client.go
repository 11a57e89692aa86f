package influxdb

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"

	"github.com/nerrad567/gray-logic-recorder/internal/infrastructure/config"
)

const (
	connectTimeout = 10 * time.Second
	pingTimeout    = 5 * time.Second

	defaultBatchSize     = 100
	defaultFlushInterval = 10 * time.Second

	// DefaultMeasurement holds mirrored entity states when none is configured.
	DefaultMeasurement = "entity_states"
)

// MirrorStats counts points handed to the write API and the asynchronous
// write failures reported back for them.
type MirrorStats struct {
	Written uint64 `json:"written"`
	Failed  uint64 `json:"failed"`
}

// Client mirrors committed entity states into an InfluxDB bucket.
//
// Points go through the client library's non-blocking write API, so a slow
// or unreachable server never holds up the recorder's writer goroutine.
// Write failures arrive later on the error callback and in Stats.
//
// Thread Safety: All methods are safe for concurrent use.
type Client struct {
	client      influxdb2.Client
	writeAPI    api.WriteAPI
	measurement string

	mu      sync.RWMutex
	open    bool
	onError func(err error)

	written atomic.Uint64
	failed  atomic.Uint64
}

// mirrorOptions derives the write options and measurement from cfg,
// applying defaults for unset values.
func mirrorOptions(cfg config.InfluxDBConfig) (*influxdb2.Options, string) {
	batchSize := cfg.BatchSize
	if batchSize <= 0 {
		batchSize = defaultBatchSize
	}
	flush := time.Duration(cfg.FlushInterval) * time.Second
	if flush <= 0 {
		flush = defaultFlushInterval
	}
	measurement := cfg.Measurement
	if measurement == "" {
		measurement = DefaultMeasurement
	}

	// #nosec G115 -- both values are positive after the defaults above
	opts := influxdb2.DefaultOptions().
		SetBatchSize(uint(batchSize)).
		SetFlushInterval(uint(flush.Milliseconds()))
	return opts, measurement
}

// Connect opens the state mirror.
//
// The server must answer a ping before the client is returned; a mirror
// that cannot reach its server fails here rather than dropping points.
//
// Parameters:
//   - cfg: The influxdb section of the recorder config
//
// Returns:
//   - *Client: A mirror ready for WriteEntityState
//   - error: ErrDisabled when the mirror is off, or ErrConnectionFailed
func Connect(cfg config.InfluxDBConfig) (*Client, error) {
	if !cfg.Enabled {
		return nil, ErrDisabled
	}

	opts, measurement := mirrorOptions(cfg)
	client := influxdb2.NewClientWithOptions(cfg.URL, cfg.Token, opts)

	ctx, cancel := context.WithTimeout(context.Background(), connectTimeout)
	defer cancel()

	healthy, err := client.Ping(ctx)
	if err == nil && !healthy {
		err = errors.New("server not healthy")
	}
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("%w: %s: %w", ErrConnectionFailed, cfg.URL, err)
	}

	c := &Client{
		client:      client,
		writeAPI:    client.WriteAPI(cfg.Org, cfg.Bucket),
		measurement: measurement,
		open:        true,
	}
	go c.watchErrors(c.writeAPI.Errors())

	return c, nil
}

// watchErrors counts asynchronous write failures and forwards them to the
// error callback. It ends when the write API closes errs.
func (c *Client) watchErrors(errs <-chan error) {
	for err := range errs {
		c.failed.Add(1)

		c.mu.RLock()
		callback := c.onError
		c.mu.RUnlock()
		if callback != nil {
			callback(err)
		}
	}
}

// Close flushes buffered points and closes the mirror. Close on a nil or
// never-connected client is a no-op.
func (c *Client) Close() error {
	if c == nil || c.client == nil {
		return nil
	}

	c.mu.Lock()
	c.open = false
	c.mu.Unlock()

	c.writeAPI.Flush()
	c.client.Close()
	return nil
}

// HealthCheck pings the server.
func (c *Client) HealthCheck(ctx context.Context) error {
	if !c.IsConnected() {
		return ErrNotConnected
	}

	checkCtx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()

	healthy, err := c.client.Ping(checkCtx)
	if err != nil {
		return fmt.Errorf("influxdb health check failed: %w", err)
	}
	if !healthy {
		return errors.New("influxdb health check failed: server not healthy")
	}
	return nil
}

// IsConnected reports whether the mirror is open. It does not ping.
func (c *Client) IsConnected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.open
}

// SetOnError sets the callback for asynchronous write failures.
func (c *Client) SetOnError(callback func(err error)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onError = callback
}

// Stats returns the mirror counters.
func (c *Client) Stats() MirrorStats {
	return MirrorStats{
		Written: c.written.Load(),
		Failed:  c.failed.Load(),
	}
}

// Flush blocks until buffered points are sent. It is a no-op once closed.
func (c *Client) Flush() {
	if c.writeAPI == nil || !c.IsConnected() {
		return
	}
	c.writeAPI.Flush()
}
