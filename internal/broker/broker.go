// Package broker wraps Redis Streams as the controller's durable
// message log. Three streams carry the Controller<->Invoker traffic:
// invocations, activations_results and heartbeats. Streams are bounded
// with approximate trimming and per-stream FIFO order is provided by
// Redis; no cross-stream ordering is assumed.
package broker

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/redis/go-redis/v9"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"github.com/penguinwhisk/controller/internal/werr"
)

// Message is one stream entry with its monotonic id.
type Message struct {
	ID     string
	Fields map[string]string
}

// Client is the stream broker client. Publish is guarded by a circuit
// breaker so a dead Redis surfaces as ServiceUnavailable quickly
// instead of piling up timeouts.
type Client struct {
	rdb     *redis.Client
	prefix  string
	maxLen  int64
	breaker *gobreaker.CircuitBreaker
	log     *zap.Logger
}

// Options configure the broker client.
type Options struct {
	URL    string
	Prefix string
	MaxLen int64
	Logger *zap.Logger
}

// New connects to Redis, verifies the connection and creates the
// well-known consumer groups.
func New(ctx context.Context, opts Options) (*Client, error) {
	ropts, err := redis.ParseURL(opts.URL)
	if err != nil {
		return nil, errors.Wrap(err, "parse redis URL")
	}
	rdb := redis.NewClient(ropts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		return nil, errors.Wrap(err, "connect to redis")
	}

	c := &Client{
		rdb:    rdb,
		prefix: opts.Prefix,
		maxLen: opts.MaxLen,
		log:    opts.Logger,
		breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:    "broker-publish",
			Timeout: 10 * time.Second,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= 5
			},
		}),
	}

	groups := []struct{ stream, group string }{
		{StreamInvocations, GroupInvokers},
		{StreamResults, GroupControllers},
		{StreamHeartbeats, GroupMonitors},
	}
	for _, g := range groups {
		if err := c.EnsureConsumerGroup(ctx, g.stream, g.group); err != nil {
			return nil, err
		}
	}

	c.log.Info("broker connected",
		zap.String("url", opts.URL),
		zap.Int64("max_len", opts.MaxLen))
	return c, nil
}

// Stream returns the deployment-prefixed stream key.
func (c *Client) Stream(name string) string {
	if c.prefix == "" {
		return name
	}
	return c.prefix + ":" + name
}

// Publish appends fields to a stream and returns the message id.
func (c *Client) Publish(ctx context.Context, stream string, fields map[string]any) (string, error) {
	id, err := c.breaker.Execute(func() (any, error) {
		return c.rdb.XAdd(ctx, &redis.XAddArgs{
			Stream: c.Stream(stream),
			MaxLen: c.maxLen,
			Approx: true,
			Values: fields,
		}).Result()
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return "", werr.Wrap(err, werr.KindServiceUnavailable, "broker circuit open")
		}
		return "", werr.Wrap(err, werr.KindServiceUnavailable, "publish to "+stream)
	}
	return id.(string), nil
}

// ReadBlocking reads new messages after lastID, blocking up to block.
// It returns an empty slice when the block window elapses with nothing
// to deliver.
func (c *Client) ReadBlocking(ctx context.Context, stream, lastID string, block time.Duration, count int64) ([]Message, error) {
	res, err := c.rdb.XRead(ctx, &redis.XReadArgs{
		Streams: []string{c.Stream(stream), lastID},
		Count:   count,
		Block:   block,
	}).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, werr.Wrap(err, werr.KindServiceUnavailable, "read from "+stream)
	}
	var out []Message
	for _, s := range res {
		for _, m := range s.Messages {
			out = append(out, Message{ID: m.ID, Fields: stringFields(m.Values)})
		}
	}
	return out, nil
}

// ReadRecent returns up to count messages in reverse-chronological
// order.
func (c *Client) ReadRecent(ctx context.Context, stream string, count int64) ([]Message, error) {
	res, err := c.rdb.XRevRangeN(ctx, c.Stream(stream), "+", "-", count).Result()
	if err != nil {
		return nil, werr.Wrap(err, werr.KindServiceUnavailable, "revrange "+stream)
	}
	out := make([]Message, 0, len(res))
	for _, m := range res {
		out = append(out, Message{ID: m.ID, Fields: stringFields(m.Values)})
	}
	return out, nil
}

// EnsureConsumerGroup creates a consumer group, tolerating an existing
// one.
func (c *Client) EnsureConsumerGroup(ctx context.Context, stream, group string) error {
	err := c.rdb.XGroupCreateMkStream(ctx, c.Stream(stream), group, "0").Err()
	if err != nil && !strings.Contains(err.Error(), "BUSYGROUP") {
		return werr.Wrap(err, werr.KindServiceUnavailable, "create consumer group "+group)
	}
	return nil
}

// Close releases the underlying connection pool.
func (c *Client) Close() error {
	return c.rdb.Close()
}

// stringFields flattens stream values to strings. Redis delivers
// strings, but foreign producers may publish other scalar types.
func stringFields(values map[string]any) map[string]string {
	fields := make(map[string]string, len(values))
	for k, v := range values {
		switch s := v.(type) {
		case string:
			fields[k] = s
		case []byte:
			fields[k] = string(s)
		default:
			fields[k] = fmt.Sprint(v)
		}
	}
	return fields
}
