package stream

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/time/rate"

	"github.com/orblink/orblink/internal/metrics"
)

// client manages a single SSE connection's write operations. When bandwidth
// is non-nil, every write is paced through the token bucket so one stream
// cannot saturate the uplink.
type client struct {
	w         http.ResponseWriter
	flusher   http.Flusher
	rc        *http.ResponseController
	ip        string
	logger    *slog.Logger
	bandwidth *rate.Limiter
}

// sendJSON marshals v as JSON and sends it as an SSE "data:" message.
// SSE format: "data: {json}\n\n"
func (c *client) sendJSON(ctx context.Context, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("json marshal: %w", err)
	}
	return c.write(ctx, fmt.Sprintf("data: %s\n\n", data), true)
}

// sendKeepalive sends an SSE comment line to keep the connection alive.
// SSE comment format: ":\n\n"
func (c *client) sendKeepalive(ctx context.Context) error {
	return c.write(ctx, ":\n\n", false)
}

func (c *client) write(ctx context.Context, msg string, isMessage bool) error {
	if c.bandwidth != nil {
		if err := c.bandwidth.WaitN(ctx, len(msg)); err != nil {
			return fmt.Errorf("bandwidth wait: %w", err)
		}
	}

	// Extend the write deadline before each write so long-lived connections
	// are not killed by the server's default timeout.
	if err := c.rc.SetWriteDeadline(time.Now().Add(30 * time.Second)); err != nil {
		c.logger.Debug("could not set write deadline", "error", err)
	}

	n, err := fmt.Fprint(c.w, msg)
	if err != nil {
		return fmt.Errorf("write: %w", err)
	}
	c.flusher.Flush()

	if isMessage {
		metrics.IncStreamMessages()
	}
	metrics.AddStreamBytes(int64(n))
	return nil
}
