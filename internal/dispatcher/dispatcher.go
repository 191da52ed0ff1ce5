// Package dispatcher delivers transformed payloads to a webhook's
// destination URL over HTTP and reports the outcome — it never returns an
// error to its caller, since a failed delivery is itself a recordable
// outcome, not a failure of the dispatcher.
package dispatcher

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"
)

// MaxResponseBodyBytes bounds how much of a destination's response body is
// retained in the audit trail.
const MaxResponseBodyBytes = 64 * 1024

// Outcome is the result of one delivery attempt.
type Outcome struct {
	Success      bool
	StatusCode   int
	ResponseBody string
	Duration     time.Duration
}

// Dispatcher performs HTTP POST deliveries with a bounded timeout.
type Dispatcher struct {
	client  *http.Client
	timeout time.Duration
	logger  *zap.Logger
}

// New constructs a Dispatcher. timeout bounds each delivery independently
// of the caller's context, so a slow destination can't hold a request open
// past this limit even if the inbound client never disconnects.
func New(timeout time.Duration, logger *zap.Logger) *Dispatcher {
	return &Dispatcher{
		client:  &http.Client{},
		timeout: timeout,
		logger:  logger,
	}
}

// Dispatch POSTs payload to destinationURL as application/json. ctx is
// threaded through so an inbound client disconnect can abort the call; the
// dispatcher additionally imposes its own timeout regardless of ctx.
func (d *Dispatcher) Dispatch(ctx context.Context, destinationURL string, payload []byte) Outcome {
	start := time.Now()

	reqCtx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, destinationURL, bytes.NewReader(payload))
	if err != nil {
		return Outcome{Success: false, StatusCode: 0, ResponseBody: err.Error(), Duration: time.Since(start)}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.client.Do(req)
	if err != nil {
		d.logger.Info("dispatch failed", zap.String("destination_url", destinationURL), zap.Error(err))
		return Outcome{Success: false, StatusCode: 0, ResponseBody: err.Error(), Duration: time.Since(start)}
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, MaxResponseBodyBytes))

	success := resp.StatusCode >= 200 && resp.StatusCode < 300
	return Outcome{
		Success:      success,
		StatusCode:   resp.StatusCode,
		ResponseBody: string(body),
		Duration:     time.Since(start),
	}
}
