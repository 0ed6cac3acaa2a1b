// Package webhook delivers domain events to HTTP endpoints signed with
// HMAC-SHA256.
package webhook

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/jordanlanch/commissionengine/pkg/events"
	"github.com/jordanlanch/commissionengine/pkg/logger"
	"github.com/jordanlanch/commissionengine/pkg/rules"
)

// Header names set on every delivery
const (
	HeaderSignature = "X-Signature"
	HeaderEvent     = "X-Webhook-Event"
)

// Dispatcher POSTs signed domain events to a fixed set of URLs
type Dispatcher struct {
	urls       []string
	secret     string
	httpClient *http.Client
	maxRetries int
	backoff    time.Duration
	log        logger.Logger
}

// Option configures a Dispatcher
type Option func(*Dispatcher)

// WithHTTPClient replaces the default client
func WithHTTPClient(c *http.Client) Option {
	return func(d *Dispatcher) { d.httpClient = c }
}

// WithRetries sets the retry count and the base of the exponential backoff
func WithRetries(n int, backoff time.Duration) Option {
	return func(d *Dispatcher) {
		d.maxRetries = n
		d.backoff = backoff
	}
}

// WithLogger sets the logger
func WithLogger(l logger.Logger) Option {
	return func(d *Dispatcher) { d.log = l }
}

// NewDispatcher creates a dispatcher signing with secret
func NewDispatcher(urls []string, secret string, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		urls:   urls,
		secret: secret,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
		maxRetries: 3,
		backoff:    time.Second,
		log:        logger.Nop(),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Publish implements rules.Publisher. Every URL is attempted; the joined
// errors of the URLs that never accepted the event are returned.
func (d *Dispatcher) Publish(ctx context.Context, ev rules.DomainEvent) error {
	body, err := events.Encode(ev, time.Now())
	if err != nil {
		return err
	}
	signature := Sign(body, d.secret)

	var errs []error
	for _, url := range d.urls {
		if err := d.deliver(ctx, url, ev.EventName(), body, signature); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", url, err))
		}
	}
	return errors.Join(errs...)
}

func (d *Dispatcher) deliver(ctx context.Context, url, event string, body []byte, signature string) error {
	var lastErr error
	for attempt := 0; attempt <= d.maxRetries; attempt++ {
		if attempt > 0 {
			// 1x, 2x, 4x ... the base backoff
			wait := d.backoff << uint(attempt-1)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(wait):
			}
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
		if err != nil {
			return fmt.Errorf("failed to create webhook request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set(HeaderSignature, signature)
		req.Header.Set(HeaderEvent, event)

		resp, err := d.httpClient.Do(req)
		if err != nil {
			lastErr = err
			d.log.Warn("webhook delivery failed", "url", url, "attempt", attempt+1, "error", err)
			continue
		}
		resp.Body.Close()
		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			d.log.Debug("webhook delivered", "url", url, "event", event)
			return nil
		}
		lastErr = fmt.Errorf("unexpected status %d", resp.StatusCode)
		d.log.Warn("webhook returned error status", "url", url, "status", resp.StatusCode, "attempt", attempt+1)
	}
	return fmt.Errorf("failed after %d attempts: %w", d.maxRetries+1, lastErr)
}

// Sign returns the hex HMAC-SHA256 of payload
func Sign(payload []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature verifies the HMAC signature of a webhook payload
func VerifySignature(payload []byte, signature, secret string) bool {
	return hmac.Equal([]byte(signature), []byte(Sign(payload, secret)))
}

var _ rules.Publisher = (*Dispatcher)(nil)
