package alert

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/cenkalti/backoff/v5"
	"golang.org/x/time/rate"

	"keygate/internal/constants"
)

// Webhook posts events as a single embed to a Discord-compatible webhook.
type Webhook struct {
	url      string
	client   *http.Client
	limiter  *rate.Limiter
	maxTries uint
	interval time.Duration
	title    string
	color    int
}

type WebhookOption func(*Webhook)

func WithHTTPClient(c *http.Client) WebhookOption {
	return func(w *Webhook) { w.client = c }
}

// WithRateLimit caps posts per minute; burst is the number that may go out
// back to back.
func WithRateLimit(perMinute, burst int) WebhookOption {
	return func(w *Webhook) {
		w.limiter = rate.NewLimiter(rate.Every(time.Minute/time.Duration(perMinute)), burst)
	}
}

// WithRetry sets the attempt budget and the first retry interval.
func WithRetry(maxTries uint, interval time.Duration) WebhookOption {
	return func(w *Webhook) {
		w.maxTries = maxTries
		w.interval = interval
	}
}

func WithTitle(title string) WebhookOption {
	return func(w *Webhook) { w.title = title }
}

func NewWebhook(url string, opts ...WebhookOption) *Webhook {
	w := &Webhook{
		url:      url,
		client:   &http.Client{Timeout: constants.AlertTimeout},
		limiter:  rate.NewLimiter(rate.Every(time.Minute/constants.WebhookPerMinute), 5),
		maxTries: constants.WebhookMaxTries,
		interval: 500 * time.Millisecond,
		title:    constants.AlertTitle,
		color:    constants.AlertColor,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

type embed struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	Color       int    `json:"color"`
	Timestamp   string `json:"timestamp"`
}

type webhookPayload struct {
	Embeds []embed `json:"embeds"`
}

// StatusError is a non-2xx webhook response.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("webhook returned %d: %s", e.Code, e.Body)
}

func (w *Webhook) Send(ctx context.Context, ev Event) error {
	body, err := json.Marshal(webhookPayload{Embeds: []embed{{
		Title:       w.title,
		Description: ev.Message(),
		Color:       w.color,
		Timestamp:   ev.Time.UTC().Format(time.RFC3339),
	}}})
	if err != nil {
		return fmt.Errorf("failed to encode webhook payload: %w", err)
	}

	if err := w.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("webhook rate limit: %w", err)
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = w.interval

	_, err = backoff.Retry(ctx, func() (struct{}, error) {
		return struct{}{}, w.post(ctx, body)
	},
		backoff.WithBackOff(b),
		backoff.WithMaxTries(w.maxTries),
	)
	return err
}

func (w *Webhook) post(ctx context.Context, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return backoff.Permanent(err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.client.Do(req)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return backoff.Permanent(err)
		}
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		io.Copy(io.Discard, resp.Body)
		return nil
	}

	snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	statusErr := &StatusError{Code: resp.StatusCode, Body: string(snippet)}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		if secs, ok := retryAfterSeconds(resp.Header.Get("Retry-After")); ok {
			return backoff.RetryAfter(secs)
		}
		return statusErr
	case resp.StatusCode >= 500:
		return statusErr
	default:
		return backoff.Permanent(statusErr)
	}
}

// retryAfterSeconds parses a Retry-After header given in (possibly
// fractional) seconds, rounding up.
func retryAfterSeconds(v string) (int, bool) {
	if v == "" {
		return 0, false
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil || f < 0 {
		return 0, false
	}
	return int(math.Ceil(f)), true
}
