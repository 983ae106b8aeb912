package webhooks

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/mbd888/defiintel/internal/idgen"
	"github.com/mbd888/defiintel/internal/metrics"
	"github.com/mbd888/defiintel/internal/realtime"
	"github.com/mbd888/defiintel/internal/retry"
	"github.com/mbd888/defiintel/internal/traces"
)

// Delivery headers.
const (
	HeaderEvent     = "X-DefiIntel-Event"
	HeaderDelivery  = "X-DefiIntel-Delivery"
	HeaderTimestamp = "X-DefiIntel-Timestamp"
	HeaderSignature = "X-DefiIntel-Signature"
)

const (
	// DefaultMaxFailures consecutive failed deliveries deactivate a subscription.
	DefaultMaxFailures = 10

	deliveryTimeout = 30 * time.Second
)

// Dispatcher fans events out to matching subscriptions. Deliveries run in
// the background; Drain waits for them.
type Dispatcher struct {
	store       Store
	client      *http.Client
	logger      *slog.Logger
	policy      retry.Policy
	validateURL func(string) error
	maxFailures int
	now         func() time.Time

	wg       sync.WaitGroup
	updateMu sync.Mutex
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithLogger sets the dispatcher logger.
func WithLogger(l *slog.Logger) Option {
	return func(d *Dispatcher) { d.logger = l }
}

// WithHTTPClient replaces the delivery client.
func WithHTTPClient(c *http.Client) Option {
	return func(d *Dispatcher) { d.client = c }
}

// WithRetryPolicy sets how often a delivery is attempted.
func WithRetryPolicy(p retry.Policy) Option {
	return func(d *Dispatcher) { d.policy = p }
}

// WithURLValidator checks a callback URL right before each delivery.
func WithURLValidator(fn func(string) error) Option {
	return func(d *Dispatcher) { d.validateURL = fn }
}

// WithMaxFailures sets how many consecutive failures deactivate a
// subscription. Zero never deactivates.
func WithMaxFailures(n int) Option {
	return func(d *Dispatcher) { d.maxFailures = n }
}

// NewDispatcher creates a dispatcher over store.
func NewDispatcher(store Store, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		store:       store,
		client:      &http.Client{Timeout: 10 * time.Second},
		logger:      slog.Default(),
		policy:      retry.Policy{Attempts: 3, BaseDelay: time.Second, MaxDelay: 10 * time.Second},
		validateURL: func(string) error { return nil },
		maxFailures: DefaultMaxFailures,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// BroadcastRiskAlert delivers a risk.alert event.
func (d *Dispatcher) BroadcastRiskAlert(alert *realtime.RiskAlert) {
	d.Notify(EventRiskAlert, alert.Subject, alert.Score, alert)
}

// BroadcastModelTrained delivers a model.trained event.
func (d *Dispatcher) BroadcastModelTrained(info *realtime.ModelTrained) {
	d.Notify(EventModelTrained, "", 0, info)
}

// Notify queues delivery of an event to every subscription that wants it.
// It returns once deliveries are started.
func (d *Dispatcher) Notify(t EventType, subject string, score int, data any) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	subs, err := d.store.ListByEvent(ctx, t)
	cancel()
	if err != nil {
		d.logger.Warn("webhook lookup failed", "event", t, "error", err)
		return
	}

	event := &Event{ID: idgen.Event(), Type: t, Timestamp: d.now().UTC(), Data: data}
	body, err := json.Marshal(event)
	if err != nil {
		d.logger.Error("webhook event not encodable", "event", t, "error", err)
		return
	}

	for _, sub := range subs {
		if !sub.Wants(t, subject, score) {
			continue
		}
		d.wg.Add(1)
		go func(sub *Subscription) {
			defer d.wg.Done()
			ctx, cancel := context.WithTimeout(context.Background(), deliveryTimeout)
			defer cancel()
			d.deliver(ctx, sub, event, body)
		}(sub)
	}
}

// Drain waits for in-flight deliveries or until ctx ends.
func (d *Dispatcher) Drain(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (d *Dispatcher) deliver(ctx context.Context, sub *Subscription, event *Event, body []byte) {
	ctx, span := traces.StartSpan(ctx, "webhooks.deliver", traces.Webhook(sub.ID))
	defer span.End()

	err := d.validateURL(sub.URL)
	if err == nil {
		err = retry.Do(ctx, d.policy, func(int) error {
			return d.post(ctx, sub, event, body)
		})
	}

	outcome := "success"
	if err != nil {
		outcome = "failure"
		traces.Fail(span, err)
		d.logger.Warn("webhook delivery failed",
			"webhook", sub.ID, "event", event.Type, "delivery", event.ID, "error", err)
	}
	metrics.WebhookDeliveriesTotal.WithLabelValues(string(event.Type), outcome).Inc()
	d.recordResult(sub.ID, err)
}

func (d *Dispatcher) post(ctx context.Context, sub *Subscription, event *Event, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, sub.URL, bytes.NewReader(body))
	if err != nil {
		return retry.Permanent(fmt.Errorf("build request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "defiintel-webhooks/1")
	req.Header.Set(HeaderEvent, string(event.Type))
	req.Header.Set(HeaderDelivery, event.ID)
	req.Header.Set(HeaderTimestamp, strconv.FormatInt(event.Timestamp.Unix(), 10))
	req.Header.Set(HeaderSignature, Sign(sub.Secret, event.Timestamp, body))
	traces.Inject(ctx, req.Header)

	resp, err := d.client.Do(req)
	if err != nil {
		return err
	}
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
	_ = resp.Body.Close()

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return nil
	case resp.StatusCode == http.StatusRequestTimeout,
		resp.StatusCode == http.StatusTooManyRequests,
		resp.StatusCode >= 500:
		return fmt.Errorf("status %d", resp.StatusCode)
	default:
		return retry.Permanent(fmt.Errorf("status %d", resp.StatusCode))
	}
}

// recordResult updates delivery bookkeeping on the stored subscription,
// deactivating it after too many consecutive failures.
func (d *Dispatcher) recordResult(id string, deliveryErr error) {
	d.updateMu.Lock()
	defer d.updateMu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	sub, err := d.store.Get(ctx, id)
	if errors.Is(err, ErrNotFound) {
		return
	}
	if err != nil {
		d.logger.Warn("webhook status not saved", "webhook", id, "error", err)
		return
	}

	if deliveryErr == nil {
		now := d.now().UTC()
		sub.LastSuccess = &now
		sub.LastError = ""
		sub.ConsecutiveFailures = 0
	} else {
		sub.LastError = deliveryErr.Error()
		sub.ConsecutiveFailures++
		if d.maxFailures > 0 && sub.ConsecutiveFailures >= d.maxFailures && sub.Active {
			sub.Active = false
			d.logger.Warn("webhook deactivated after repeated failures",
				"webhook", id, "failures", sub.ConsecutiveFailures)
		}
	}
	if err := d.store.Update(ctx, sub); err != nil && !errors.Is(err, ErrNotFound) {
		d.logger.Warn("webhook status not saved", "webhook", id, "error", err)
	}
}
