package webhook

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/cuemby/cargohold/pkg/log"
	"github.com/cuemby/cargohold/pkg/metrics"
	"github.com/cuemby/cargohold/pkg/regerr"
	"github.com/cuemby/cargohold/pkg/security"
	"github.com/cuemby/cargohold/pkg/store"
	"github.com/cuemby/cargohold/pkg/types"
)

// Config configures a Dispatcher.
type Config struct {
	Store   store.Store
	Secrets *security.SecretsManager

	// HTTPClient delivers the signed POST request. Defaults to a client
	// with a 10s timeout.
	HTTPClient *http.Client

	// PollInterval is how often the dispatcher looks for due deliveries.
	PollInterval time.Duration

	// BatchSize caps how many deliveries one poll drains.
	BatchSize int

	// MaxAttempts bounds how many times a delivery is retried before it
	// is dropped for good. Defaults to 8.
	MaxAttempts int

	// InitialBackoff is the delay before the first retry. Defaults to 10s.
	InitialBackoff time.Duration

	// MaxBackoff caps the exponential backoff delay. Defaults to 30m.
	MaxBackoff time.Duration
}

// Dispatcher is the webhook outbox: Notify enqueues a delivery row per
// subscribed webhook, and a background loop drains due rows, delivering
// and rescheduling them independently of the request that triggered the
// event.
type Dispatcher struct {
	cfg Config

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// New creates a Dispatcher. Call Start to begin draining deliveries.
func New(cfg Config) *Dispatcher {
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: 10 * time.Second}
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 5 * time.Second
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 50
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 8
	}
	if cfg.InitialBackoff <= 0 {
		cfg.InitialBackoff = 10 * time.Second
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = 30 * time.Minute
	}
	return &Dispatcher{cfg: cfg, stopCh: make(chan struct{})}
}

// Notify satisfies publish.Notifier. It looks up every active webhook
// subscribed to event for crateName and enqueues one delivery per match.
// Enqueue failures are logged, never returned: a webhook outbox fault
// must never fail the publish/yank request that triggered it.
func (d *Dispatcher) Notify(ctx context.Context, crateName string, event types.WebhookEvent, payload []byte) {
	hooks, err := d.cfg.Store.ListWebhooksForCrate(ctx, crateName, event)
	if err != nil {
		log.WithComponent("webhook").Error().Err(err).Str("crate", crateName).Msg("failed to list webhooks")
		return
	}
	for _, h := range hooks {
		delivery := types.WebhookDelivery{
			WebhookID:   h.ID,
			Event:       event,
			Payload:     payload,
			NextAttempt: time.Now().UTC(),
		}
		if err := d.cfg.Store.CreateWebhookDelivery(ctx, delivery); err != nil {
			log.WithComponent("webhook").Error().Err(err).Str("crate", crateName).Str("webhook", h.ID).Msg("failed to enqueue delivery")
		}
	}
}

// Start launches the background delivery loop.
func (d *Dispatcher) Start(ctx context.Context) {
	d.wg.Add(1)
	go d.loop(ctx)
}

// Stop signals the delivery loop to exit and waits for it to finish.
func (d *Dispatcher) Stop() {
	close(d.stopCh)
	d.wg.Wait()
}

func (d *Dispatcher) loop(ctx context.Context) {
	defer d.wg.Done()
	ticker := time.NewTicker(d.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			d.drain(ctx)
		case <-d.stopCh:
			return
		case <-ctx.Done():
			return
		}
	}
}

func (d *Dispatcher) drain(ctx context.Context) {
	deliveries, err := d.cfg.Store.ListPendingWebhookDeliveries(ctx, d.cfg.BatchSize)
	if err != nil {
		log.WithComponent("webhook").Error().Err(err).Msg("failed to list pending webhook deliveries")
		return
	}
	for _, delivery := range deliveries {
		d.deliver(ctx, delivery)
	}
}

func (d *Dispatcher) deliver(ctx context.Context, delivery types.WebhookDelivery) {
	timer := metrics.NewTimer()
	defer timer.ObserveDuration(metrics.WebhookDeliveryDuration)

	hook, err := d.cfg.Store.GetWebhook(ctx, delivery.WebhookID)
	if regerr.Is(err, regerr.NotFound) {
		// Webhook was deleted after the delivery was enqueued; nothing
		// left to deliver to.
		d.finish(ctx, delivery, 0, "webhook deleted", nil)
		return
	}
	if err != nil {
		log.WithComponent("webhook").Error().Err(err).Str("webhook", delivery.WebhookID).Msg("failed to load webhook")
		return
	}

	secret, err := d.cfg.Secrets.DecryptWebhookSecret(hook.SecretEnc)
	if err != nil {
		log.WithComponent("webhook").Error().Err(err).Str("webhook", hook.ID).Msg("failed to decrypt webhook secret")
		d.finish(ctx, delivery, 0, "secret decryption failed", d.nextAttempt(delivery.Attempts))
		return
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, hook.URL, bytes.NewReader(delivery.Payload))
	if err != nil {
		d.finish(ctx, delivery, 0, err.Error(), nil)
		return
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Cargohold-Event", string(delivery.Event))
	req.Header.Set("X-Cargohold-Signature", signPayload(secret, delivery.Payload))

	resp, err := d.cfg.HTTPClient.Do(req)
	if err != nil {
		metrics.WebhookDeliveriesTotal.WithLabelValues("retry").Inc()
		d.finish(ctx, delivery, 0, err.Error(), d.nextAttempt(delivery.Attempts))
		return
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		metrics.WebhookDeliveriesTotal.WithLabelValues("success").Inc()
		d.finish(ctx, delivery, resp.StatusCode, "", nil)
		return
	}

	if delivery.Attempts+1 >= d.cfg.MaxAttempts {
		metrics.WebhookDeliveriesTotal.WithLabelValues("dropped").Inc()
		log.WithComponent("webhook").Warn().Str("webhook", hook.ID).Int("status", resp.StatusCode).Msg("webhook delivery exhausted retries, dropping")
		d.finish(ctx, delivery, resp.StatusCode, "max attempts exceeded", nil)
		return
	}
	metrics.WebhookDeliveriesTotal.WithLabelValues("retry").Inc()
	d.finish(ctx, delivery, resp.StatusCode, "non-2xx response", d.nextAttempt(delivery.Attempts))
}

func (d *Dispatcher) finish(ctx context.Context, delivery types.WebhookDelivery, status int, deliveryErr string, nextAttempt *time.Time) {
	if err := d.cfg.Store.RecordWebhookDeliveryResult(ctx, delivery.ID, status, deliveryErr, nextAttempt); err != nil {
		log.WithComponent("webhook").Error().Err(err).Str("delivery", delivery.ID).Msg("failed to record delivery result")
	}
}

// nextAttempt computes the next retry time using an exponential backoff
// schedule keyed by how many attempts have already been made. A nil
// return means the delivery should not be retried again.
func (d *Dispatcher) nextAttempt(attemptsSoFar int) *time.Time {
	if attemptsSoFar+1 >= d.cfg.MaxAttempts {
		return nil
	}
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = d.cfg.InitialBackoff
	b.Multiplier = 2
	b.MaxInterval = d.cfg.MaxBackoff

	var wait time.Duration
	for i := 0; i <= attemptsSoFar; i++ {
		wait = b.NextBackOff()
	}
	next := time.Now().UTC().Add(wait)
	return &next
}

func signPayload(secret string, payload []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}
