package notify

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/noah-isme/expiry-discount/internal/events"
	"github.com/noah-isme/expiry-discount/internal/resilience"
)

// ErrRejected marks a delivery the receiver refused with a 4xx status. It is not retried.
var ErrRejected = errors.New("webhook rejected by receiver")

// Endpoint is a webhook receiver subscribed to a set of topics.
type Endpoint struct {
	URL    string
	Secret string
	Topics []string
}

// Accepts reports whether the endpoint subscribes to topic. No topics means all.
func (e Endpoint) Accepts(topic string) bool {
	if len(e.Topics) == 0 {
		return true
	}
	for _, t := range e.Topics {
		if t == topic {
			return true
		}
	}
	return false
}

// ParseEndpoints builds endpoints from configured URLs sharing one secret and topic filter.
func ParseEndpoints(urls []string, secret string, topics []string) ([]Endpoint, error) {
	endpoints := make([]Endpoint, 0, len(urls))
	for _, raw := range urls {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}
		if err := validateURL(raw); err != nil {
			return nil, fmt.Errorf("webhook %q: %w", raw, err)
		}
		endpoints = append(endpoints, Endpoint{URL: raw, Secret: secret, Topics: topics})
	}
	return endpoints, nil
}

// Delivery is one event bound for one endpoint. It is also the queued task payload.
type Delivery struct {
	EndpointURL string       `json:"endpoint_url"`
	Event       events.Event `json:"event"`
}

// Dispatcher fans domain events out to webhook endpoints. With a Queue the
// deliveries are handed to the task worker; otherwise they are sent in the
// background with retries.
type Dispatcher struct {
	Endpoints []Endpoint
	Client    *http.Client
	Breaker   *resilience.Breaker
	Replay    ReplayProtector
	ReplayTTL time.Duration
	Queue     Enqueuer
	Attempts  int
	Backoff   time.Duration
	Logger    zerolog.Logger

	wg sync.WaitGroup
}

// Notify implements events.Notifier.
func (d *Dispatcher) Notify(ctx context.Context, ev events.Event) error {
	if d == nil {
		return nil
	}
	var joined error
	for _, ep := range d.Endpoints {
		if !ep.Accepts(ev.Topic) {
			continue
		}
		delivery := Delivery{EndpointURL: ep.URL, Event: ev}
		if d.Queue != nil {
			if err := d.enqueue(ctx, delivery); err != nil {
				joined = errors.Join(joined, err)
			}
			continue
		}
		d.wg.Add(1)
		go func() {
			defer d.wg.Done()
			d.deliverWithRetry(context.WithoutCancel(ctx), delivery)
		}()
	}
	return joined
}

// Wait blocks until background deliveries started by Notify have finished.
func (d *Dispatcher) Wait() { d.wg.Wait() }

func (d *Dispatcher) deliverWithRetry(ctx context.Context, delivery Delivery) {
	logger := d.Logger.With().Str("endpoint", delivery.EndpointURL).Str("topic", delivery.Event.Topic).Logger()
	var permanent error
	err := resilience.Retry(ctx, d.Attempts, d.backoff(), func(ctx context.Context) error {
		err := d.Deliver(ctx, delivery)
		if errors.Is(err, ErrRejected) {
			permanent = err
			return nil
		}
		return err
	})
	switch {
	case permanent != nil:
		logger.Warn().Err(permanent).Msg("webhook rejected")
	case err != nil:
		logger.Error().Err(err).Msg("webhook delivery failed")
	default:
		logger.Debug().Msg("webhook delivered")
	}
}

func (d *Dispatcher) backoff() time.Duration {
	if d.Backoff <= 0 {
		return 500 * time.Millisecond
	}
	return d.Backoff
}

func (d *Dispatcher) endpoint(rawURL string) (Endpoint, bool) {
	for _, ep := range d.Endpoints {
		if ep.URL == rawURL {
			return ep, true
		}
	}
	return Endpoint{}, false
}

// Deliver performs one signed POST of the event to its endpoint.
func (d *Dispatcher) Deliver(ctx context.Context, delivery Delivery) error {
	ep, ok := d.endpoint(delivery.EndpointURL)
	if !ok {
		return fmt.Errorf("%w: endpoint %s is no longer configured", ErrRejected, delivery.EndpointURL)
	}
	ev := delivery.Event
	ctx, span := otel.Tracer("notify.Dispatcher").Start(ctx, "Dispatcher.Deliver")
	defer span.End()
	span.SetAttributes(
		attribute.String("webhook.endpoint", ep.URL),
		attribute.String("webhook.event_id", ev.ID.String()),
		attribute.String("webhook.topic", ev.Topic),
	)

	if d.Replay != nil && d.ReplayTTL > 0 {
		ok, err := d.Replay.Acquire(ctx, replayKey(ep.URL, ev.ID.String()), d.ReplayTTL)
		if err != nil {
			span.RecordError(err)
			return err
		}
		if !ok {
			span.AddEvent("delivery replay prevented")
			return nil
		}
	}

	err := d.Breaker.Do(ctx, func() error { return d.post(ctx, ep, ev) }, func(err error) bool {
		return errors.Is(err, ErrRejected)
	})
	if err != nil {
		span.RecordError(err)
		if d.Replay != nil && d.ReplayTTL > 0 && !errors.Is(err, ErrRejected) {
			_ = d.Replay.Release(context.WithoutCancel(ctx), replayKey(ep.URL, ev.ID.String()))
		}
	}
	return err
}

func (d *Dispatcher) post(ctx context.Context, ep Endpoint, ev events.Event) error {
	body, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	ts := time.Now().Unix()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, ep.URL, bytes.NewReader(body))
	if err != nil {
		return err
	}
	eventID := ev.ID.String()
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "expiry-discount-webhooks/1.0")
	req.Header.Set("X-Event-ID", eventID)
	req.Header.Set("X-Event-Topic", ev.Topic)
	req.Header.Set("X-Timestamp", strconv.FormatInt(ts, 10))
	req.Header.Set("X-Signature", ComputeSignature(ep.Secret, ts, eventID, body))

	client := d.Client
	if client == nil {
		client = HTTPClient(5 * time.Second)
	}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return nil
	case resp.StatusCode >= 400 && resp.StatusCode < 500 && resp.StatusCode != http.StatusTooManyRequests:
		return fmt.Errorf("%w: status %d: %s", ErrRejected, resp.StatusCode, strings.TrimSpace(string(snippet)))
	default:
		return fmt.Errorf("webhook status %d: %s", resp.StatusCode, strings.TrimSpace(string(snippet)))
	}
}

func validateURL(raw string) error {
	parsed, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid endpoint url: %w", err)
	}
	if parsed.Scheme != "https" && parsed.Scheme != "http" {
		return errors.New("webhook url must be http or https")
	}
	if parsed.Host == "" {
		return errors.New("webhook url must include host")
	}
	if parsed.Scheme == "http" {
		host := parsed.Hostname()
		if host != "localhost" && host != "127.0.0.1" {
			return errors.New("http webhook only allowed for localhost")
		}
	}
	return nil
}

// ComputeSignature is HMAC-SHA256 over "<ts>.<eventID>.<body>" keyed by the endpoint secret.
func ComputeSignature(secret string, ts int64, eventID string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	_, _ = mac.Write([]byte(strconv.FormatInt(ts, 10)))
	_, _ = mac.Write([]byte("."))
	_, _ = mac.Write([]byte(eventID))
	_, _ = mac.Write([]byte("."))
	_, _ = mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// HTTPClient returns an instrumented client for webhook delivery.
func HTTPClient(timeout time.Duration) *http.Client {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &http.Client{
		Timeout:   timeout,
		Transport: otelhttp.NewTransport(http.DefaultTransport),
	}
}
