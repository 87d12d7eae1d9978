package events

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Endpoint is a registered webhook destination for emitted events.
type Endpoint struct {
	ID        string    `json:"id"`
	URL       string    `json:"url"`
	Secret    string    `json:"secret,omitempty"`
	Events    []string  `json:"events"` // empty = all event types
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
}

// DeliveryAttempt records a single attempt to deliver an event to an endpoint.
type DeliveryAttempt struct {
	ID         string    `json:"id"`
	EndpointID string    `json:"endpoint_id"`
	EventID    string    `json:"event_id"`
	EventType  string    `json:"event_type"`
	Signature  string    `json:"signature"`
	StatusCode int       `json:"status_code"`
	Attempt    int       `json:"attempt"`
	Status     string    `json:"status"` // "success" or "failed"
	Error      string    `json:"error,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

const defaultMaxAttempts = 5

// defaultBackoff is the delay before retry attempt n (1-indexed).
// Schedule: 30s, 1m, 5m, 15m, 1h.
func defaultBackoff(attempt int) time.Duration {
	switch attempt {
	case 1:
		return 30 * time.Second
	case 2:
		return 1 * time.Minute
	case 3:
		return 5 * time.Minute
	case 4:
		return 15 * time.Minute
	default:
		return 1 * time.Hour
	}
}

// WebhookSink delivers published events to registered endpoints as signed
// JSON payloads. Delivery happens on a background goroutine per event so
// publishing never blocks on a slow consumer; Flush waits for in-flight
// deliveries.
type WebhookSink struct {
	mu        sync.RWMutex
	endpoints map[string]*Endpoint
	order     []string
	log       []*DeliveryAttempt

	client      *http.Client
	logger      zerolog.Logger
	maxAttempts int
	backoff     func(attempt int) time.Duration

	wg sync.WaitGroup
}

// SinkOption configures a WebhookSink.
type SinkOption func(*WebhookSink)

// WithHTTPClient overrides the HTTP client used for delivery.
func WithHTTPClient(c *http.Client) SinkOption {
	return func(s *WebhookSink) { s.client = c }
}

// WithBackoff overrides the retry backoff schedule.
func WithBackoff(fn func(attempt int) time.Duration) SinkOption {
	return func(s *WebhookSink) { s.backoff = fn }
}

// WithMaxAttempts overrides the per-event delivery attempt limit.
func WithMaxAttempts(n int) SinkOption {
	return func(s *WebhookSink) { s.maxAttempts = n }
}

func NewWebhookSink(logger zerolog.Logger, opts ...SinkOption) *WebhookSink {
	s := &WebhookSink{
		endpoints:   make(map[string]*Endpoint),
		client:      &http.Client{Timeout: 10 * time.Second},
		logger:      logger,
		maxAttempts: defaultMaxAttempts,
		backoff:     defaultBackoff,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// RegisterEndpoint adds a webhook destination. An empty secret is replaced
// with a generated one so every delivery can be signed.
func (s *WebhookSink) RegisterEndpoint(endpointURL, secret string, eventTypes []string) (*Endpoint, error) {
	u, err := url.Parse(endpointURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("invalid endpoint url %q", endpointURL)
	}

	if secret == "" {
		secret, err = generateSecret()
		if err != nil {
			return nil, fmt.Errorf("generate endpoint secret: %w", err)
		}
	}

	ep := &Endpoint{
		ID:        uuid.New().String(),
		URL:       endpointURL,
		Secret:    secret,
		Events:    append([]string(nil), eventTypes...),
		Status:    "active",
		CreatedAt: time.Now().UTC(),
	}

	s.mu.Lock()
	s.endpoints[ep.ID] = ep
	s.order = append(s.order, ep.ID)
	s.mu.Unlock()

	return ep, nil
}

// Endpoints lists registered endpoints in registration order.
func (s *WebhookSink) Endpoints() []*Endpoint {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Endpoint, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.endpoints[id])
	}
	return out
}

// Deliveries returns the delivery log in attempt order.
func (s *WebhookSink) Deliveries() []*DeliveryAttempt {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*DeliveryAttempt, len(s.log))
	copy(out, s.log)
	return out
}

// OnEvent implements the bus ListenerFunc shape; it dispatches delivery in
// the background.
func (s *WebhookSink) OnEvent(ctx context.Context, ev Event) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.Deliver(context.WithoutCancel(ctx), ev)
	}()
}

// Flush blocks until all in-flight deliveries have finished.
func (s *WebhookSink) Flush() {
	s.wg.Wait()
}

// Deliver sends the event to every matching endpoint, retrying failed
// deliveries on the backoff schedule up to the attempt limit.
func (s *WebhookSink) Deliver(ctx context.Context, ev Event) {
	payload, err := json.Marshal(ev)
	if err != nil {
		s.logger.Error().Err(err).Str("event_id", ev.ID.String()).Msg("marshal event payload")
		return
	}

	s.mu.RLock()
	targets := make([]*Endpoint, 0, len(s.order))
	for _, id := range s.order {
		ep := s.endpoints[id]
		if ep.Status == "active" && endpointWants(ep, ev.Type) {
			targets = append(targets, ep)
		}
	}
	s.mu.RUnlock()

	for _, ep := range targets {
		s.deliverTo(ctx, ep, ev, payload)
	}
}

func (s *WebhookSink) deliverTo(ctx context.Context, ep *Endpoint, ev Event, payload []byte) {
	signature := Sign(ep.Secret, payload)

	for attempt := 1; attempt <= s.maxAttempts; attempt++ {
		statusCode, err := s.post(ctx, ep, payload, signature)

		rec := &DeliveryAttempt{
			ID:         uuid.New().String(),
			EndpointID: ep.ID,
			EventID:    ev.ID.String(),
			EventType:  ev.Type,
			Signature:  signature,
			StatusCode: statusCode,
			Attempt:    attempt,
			CreatedAt:  time.Now().UTC(),
		}

		if err == nil && statusCode >= 200 && statusCode < 300 {
			rec.Status = "success"
			s.record(rec)
			return
		}

		rec.Status = "failed"
		if err != nil {
			rec.Error = err.Error()
		} else {
			rec.Error = fmt.Sprintf("http status %d", statusCode)
		}
		s.record(rec)

		s.logger.Error().
			Str("endpoint_id", ep.ID).
			Str("event_id", ev.ID.String()).
			Int("attempt", attempt).
			Str("error", rec.Error).
			Msg("webhook delivery failed")

		if attempt < s.maxAttempts {
			select {
			case <-ctx.Done():
				return
			case <-time.After(s.backoff(attempt)):
			}
		}
	}
}

func (s *WebhookSink) post(ctx context.Context, ep *Endpoint, payload []byte, signature string) (int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, ep.URL, bytes.NewReader(payload))
	if err != nil {
		return 0, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Registry-Signature", signature)

	resp, err := s.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("http post: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	return resp.StatusCode, nil
}

func (s *WebhookSink) record(rec *DeliveryAttempt) {
	s.mu.Lock()
	s.log = append(s.log, rec)
	s.mu.Unlock()
}

func endpointWants(ep *Endpoint, eventType string) bool {
	if len(ep.Events) == 0 {
		return true
	}
	for _, t := range ep.Events {
		if t == eventType {
			return true
		}
	}
	return false
}

// Sign computes the hex HMAC-SHA256 of the payload, prefixed for the
// X-Registry-Signature header.
func Sign(secret string, payload []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature reports whether the signature matches the payload. Audit
// consumers use the same function on their side.
func VerifySignature(secret string, payload []byte, signature string) bool {
	return hmac.Equal([]byte(Sign(secret, payload)), []byte(signature))
}

func generateSecret() (string, error) {
	b := make([]byte, 24)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
