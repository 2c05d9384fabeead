// Package notify delivers fired alerts to an external webhook.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	"github.com/progress-analytics-server/internal/domain"
)

// EventAlertCreated is the event name carried by every webhook payload.
const EventAlertCreated = "alert.created"

// Payload is the JSON body posted to the webhook.
type Payload struct {
	Event  string       `json:"event"`
	SentAt time.Time    `json:"sent_at"`
	Alert  domain.Alert `json:"alert"`
}

// WebhookNotifier posts alerts at or above a minimum severity. Deliveries are rate limited
// and guarded by a circuit breaker.
type WebhookNotifier struct {
	url         string
	minSeverity domain.Severity
	client      *http.Client
	limiter     *rate.Limiter
	breaker     *gobreaker.CircuitBreaker
	log         *logrus.Logger
	now         domain.Clock
}

// NewWebhookNotifier builds a notifier from the notifications section.
func NewWebhookNotifier(config domain.NotificationsConfig, logger *logrus.Logger) (*WebhookNotifier, error) {
	if config.WebhookURL == "" {
		return nil, fmt.Errorf("webhook url is required")
	}

	minSeverity := domain.Severity(config.MinSeverity)
	if config.MinSeverity == "" {
		minSeverity = domain.SeverityOrange
	}
	if !minSeverity.IsValid() {
		return nil, fmt.Errorf("%w: %s", domain.ErrInvalidSeverity, config.MinSeverity)
	}

	timeout := config.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	perSecond := config.RatePerSecond
	if perSecond <= 0 {
		perSecond = 5
	}
	burst := config.Burst
	if burst <= 0 {
		burst = 1
	}
	threshold := config.BreakerThreshold
	if threshold == 0 {
		threshold = 5
	}
	breakerTimeout := config.BreakerTimeout
	if breakerTimeout <= 0 {
		breakerTimeout = time.Minute
	}

	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "alert-webhook",
		MaxRequests: 1,
		Interval:    5 * time.Minute,
		Timeout:     breakerTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			logger.WithFields(logrus.Fields{
				"breaker": name,
				"from":    from.String(),
				"to":      to.String(),
			}).Warn("Circuit breaker changed state")
		},
	})

	return &WebhookNotifier{
		url:         config.WebhookURL,
		minSeverity: minSeverity,
		client:      &http.Client{Timeout: timeout},
		limiter:     rate.NewLimiter(rate.Limit(perSecond), burst),
		breaker:     breaker,
		log:         logger,
		now:         time.Now,
	}, nil
}

// Notify posts the alert when its severity reaches the configured minimum.
func (w *WebhookNotifier) Notify(ctx context.Context, alert domain.Alert) error {
	if !alert.Severity.AtLeast(w.minSeverity) {
		return nil
	}

	if err := w.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit wait failed: %w", err)
	}

	body, err := json.Marshal(Payload{Event: EventAlertCreated, SentAt: w.now().UTC(), Alert: alert})
	if err != nil {
		return fmt.Errorf("failed to marshal webhook payload: %w", err)
	}

	_, err = w.breaker.Execute(func() (interface{}, error) {
		return nil, w.post(ctx, alert.ID, body)
	})
	if err != nil {
		return fmt.Errorf("failed to deliver alert %s: %w", alert.ID, err)
	}

	w.log.WithFields(logrus.Fields{
		"alert_id": alert.ID,
		"severity": alert.Severity,
	}).Debug("Alert delivered to webhook")
	return nil
}

func (w *WebhookNotifier) post(ctx context.Context, alertID string, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Alert-ID", alertID)

	resp, err := w.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}
	return nil
}
