package alert

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/wardstone/wardstone/pkg/httputil"
	"github.com/wardstone/wardstone/pkg/threat"
)

// maxConcurrentDeliveries bounds in-flight webhook posts. Past capacity,
// batches are dropped rather than queued behind a slow receiver.
const maxConcurrentDeliveries = 10

// webhookPayload is what a receiver gets per fired batch.
type webhookPayload struct {
	FiredAt int64           `json:"firedAt"` // epoch ms
	Alerts  []threat.Threat `json:"alerts"`
}

// Notifier delivers fired alerts to an external webhook. Delivery is best
// effort: failures are logged, never retried, and never block detection.
type Notifier struct {
	client *http.Client
	sem    *httputil.Semaphore
}

// NewNotifier builds a notifier over the shared delivery client.
func NewNotifier() *Notifier {
	return &Notifier{
		client: httputil.DeliveryClient(),
		sem:    httputil.NewSemaphore(maxConcurrentDeliveries),
	}
}

// Deliver posts the batch in the background. Returns false when the batch
// was dropped because too many deliveries are already in flight.
func (n *Notifier) Deliver(url string, alerts []threat.Threat) bool {
	if url == "" || len(alerts) == 0 {
		return false
	}
	if !n.sem.TryAcquire() {
		log.Printf("[WARN] webhook delivery dropped, %d in flight (total dropped %d)",
			n.sem.InUse(), n.sem.DroppedCount())
		return false
	}
	go func() {
		defer n.sem.Release()
		ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
		defer cancel()
		if err := n.Post(ctx, url, alerts); err != nil {
			log.Printf("[WARN] webhook delivery failed: %v", err)
		}
	}()
	return true
}

// Post sends one batch synchronously. Non-2xx responses are errors.
func (n *Notifier) Post(ctx context.Context, url string, alerts []threat.Threat) error {
	payload, err := json.Marshal(webhookPayload{
		FiredAt: time.Now().UnixMilli(),
		Alerts:  alerts,
	})
	if err != nil {
		return fmt.Errorf("alert: encode webhook payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("alert: build webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("alert: post webhook: %w", err)
	}
	defer httputil.DrainAndClose(resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := httputil.ReadResponseBody(resp.Body, 4096)
		return fmt.Errorf("alert: webhook returned %d: %s", resp.StatusCode, body)
	}
	return nil
}
