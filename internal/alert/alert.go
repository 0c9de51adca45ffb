package alert

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/hazz-dev/livewatch/internal/policy"
)

// Alerter posts a webhook whenever the watchdog reboots the device.
type Alerter struct {
	webhookURL string
	cooldown   time.Duration
	client     *http.Client
	lastAlert  time.Time
	mu         sync.Mutex
	wg         sync.WaitGroup
	logger     *slog.Logger
}

// New creates a new Alerter. Pass nil logger to use the default logger.
func New(webhookURL string, cooldown time.Duration, logger *slog.Logger) *Alerter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Alerter{
		webhookURL: webhookURL,
		cooldown:   cooldown,
		client:     &http.Client{Timeout: 10 * time.Second},
		logger:     logger,
	}
}

type webhookPayload struct {
	Channel   string `json:"channel"`
	Failures  int    `json:"failures"`
	Outcome   string `json:"outcome"`
	CheckedAt string `json:"checked_at"`
	Source    string `json:"source"`
}

// Notify sends a webhook for a tick that tripped, unless one was sent
// within the cooldown. Other ticks are ignored.
func (a *Alerter) Notify(r policy.TickResult) {
	if !r.Tripped {
		return
	}

	a.mu.Lock()
	if !a.lastAlert.IsZero() && time.Since(a.lastAlert) < a.cooldown {
		a.mu.Unlock()
		a.logger.Info("alert suppressed by cooldown", "channel", r.Channel)
		return
	}
	a.lastAlert = time.Now()
	a.mu.Unlock()

	// Sent asynchronously so the tick is not held up by the webhook.
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		a.send(r)
	}()
}

// Wait blocks until in-flight webhooks have finished.
func (a *Alerter) Wait() {
	a.wg.Wait()
}

func (a *Alerter) send(r policy.TickResult) {
	payload := webhookPayload{
		Channel:   r.Channel,
		Failures:  r.Failures,
		Outcome:   string(r.Reboot),
		CheckedAt: r.StartedAt.UTC().Format(time.RFC3339),
		Source:    "livewatch",
	}

	body, err := json.Marshal(payload)
	if err != nil {
		a.logger.Error("marshaling webhook payload", "channel", r.Channel, "error", err)
		return
	}

	resp, err := a.client.Post(a.webhookURL, "application/json", bytes.NewReader(body))
	if err != nil {
		a.logger.Error("sending webhook", "channel", r.Channel, "url", a.webhookURL, "error", err)
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		a.logger.Warn("webhook returned non-2xx status",
			"channel", r.Channel,
			"status", resp.StatusCode,
		)
	}
}
