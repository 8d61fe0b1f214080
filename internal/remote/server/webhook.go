package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"time"
)

// Webhook event names.
const (
	EventRefsDeleted       = "refs_deleted"
	EventTypedRefsRebuilt  = "typed_refs_rebuilt"
	webhookUserAgent       = "refbridge-server/1.0"
	webhookMaxRetries      = 2
	webhookDeliveryTimeout = 10 * time.Second
)

// WebhookEvent represents the payload sent to webhook URLs.
type WebhookEvent struct {
	Event            string   `json:"event"`
	Repo             string   `json:"repo"`
	Refs             []string `json:"refs,omitempty"`
	ExceptWithPrefix []string `json:"except_with_prefix,omitempty"`
	Timestamp        string   `json:"timestamp"`
}

// WebhookConfig holds the list of configured webhook URLs.
type WebhookConfig struct {
	URLs []string
	// AllowPrivate permits delivery to loopback and private addresses.
	AllowPrivate bool
}

// WebhookNotifier sends HTTP POST notifications to configured webhook URLs.
type WebhookNotifier struct {
	config *WebhookConfig
	client *http.Client
	logger *slog.Logger
	sleep  func(time.Duration)
}

// NewWebhookNotifier creates a webhook notifier. Returns nil if no URLs are configured.
func NewWebhookNotifier(cfg *WebhookConfig, logger *slog.Logger) *WebhookNotifier {
	if cfg == nil || len(cfg.URLs) == 0 {
		return nil
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &WebhookNotifier{
		config: cfg,
		client: &http.Client{Timeout: webhookDeliveryTimeout},
		logger: logger,
		sleep:  time.Sleep,
	}
}

// NotifyRefsDeleted reports a successful DeleteRefs call. Delivery runs in
// the background.
func (wn *WebhookNotifier) NotifyRefsDeleted(repo string, refs, exceptWithPrefix []string) {
	if wn == nil {
		return
	}
	wn.notify(&WebhookEvent{
		Event:            EventRefsDeleted,
		Repo:             repo,
		Refs:             refs,
		ExceptWithPrefix: exceptWithPrefix,
	})
}

// NotifyTypedRefsRebuilt reports an admin rebuild of the typed-ref stores.
func (wn *WebhookNotifier) NotifyTypedRefsRebuilt(repo string) {
	if wn == nil {
		return
	}
	wn.notify(&WebhookEvent{Event: EventTypedRefsRebuilt, Repo: repo})
}

func (wn *WebhookNotifier) notify(event *WebhookEvent) {
	event.Timestamp = time.Now().UTC().Format(time.RFC3339)
	go wn.send(event)
}

// send delivers the webhook event to all configured URLs.
func (wn *WebhookNotifier) send(event *WebhookEvent) {
	data, err := json.Marshal(event)
	if err != nil {
		wn.logger.Error("webhook: marshal event", "error", err)
		return
	}

	for _, target := range wn.config.URLs {
		if err := wn.post(target, data); err != nil {
			wn.logger.Warn("webhook: delivery failed", "url", target, "event", event.Event, "error", err)
		} else {
			wn.logger.Debug("webhook: delivered", "url", target, "event", event.Event)
		}
	}
}

// post sends a single webhook POST, retrying transport errors and 5xx.
func (wn *WebhookNotifier) post(target string, data []byte) error {
	if !wn.config.AllowPrivate {
		if err := checkPublicTarget(target); err != nil {
			return err
		}
	}

	var lastErr error
	for attempt := 0; attempt <= webhookMaxRetries; attempt++ {
		req, err := http.NewRequestWithContext(context.Background(), http.MethodPost, target, bytes.NewReader(data))
		if err != nil {
			return fmt.Errorf("create request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("User-Agent", webhookUserAgent)

		resp, err := wn.client.Do(req)
		if err != nil {
			lastErr = err
			wn.sleep(time.Duration(attempt+1) * time.Second)
			continue
		}
		resp.Body.Close()

		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			return nil
		}

		lastErr = fmt.Errorf("HTTP %d", resp.StatusCode)
		if resp.StatusCode < 500 {
			return lastErr // don't retry 4xx
		}
		wn.sleep(time.Duration(attempt+1) * time.Second)
	}

	return lastErr
}

// checkPublicTarget rejects URLs whose host is a literal loopback, private
// or link-local address. Host names are not resolved.
func checkPublicTarget(target string) error {
	u, err := url.Parse(target)
	if err != nil {
		return fmt.Errorf("parse webhook url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("webhook url %q: unsupported scheme", target)
	}
	host := u.Hostname()
	if host == "localhost" {
		return fmt.Errorf("webhook url %q: private address", target)
	}
	if ip := net.ParseIP(host); ip != nil {
		if ip.IsLoopback() || ip.IsPrivate() || ip.IsLinkLocalUnicast() || ip.IsUnspecified() {
			return fmt.Errorf("webhook url %q: private address", target)
		}
	}
	return nil
}
