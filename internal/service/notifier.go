package service

import (
	"bytes"
	"encoding/json"
	"log"
	"net/http"
	"strings"
	"time"
)

// Notifier 对外发送通知事件。发送失败只记录日志，绝不影响主流程。
type Notifier interface {
	PriceChanged(yearbookID uint, oldPrice, newPrice string)
}

// NopNotifier 丢弃所有事件，用于未配置通知渠道的场景与测试。
type NopNotifier struct{}

// PriceChanged implements Notifier.
func (NopNotifier) PriceChanged(uint, string, string) {}

// SettingsNotifier resolves the webhook endpoint from system settings at
// send time, so a changed endpoint takes effect without a restart.
type SettingsNotifier struct {
	settings *SystemSettingService
}

// NewSettingsNotifier creates a SettingsNotifier instance.
func NewSettingsNotifier(settings *SystemSettingService) *SettingsNotifier {
	return &SettingsNotifier{settings: settings}
}

// PriceChanged implements Notifier.
func (n *SettingsNotifier) PriceChanged(yearbookID uint, oldPrice, newPrice string) {
	current, err := n.settings.GetSettings()
	if err != nil {
		log.Printf("notify: load settings: %v", err)
		return
	}
	if current.NotifyWebhookURL == "" {
		return
	}
	NewWebhookNotifier(current.NotifyWebhookURL).PriceChanged(yearbookID, oldPrice, newPrice)
}

// WebhookNotifier posts events as JSON to a configured endpoint.
type WebhookNotifier struct {
	endpoint string
	client   *http.Client
}

// NewWebhookNotifier creates a WebhookNotifier; an empty endpoint yields a
// notifier that silently drops events.
func NewWebhookNotifier(endpoint string) *WebhookNotifier {
	return &WebhookNotifier{
		endpoint: strings.TrimSpace(endpoint),
		client:   &http.Client{Timeout: 10 * time.Second},
	}
}

// PriceChanged implements Notifier.
func (n *WebhookNotifier) PriceChanged(yearbookID uint, oldPrice, newPrice string) {
	if n.endpoint == "" {
		return
	}

	payload, err := json.Marshal(map[string]interface{}{
		"event":       "yearbook.price_changed",
		"yearbook_id": yearbookID,
		"old_price":   oldPrice,
		"new_price":   newPrice,
	})
	if err != nil {
		log.Printf("notify: marshal price change: %v", err)
		return
	}

	resp, err := n.client.Post(n.endpoint, "application/json", bytes.NewReader(payload))
	if err != nil {
		log.Printf("notify: post price change: %v", err)
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		log.Printf("notify: webhook returned %s", resp.Status)
	}
}
