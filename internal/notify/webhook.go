// Package notify forwards high-priority detections to an external HTTP
// endpoint (alerting integrations live outside this service). Delivery
// is fire-and-forget: a dead endpoint never slows the ingestion path.
package notify

import (
	"bytes"
	"encoding/json"
	"net/http"

	"github.com/rs/zerolog/log"

	"github.com/V1vekW/OPTIC-SHIELD/internal/config"
	"github.com/V1vekW/OPTIC-SHIELD/internal/models"
)

// WebhookNotifier posts detection alerts to a configured endpoint
type WebhookNotifier struct {
	endpoint   string
	headers    map[string]string
	httpClient *http.Client
}

// NewWebhookNotifier creates a notifier from the webhook configuration
func NewWebhookNotifier(cfg *config.WebhookConfig) *WebhookNotifier {
	return &WebhookNotifier{
		endpoint: cfg.Endpoint,
		headers:  cfg.Headers,
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
	}
}

// NotifyDetection posts the detection asynchronously. The image payload
// is stripped; the webhook receives the event reference, not the data.
func (n *WebhookNotifier) NotifyDetection(det *models.Detection) {
	go n.post(det)
}

func (n *WebhookNotifier) post(det *models.Detection) {
	alert := map[string]interface{}{
		"type":        "detection_alert",
		"event_id":    det.EventID,
		"device_id":   det.DeviceID,
		"device_name": det.DeviceName,
		"class_name":  det.ClassName,
		"confidence":  det.Confidence,
		"timestamp":   det.Timestamp,
		"location":    det.Location,
		"priority":    det.Priority(),
	}

	jsonData, err := json.Marshal(alert)
	if err != nil {
		log.Error().Err(err).Msg("Failed to marshal alert payload")
		return
	}

	req, err := http.NewRequest("POST", n.endpoint, bytes.NewBuffer(jsonData))
	if err != nil {
		log.Error().Err(err).Msg("Failed to create alert request")
		return
	}

	req.Header.Set("Content-Type", "application/json")
	for k, v := range n.headers {
		req.Header.Set(k, v)
	}

	resp, err := n.httpClient.Do(req)
	if err != nil {
		log.Error().
			Err(err).
			Str("endpoint", n.endpoint).
			Msg("Failed to deliver detection alert")
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		log.Error().
			Int("status", resp.StatusCode).
			Str("endpoint", n.endpoint).
			Msg("Detection alert delivery failed")
		return
	}

	log.Debug().
		Str("eventID", det.EventID).
		Str("endpoint", n.endpoint).
		Msg("Detection alert delivered")
}
