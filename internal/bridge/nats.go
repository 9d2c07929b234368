// Package bridge feeds detections and heartbeats from message brokers
// into the ingestion service. Relay gateways in the field publish over
// NATS or MQTT when devices cannot reach the HTTP API directly; both
// bridges are optional and enabled by configuration.
package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog/log"

	"github.com/V1vekW/OPTIC-SHIELD/internal/ingest"
)

// NATSBridge subscribes to telemetry subjects and relays them to the
// ingestion service
type NATSBridge struct {
	nc      *nats.Conn
	service *ingest.Service
	subs    []*nats.Subscription
}

// NewNATSBridge creates a NATS bridge
func NewNATSBridge(nc *nats.Conn, service *ingest.Service) *NATSBridge {
	return &NATSBridge{
		nc:      nc,
		service: service,
		subs:    make([]*nats.Subscription, 0),
	}
}

// Start starts subscriptions and blocks until the context is canceled
func (b *NATSBridge) Start(ctx context.Context) error {
	sub1, err := b.nc.Subscribe("telemetry.device.*.detection", b.handleDetection)
	if err != nil {
		return fmt.Errorf("subscribe detection: %w", err)
	}
	b.subs = append(b.subs, sub1)

	sub2, err := b.nc.Subscribe("telemetry.device.*.heartbeat", b.handleHeartbeat)
	if err != nil {
		return fmt.Errorf("subscribe heartbeat: %w", err)
	}
	b.subs = append(b.subs, sub2)

	log.Info().
		Int("subscriptions", len(b.subs)).
		Msg("NATS bridge started")

	<-ctx.Done()

	for _, sub := range b.subs {
		sub.Unsubscribe()
	}

	return ctx.Err()
}

// handleDetection handles one relayed detection report
func (b *NATSBridge) handleDetection(msg *nats.Msg) {
	log.Debug().
		Str("subject", msg.Subject).
		Int("size", len(msg.Data)).
		Msg("Received relayed detection")

	var payload ingest.DetectionPayload
	if err := json.Unmarshal(msg.Data, &payload); err != nil {
		log.Error().Err(err).Msg("Failed to unmarshal relayed detection")
		return
	}

	if payload.DeviceID == "" {
		payload.DeviceID = subjectDeviceID(msg.Subject)
	}

	ctx := context.Background()
	if _, err := b.service.IngestDetection(ctx, &payload); err != nil {
		// Admission rejections are expected traffic on this path
		if errors.Is(err, ingest.ErrSpeciesRejected) || errors.Is(err, ingest.ErrMalformedPayload) {
			log.Info().
				Err(err).
				Str("deviceID", payload.DeviceID).
				Msg("Relayed detection rejected")
			return
		}
		log.Error().Err(err).Msg("Failed to ingest relayed detection")
	}
}

// handleHeartbeat handles one relayed heartbeat
func (b *NATSBridge) handleHeartbeat(msg *nats.Msg) {
	log.Debug().
		Str("subject", msg.Subject).
		Msg("Received relayed heartbeat")

	var payload ingest.HeartbeatPayload
	if err := json.Unmarshal(msg.Data, &payload); err != nil {
		log.Error().Err(err).Msg("Failed to unmarshal relayed heartbeat")
		return
	}

	if payload.DeviceID == "" {
		payload.DeviceID = subjectDeviceID(msg.Subject)
	}

	ctx := context.Background()
	if _, err := b.service.Heartbeat(ctx, &payload); err != nil {
		log.Error().Err(err).Msg("Failed to process relayed heartbeat")
	}
}

// subjectDeviceID extracts the device segment from
// "telemetry.device.<id>.<kind>"
func subjectDeviceID(subject string) string {
	parts := strings.Split(subject, ".")
	if len(parts) != 4 || parts[0] != "telemetry" || parts[1] != "device" {
		return ""
	}
	return parts[2]
}
