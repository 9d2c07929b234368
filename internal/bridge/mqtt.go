package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog/log"

	"github.com/V1vekW/OPTIC-SHIELD/internal/config"
	"github.com/V1vekW/OPTIC-SHIELD/internal/ingest"
)

const (
	mqttDetectionTopic = "devices/+/detection"
	mqttHeartbeatTopic = "devices/+/heartbeat"
)

// MQTTBridge subscribes to device topics on a broker and relays them to
// the ingestion service
type MQTTBridge struct {
	client  mqtt.Client
	service *ingest.Service
}

// NewMQTTBridge connects to the broker and creates the bridge
func NewMQTTBridge(cfg *config.MQTTConfig, service *ingest.Service) (*MQTTBridge, error) {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(cfg.Broker)
	opts.SetClientID(cfg.ClientID)
	opts.SetUsername(cfg.Username)
	opts.SetPassword(cfg.Password)
	opts.SetAutoReconnect(true)
	opts.SetKeepAlive(60 * time.Second)
	opts.SetPingTimeout(10 * time.Second)
	opts.SetOnConnectHandler(func(c mqtt.Client) {
		log.Info().Str("broker", cfg.Broker).Msg("MQTT bridge connected")
	})
	opts.SetConnectionLostHandler(func(c mqtt.Client, err error) {
		log.Warn().Err(err).Msg("MQTT bridge connection lost")
	})

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return nil, fmt.Errorf("connect to MQTT broker: %w", token.Error())
	}

	return &MQTTBridge{
		client:  client,
		service: service,
	}, nil
}

// Start subscribes to the device topics
func (b *MQTTBridge) Start() error {
	if err := b.subscribe(mqttDetectionTopic, b.handleDetection); err != nil {
		return fmt.Errorf("subscribe detection topic: %w", err)
	}
	if err := b.subscribe(mqttHeartbeatTopic, b.handleHeartbeat); err != nil {
		return fmt.Errorf("subscribe heartbeat topic: %w", err)
	}

	log.Info().Msg("MQTT bridge started")
	return nil
}

func (b *MQTTBridge) subscribe(topic string, handler mqtt.MessageHandler) error {
	token := b.client.Subscribe(topic, 1, handler)
	if token.Wait() && token.Error() != nil {
		return token.Error()
	}
	return nil
}

// Close disconnects from the broker
func (b *MQTTBridge) Close() {
	b.client.Disconnect(250)
	log.Info().Msg("MQTT bridge disconnected")
}

func (b *MQTTBridge) handleDetection(client mqtt.Client, msg mqtt.Message) {
	log.Debug().
		Str("topic", msg.Topic()).
		Int("size", len(msg.Payload())).
		Msg("Received MQTT detection")

	var payload ingest.DetectionPayload
	if err := json.Unmarshal(msg.Payload(), &payload); err != nil {
		log.Error().Err(err).Msg("Failed to unmarshal MQTT detection")
		return
	}

	if payload.DeviceID == "" {
		payload.DeviceID = topicDeviceID(msg.Topic())
	}

	if _, err := b.service.IngestDetection(context.Background(), &payload); err != nil {
		if errors.Is(err, ingest.ErrSpeciesRejected) || errors.Is(err, ingest.ErrMalformedPayload) {
			log.Info().
				Err(err).
				Str("deviceID", payload.DeviceID).
				Msg("MQTT detection rejected")
			return
		}
		log.Error().Err(err).Msg("Failed to ingest MQTT detection")
	}
}

func (b *MQTTBridge) handleHeartbeat(client mqtt.Client, msg mqtt.Message) {
	log.Debug().
		Str("topic", msg.Topic()).
		Msg("Received MQTT heartbeat")

	var payload ingest.HeartbeatPayload
	if err := json.Unmarshal(msg.Payload(), &payload); err != nil {
		log.Error().Err(err).Msg("Failed to unmarshal MQTT heartbeat")
		return
	}

	if payload.DeviceID == "" {
		payload.DeviceID = topicDeviceID(msg.Topic())
	}

	if _, err := b.service.Heartbeat(context.Background(), &payload); err != nil {
		log.Error().Err(err).Msg("Failed to process MQTT heartbeat")
	}
}

// topicDeviceID extracts the device segment from "devices/<id>/<kind>"
func topicDeviceID(topic string) string {
	parts := strings.Split(topic, "/")
	if len(parts) != 3 || parts[0] != "devices" {
		return ""
	}
	return parts[1]
}
