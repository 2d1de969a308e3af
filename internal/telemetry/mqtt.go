// Package telemetry publishes match-server lifecycle events to an MQTT
// broker for external monitoring. Everything here is fire-and-forget;
// broker trouble never touches gameplay.
package telemetry

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog"

	"github.com/ivans-csu/super-cow-powers/internal/config"
	"github.com/ivans-csu/super-cow-powers/internal/events"
	"github.com/ivans-csu/super-cow-powers/internal/util"
)

// Publisher manages the MQTT connection and forwards bus events to the
// broker as JSON messages under the configured topic prefix.
type Publisher struct {
	cfg    config.MQTTConfig
	bus    *events.Bus
	client mqtt.Client
	logger zerolog.Logger

	// metadata is included in every message
	metadata map[string]interface{}
}

// NewPublisher creates an MQTT telemetry publisher.
func NewPublisher(cfg config.MQTTConfig, bus *events.Bus) (*Publisher, error) {
	if !cfg.Enabled {
		return nil, fmt.Errorf("MQTT telemetry is disabled")
	}

	sysInfo := util.GetSystemInfo()
	p := &Publisher{
		cfg:    cfg,
		bus:    bus,
		logger: util.ComponentLogger("telemetry"),
		metadata: map[string]interface{}{
			"hostname": sysInfo.Hostname,
			"os":       sysInfo.OS,
		},
	}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(fmt.Sprintf("tcp://%s:%d", cfg.BrokerURL, cfg.Port))

	if cfg.ClientID != "" {
		opts.SetClientID(cfg.ClientID)
	} else {
		opts.SetClientID(fmt.Sprintf("reversid-%s", sysInfo.Hostname))
	}
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}

	opts.SetAutoReconnect(true)
	opts.SetMaxReconnectInterval(30 * time.Second)
	opts.SetKeepAlive(60 * time.Second)
	opts.SetCleanSession(true)

	opts.SetOnConnectHandler(func(mqtt.Client) {
		p.logger.Info().Msg("MQTT connected")
	})
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		p.logger.Warn().Err(err).Msg("MQTT connection lost")
	})

	p.client = mqtt.NewClient(opts)
	return p, nil
}

// Start connects to the broker, subscribes to bus events, and blocks
// until the context is cancelled.
func (p *Publisher) Start(ctx context.Context) error {
	p.logger.Info().
		Str("broker", p.cfg.BrokerURL).
		Int("port", p.cfg.Port).
		Msg("connecting to MQTT broker")

	token := p.client.Connect()
	if token.Wait() && token.Error() != nil {
		return fmt.Errorf("MQTT connect failed: %w", token.Error())
	}

	p.subscribeEvents()

	<-ctx.Done()
	p.publish(p.topic("admin"), map[string]interface{}{"event": "shutdown"})
	p.client.Disconnect(5000)
	p.logger.Info().Msg("MQTT disconnected")
	return nil
}

func (p *Publisher) subscribeEvents() {
	p.bus.Subscribe(events.EventGameCreated, "mqtt.gameCreated", p.onMatchEvent("game_created"))
	p.bus.Subscribe(events.EventGameStarted, "mqtt.gameStarted", p.onMatchEvent("game_started"))
	p.bus.Subscribe(events.EventGameOver, "mqtt.gameOver", p.onMatchEvent("game_over"))
	p.bus.Subscribe(events.EventSessionConnected, "mqtt.sessionConnected", p.onSessionEvent("connected"))
	p.bus.Subscribe(events.EventSessionDisconnected, "mqtt.sessionDisconnected", p.onSessionEvent("disconnected"))
}

func (p *Publisher) onMatchEvent(name string) events.HandlerFunc {
	return func(e events.Event) {
		p.publish(p.topic("match"), map[string]interface{}{
			"event":   name,
			"payload": e.Payload,
		})
	}
}

func (p *Publisher) onSessionEvent(name string) events.HandlerFunc {
	return func(e events.Event) {
		p.publish(p.topic("session"), map[string]interface{}{
			"event":   name,
			"payload": e.Payload,
		})
	}
}

func (p *Publisher) topic(suffix string) string {
	return fmt.Sprintf("%s/%s", p.cfg.TopicPrefix, suffix)
}

// publish sends a JSON message to a topic at QoS 1, without waiting for
// delivery on the caller's goroutine.
func (p *Publisher) publish(topic string, payload map[string]interface{}) {
	if !p.client.IsConnected() {
		return
	}

	msg := make(map[string]interface{}, len(p.metadata)+len(payload)+1)
	for k, v := range p.metadata {
		msg[k] = v
	}
	for k, v := range payload {
		msg[k] = v
	}
	msg["timestamp"] = time.Now().UTC().Format(time.RFC3339)

	data, err := json.Marshal(msg)
	if err != nil {
		p.logger.Warn().Err(err).Str("topic", topic).Msg("failed to marshal MQTT message")
		return
	}

	token := p.client.Publish(topic, 1, false, data)
	go func() {
		token.Wait()
		if token.Error() != nil {
			p.logger.Warn().Err(token.Error()).Str("topic", topic).Msg("MQTT publish failed")
		}
	}()
}
