// Package bridge moves probe frames between the phone-facing MQTT
// broker and the server's NATS subjects. Phones publish the raw frame
// bytes they receive over BLE; the bridge wraps them in envelopes and
// relays outbound request frames back.
package bridge

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog/log"

	"github.com/probe-link/probe-link-server/internal/config"
	"github.com/probe-link/probe-link-server/internal/models"
	"github.com/probe-link/probe-link-server/pkg/probe"
)

// MQTT topic suffixes under <prefix>/<serial>/
const (
	topicAdvertising = "adv"
	topicStatus      = "status"
	topicUARTRX      = "uart-rx"
	topicUARTTX      = "uart-tx"
	topicConnection  = "connection"
)

// Bridge relays frames between one MQTT broker and NATS
type Bridge struct {
	cfg     config.MQTTConfig
	nc      *nats.Conn
	client  mqtt.Client
	natsSub *nats.Subscription
}

// NewBridge creates the bridge and connects to the MQTT broker
func NewBridge(cfg config.MQTTConfig, nc *nats.Conn) (*Bridge, error) {
	b := &Bridge{cfg: cfg, nc: nc}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(cfg.Broker)
	opts.SetClientID(cfg.ClientID)

	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}

	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectTimeout(cfg.Timeout)
	opts.SetKeepAlive(30 * time.Second)
	opts.SetOrderMatters(true)

	opts.SetOnConnectHandler(func(client mqtt.Client) {
		log.Info().Str("broker", cfg.Broker).Msg("MQTT connected")
		// (Re)subscribe on every connect so reconnects recover the
		// subscriptions.
		if err := b.subscribeMQTT(); err != nil {
			log.Error().Err(err).Msg("Failed to subscribe MQTT topics")
		}
	})

	opts.SetConnectionLostHandler(func(client mqtt.Client, err error) {
		log.Error().Err(err).Msg("MQTT connection lost")
	})

	b.client = mqtt.NewClient(opts)

	token := b.client.Connect()
	if !token.WaitTimeout(cfg.Timeout) {
		return nil, fmt.Errorf("connect mqtt broker %s: timeout", cfg.Broker)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("connect mqtt broker %s: %w", cfg.Broker, err)
	}

	return b, nil
}

// Start relays until the context is cancelled
func (b *Bridge) Start(ctx context.Context) error {
	sub, err := b.nc.Subscribe("probe.*.uart.tx", b.handleOutboundFrame)
	if err != nil {
		return fmt.Errorf("subscribe uart tx: %w", err)
	}
	b.natsSub = sub

	log.Info().
		Str("prefix", b.cfg.TopicPrefix).
		Msg("Transport bridge started")

	<-ctx.Done()

	b.natsSub.Unsubscribe()
	b.client.Disconnect(250)

	return ctx.Err()
}

// subscribeMQTT attaches the inbound frame handlers
func (b *Bridge) subscribeMQTT() error {
	inbound := map[string]string{
		topicAdvertising: models.SubjectAdvertising,
		topicStatus:      models.SubjectStatus,
		topicUARTRX:      models.SubjectUARTRX,
	}

	for suffix, subjectFormat := range inbound {
		filter := fmt.Sprintf("%s/+/%s", b.cfg.TopicPrefix, suffix)
		subject := subjectFormat

		token := b.client.Subscribe(filter, b.cfg.QoS, func(client mqtt.Client, msg mqtt.Message) {
			b.relayFrame(msg, subject)
		})
		if !token.WaitTimeout(b.cfg.Timeout) {
			return fmt.Errorf("subscribe %s: timeout", filter)
		}
		if err := token.Error(); err != nil {
			return fmt.Errorf("subscribe %s: %w", filter, err)
		}
	}

	filter := fmt.Sprintf("%s/+/%s", b.cfg.TopicPrefix, topicConnection)
	token := b.client.Subscribe(filter, b.cfg.QoS, b.relayConnection)
	if !token.WaitTimeout(b.cfg.Timeout) {
		return fmt.Errorf("subscribe %s: timeout", filter)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("subscribe %s: %w", filter, err)
	}

	return nil
}

// relayFrame wraps raw frame bytes in an envelope and publishes them
func (b *Bridge) relayFrame(msg mqtt.Message, subjectFormat string) {
	serial, err := b.serialFromTopic(msg.Topic())
	if err != nil {
		log.Warn().Err(err).Str("topic", msg.Topic()).Msg("Dropping frame with bad topic")
		return
	}

	env := models.FrameEnvelope{
		SerialNumber: serial,
		Payload:      msg.Payload(),
		ReceivedAt:   time.Now(),
	}

	data, err := json.Marshal(env)
	if err != nil {
		log.Error().Err(err).Msg("Failed to marshal frame envelope")
		return
	}

	subject := fmt.Sprintf(subjectFormat, serial.String())
	if err := b.nc.Publish(subject, data); err != nil {
		log.Error().Err(err).Str("subject", subject).Msg("Failed to publish frame")
		return
	}

	log.Debug().
		Str("serial_number", serial.String()).
		Str("subject", subject).
		Int("size", len(msg.Payload())).
		Msg("Frame relayed")
}

// relayConnection publishes a connection transition. The phone app
// sends the state name as the payload.
func (b *Bridge) relayConnection(client mqtt.Client, msg mqtt.Message) {
	serial, err := b.serialFromTopic(msg.Topic())
	if err != nil {
		log.Warn().Err(err).Str("topic", msg.Topic()).Msg("Dropping connection event with bad topic")
		return
	}

	state := models.ConnectionState(strings.TrimSpace(string(msg.Payload())))
	if !state.Valid() {
		log.Warn().
			Str("serial_number", serial.String()).
			Str("state", string(state)).
			Msg("Dropping unknown connection state")
		return
	}

	env := models.ConnectionEnvelope{
		SerialNumber: serial,
		State:        state,
		ChangedAt:    time.Now(),
	}

	data, err := json.Marshal(env)
	if err != nil {
		log.Error().Err(err).Msg("Failed to marshal connection envelope")
		return
	}

	subject := fmt.Sprintf(models.SubjectConnection, serial.String())
	if err := b.nc.Publish(subject, data); err != nil {
		log.Error().Err(err).Str("subject", subject).Msg("Failed to publish connection event")
		return
	}

	log.Info().
		Str("serial_number", serial.String()).
		Str("state", string(state)).
		Msg("Connection event relayed")
}

// handleOutboundFrame forwards a request frame to the phone app
func (b *Bridge) handleOutboundFrame(msg *nats.Msg) {
	var env models.FrameEnvelope
	if err := json.Unmarshal(msg.Data, &env); err != nil {
		log.Error().Err(err).Str("subject", msg.Subject).Msg("Failed to unmarshal outbound frame")
		return
	}

	topic := fmt.Sprintf("%s/%s/%s", b.cfg.TopicPrefix, env.SerialNumber.String(), topicUARTTX)

	token := b.client.Publish(topic, b.cfg.QoS, false, []byte(env.Payload))
	if !token.WaitTimeout(b.cfg.Timeout) {
		log.Error().Str("topic", topic).Msg("MQTT publish timeout")
		return
	}
	if err := token.Error(); err != nil {
		log.Error().Err(err).Str("topic", topic).Msg("Failed to publish outbound frame")
		return
	}

	log.Debug().
		Str("serial_number", env.SerialNumber.String()).
		Str("topic", topic).
		Int("size", len(env.Payload)).
		Msg("Request frame relayed")
}

// serialFromTopic extracts the serial from <prefix>/<serial>/<suffix>
func (b *Bridge) serialFromTopic(topic string) (probe.SerialNumber, error) {
	parts := strings.Split(topic, "/")
	if len(parts) < 3 {
		return 0, fmt.Errorf("topic %q: missing serial segment", topic)
	}
	return probe.ParseSerialNumber(parts[len(parts)-2])
}
