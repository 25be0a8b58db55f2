// Package integration forwards reconciled records and upload-state
// transitions to external systems.
package integration

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog/log"

	"github.com/probe-link/probe-link-server/internal/config"
	"github.com/probe-link/probe-link-server/internal/models"
)

// ForwarderService relays record and state envelopes from NATS to the
// configured MQTT brokers and HTTP webhooks.
type ForwarderService struct {
	nc  *nats.Conn
	cfg config.IntegrationConfig

	mqttClients map[string]mqtt.Client
	clientsMu   sync.RWMutex

	httpClient *http.Client
}

// NewForwarderService creates the forwarder
func NewForwarderService(nc *nats.Conn, cfg config.IntegrationConfig) *ForwarderService {
	return &ForwarderService{
		nc:          nc,
		cfg:         cfg,
		mqttClients: make(map[string]mqtt.Client),
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// Start subscribes and runs until the context is cancelled
func (s *ForwarderService) Start(ctx context.Context) error {
	if len(s.cfg.MQTT) == 0 && len(s.cfg.HTTP) == 0 {
		log.Info().Msg("No integrations configured, forwarder idle")
		<-ctx.Done()
		return nil
	}

	subRecord, err := s.nc.Subscribe("probe.*.record", s.handleRecord)
	if err != nil {
		return fmt.Errorf("subscribe to records: %w", err)
	}

	subState, err := s.nc.Subscribe("probe.*.state", s.handleState)
	if err != nil {
		return fmt.Errorf("subscribe to states: %w", err)
	}

	log.Info().
		Int("mqtt", len(s.cfg.MQTT)).
		Int("http", len(s.cfg.HTTP)).
		Msg("Integration forwarder service started")

	<-ctx.Done()

	subRecord.Unsubscribe()
	subState.Unsubscribe()
	s.closeAllMQTTConnections()

	return nil
}

// handleRecord forwards one reconciled record
func (s *ForwarderService) handleRecord(msg *nats.Msg) {
	var env models.RecordEnvelope
	if err := json.Unmarshal(msg.Data, &env); err != nil {
		log.Error().Err(err).Msg("Failed to parse record envelope")
		return
	}

	payload := map[string]interface{}{
		"type":           "record",
		"serialNumber":   env.SerialNumber.String(),
		"sessionId":      env.SessionID,
		"sequenceNumber": env.SequenceNumber,
		"temperatures":   env.Temperatures,
		"receivedAt":     env.ReceivedAt,
	}

	s.forward(env.SerialNumber.String(), payload)
}

// handleState forwards one upload-state transition
func (s *ForwarderService) handleState(msg *nats.Msg) {
	var env models.StateEnvelope
	if err := json.Unmarshal(msg.Data, &env); err != nil {
		log.Error().Err(err).Msg("Failed to parse state envelope")
		return
	}

	payload := map[string]interface{}{
		"type":         "state",
		"serialNumber": env.SerialNumber.String(),
		"state":        env.State,
		"changedAt":    env.ChangedAt,
	}

	s.forward(env.SerialNumber.String(), payload)
}

func (s *ForwarderService) forward(serial string, payload map[string]interface{}) {
	jsonData, err := json.Marshal(payload)
	if err != nil {
		log.Error().Err(err).Msg("Failed to marshal forward payload")
		return
	}

	for i := range s.cfg.HTTP {
		go s.forwardToHTTP(&s.cfg.HTTP[i], jsonData)
	}

	for i := range s.cfg.MQTT {
		go s.forwardToMQTT(&s.cfg.MQTT[i], serial, jsonData)
	}
}

// forwardToHTTP posts the payload to one webhook
func (s *ForwarderService) forwardToHTTP(cfg *config.HTTPIntegration, jsonData []byte) {
	req, err := http.NewRequest("POST", cfg.Endpoint, bytes.NewBuffer(jsonData))
	if err != nil {
		log.Error().Err(err).Str("integration", cfg.Name).Msg("Failed to create HTTP request")
		return
	}

	req.Header.Set("Content-Type", "application/json")
	for k, v := range cfg.Headers {
		req.Header.Set(k, v)
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		log.Error().
			Err(err).
			Str("integration", cfg.Name).
			Str("endpoint", cfg.Endpoint).
			Msg("Failed to forward to HTTP")
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		log.Error().
			Int("status", resp.StatusCode).
			Str("integration", cfg.Name).
			Str("endpoint", cfg.Endpoint).
			Msg("HTTP forward failed")
	} else {
		log.Debug().
			Str("integration", cfg.Name).
			Str("endpoint", cfg.Endpoint).
			Msg("Forwarded to HTTP")
	}
}

// forwardToMQTT publishes the payload to one external broker
func (s *ForwarderService) forwardToMQTT(cfg *config.MQTTIntegration, serial string, jsonData []byte) {
	client := s.getMQTTClient(cfg.Name)
	if client == nil {
		client = s.createMQTTClient(cfg)
		if client == nil {
			return
		}
	}

	topic := strings.ReplaceAll(cfg.TopicTemplate, "{serial}", serial)

	token := client.Publish(topic, cfg.QoS, false, jsonData)
	if token.WaitTimeout(5 * time.Second) {
		if err := token.Error(); err != nil {
			log.Error().
				Err(err).
				Str("integration", cfg.Name).
				Str("topic", topic).
				Msg("Failed to publish to MQTT")
		} else {
			log.Debug().
				Str("integration", cfg.Name).
				Str("topic", topic).
				Msg("Forwarded to MQTT")
		}
	} else {
		log.Error().
			Str("integration", cfg.Name).
			Str("topic", topic).
			Msg("MQTT publish timeout")
	}
}

// getMQTTClient returns a live pooled client, or nil
func (s *ForwarderService) getMQTTClient(name string) mqtt.Client {
	s.clientsMu.RLock()
	client, exists := s.mqttClients[name]
	s.clientsMu.RUnlock()

	if exists && client.IsConnected() {
		return client
	}

	return nil
}

// createMQTTClient connects a client for one integration
func (s *ForwarderService) createMQTTClient(cfg *config.MQTTIntegration) mqtt.Client {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(cfg.Broker)
	opts.SetClientID(fmt.Sprintf("probe-link-fwd-%s", cfg.Name))

	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}

	if cfg.TLS {
		opts.SetTLSConfig(&tls.Config{
			InsecureSkipVerify: true, // TODO: load CA from integration config
		})
	}

	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectTimeout(10 * time.Second)
	opts.SetKeepAlive(30 * time.Second)

	opts.SetOnConnectHandler(func(client mqtt.Client) {
		log.Info().
			Str("integration", cfg.Name).
			Msg("MQTT client connected")
	})

	opts.SetConnectionLostHandler(func(client mqtt.Client, err error) {
		log.Error().
			Err(err).
			Str("integration", cfg.Name).
			Msg("MQTT connection lost")
	})

	client := mqtt.NewClient(opts)
	token := client.Connect()

	if token.WaitTimeout(10*time.Second) && token.Error() == nil {
		s.clientsMu.Lock()
		s.mqttClients[cfg.Name] = client
		s.clientsMu.Unlock()
		return client
	}

	log.Error().
		Err(token.Error()).
		Str("integration", cfg.Name).
		Msg("Failed to connect MQTT client")

	return nil
}

// closeAllMQTTConnections disconnects every pooled client
func (s *ForwarderService) closeAllMQTTConnections() {
	s.clientsMu.Lock()
	defer s.clientsMu.Unlock()

	for name, client := range s.mqttClients {
		if client.IsConnected() {
			client.Disconnect(250)
		}
		delete(s.mqttClients, name)

		log.Info().
			Str("integration", name).
			Msg("MQTT client disconnected")
	}
}
