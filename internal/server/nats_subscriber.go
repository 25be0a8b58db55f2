package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog/log"

	"github.com/probe-link/probe-link-server/internal/models"
	"github.com/probe-link/probe-link-server/internal/reconcile"
	"github.com/probe-link/probe-link-server/internal/storage"
	"github.com/probe-link/probe-link-server/pkg/probe"
)

// NATSSubscriber consumes probe traffic from the transport bridge,
// feeds it through the per-probe engines and persists the results.
type NATSSubscriber struct {
	nc           *nats.Conn
	store        storage.Store
	registry     *reconcile.Registry
	autoTransfer bool
	subs         []*nats.Subscription

	mu           sync.Mutex
	decodeErrors map[string]uint64
}

// NewNATSSubscriber creates NATS subscriber
func NewNATSSubscriber(nc *nats.Conn, store storage.Store, registry *reconcile.Registry, autoTransfer bool) *NATSSubscriber {
	return &NATSSubscriber{
		nc:           nc,
		store:        store,
		registry:     registry,
		autoTransfer: autoTransfer,
		subs:         make([]*nats.Subscription, 0),
		decodeErrors: make(map[string]uint64),
	}
}

// DecodeErrorCounts returns the running undecodable-frame counters,
// keyed by frame class.
func (s *NATSSubscriber) DecodeErrorCounts() map[string]uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make(map[string]uint64, len(s.decodeErrors))
	for k, v := range s.decodeErrors {
		out[k] = v
	}
	return out
}

// Start starts subscriptions
func (s *NATSSubscriber) Start(ctx context.Context) error {
	subjects := []struct {
		subject string
		handler nats.MsgHandler
	}{
		{"probe.*.adv", s.handleAdvertising},
		{"probe.*.status", s.handleDeviceStatus},
		{"probe.*.uart.rx", s.handleUARTFrame},
		{"probe.*.connection", s.handleConnection},
		{"probe.*.record", s.handleRecord},
		{"probe.*.event", s.handleEngineEvent},
	}

	for _, sub := range subjects {
		ns, err := s.nc.Subscribe(sub.subject, sub.handler)
		if err != nil {
			return fmt.Errorf("subscribe %s: %w", sub.subject, err)
		}
		s.subs = append(s.subs, ns)
	}

	log.Info().
		Int("subscriptions", len(s.subs)).
		Msg("NATS subscriber started")

	<-ctx.Done()

	for _, sub := range s.subs {
		sub.Unsubscribe()
	}

	return ctx.Err()
}

// handleAdvertising handles probe advertisement frames
func (s *NATSSubscriber) handleAdvertising(msg *nats.Msg) {
	var env models.FrameEnvelope
	if err := json.Unmarshal(msg.Data, &env); err != nil {
		log.Error().Err(err).Str("subject", msg.Subject).Msg("Failed to unmarshal frame envelope")
		return
	}

	adv, err := probe.DecodeAdvertising(env.Payload)
	if err != nil {
		s.logDecodeError(env.SerialNumber, "advertising", err)
		return
	}

	ctx := context.Background()
	now := time.Now()

	_, err = s.store.GetProbe(ctx, adv.SerialNumber)
	firstSeen := errors.Is(err, storage.ErrNotFound)

	p := &models.Probe{
		SerialNumber: adv.SerialNumber,
		ProductType:  adv.ProductType,
		LastSeenAt:   &now,
	}
	if err := s.store.UpsertProbe(ctx, p); err != nil {
		log.Error().Err(err).
			Str("serial_number", adv.SerialNumber.String()).
			Msg("Failed to upsert probe")
		return
	}

	if firstSeen {
		s.logEvent(adv.SerialNumber, models.EventTypeProbeSeen, models.EventLevelInfo,
			fmt.Sprintf("Probe discovered - product type: %s", adv.ProductType),
			models.Variables{"productType": adv.ProductType.String()})

		log.Info().
			Str("serial_number", adv.SerialNumber.String()).
			Str("product_type", adv.ProductType.String()).
			Msg("New probe discovered")
	}
}

// handleDeviceStatus handles broadcast status frames
func (s *NATSSubscriber) handleDeviceStatus(msg *nats.Msg) {
	var env models.FrameEnvelope
	if err := json.Unmarshal(msg.Data, &env); err != nil {
		log.Error().Err(err).Str("subject", msg.Subject).Msg("Failed to unmarshal frame envelope")
		return
	}

	ds, err := probe.DecodeDeviceStatus(env.Payload)
	if err != nil {
		s.logDecodeError(env.SerialNumber, "status", err)
		return
	}

	engine := s.registry.GetOrCreate(env.SerialNumber)
	state := engine.HandleDeviceStatus(ds)

	if state.Kind == reconcile.UploadNeeded && s.autoTransfer {
		if err := engine.RequestTransfer(); err != nil {
			log.Error().Err(err).
				Str("serial_number", env.SerialNumber.String()).
				Msg("Auto transfer request failed")
		}
	}
}

// handleUARTFrame handles response frames streamed over the UART
// characteristic during a bulk transfer.
func (s *NATSSubscriber) handleUARTFrame(msg *nats.Msg) {
	var env models.FrameEnvelope
	if err := json.Unmarshal(msg.Data, &env); err != nil {
		log.Error().Err(err).Str("subject", msg.Subject).Msg("Failed to unmarshal frame envelope")
		return
	}

	resp, err := probe.DecodeResponse(env.Payload)
	if err != nil {
		s.logDecodeError(env.SerialNumber, "uart", err)
		return
	}

	engine := s.registry.GetOrCreate(env.SerialNumber)
	engine.HandleLogResponse(resp)
}

// handleConnection handles transport connection transitions
func (s *NATSSubscriber) handleConnection(msg *nats.Msg) {
	var env models.ConnectionEnvelope
	if err := json.Unmarshal(msg.Data, &env); err != nil {
		log.Error().Err(err).Str("subject", msg.Subject).Msg("Failed to unmarshal connection envelope")
		return
	}

	if !env.State.Valid() {
		log.Warn().
			Str("serial_number", env.SerialNumber.String()).
			Str("state", string(env.State)).
			Msg("Unknown connection state, ignoring")
		return
	}

	engine := s.registry.GetOrCreate(env.SerialNumber)
	engine.HandleConnection(env.State.IsConnected())

	s.logEvent(env.SerialNumber, models.EventTypeConnection, models.EventLevelInfo,
		fmt.Sprintf("Connection state changed to %s", env.State),
		models.Variables{"state": string(env.State)})

	if env.State.IsConnected() {
		if err := s.store.TouchProbe(context.Background(), env.SerialNumber); err != nil {
			log.Error().Err(err).
				Str("serial_number", env.SerialNumber.String()).
				Msg("Failed to touch probe")
		}
	}
}

// handleRecord persists reconciled records published by the engines
func (s *NATSSubscriber) handleRecord(msg *nats.Msg) {
	var env models.RecordEnvelope
	if err := json.Unmarshal(msg.Data, &env); err != nil {
		log.Error().Err(err).Str("subject", msg.Subject).Msg("Failed to unmarshal record envelope")
		return
	}

	rec := &models.TemperatureRecord{
		SerialNumber:   env.SerialNumber,
		SessionID:      env.SessionID,
		SequenceNumber: env.SequenceNumber,
		Temperatures:   env.Temperatures,
		ReceivedAt:     env.ReceivedAt,
	}

	if err := s.store.UpsertTemperatureRecord(context.Background(), rec); err != nil {
		log.Error().Err(err).
			Str("serial_number", env.SerialNumber.String()).
			Str("session_id", env.SessionID).
			Uint32("seq", env.SequenceNumber).
			Msg("Failed to store temperature record")
		return
	}

	log.Debug().
		Str("serial_number", env.SerialNumber.String()).
		Str("session_id", env.SessionID).
		Uint32("seq", env.SequenceNumber).
		Msg("Temperature record stored")
}

// handleEngineEvent turns engine transitions into event log entries.
// The engines emit each event exactly once, at the transition itself,
// so no deduplication happens here.
func (s *NATSSubscriber) handleEngineEvent(msg *nats.Msg) {
	var env models.EventEnvelope
	if err := json.Unmarshal(msg.Data, &env); err != nil {
		log.Error().Err(err).Str("subject", msg.Subject).Msg("Failed to unmarshal event envelope")
		return
	}

	ev := env.Event
	details := models.Variables{"sessionId": ev.SessionID.String()}

	switch ev.Kind {
	case reconcile.EngineEventSessionStarted:
		s.logEvent(env.SerialNumber, models.EventTypeSessionStart, models.EventLevelInfo,
			fmt.Sprintf("Recording session %s started", ev.SessionID), details)

	case reconcile.EngineEventTransferStarted:
		desc := "Bulk transfer started"
		if ev.Range != nil {
			details["min"] = ev.Range.Min
			details["max"] = ev.Range.Max
			desc = fmt.Sprintf("Bulk transfer started for %d records", ev.Range.Size())
		}
		s.logEvent(env.SerialNumber, models.EventTypeTransferStarted, models.EventLevelInfo, desc, details)

	case reconcile.EngineEventTransferComplete:
		desc := "Bulk transfer complete"
		if ev.Session != nil {
			details["totalRecords"] = ev.Session.TotalRecords
			details["logDropCount"] = ev.Session.LogDropCount
			details["statusDropCount"] = ev.Session.StatusDropCount
			if ev.Session.LogDropCount > 0 {
				desc = fmt.Sprintf("Bulk transfer complete with %d dropped records", ev.Session.LogDropCount)
			}
		}
		s.logEvent(env.SerialNumber, models.EventTypeTransferComplete, models.EventLevelInfo, desc, details)

	case reconcile.EngineEventTransferStalled:
		desc := "Bulk transfer stalled, abandoning open request"
		if ev.Progress != nil {
			details["transferred"] = ev.Progress.Transferred
			details["dropped"] = ev.Progress.Dropped
			details["expected"] = ev.Progress.Expected
			desc = fmt.Sprintf("Bulk transfer stalled at %d of %d records", ev.Progress.Transferred, ev.Progress.Expected)
		}
		s.logEvent(env.SerialNumber, models.EventTypeTransferStalled, models.EventLevelWarning, desc, details)

	case reconcile.EngineEventBackfill:
		desc := "Backfill requested"
		if ev.Range != nil {
			details["min"] = ev.Range.Min
			details["max"] = ev.Range.Max
			desc = fmt.Sprintf("Backfill requested for record %d", ev.Range.Min)
		}
		s.logEvent(env.SerialNumber, models.EventTypeBackfill, models.EventLevelInfo, desc, details)

	default:
		log.Warn().
			Str("serial_number", env.SerialNumber.String()).
			Str("kind", string(ev.Kind)).
			Msg("Unknown engine event kind, ignoring")
	}
}

// logDecodeError counts an undecodable frame and records it in the
// event log for diagnosis.
func (s *NATSSubscriber) logDecodeError(serial probe.SerialNumber, frameKind string, err error) {
	s.mu.Lock()
	s.decodeErrors[frameKind]++
	s.mu.Unlock()

	log.Warn().Err(err).
		Str("serial_number", serial.String()).
		Str("frame", frameKind).
		Msg("Dropping undecodable frame")

	s.logEvent(serial, models.EventTypeDecodeError, models.EventLevelWarning,
		fmt.Sprintf("Undecodable %s frame: %v", frameKind, err),
		models.Variables{"frame": frameKind})
}

func (s *NATSSubscriber) logEvent(serial probe.SerialNumber, eventType models.EventType, level models.EventLevel, description string, details models.Variables) {
	event := &models.EventLog{
		SerialNumber: &serial,
		Type:         eventType,
		Level:        level,
		Description:  description,
		Details:      details,
	}

	if err := s.store.CreateEventLog(context.Background(), event); err != nil {
		log.Error().Err(err).Msg("Failed to create event log")
	}
}
