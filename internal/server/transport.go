package server

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog/log"

	"github.com/probe-link/probe-link-server/internal/models"
	"github.com/probe-link/probe-link-server/internal/reconcile"
	"github.com/probe-link/probe-link-server/pkg/probe"
)

// NATSTransport carries outbound request frames to a probe by
// publishing them on the probe's uart.tx subject. The bridge picks
// them up and writes the bytes to the BLE link.
type NATSTransport struct {
	nc *nats.Conn
}

// NewNATSTransport creates a transport backed by a NATS connection
func NewNATSTransport(nc *nats.Conn) *NATSTransport {
	return &NATSTransport{nc: nc}
}

// SendLogRequest encodes and publishes one log request frame
func (t *NATSTransport) SendLogRequest(serial probe.SerialNumber, r reconcile.RecordRange) error {
	req := probe.LogRequest{MinSequence: r.Min, MaxSequence: r.Max}

	env := models.FrameEnvelope{
		SerialNumber: serial,
		Payload:      req.Encode(),
		ReceivedAt:   time.Now(),
	}

	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshal frame envelope: %w", err)
	}

	subject := fmt.Sprintf(models.SubjectUARTTX, serial.String())
	if err := t.nc.Publish(subject, data); err != nil {
		return fmt.Errorf("publish log request: %w", err)
	}

	return nil
}

// NewEngineHooks returns engine hooks that publish every reconciled
// record and state transition on the probe's NATS subjects. The hooks
// run under the engine lock, so they only hand the payload to the NATS
// client's async buffer and never block.
func NewEngineHooks(nc *nats.Conn) reconcile.Hooks {
	return reconcile.Hooks{
		OnRecord: func(serial probe.SerialNumber, rec reconcile.Record) {
			env := models.RecordEnvelope{
				SerialNumber:   serial,
				SessionID:      rec.SessionID.String(),
				SequenceNumber: rec.SequenceNumber,
				Temperatures:   rec.Temperatures[:],
				ReceivedAt:     time.Now(),
			}

			data, err := json.Marshal(env)
			if err != nil {
				log.Error().Err(err).Msg("Failed to marshal record envelope")
				return
			}

			subject := fmt.Sprintf(models.SubjectRecord, serial.String())
			if err := nc.Publish(subject, data); err != nil {
				log.Error().Err(err).Str("subject", subject).Msg("Failed to publish record")
			}
		},

		OnState: func(serial probe.SerialNumber, st reconcile.UploadState) {
			env := models.StateEnvelope{
				SerialNumber: serial,
				State:        st,
				ChangedAt:    time.Now(),
			}

			data, err := json.Marshal(env)
			if err != nil {
				log.Error().Err(err).Msg("Failed to marshal state envelope")
				return
			}

			subject := fmt.Sprintf(models.SubjectState, serial.String())
			if err := nc.Publish(subject, data); err != nil {
				log.Error().Err(err).Str("subject", subject).Msg("Failed to publish state")
			}
		},

		OnEvent: func(serial probe.SerialNumber, ev reconcile.EngineEvent) {
			env := models.EventEnvelope{
				SerialNumber: serial,
				Event:        ev,
				OccurredAt:   time.Now(),
			}

			data, err := json.Marshal(env)
			if err != nil {
				log.Error().Err(err).Msg("Failed to marshal event envelope")
				return
			}

			subject := fmt.Sprintf(models.SubjectEvent, serial.String())
			if err := nc.Publish(subject, data); err != nil {
				log.Error().Err(err).Str("subject", subject).Msg("Failed to publish event")
			}
		},
	}
}
