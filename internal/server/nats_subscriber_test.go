package server

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/probe-link/probe-link-server/internal/models"
	"github.com/probe-link/probe-link-server/internal/reconcile"
	"github.com/probe-link/probe-link-server/internal/storage"
)

// stubStore captures event log writes
type stubStore struct {
	storage.Store
	events []*models.EventLog
}

func (s *stubStore) CreateEventLog(ctx context.Context, e *models.EventLog) error {
	s.events = append(s.events, e)
	return nil
}

func TestDecodeErrorCounts(t *testing.T) {
	st := &stubStore{}
	sub := NewNATSSubscriber(nil, st, nil, false)

	sub.logDecodeError(0x1234, "status", errors.New("frame too short"))
	sub.logDecodeError(0x1234, "status", errors.New("frame too short"))
	sub.logDecodeError(0x1234, "advertising", errors.New("bad prefix"))

	counts := sub.DecodeErrorCounts()
	if counts["status"] != 2 {
		t.Errorf("status count = %d, want 2", counts["status"])
	}
	if counts["advertising"] != 1 {
		t.Errorf("advertising count = %d, want 1", counts["advertising"])
	}

	// Each failure also lands in the event log.
	if len(st.events) != 3 {
		t.Fatalf("event count = %d, want 3", len(st.events))
	}
	if st.events[0].Type != models.EventTypeDecodeError || st.events[0].Level != models.EventLevelWarning {
		t.Errorf("event = %s/%s", st.events[0].Type, st.events[0].Level)
	}

	// The returned map is a copy.
	counts["status"] = 99
	if got := sub.DecodeErrorCounts()["status"]; got != 2 {
		t.Errorf("status count = %d after mutating the copy", got)
	}
}

func TestEngineEventPersistence(t *testing.T) {
	sessionID := reconcile.SessionID{
		CreatedAt:    time.Date(2026, 3, 14, 9, 26, 53, 0, time.UTC),
		SeedSequence: 10,
	}

	cases := []struct {
		event     reconcile.EngineEvent
		wantType  models.EventType
		wantLevel models.EventLevel
	}{
		{
			event:     reconcile.EngineEvent{Kind: reconcile.EngineEventSessionStarted, SessionID: sessionID},
			wantType:  models.EventTypeSessionStart,
			wantLevel: models.EventLevelInfo,
		},
		{
			event: reconcile.EngineEvent{
				Kind:      reconcile.EngineEventTransferStarted,
				SessionID: sessionID,
				Range:     &reconcile.RecordRange{Min: 10, Max: 15},
			},
			wantType:  models.EventTypeTransferStarted,
			wantLevel: models.EventLevelInfo,
		},
		{
			event: reconcile.EngineEvent{
				Kind:      reconcile.EngineEventTransferStalled,
				SessionID: sessionID,
				Progress:  &reconcile.UploadProgress{Transferred: 3, Expected: 6},
			},
			wantType:  models.EventTypeTransferStalled,
			wantLevel: models.EventLevelWarning,
		},
		{
			event: reconcile.EngineEvent{
				Kind:      reconcile.EngineEventBackfill,
				SessionID: sessionID,
				Range:     &reconcile.RecordRange{Min: 16, Max: 16},
			},
			wantType:  models.EventTypeBackfill,
			wantLevel: models.EventLevelInfo,
		},
	}

	for _, tc := range cases {
		st := &stubStore{}
		sub := NewNATSSubscriber(nil, st, nil, false)

		env := models.EventEnvelope{
			SerialNumber: 0x1234,
			Event:        tc.event,
			OccurredAt:   time.Now(),
		}
		data, err := json.Marshal(env)
		if err != nil {
			t.Fatalf("marshal envelope: %v", err)
		}

		sub.handleEngineEvent(&nats.Msg{Subject: "probe.4660.event", Data: data})

		if len(st.events) != 1 {
			t.Fatalf("%s: event count = %d, want 1", tc.event.Kind, len(st.events))
		}
		got := st.events[0]
		if got.Type != tc.wantType || got.Level != tc.wantLevel {
			t.Errorf("%s: logged as %s/%s, want %s/%s", tc.event.Kind, got.Type, got.Level, tc.wantType, tc.wantLevel)
		}
		if got.Details["sessionId"] != sessionID.String() {
			t.Errorf("%s: sessionId detail = %v", tc.event.Kind, got.Details["sessionId"])
		}
	}
}
