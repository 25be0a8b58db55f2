package reconcile

import (
	"testing"
	"time"

	"github.com/probe-link/probe-link-server/pkg/probe"
)

var testTemps = probe.Temperatures{20, 21, 22, 23, 24, 25, 26, 27}

func newTestSession(t *testing.T) *Session {
	t.Helper()
	return NewSession(time.Date(2026, 3, 14, 9, 26, 53, 0, time.UTC), 0, nil)
}

func TestSessionHappyPath(t *testing.T) {
	s := newTestSession(t)
	s.StartLogRequest(0, 99)

	var prog UploadProgress
	for seq := uint32(0); seq < 100; seq++ {
		prog = s.IngestLogResponse(seq, testTemps)
	}

	if prog.Transferred != 100 || prog.Dropped != 0 || prog.Expected != 100 {
		t.Errorf("progress = %+v, want 100/0/100", prog)
	}
	if !prog.IsComplete() {
		t.Error("expected complete")
	}

	records := s.Records()
	if len(records) != 100 {
		t.Fatalf("record count = %d", len(records))
	}
	for i, rec := range records {
		if rec.SequenceNumber != uint32(i) {
			t.Fatalf("records[%d].SequenceNumber = %d, not sorted", i, rec.SequenceNumber)
		}
	}
}

func TestSessionGapDetection(t *testing.T) {
	s := newTestSession(t)
	s.StartLogRequest(0, 4)

	s.IngestLogResponse(0, testTemps)
	s.IngestLogResponse(1, testTemps)
	prog := s.IngestLogResponse(4, testTemps)

	if prog.Dropped != 2 {
		t.Errorf("log drop count = %d, want 2", prog.Dropped)
	}
	st := s.Status()
	if len(st.DroppedRecords) != 2 || st.DroppedRecords[0] != 2 || st.DroppedRecords[1] != 3 {
		t.Errorf("dropped records = %v, want [2 3]", st.DroppedRecords)
	}
	if !prog.IsComplete() {
		t.Errorf("progress %+v should be complete: 3 transferred + 2 dropped = 5 expected", prog)
	}

	// Late arrivals fill the gap and clear the markers.
	s.IngestLogResponse(2, testTemps)
	s.IngestLogResponse(3, testTemps)

	st = s.Status()
	if len(st.DroppedRecords) != 0 {
		t.Errorf("dropped records = %v after backfill, want empty", st.DroppedRecords)
	}
	if st.TotalRecords != 5 {
		t.Errorf("total records = %d, want 5", st.TotalRecords)
	}
}

func TestSessionDuplicateIsIdempotent(t *testing.T) {
	s := newTestSession(t)
	s.StartLogRequest(0, 1)

	s.IngestLogResponse(0, testTemps)
	first := s.IngestLogResponse(1, testTemps)
	second := s.IngestLogResponse(1, testTemps)

	if second.Transferred != first.Transferred {
		t.Errorf("transferred changed on duplicate: %d -> %d", first.Transferred, second.Transferred)
	}
	if got := len(s.Records()); got != 2 {
		t.Errorf("record count = %d, want 2", got)
	}
}

func TestSessionDuplicateOverwrites(t *testing.T) {
	s := newTestSession(t)
	s.StartLogRequest(0, 0)

	s.IngestLogResponse(0, testTemps)
	updated := probe.Temperatures{99, 99, 99, 99, 99, 99, 99, 99}
	s.IngestLogResponse(0, updated)

	if got := s.Records()[0].Temperatures; got != updated {
		t.Errorf("record not overwritten: %v", got)
	}
}

func TestSessionStallDetection(t *testing.T) {
	s := newTestSession(t)
	s.StartLogRequest(0, 99)

	for i := 0; i < StallThreshold-1; i++ {
		s.IngestDeviceStatus(99)
		if s.Stalled() {
			t.Fatalf("stalled after %d status frames", i+1)
		}
	}

	s.IngestDeviceStatus(99)
	if !s.Stalled() {
		t.Errorf("not stalled after %d status frames with no responses", StallThreshold)
	}
}

func TestSessionLogResponseResetsStaleness(t *testing.T) {
	s := newTestSession(t)
	s.StartLogRequest(0, 99)

	for i := 0; i < StallThreshold-1; i++ {
		s.IngestDeviceStatus(99)
	}
	s.IngestLogResponse(0, testTemps)

	for i := 0; i < StallThreshold-1; i++ {
		s.IngestDeviceStatus(99)
		if s.Stalled() {
			t.Fatalf("stalled %d frames after a log response", i+1)
		}
	}
}

func TestSessionForceComplete(t *testing.T) {
	s := newTestSession(t)
	s.StartLogRequest(10, 15)
	s.IngestLogResponse(10, testTemps)
	s.IngestLogResponse(11, testTemps)

	s.ForceComplete()

	prog := s.Progress()
	if !prog.IsComplete() {
		t.Errorf("progress %+v not complete after force-complete", prog)
	}
	st := s.Status()
	if len(st.DroppedRecords) != 4 {
		t.Errorf("dropped records = %v, want the 4 abandoned sequences", st.DroppedRecords)
	}
}

func TestSessionStatusGapMarksMissing(t *testing.T) {
	s := newTestSession(t)

	// First frame sets the unbounded expectation without flagging
	// history.
	st := s.IngestDeviceStatus(10)
	if len(st.DroppedRecords) != 0 {
		t.Fatalf("first status flagged drops: %v", st.DroppedRecords)
	}

	st = s.IngestDeviceStatus(13)
	if len(st.DroppedRecords) != 3 {
		t.Errorf("dropped = %v, want [11 12 13]", st.DroppedRecords)
	}
	if st.StatusDropCount != 2 {
		t.Errorf("status drop count = %d, want 2 missed frames", st.StatusDropCount)
	}

	// Idle rebroadcast of the same window changes nothing.
	st = s.IngestDeviceStatus(13)
	if len(st.DroppedRecords) != 3 || st.StatusDropCount != 2 {
		t.Errorf("rebroadcast changed bookkeeping: %+v", st)
	}
}

func TestSessionResetStatusExpectation(t *testing.T) {
	s := newTestSession(t)
	s.IngestDeviceStatus(10)
	s.ResetStatusExpectation()

	// Reconnection far ahead must not flag the intervening frames.
	st := s.IngestDeviceStatus(500)
	if len(st.DroppedRecords) != 0 {
		t.Errorf("drops flagged across reconnect: %v", st.DroppedRecords)
	}
}

func TestSessionAbandonLogRequest(t *testing.T) {
	s := newTestSession(t)
	s.StartLogRequest(0, 10)
	for seq := uint32(0); seq <= 4; seq++ {
		s.IngestLogResponse(seq, testTemps)
	}

	// The undelivered remainder leaves the expectation; nothing is
	// counted dropped.
	s.AbandonLogRequest()
	prog := s.Progress()
	if prog.Transferred != 5 || prog.Dropped != 0 || prog.Expected != 5 {
		t.Fatalf("progress = %+v after abandon, want 5/0/5", prog)
	}
	if !prog.IsComplete() {
		t.Fatal("abandoned request left the accounting open")
	}

	// A resumed request picks up where the transfer stopped and the
	// counters account for exactly the records still missing.
	s.StartLogRequest(5, 12)
	for seq := uint32(5); seq <= 12; seq++ {
		prog = s.IngestLogResponse(seq, testTemps)
	}
	if prog.Transferred != 13 || prog.Dropped != 0 || prog.Expected != 13 {
		t.Errorf("progress = %+v after resume, want 13/0/13", prog)
	}
	if len(s.Records()) != 13 {
		t.Errorf("record count = %d, want 13", len(s.Records()))
	}
}

func TestSessionAbandonWithoutRequestIsNoop(t *testing.T) {
	s := newTestSession(t)
	s.AbandonLogRequest()
	if prog := s.Progress(); prog != (UploadProgress{}) {
		t.Errorf("progress = %+v, want zero", prog)
	}
}

func TestSessionForceCompleteClosesBackfill(t *testing.T) {
	s := newTestSession(t)
	s.StartLogRequest(10, 15)
	for seq := uint32(10); seq <= 15; seq++ {
		if seq == 12 {
			continue
		}
		s.IngestLogResponse(seq, testTemps)
	}

	// A backfill for an old sequence opens a window below the record
	// expectation; giving up on it must still close the accounting.
	s.StartLogRequest(12, 12)
	if s.Progress().IsComplete() {
		t.Fatal("backfill request did not reopen the accounting")
	}

	s.ForceComplete()
	prog := s.Progress()
	if !prog.IsComplete() {
		t.Errorf("progress = %+v not complete after force-complete", prog)
	}
	if st := s.Status(); len(st.DroppedRecords) != 1 || st.DroppedRecords[0] != 12 {
		t.Errorf("dropped records = %v, want [12]", st.DroppedRecords)
	}
}

func TestSessionIDString(t *testing.T) {
	id := SessionID{
		CreatedAt:    time.Date(2026, 3, 14, 9, 26, 53, 0, time.UTC),
		SeedSequence: 42,
	}
	if got := id.String(); got != "20260314092653_42" {
		t.Errorf("session id = %q", got)
	}
}

func TestSessionIDTextRoundTrip(t *testing.T) {
	id := SessionID{
		CreatedAt:    time.Date(2026, 3, 14, 9, 26, 53, 0, time.UTC),
		SeedSequence: 42,
	}

	text, err := id.MarshalText()
	if err != nil {
		t.Fatalf("MarshalText: %v", err)
	}

	var parsed SessionID
	if err := parsed.UnmarshalText(text); err != nil {
		t.Fatalf("UnmarshalText(%q): %v", text, err)
	}
	if !parsed.CreatedAt.Equal(id.CreatedAt) || parsed.SeedSequence != id.SeedSequence {
		t.Errorf("round trip = %+v, want %+v", parsed, id)
	}

	for _, bad := range []string{"", "20260314092653", "notadate_42", "20260314092653_x"} {
		var p SessionID
		if err := p.UnmarshalText([]byte(bad)); err == nil {
			t.Errorf("UnmarshalText(%q) accepted", bad)
		}
	}
}
