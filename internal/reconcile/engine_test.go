package reconcile

import (
	"testing"

	"github.com/probe-link/probe-link-server/pkg/probe"
)

const testSerial probe.SerialNumber = 0x10001DE5

// fakeTransport records outbound requests
type fakeTransport struct {
	requests []RecordRange
	err      error
}

func (f *fakeTransport) SendLogRequest(serial probe.SerialNumber, r RecordRange) error {
	if f.err != nil {
		return f.err
	}
	f.requests = append(f.requests, r)
	return nil
}

func newTestEngine() (*Engine, *fakeTransport) {
	tr := &fakeTransport{}
	return NewEngine(testSerial, tr, Hooks{}), tr
}

func status(min, max uint32) *probe.DeviceStatus {
	return &probe.DeviceStatus{MinSequence: min, MaxSequence: max, Temperatures: testTemps}
}

func response(seq uint32) *probe.LogResponse {
	return &probe.LogResponse{Success: true, SequenceNumber: seq, Temperatures: testTemps}
}

func TestEngineEndToEnd(t *testing.T) {
	e, tr := newTestEngine()

	if st := e.State(); st.Kind != UploadUnavailable {
		t.Fatalf("initial state = %s", st.Kind)
	}

	e.HandleConnection(true)
	if st := e.HandleDeviceStatus(status(10, 15)); st.Kind != UploadNeeded {
		t.Fatalf("state after first status = %s, want NEEDED", st.Kind)
	}

	if err := e.RequestTransfer(); err != nil {
		t.Fatalf("RequestTransfer: %v", err)
	}
	if len(tr.requests) != 1 || tr.requests[0] != (RecordRange{Min: 10, Max: 15}) {
		t.Fatalf("requests = %v, want [{10 15}]", tr.requests)
	}
	if st := e.State(); st.Kind != UploadInProgress {
		t.Fatalf("state = %s, want IN_PROGRESS", st.Kind)
	}

	var st UploadState
	for seq := uint32(10); seq <= 15; seq++ {
		st = e.HandleLogResponse(response(seq))
	}
	if st.Kind != UploadComplete {
		t.Fatalf("state = %s after all responses, want COMPLETE", st.Kind)
	}
	if st.Session.TotalRecords != 6 || st.Session.LogDropCount != 0 {
		t.Errorf("session = %+v", st.Session)
	}

	// A new live record appears: the engine backfills it.
	st = e.HandleDeviceStatus(status(10, 16))
	if st.Kind != UploadInProgress {
		t.Fatalf("state = %s after live status, want IN_PROGRESS backfill", st.Kind)
	}
	if got := tr.requests[len(tr.requests)-1]; got != (RecordRange{Min: 16, Max: 16}) {
		t.Fatalf("backfill request = %+v, want [16, 16]", got)
	}

	st = e.HandleLogResponse(response(16))
	if st.Kind != UploadComplete {
		t.Fatalf("state = %s after backfill response, want COMPLETE", st.Kind)
	}
	if n := len(e.Records()); n != 7 {
		t.Errorf("record count = %d, want 7", n)
	}
}

func TestEngineNothingToRequest(t *testing.T) {
	e, tr := newTestEngine()
	e.HandleConnection(true)
	e.HandleDeviceStatus(status(10, 15))
	if err := e.RequestTransfer(); err != nil {
		t.Fatalf("RequestTransfer: %v", err)
	}
	for seq := uint32(10); seq <= 15; seq++ {
		e.HandleLogResponse(response(seq))
	}

	// Window unchanged after disconnect/reconnect: nothing to request.
	e.HandleConnection(false)
	e.HandleConnection(true)
	e.HandleDeviceStatus(status(10, 15))
	if err := e.RequestTransfer(); err != nil {
		t.Fatalf("RequestTransfer: %v", err)
	}
	if st := e.State(); st.Kind != UploadComplete {
		t.Errorf("state = %s, want COMPLETE without a request", st.Kind)
	}
	if len(tr.requests) != 1 {
		t.Errorf("requests = %v, want no new request", tr.requests)
	}
}

func TestEngineRequestTransferErrors(t *testing.T) {
	e, _ := newTestEngine()

	if err := e.RequestTransfer(); err != ErrNotConnected {
		t.Errorf("err = %v, want ErrNotConnected", err)
	}

	e.HandleConnection(true)
	if err := e.RequestTransfer(); err != ErrNoStatusYet {
		t.Errorf("err = %v, want ErrNoStatusYet", err)
	}

	e.HandleDeviceStatus(status(0, 5))
	if err := e.RequestTransfer(); err != nil {
		t.Fatalf("RequestTransfer: %v", err)
	}
	if err := e.RequestTransfer(); err != ErrTransferActive {
		t.Errorf("err = %v, want ErrTransferActive", err)
	}
}

func TestEngineDisconnectIsUnconditional(t *testing.T) {
	e, _ := newTestEngine()
	e.HandleConnection(true)
	e.HandleDeviceStatus(status(0, 5))
	e.RequestTransfer()

	if st := e.HandleConnection(false); st.Kind != UploadUnavailable {
		t.Errorf("state = %s after disconnect, want UNAVAILABLE", st.Kind)
	}

	// Frames while disconnected are ignored.
	if st := e.HandleDeviceStatus(status(0, 9)); st.Kind != UploadUnavailable {
		t.Errorf("state = %s, want UNAVAILABLE", st.Kind)
	}
}

func TestEngineStallForceCompletes(t *testing.T) {
	e, tr := newTestEngine()
	e.HandleConnection(true)
	e.HandleDeviceStatus(status(10, 15))
	if err := e.RequestTransfer(); err != nil {
		t.Fatalf("RequestTransfer: %v", err)
	}

	// No responses at all; the status cadence bounds the wait.
	var st UploadState
	for i := 0; i < StallThreshold; i++ {
		st = e.HandleDeviceStatus(status(10, 15))
	}
	if st.Kind != UploadComplete {
		t.Fatalf("state = %s after %d status frames, want force-completed", st.Kind, StallThreshold)
	}
	if st.Session.LogDropCount != 6 {
		t.Errorf("log drop count = %d, want all 6 abandoned", st.Session.LogDropCount)
	}

	// The next status frame retries the first abandoned record.
	before := len(tr.requests)
	st = e.HandleDeviceStatus(status(10, 15))
	if st.Kind != UploadInProgress {
		t.Fatalf("state = %s, want backfill IN_PROGRESS", st.Kind)
	}
	if got := tr.requests[before]; got != (RecordRange{Min: 10, Max: 10}) {
		t.Errorf("backfill request = %+v, want [10, 10]", got)
	}
}

func TestEngineResumeAfterDisconnect(t *testing.T) {
	e, tr := newTestEngine()
	e.HandleConnection(true)
	e.HandleDeviceStatus(status(0, 10))
	if err := e.RequestTransfer(); err != nil {
		t.Fatalf("RequestTransfer: %v", err)
	}
	for seq := uint32(0); seq <= 4; seq++ {
		e.HandleLogResponse(response(seq))
	}

	// The link drops mid-transfer; the device kept recording.
	e.HandleConnection(false)
	e.HandleConnection(true)
	e.HandleDeviceStatus(status(0, 12))
	if err := e.RequestTransfer(); err != nil {
		t.Fatalf("RequestTransfer after reconnect: %v", err)
	}
	if got := tr.requests[len(tr.requests)-1]; got != (RecordRange{Min: 5, Max: 12}) {
		t.Fatalf("resumed request = %+v, want [5, 12]", got)
	}

	var st UploadState
	for seq := uint32(5); seq <= 12; seq++ {
		st = e.HandleLogResponse(response(seq))
	}
	if st.Kind != UploadComplete {
		t.Fatalf("state = %s after resumed transfer, progress %+v, want COMPLETE", st.Kind, e.State().Progress)
	}
	if st.Session.LogDropCount != 0 {
		t.Errorf("log drop count = %d, want 0", st.Session.LogDropCount)
	}
	if n := len(e.Records()); n != 13 {
		t.Errorf("record count = %d, want 13", n)
	}
}

func TestEngineTransitionEvents(t *testing.T) {
	var kinds []EngineEventKind
	tr := &fakeTransport{}
	e := NewEngine(testSerial, tr, Hooks{
		OnEvent: func(_ probe.SerialNumber, ev EngineEvent) {
			kinds = append(kinds, ev.Kind)
		},
	})

	e.HandleConnection(true)
	e.HandleDeviceStatus(status(10, 15))
	if err := e.RequestTransfer(); err != nil {
		t.Fatalf("RequestTransfer: %v", err)
	}
	for seq := uint32(10); seq <= 15; seq++ {
		e.HandleLogResponse(response(seq))
	}

	// A new live record triggers a backfill, which then stalls.
	e.HandleDeviceStatus(status(10, 16))
	for i := 0; i < StallThreshold; i++ {
		e.HandleDeviceStatus(status(10, 16))
	}

	want := []EngineEventKind{
		EngineEventSessionStarted,
		EngineEventTransferStarted,
		EngineEventTransferComplete,
		EngineEventBackfill,
		EngineEventTransferStalled,
	}
	if len(kinds) != len(want) {
		t.Fatalf("events = %v, want %v", kinds, want)
	}
	for i := range want {
		if kinds[i] != want[i] {
			t.Errorf("events[%d] = %s, want %s", i, kinds[i], want[i])
		}
	}
}

func TestEngineSubscribeRecordsReplayThenTail(t *testing.T) {
	e, _ := newTestEngine()
	e.HandleConnection(true)
	e.HandleDeviceStatus(status(0, 5))
	e.RequestTransfer()
	e.HandleLogResponse(response(0))
	e.HandleLogResponse(response(1))

	snapshot, ch, cancel := e.SubscribeRecords(16)
	defer cancel()

	if len(snapshot) != 2 {
		t.Fatalf("snapshot = %d records, want 2", len(snapshot))
	}

	e.HandleLogResponse(response(2))
	select {
	case rec := <-ch:
		if rec.SequenceNumber != 2 {
			t.Errorf("tail record seq = %d, want 2", rec.SequenceNumber)
		}
	default:
		t.Fatal("no tail record delivered")
	}

	// Cancel detaches without touching the log.
	cancel()
	e.HandleLogResponse(response(3))
	if n := len(e.Records()); n != 4 {
		t.Errorf("record count = %d, want 4", n)
	}
}

func TestEngineSubscribeState(t *testing.T) {
	e, _ := newTestEngine()

	cur, ch, cancel := e.SubscribeState(16)
	defer cancel()
	if cur.Kind != UploadUnavailable {
		t.Fatalf("current state = %s", cur.Kind)
	}

	e.HandleConnection(true)
	e.HandleDeviceStatus(status(0, 5))

	select {
	case st := <-ch:
		if st.Kind != UploadNeeded {
			t.Errorf("published state = %s, want NEEDED", st.Kind)
		}
	default:
		t.Fatal("no state transition delivered")
	}
}

func TestRegistryIndependentProbes(t *testing.T) {
	tr := &fakeTransport{}
	r := NewRegistry(tr, Hooks{})

	a := r.GetOrCreate(0x0000AAAA)
	b := r.GetOrCreate(0x0000BBBB)
	if a == b {
		t.Fatal("distinct serials share an engine")
	}
	if again := r.GetOrCreate(0x0000AAAA); again != a {
		t.Error("GetOrCreate not stable")
	}

	a.HandleConnection(true)
	a.HandleDeviceStatus(status(0, 5))

	if st := b.State(); st.Kind != UploadUnavailable {
		t.Errorf("probe B state = %s, cross-probe leakage", st.Kind)
	}
	if got := len(r.Serials()); got != 2 {
		t.Errorf("serial count = %d", got)
	}
}
