package reconcile

import (
	"errors"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/probe-link/probe-link-server/pkg/probe"
)

// Engine errors
var (
	ErrNotConnected   = errors.New("probe not connected")
	ErrNoStatusYet    = errors.New("no status frame received yet")
	ErrTransferActive = errors.New("transfer already in progress")
)

// Transport writes outbound request frames to the probe. Sends are
// fire-and-forget; the transport owns delivery and has no knowledge of
// frame structure beyond the opaque bytes.
type Transport interface {
	SendLogRequest(serial probe.SerialNumber, r RecordRange) error
}

// Hooks receive every reconciled record, upload-state transition and
// engine event for one probe. Called while the engine lock is held;
// hooks must not call back into the engine.
type Hooks struct {
	OnRecord func(serial probe.SerialNumber, rec Record)
	OnState  func(serial probe.SerialNumber, st UploadState)
	OnEvent  func(serial probe.SerialNumber, ev EngineEvent)
}

// Engine is the per-probe orchestrator: it drives the upload state
// machine from connection events, status frames and log responses,
// decides when to issue requests and backfills, and exposes the merged
// log as a replay snapshot plus a live tail.
//
// All inbound frames for one probe must be fed strictly in arrival
// order; the engine serializes them under one lock and never blocks.
type Engine struct {
	serial    probe.SerialNumber
	transport Transport
	hooks     Hooks

	mu         sync.Mutex
	log        *TemperatureLog
	state      UploadState
	connected  bool
	lastStatus *probe.DeviceStatus

	subID      int
	recordSubs map[int]chan Record
	stateSubs  map[int]chan UploadState

	// Deliveries dropped because a subscriber's buffer was full.
	droppedDeliveries uint64
}

// NewEngine creates an engine for one probe
func NewEngine(serial probe.SerialNumber, transport Transport, hooks Hooks) *Engine {
	e := &Engine{
		serial:     serial,
		transport:  transport,
		hooks:      hooks,
		state:      UnavailableState(),
		recordSubs: make(map[int]chan Record),
		stateSubs:  make(map[int]chan UploadState),
	}
	e.log = NewTemperatureLog(e.emitRecord)
	return e
}

// Serial returns the probe serial this engine serves
func (e *Engine) Serial() probe.SerialNumber { return e.serial }

// State returns the current upload state snapshot
func (e *Engine) State() UploadState {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// LatestStatus returns the most recent status frame, or nil
func (e *Engine) LatestStatus() *probe.DeviceStatus {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.lastStatus
}

// Records returns a point-in-time snapshot of the merged log
func (e *Engine) Records() []Record {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.log.Records()
}

// Sessions returns a snapshot of every session in creation order
func (e *Engine) Sessions() []SessionStatus {
	e.mu.Lock()
	defer e.mu.Unlock()

	sessions := e.log.Sessions()
	out := make([]SessionStatus, 0, len(sessions))
	for _, s := range sessions {
		out = append(out, s.Status())
	}
	return out
}

// HandleConnection feeds a transport connection transition. Disconnect
// unconditionally parks the state machine and returns the status
// expectation to unbounded so reconnection does not flag intervening
// frames as drops.
func (e *Engine) HandleConnection(connected bool) UploadState {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.connected = connected
	if !connected {
		if cur := e.log.Current(); cur != nil {
			cur.ResetStatusExpectation()
			// Close out an interrupted request so the resumed
			// transfer's accounting starts clean.
			cur.AbandonLogRequest()
		}
		e.setState(UnavailableState())
		log.Info().Str("serial_number", e.serial.String()).Msg("Probe disconnected")
	} else {
		log.Info().Str("serial_number", e.serial.String()).Msg("Probe connected")
	}

	return e.state
}

// HandleDeviceStatus feeds one broadcast status frame and returns the
// resulting upload state.
func (e *Engine) HandleDeviceStatus(ds *probe.DeviceStatus) UploadState {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.connected {
		log.Debug().Str("serial_number", e.serial.String()).Msg("Status frame while not connected, ignoring")
		return e.state
	}

	e.lastStatus = ds

	switch e.state.Kind {
	case UploadUnavailable:
		e.setState(NeededState())

	case UploadNeeded:
		// Waiting for an explicit transfer request; the window is
		// remembered, nothing else to do.

	case UploadInProgress:
		cur := e.log.Current()
		cur.IngestDeviceStatus(ds.MaxSequence)

		if cur.Stalled() {
			prog := cur.Progress()
			log.Warn().
				Str("serial_number", e.serial.String()).
				Str("session_id", cur.ID().String()).
				Interface("progress", prog).
				Msg("Transfer stalled, force-completing")
			cur.ForceComplete()
			e.emitEvent(EngineEvent{Kind: EngineEventTransferStalled, SessionID: cur.ID(), Progress: &prog})
			e.setState(CompleteState(cur.Status()))
		} else {
			e.setState(InProgressState(cur.Progress()))
		}

	case UploadComplete:
		cur := e.log.Current()
		st := cur.IngestDeviceStatus(ds.MaxSequence)

		if len(st.DroppedRecords) > 0 {
			e.startBackfill(cur, st.DroppedRecords[0])
		} else {
			e.setState(CompleteState(st))
		}
	}

	return e.state
}

// HandleLogResponse feeds one bulk-transfer response frame
func (e *Engine) HandleLogResponse(lr *probe.LogResponse) UploadState {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !lr.Success {
		log.Warn().
			Str("serial_number", e.serial.String()).
			Uint32("seq", lr.SequenceNumber).
			Msg("Device reported log request failure")
		return e.state
	}

	cur := e.log.Current()
	if cur == nil {
		log.Warn().
			Str("serial_number", e.serial.String()).
			Uint32("seq", lr.SequenceNumber).
			Msg("Log response with no session, dropping")
		return e.state
	}

	prog := cur.IngestLogResponse(lr.SequenceNumber, lr.Temperatures)

	if e.state.Kind == UploadInProgress {
		if prog.IsComplete() {
			log.Info().
				Str("serial_number", e.serial.String()).
				Str("session_id", cur.ID().String()).
				Interface("progress", prog).
				Msg("Transfer complete")
			st := cur.Status()
			e.emitEvent(EngineEvent{Kind: EngineEventTransferComplete, SessionID: cur.ID(), Session: &st})
			e.setState(CompleteState(st))
		} else {
			e.setState(InProgressState(prog))
		}
	}

	return e.state
}

// RequestTransfer starts a bulk transfer for everything the device has
// that we lack. Valid only in the NEEDED state; if the device window
// holds nothing new the state goes straight to COMPLETE.
func (e *Engine) RequestTransfer() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.connected {
		return ErrNotConnected
	}
	if e.state.Kind == UploadInProgress {
		return ErrTransferActive
	}
	if e.lastStatus == nil {
		return ErrNoStatusYet
	}

	sessionsBefore := len(e.log.sessions)
	rng, ok := e.log.PrepareForRequest(e.lastStatus.MinSequence, e.lastStatus.MaxSequence)
	cur := e.log.Current()
	if len(e.log.sessions) > sessionsBefore {
		e.emitEvent(EngineEvent{Kind: EngineEventSessionStarted, SessionID: cur.ID()})
	}
	if !ok {
		log.Info().
			Str("serial_number", e.serial.String()).
			Msg("Nothing to request, transfer trivially complete")
		cur.PrimeStatusExpectation(e.lastStatus.MaxSequence + 1)
		st := cur.Status()
		e.emitEvent(EngineEvent{Kind: EngineEventTransferComplete, SessionID: cur.ID(), Session: &st})
		e.setState(CompleteState(st))
		return nil
	}

	cur.StartLogRequest(rng.Min, rng.Max)
	cur.PrimeStatusExpectation(rng.Max + 1)

	if err := e.transport.SendLogRequest(e.serial, rng); err != nil {
		log.Error().Err(err).
			Str("serial_number", e.serial.String()).
			Msg("Failed to send log request")
		return err
	}

	log.Info().
		Str("serial_number", e.serial.String()).
		Uint32("min", rng.Min).
		Uint32("max", rng.Max).
		Msg("Requested log transfer")

	e.emitEvent(EngineEvent{Kind: EngineEventTransferStarted, SessionID: cur.ID(), Range: &rng})
	e.setState(InProgressState(cur.Progress()))
	return nil
}

// SubscribeRecords returns a point-in-time snapshot of the merged log
// and a channel carrying every record appended after it. The snapshot
// and subscription are taken under one lock, so no record is lost or
// double-delivered between them. Cancel detaches the subscriber
// without side effects on the log; deliveries to a full buffer are
// dropped and counted, never block ingestion.
func (e *Engine) SubscribeRecords(buffer int) ([]Record, <-chan Record, func()) {
	e.mu.Lock()
	defer e.mu.Unlock()

	snapshot := e.log.Records()
	ch := make(chan Record, buffer)
	id := e.subID
	e.subID++
	e.recordSubs[id] = ch

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			e.mu.Lock()
			delete(e.recordSubs, id)
			close(ch)
			e.mu.Unlock()
		})
	}
	return snapshot, ch, cancel
}

// SubscribeState returns the current upload state and a channel of
// subsequent transitions, with the same atomicity and cancellation
// semantics as SubscribeRecords.
func (e *Engine) SubscribeState(buffer int) (UploadState, <-chan UploadState, func()) {
	e.mu.Lock()
	defer e.mu.Unlock()

	ch := make(chan UploadState, buffer)
	id := e.subID
	e.subID++
	e.stateSubs[id] = ch

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			e.mu.Lock()
			delete(e.stateSubs, id)
			close(ch)
			e.mu.Unlock()
		})
	}
	return e.state, ch, cancel
}

// startBackfill issues a single-record recovery request. Called with
// the lock held, only from the COMPLETE state.
func (e *Engine) startBackfill(cur *Session, seq uint32) {
	rng := RecordRange{Min: seq, Max: seq}
	cur.StartLogRequest(rng.Min, rng.Max)

	if err := e.transport.SendLogRequest(e.serial, rng); err != nil {
		log.Error().Err(err).
			Str("serial_number", e.serial.String()).
			Uint32("seq", seq).
			Msg("Failed to send backfill request")
		return
	}

	log.Info().
		Str("serial_number", e.serial.String()).
		Uint32("seq", seq).
		Msg("Requested backfill")

	e.emitEvent(EngineEvent{Kind: EngineEventBackfill, SessionID: cur.ID(), Range: &rng})
	e.setState(InProgressState(cur.Progress()))
}

// setState publishes a new immutable state value. Lock held.
func (e *Engine) setState(st UploadState) {
	e.state = st

	for _, ch := range e.stateSubs {
		select {
		case ch <- st:
		default:
			e.droppedDeliveries++
		}
	}

	if e.hooks.OnState != nil {
		e.hooks.OnState(e.serial, st)
	}
}

// emitEvent hands an engine event to the hooks. Lock held.
func (e *Engine) emitEvent(ev EngineEvent) {
	if e.hooks.OnEvent != nil {
		e.hooks.OnEvent(e.serial, ev)
	}
}

// emitRecord fans a newly stored record out to subscribers. Runs as
// the session insert callback, with the engine lock held.
func (e *Engine) emitRecord(rec Record) {
	for _, ch := range e.recordSubs {
		select {
		case ch <- rec:
		default:
			e.droppedDeliveries++
		}
	}

	if e.hooks.OnRecord != nil {
		e.hooks.OnRecord(e.serial, rec)
	}
}
