package reconcile

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/probe-link/probe-link-server/pkg/probe"
)

// StallThreshold bounds how many consecutive status frames a bulk
// transfer may survive without a log response arriving. Status frames
// come at a fixed cadence while connected, so this is the system's
// only timeout and it is counted in frames, not wall-clock time.
const StallThreshold = 20

// SessionID orders sessions chronologically. The string form
// (yyyyMMddHHmmss_<seed>) sorts correctly as plain text, which the
// CSV export relies on.
type SessionID struct {
	CreatedAt    time.Time
	SeedSequence uint32
}

// String returns the canonical session id
func (id SessionID) String() string {
	return id.CreatedAt.UTC().Format("20060102150405") + "_" + strconv.FormatUint(uint64(id.SeedSequence), 10)
}

// MarshalText renders the canonical id, so JSON carries the same
// string the export and storage layers use.
func (id SessionID) MarshalText() ([]byte, error) {
	return []byte(id.String()), nil
}

// UnmarshalText parses the canonical id
func (id *SessionID) UnmarshalText(text []byte) error {
	s := string(text)
	i := strings.IndexByte(s, '_')
	if i < 0 {
		return fmt.Errorf("session id %q: missing seed separator", s)
	}

	created, err := time.Parse("20060102150405", s[:i])
	if err != nil {
		return fmt.Errorf("session id %q: %w", s, err)
	}
	seed, err := strconv.ParseUint(s[i+1:], 10, 32)
	if err != nil {
		return fmt.Errorf("session id %q: %w", s, err)
	}

	id.CreatedAt = created
	id.SeedSequence = uint32(seed)
	return nil
}

// Record is a single logged sample. Immutable once created; ordering
// is by sequence number within a session.
type Record struct {
	SessionID      SessionID
	SequenceNumber uint32
	Temperatures   probe.Temperatures
}

// UploadProgress is the accounting snapshot returned by log-response
// ingestion. Counters are cumulative across backfills.
type UploadProgress struct {
	Transferred uint32 `json:"transferred"`
	Dropped     uint32 `json:"dropped"`
	Expected    uint32 `json:"expected"`
}

// IsComplete reports whether every requested record is accounted for,
// either transferred or known dropped.
func (p UploadProgress) IsComplete() bool {
	return p.Transferred+p.Dropped >= p.Expected
}

// SessionStatus is the snapshot returned by status ingestion.
type SessionStatus struct {
	ID              SessionID `json:"id"`
	SessionMin      uint32    `json:"sessionMin"`
	SessionMax      uint32    `json:"sessionMax"`
	TotalRecords    uint32    `json:"totalRecords"`
	LogDropCount    uint32    `json:"logDropCount"`
	StatusDropCount uint32    `json:"statusDropCount"`
	DroppedRecords  []uint32  `json:"droppedRecords,omitempty"`
}

// Session tracks reconciliation state for one unbroken run of device
// sequence numbers. The two ingestion paths are the only mutators of
// the expectation counters and drop list; records are append-only
// except for the overwrite-on-duplicate case. Not safe for concurrent
// use; the engine serializes access.
type Session struct {
	id      SessionID
	records map[uint32]Record

	minSeq     uint32
	maxSeq     uint32
	hasRecords bool

	// Bulk-transfer stream. outstanding counts the records of the open
	// request window still awaited; the engine opens at most one window
	// at a time, so a new request replaces it.
	nextExpectedRecord uint32
	requestedMax       uint32
	transferCount      uint32
	expectedCount      uint32
	logDropCount       uint32
	outstanding        uint32

	// Broadcast-status stream. The expectation starts unbounded and
	// is reset to unbounded on disconnect so reconnection does not
	// flag every intervening status frame as a drop.
	hasStatusExpectation bool
	nextExpectedStatus   uint32
	statusDropCount      uint32

	droppedRecords []uint32

	staleness int

	// onInsert fires for every newly stored record, while the engine
	// holds its lock.
	onInsert func(Record)
}

// NewSession creates a session seeded at the given device sequence
func NewSession(createdAt time.Time, seedSequence uint32, onInsert func(Record)) *Session {
	return &Session{
		id:        SessionID{CreatedAt: createdAt, SeedSequence: seedSequence},
		records:   make(map[uint32]Record),
		staleness: StallThreshold,
		onInsert:  onInsert,
	}
}

// ID returns the session id
func (s *Session) ID() SessionID { return s.id }

// IsEmpty reports whether no record has been stored yet
func (s *Session) IsEmpty() bool { return !s.hasRecords }

// MinSequence returns the lowest stored sequence number
func (s *Session) MinSequence() uint32 { return s.minSeq }

// MaxSequence returns the highest stored sequence number
func (s *Session) MaxSequence() uint32 { return s.maxSeq }

// StartLogRequest accounts for a new outbound request covering
// [min, max]. The record expectation only ever moves forward; a
// backfill request for an old sequence must not rewind it.
func (s *Session) StartLogRequest(min, max uint32) {
	size := max - min + 1
	s.expectedCount += size
	s.outstanding = size
	if min > s.nextExpectedRecord {
		s.nextExpectedRecord = min
	}
	if max > s.requestedMax {
		s.requestedMax = max
	}
	s.staleness = StallThreshold
}

// ForceComplete gives up on the open request: everything still awaited
// is counted dropped so the accounting closes and later status frames
// can trigger backfills for it.
func (s *Session) ForceComplete() {
	if s.outstanding == 0 {
		return
	}

	for missing := s.nextExpectedRecord; missing <= s.requestedMax; missing++ {
		s.markDropped(missing)
	}
	s.logDropCount += s.outstanding
	if s.nextExpectedRecord <= s.requestedMax {
		s.nextExpectedRecord = s.requestedMax + 1
	}

	log.Warn().
		Str("session_id", s.id.String()).
		Uint32("abandoned", s.outstanding).
		Msg("Force-completed log request")

	s.outstanding = 0
}

// AbandonLogRequest closes the accounting for an interrupted request.
// The undelivered remainder of the window leaves the expectation
// instead of counting as dropped; a resumed transfer re-requests it
// and the counters start clean.
func (s *Session) AbandonLogRequest() {
	if s.outstanding == 0 {
		return
	}

	s.expectedCount -= s.outstanding

	log.Info().
		Str("session_id", s.id.String()).
		Uint32("abandoned", s.outstanding).
		Msg("Abandoned interrupted log request")

	s.outstanding = 0
}

// IngestLogResponse folds one bulk-transfer record into the store and
// resynchronizes the transfer expectation. Never blocks on missing
// records; gaps are marked dropped and the expectation jumps forward.
func (s *Session) IngestLogResponse(seq uint32, temps probe.Temperatures) UploadProgress {
	switch {
	case seq == s.nextExpectedRecord:
		s.insert(seq, temps)
		s.nextExpectedRecord = seq + 1
		s.transferCount++
		s.closeOutstanding(1)
		s.removeDropped(seq)

	case seq > s.nextExpectedRecord:
		gap := seq - s.nextExpectedRecord
		log.Warn().
			Str("session_id", s.id.String()).
			Uint32("expected", s.nextExpectedRecord).
			Uint32("received", seq).
			Uint32("gap", gap).
			Msg("Gap in log responses, resynchronizing forward")

		for missing := s.nextExpectedRecord; missing < seq; missing++ {
			s.markDropped(missing)
		}
		s.logDropCount += gap

		s.insert(seq, temps)
		s.nextExpectedRecord = seq + 1
		s.transferCount++
		s.closeOutstanding(gap + 1)

	default: // seq < s.nextExpectedRecord
		if _, exists := s.records[seq]; exists {
			// Duplicate: latest write wins, accounting unchanged.
			log.Warn().
				Str("session_id", s.id.String()).
				Uint32("seq", seq).
				Msg("Duplicate log response, overwriting record")
			s.insert(seq, temps)
		} else {
			// Late arrival for a record never stored, typically a
			// backfill response. The device is the source of truth,
			// so keep it.
			s.insert(seq, temps)
			s.transferCount++
			s.closeOutstanding(1)
			s.removeDropped(seq)
		}
	}

	s.staleness = StallThreshold

	return s.Progress()
}

// IngestDeviceStatus folds one broadcast status frame into the
// session's bookkeeping. Records never enter the store on this path;
// any sequence the device reports that the store lacks is marked
// dropped so the engine can backfill it over the transfer channel.
func (s *Session) IngestDeviceStatus(maxSeq uint32) SessionStatus {
	if s.staleness > 0 {
		s.staleness--
	}

	switch {
	case !s.hasStatusExpectation:
		s.hasStatusExpectation = true
		s.nextExpectedStatus = maxSeq + 1

	case maxSeq >= s.nextExpectedStatus:
		if gap := maxSeq - s.nextExpectedStatus; gap > 0 {
			log.Warn().
				Str("session_id", s.id.String()).
				Uint32("expected", s.nextExpectedStatus).
				Uint32("received", maxSeq).
				Msg("Missed status frames")
			s.statusDropCount += gap
		}

		for missing := s.nextExpectedStatus; missing <= maxSeq; missing++ {
			if _, exists := s.records[missing]; !exists {
				s.markDropped(missing)
			}
		}
		s.nextExpectedStatus = maxSeq + 1

	default: // maxSeq < s.nextExpectedStatus: idle rebroadcast
		if _, exists := s.records[maxSeq]; !exists {
			log.Warn().
				Str("session_id", s.id.String()).
				Uint32("seq", maxSeq).
				Msg("Status reports a record the store is missing")
			s.markDropped(maxSeq)
		}
	}

	return s.Status()
}

// ResetStatusExpectation returns the status stream to the unbounded
// state. Called on disconnect.
func (s *Session) ResetStatusExpectation() {
	s.hasStatusExpectation = false
}

// PrimeStatusExpectation sets the status expectation if it is
// currently unbounded. The engine primes it when issuing a request so
// the first live record past the requested window is not swallowed by
// the unbounded state.
func (s *Session) PrimeStatusExpectation(next uint32) {
	if !s.hasStatusExpectation {
		s.hasStatusExpectation = true
		s.nextExpectedStatus = next
	}
}

// Stalled reports whether the transfer has gone StallThreshold status
// frames without a log response while still incomplete.
func (s *Session) Stalled() bool {
	return s.staleness == 0 && !s.Progress().IsComplete()
}

// Progress returns the current transfer accounting
func (s *Session) Progress() UploadProgress {
	return UploadProgress{
		Transferred: s.transferCount,
		Dropped:     s.logDropCount,
		Expected:    s.expectedCount,
	}
}

// Status returns the current session snapshot
func (s *Session) Status() SessionStatus {
	dropped := make([]uint32, len(s.droppedRecords))
	copy(dropped, s.droppedRecords)

	return SessionStatus{
		ID:              s.id,
		SessionMin:      s.minSeq,
		SessionMax:      s.maxSeq,
		TotalRecords:    uint32(len(s.records)),
		LogDropCount:    s.logDropCount,
		StatusDropCount: s.statusDropCount,
		DroppedRecords:  dropped,
	}
}

// Records returns the stored records sorted by sequence number
func (s *Session) Records() []Record {
	keys := make([]uint32, 0, len(s.records))
	for seq := range s.records {
		keys = append(keys, seq)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })

	out := make([]Record, 0, len(keys))
	for _, seq := range keys {
		out = append(out, s.records[seq])
	}
	return out
}

// insert stores a record and maintains the min/max window
func (s *Session) insert(seq uint32, temps probe.Temperatures) {
	_, existed := s.records[seq]

	rec := Record{
		SessionID:      s.id,
		SequenceNumber: seq,
		Temperatures:   temps,
	}
	s.records[seq] = rec

	if !s.hasRecords {
		s.minSeq, s.maxSeq = seq, seq
		s.hasRecords = true
	} else {
		if seq < s.minSeq {
			s.minSeq = seq
		}
		if seq > s.maxSeq {
			s.maxSeq = seq
		}
	}

	if !existed && s.onInsert != nil {
		s.onInsert(rec)
	}
}

// closeOutstanding settles n records of the open request window
func (s *Session) closeOutstanding(n uint32) {
	if n > s.outstanding {
		s.outstanding = 0
		return
	}
	s.outstanding -= n
}

// markDropped records a sequence as believed dropped, once. The list
// stays sorted so backfill recovers the oldest missing record first.
func (s *Session) markDropped(seq uint32) {
	i := sort.Search(len(s.droppedRecords), func(i int) bool {
		return s.droppedRecords[i] >= seq
	})
	if i < len(s.droppedRecords) && s.droppedRecords[i] == seq {
		return
	}
	s.droppedRecords = append(s.droppedRecords, 0)
	copy(s.droppedRecords[i+1:], s.droppedRecords[i:])
	s.droppedRecords[i] = seq
}

// removeDropped clears the pending-drop marker for a sequence
func (s *Session) removeDropped(seq uint32) {
	for i, d := range s.droppedRecords {
		if d == seq {
			s.droppedRecords = append(s.droppedRecords[:i], s.droppedRecords[i+1:]...)
			return
		}
	}
}
