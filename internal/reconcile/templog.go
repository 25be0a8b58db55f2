package reconcile

import (
	"time"

	"github.com/rs/zerolog/log"
)

// RecordRange is an inclusive sequence range to request from the
// device.
type RecordRange struct {
	Min uint32 `json:"min"`
	Max uint32 `json:"max"`
}

// Size returns the number of records the range covers
func (r RecordRange) Size() uint32 {
	return r.Max - r.Min + 1
}

// TemperatureLog owns the ordered session chain for one probe and
// decides when continuity with the device's reported window is broken.
// Old sessions are never discarded; the exported log concatenates them
// in creation order, which keeps the record chronological across power
// cycles and counter resets.
type TemperatureLog struct {
	sessions []*Session

	onInsert func(Record)
	now      func() time.Time
}

// NewTemperatureLog creates an empty log. onInsert, if non-nil, fires
// for every record newly stored in any of its sessions.
func NewTemperatureLog(onInsert func(Record)) *TemperatureLog {
	return &TemperatureLog{
		onInsert: onInsert,
		now:      time.Now,
	}
}

// Current returns the active session, or nil before first contact
func (l *TemperatureLog) Current() *Session {
	if len(l.sessions) == 0 {
		return nil
	}
	return l.sessions[len(l.sessions)-1]
}

// Sessions returns the session chain in creation order
func (l *TemperatureLog) Sessions() []*Session {
	out := make([]*Session, len(l.sessions))
	copy(out, l.sessions)
	return out
}

// Records returns every stored record, sessions concatenated in
// creation order and sorted by sequence number within each.
func (l *TemperatureLog) Records() []Record {
	var out []Record
	for _, s := range l.sessions {
		out = append(out, s.Records()...)
	}
	return out
}

// PrepareForRequest reconciles the device's reported sequence window
// with the current session and computes the range to request. A new
// session starts when no session exists, when the device has rolled
// past what we retained (data loss), or when its counter moved
// backward (reset). Returns false when there is nothing to request.
func (l *TemperatureLog) PrepareForRequest(deviceMin, deviceMax uint32) (RecordRange, bool) {
	cur := l.Current()

	switch {
	case cur == nil:
		cur = l.startSession(deviceMax)

	case !cur.IsEmpty() && cur.MaxSequence() < deviceMin:
		log.Info().
			Str("session_id", cur.ID().String()).
			Uint32("session_max", cur.MaxSequence()).
			Uint32("device_min", deviceMin).
			Msg("Device rolled past retained records, starting new session")
		cur = l.startSession(deviceMax)

	case !cur.IsEmpty() && cur.MaxSequence() > deviceMax:
		log.Info().
			Str("session_id", cur.ID().String()).
			Uint32("session_max", cur.MaxSequence()).
			Uint32("device_max", deviceMax).
			Msg("Device sequence counter reset, starting new session")
		cur = l.startSession(deviceMax)
	}

	var min, max uint32
	if cur.IsEmpty() {
		min, max = deviceMin, deviceMax
	} else {
		min, max = cur.MaxSequence()+1, deviceMax
	}

	if min == max+1 {
		// Nothing new on the device.
		return RecordRange{}, false
	}
	if min > max {
		log.Warn().
			Uint32("min", min).
			Uint32("max", max).
			Msg("Computed invalid request range, clamping")
		min = max
	}

	return RecordRange{Min: min, Max: max}, true
}

// startSession appends a new session seeded at the given sequence
func (l *TemperatureLog) startSession(seedSequence uint32) *Session {
	s := NewSession(l.now(), seedSequence, l.onInsert)
	l.sessions = append(l.sessions, s)

	log.Info().
		Str("session_id", s.ID().String()).
		Uint32("seed", seedSequence).
		Msg("Started new session")

	return s
}
