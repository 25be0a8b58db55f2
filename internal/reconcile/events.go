package reconcile

// EngineEventKind enumerates the engine transitions worth an audit
// trail entry beyond the bare state snapshot.
type EngineEventKind string

const (
	EngineEventSessionStarted   EngineEventKind = "SESSION_STARTED"
	EngineEventTransferStarted  EngineEventKind = "TRANSFER_STARTED"
	EngineEventTransferComplete EngineEventKind = "TRANSFER_COMPLETE"
	EngineEventTransferStalled  EngineEventKind = "TRANSFER_STALLED"
	EngineEventBackfill         EngineEventKind = "BACKFILL"
)

// EngineEvent describes one engine transition. Range is set for
// request and backfill events, Progress for stalls, Session for
// completions.
type EngineEvent struct {
	Kind      EngineEventKind `json:"kind"`
	SessionID SessionID       `json:"sessionId"`
	Range     *RecordRange    `json:"range,omitempty"`
	Progress  *UploadProgress `json:"progress,omitempty"`
	Session   *SessionStatus  `json:"session,omitempty"`
}
