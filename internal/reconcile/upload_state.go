package reconcile

// UploadStateKind enumerates the per-probe transfer lifecycle
type UploadStateKind string

const (
	UploadUnavailable UploadStateKind = "UNAVAILABLE"
	UploadNeeded      UploadStateKind = "NEEDED"
	UploadInProgress  UploadStateKind = "IN_PROGRESS"
	UploadComplete    UploadStateKind = "COMPLETE"
)

// UploadState is an immutable snapshot of the upload state machine.
// Every transition publishes a fresh value; a previously published
// state is never mutated, so concurrent readers always see a
// consistent snapshot.
type UploadState struct {
	Kind UploadStateKind `json:"kind"`

	// Populated while IN_PROGRESS.
	Progress *UploadProgress `json:"progress,omitempty"`

	// Populated once COMPLETE.
	Session *SessionStatus `json:"session,omitempty"`
}

// UnavailableState returns the not-connected state
func UnavailableState() UploadState {
	return UploadState{Kind: UploadUnavailable}
}

// NeededState returns the connected-but-not-transferring state
func NeededState() UploadState {
	return UploadState{Kind: UploadNeeded}
}

// InProgressState wraps a transfer progress snapshot
func InProgressState(p UploadProgress) UploadState {
	return UploadState{Kind: UploadInProgress, Progress: &p}
}

// CompleteState wraps the finished session snapshot
func CompleteState(s SessionStatus) UploadState {
	return UploadState{Kind: UploadComplete, Session: &s}
}
