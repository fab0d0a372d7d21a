package docstore

// WatchFrame is one message on a document watch stream. Exactly one of
// Snapshot and Error is set.
type WatchFrame struct {
	Snapshot *Snapshot `json:"snapshot,omitempty"`
	Error    string    `json:"error,omitempty"`
}

// SetRequest is the body of a document write.
type SetRequest struct {
	Fields Fields `json:"fields"`
}
