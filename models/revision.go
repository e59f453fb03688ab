package models

// Change is one entry of the local change feed: the current revision of a
// document at a given sequence.
type Change struct {
	Sequence uint64 `json:"sequence"`
	DocID    string `json:"doc_id"`
	RevID    string `json:"rev_id"`
	Deleted  bool   `json:"deleted,omitempty"`
	BodySize int64  `json:"body_size,omitempty"`
	// ParentRevID is filled only when announcing proposals, which name
	// the revision each change descends from.
	ParentRevID string `json:"parent_rev_id,omitempty"`
}

// ChangesOptions filters the change feed produced by the document store.
type ChangesOptions struct {
	SkipDeleted bool
	DocIDs      []string
}

// IncomingRev carries one revision received from the peer, ready to be
// inserted into storage. History is ordered newest first and starts with
// the revision's own ID.
type IncomingRev struct {
	DocID          string
	RevID          string
	History        []string
	Body           []byte
	Deleted        bool
	HasAttachments bool
	RemoteSequence string
	NoConflicts    bool
	// Local marks revisions created by the local application rather than
	// pulled from a peer; their parents keep a resolvable body.
	Local bool
}

// PutResult reports the outcome of inserting a revision.
type PutResult struct {
	Added           int    // revisions added to the tree (0 if already known)
	Sequence        uint64 // new local sequence assigned to the document
	CreatedConflict bool   // insertion produced a second live leaf
}

// Document is the store-level view of a document's current revision.
type Document struct {
	Key            string
	RevID          string
	Sequence       uint64
	Deleted        bool
	Conflicted     bool
	HasAttachments bool
	Body           []byte
}
