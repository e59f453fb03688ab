package revtree

import (
	"fmt"
	"slices"

	"github.com/MKhiriev/go-doc-sync/models"
)

// Tree is a document's revision history: an arena of revisions linked by
// parent indexes. Revisions without a parent are roots; InsertHistory with
// allowConflict accepts an unrelated history, which adds a further root.
// InsertHistory appends children after their parents, while a decoded tree
// is in encoding order (leaves first), so a Parent index may point later in
// the arena.
type Tree struct {
	revs []*Revision
}

// NewTree returns an empty revision tree.
func NewTree() *Tree {
	return &Tree{}
}

// DecodeTree reconstructs a tree from its encoded form. Revisions whose
// encoded sequence is zero inherit curSeq, the sequence of the record the
// tree was read from.
func DecodeTree(raw []byte, curSeq uint64) (*Tree, error) {
	t := &Tree{}
	revs, err := Decode(raw, t, curSeq)
	if err != nil {
		return nil, err
	}
	t.revs = revs
	return t, nil
}

// Encode serializes the tree. Revisions are re-sorted into priority order
// and parent indexes are rewritten accordingly.
func (t *Tree) Encode() ([]byte, error) {
	return Encode(t.revs)
}

// Len returns the number of revisions in the tree.
func (t *Tree) Len() int { return len(t.revs) }

// Revisions exposes the arena. Callers must not reorder it.
func (t *Tree) Revisions() []*Revision { return t.revs }

// Find returns the revision with the given ID, or nil.
func (t *Tree) Find(revID string) *Revision {
	for _, r := range t.revs {
		if r.ID == revID {
			return r
		}
	}
	return nil
}

// Leaves returns all leaf revisions.
func (t *Tree) Leaves() []*Revision {
	var leaves []*Revision
	for _, r := range t.revs {
		if r.IsLeaf() {
			leaves = append(leaves, r)
		}
	}
	return leaves
}

// Current returns the winning revision: the highest-priority leaf
// (non-deleted before deleted, then descending revision ID).
func (t *Tree) Current() *Revision {
	var best *Revision
	for _, r := range t.revs {
		if !r.IsLeaf() {
			continue
		}
		if best == nil || compareForEncode(r, best) < 0 {
			best = r
		}
	}
	return best
}

// IsConflicted reports whether the tree has more than one non-deleted leaf.
func (t *Tree) IsConflicted() bool {
	active := 0
	for _, r := range t.revs {
		if r.IsActive() {
			active++
		}
	}
	return active > 1
}

// History returns the ancestry of a revision, newest first, starting with
// the revision itself.
func (t *Tree) History(rev *Revision) []string {
	var ids []string
	for r := rev; r != nil && len(ids) <= len(t.revs); r = r.ParentRev() {
		ids = append(ids, r.ID)
	}
	return ids
}

// InsertResult reports the outcome of InsertHistory.
type InsertResult struct {
	Added           int       // revisions actually added
	Rev             *Revision // the newest revision (existing or added)
	CreatedConflict bool      // insertion produced an additional live branch
}

// InsertHistory grafts a revision with its ancestry onto the tree.
// history is ordered newest first; history[0] is the revision being
// inserted and carries body and flags (Deleted, HasAttachments, KeepBody).
//
// The walk starts at the newest named ancestor already present in the tree
// and adds every missing newer revision; if none is present, the oldest
// named revision is added as a new root. When
// the graft point is not a leaf the insertion opens a new branch; with
// allowConflict false and another live leaf present, the insertion is
// rejected with models.ErrConflict.
func (t *Tree) InsertHistory(history []string, body []byte, flags Flags, allowConflict bool) (InsertResult, error) {
	if len(history) == 0 {
		return InsertResult{}, fmt.Errorf("insert revision: %w: empty history", models.ErrBadRevision)
	}
	for _, id := range history {
		if !ValidRevID(id) {
			return InsertResult{}, fmt.Errorf("insert revision %q: %w", id, models.ErrBadRevision)
		}
	}

	if existing := t.Find(history[0]); existing != nil {
		return InsertResult{Added: 0, Rev: existing}, nil
	}

	// Find the newest ancestor already in the tree; everything after it in
	// the slice is already known, everything before it must be added.
	commonIdx := len(history) // index into history of the first known rev
	var graft *Revision
	for i, id := range history {
		if r := t.Find(id); r != nil {
			commonIdx = i
			graft = r
			break
		}
	}

	if graft == nil && len(t.revs) > 0 && !allowConflict {
		// Unrelated root while the document already has history.
		return InsertResult{}, fmt.Errorf("insert revision %q: %w", history[0], models.ErrConflict)
	}

	opensBranch := graft != nil && !graft.IsLeaf()
	hadActiveLeaf := false
	for _, r := range t.revs {
		if r.IsActive() && r != graft {
			hadActiveLeaf = true
		}
	}
	if (opensBranch || graft == nil) && hadActiveLeaf && flags&Deleted == 0 && !allowConflict {
		return InsertResult{}, fmt.Errorf("insert revision %q: %w", history[0], models.ErrConflict)
	}

	parent := graft
	added := 0
	// Insert missing ancestors oldest first so each parent exists already.
	for i := commonIdx - 1; i >= 0; i-- {
		rev := &Revision{
			ID:     history[i],
			Parent: NoParent,
			tree:   t,
		}
		if parent != nil {
			rev.Parent = t.indexOf(parent)
			if parent.IsLeaf() {
				parent.Flags &^= Leaf
				if parent.Flags&KeepBody == 0 {
					parent.Body = nil
				}
			}
		}
		if i == 0 {
			rev.Flags = (flags & (Deleted | HasAttachments | KeepBody)) | Leaf | New
			rev.Body = body
		}
		t.revs = append(t.revs, rev)
		parent = rev
		added++
	}

	conflicted := (opensBranch || commonIdx == len(history)) && added > 0 &&
		parent.IsActive() && hadActiveLeaf
	return InsertResult{Added: added, Rev: parent, CreatedConflict: conflicted}, nil
}

// SetSequence assigns seq to rev, typically after the containing document
// record has been written.
func (t *Tree) SetSequence(rev *Revision, seq uint64) {
	rev.Sequence = seq
	rev.Flags &^= New
}

func (t *Tree) indexOf(rev *Revision) int {
	return slices.Index(t.revs, rev)
}
