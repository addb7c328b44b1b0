package assort

import (
	"fmt"

	"github.com/dhcgn/mailsort/store"
)

// DropReason says why a message is discarded. It is only used for reporting.
type DropReason int

const (
	DropDuplicateQuirk DropReason = iota + 1
	DropVerbatimCopy
	DropIgnored
)

func (r DropReason) String() string {
	switch r {
	case DropDuplicateQuirk:
		return "duplicate-quirk"
	case DropVerbatimCopy:
		return "verbatim-copy"
	case DropIgnored:
		return "ignored"
	default:
		return fmt.Sprintf("DropReason(%d)", int(r))
	}
}

// Dest is where a message goes: a folder index or the bin.
type Dest struct {
	drop   DropReason
	folder int
}

func DropDest(reason DropReason) Dest {
	return Dest{drop: reason}
}

func FolderDest(idx int) Dest {
	return Dest{folder: idx}
}

func (d Dest) IsDrop() bool {
	return d.drop != 0
}

// Reason returns the drop reason, zero for folder destinations.
func (d Dest) Reason() DropReason {
	return d.drop
}

// FolderIndex returns the folder index of a folder destination.
func (d Dest) FolderIndex() (int, bool) {
	if d.IsDrop() {
		return 0, false
	}
	return d.folder, true
}

// isCopy reports whether d discards a duplicate of another message. Such a
// drop never conflicts with a kept sibling: the copy that stays carries the
// thread.
func (d Dest) isCopy() bool {
	return d.drop == DropDuplicateQuirk || d.drop == DropVerbatimCopy
}

func (d Dest) String() string {
	if d.IsDrop() {
		return "drop(" + d.drop.String() + ")"
	}
	return fmt.Sprintf("folder(%d)", d.folder)
}

// MaxPriority merges two folder destinations into the preferred one, which
// is the lower index. There is no decision when either side is a drop.
func MaxPriority(a, b Dest) (Dest, bool) {
	if a.IsDrop() || b.IsDrop() {
		return Dest{}, false
	}
	return FolderDest(min(a.folder, b.folder)), true
}

// Mark is the presentation state of a filed message. Read and Flagged
// exclude each other.
type Mark int

const (
	MarkNone Mark = iota
	MarkRead
	MarkFlagged
)

func (m Mark) String() string {
	switch m {
	case MarkRead:
		return "read"
	case MarkFlagged:
		return "flagged"
	default:
		return "none"
	}
}

// Action is the final decision for one new message.
type Action struct {
	Dest Dest
	Mark Mark
}

func NewAction(dest Dest) Action {
	return Action{Dest: dest}
}

// Read marks the message as seen, clearing the flag.
func (a *Action) Read() {
	a.Mark = MarkRead
}

// Flag flags the message, clearing the seen state.
func (a *Action) Flag() {
	a.Mark = MarkFlagged
}

// WithClearedMark keeps the placement and drops the presentation state.
func (a Action) WithClearedMark() Action {
	return Action{Dest: a.Dest}
}

// Flags returns the maildir flag letters of the committed file name.
func (a Action) Flags() string {
	return store.FlagString(a.Mark == MarkRead, a.Mark == MarkFlagged)
}

func (a Action) String() string {
	if a.Mark == MarkNone {
		return a.Dest.String()
	}
	return a.Dest.String() + " " + a.Mark.String()
}
