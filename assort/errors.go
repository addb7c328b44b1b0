package assort

import (
	"errors"
	"fmt"
	"strings"
)

// ErrInternal reports a broken invariant of the engine itself, as opposed to
// a problem with the mail or the configuration.
var ErrInternal = errors.New("internal error")

type ConflictKind string

const (
	// ConflictDuplicateID: a new message shares its Message-ID with another
	// message but is neither a quirk duplicate nor a verbatim copy.
	ConflictDuplicateID ConflictKind = "duplicate-id"
	// ConflictSplitCopies: copies of one Message-ID are filed in different folders.
	ConflictSplitCopies ConflictKind = "split-copies"
	// ConflictDropAndKeep: one side of a thread is discarded, the other is kept.
	ConflictDropAndKeep ConflictKind = "drop-and-keep"
	// ConflictThreadSplit: a reply is routed away from its already filed thread.
	ConflictThreadSplit ConflictKind = "thread-split"
	// ConflictTargetExists: the destination folder already stores a message
	// under the storage id of a new one.
	ConflictTargetExists ConflictKind = "target-exists"
	// ConflictSameTarget: two new messages would be stored under one name.
	ConflictSameTarget ConflictKind = "same-target"
)

// Conflict is one inconsistency found while planning.
type Conflict struct {
	Kind   ConflictKind
	Detail string
	Paths  []string
}

func (c Conflict) String() string {
	return fmt.Sprintf("%s: %s [%s]", c.Kind, c.Detail, strings.Join(c.Paths, ", "))
}

// ConflictError carries every conflict of a planning phase. Nothing has been
// changed on disk when it is returned.
type ConflictError struct {
	Phase     string
	Conflicts []Conflict
}

func (e *ConflictError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%d conflict(s) while %s", len(e.Conflicts), e.Phase)
	for _, c := range e.Conflicts {
		b.WriteString("\n\t")
		b.WriteString(c.String())
	}
	return b.String()
}

// Paths returns every offending file, in report order, without repeats.
func (e *ConflictError) Paths() []string {
	seen := make(map[string]struct{})
	var out []string
	for _, c := range e.Conflicts {
		for _, p := range c.Paths {
			if _, ok := seen[p]; ok {
				continue
			}
			seen[p] = struct{}{}
			out = append(out, p)
		}
	}
	return out
}

// CycleError reports new messages whose In-Reply-To headers form a loop.
type CycleError struct {
	Paths []string
}

func (e *CycleError) Error() string {
	return "reply cycle between new messages: " + strings.Join(e.Paths, " -> ")
}

// conflicts collects conflicts once each, in discovery order.
type conflicts struct {
	seen map[string]struct{}
	list []Conflict
}

func (c *conflicts) add(kind ConflictKind, detail string, paths ...string) {
	key := string(kind) + "\x00" + strings.Join(paths, "\x00")
	if c.seen == nil {
		c.seen = make(map[string]struct{})
	}
	if _, ok := c.seen[key]; ok {
		return
	}
	c.seen[key] = struct{}{}
	c.list = append(c.list, Conflict{Kind: kind, Detail: detail, Paths: paths})
}

func (c *conflicts) err(phase string) error {
	if len(c.list) == 0 {
		return nil
	}
	return &ConflictError{Phase: phase, Conflicts: c.list}
}
