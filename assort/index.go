package assort

import (
	"bytes"
	"fmt"

	"github.com/dhcgn/mailsort/model"
)

// Index maps a normalized Message-ID to every message carrying it, in
// discovery order.
type Index struct {
	entries map[string][]*model.Message
}

// Lookup returns all messages with the given id.
func (ix *Index) Lookup(id string) []*model.Message {
	if id == "" {
		return nil
	}
	return ix.entries[id]
}

// Canonical returns the first message discovered with the given id. Replies
// to that id are threaded below it.
func (ix *Index) Canonical(id string) (*model.Message, bool) {
	list := ix.Lookup(id)
	if len(list) == 0 {
		return nil, false
	}
	return list[0], true
}

func (ix *Index) Len() int {
	return len(ix.entries)
}

// buildIndex inserts every message and decides the fate of new messages
// that repeat a known id. Duplicates that cannot be explained are returned
// as conflicts; nothing is decided for them.
func (p *Plan) buildIndex(mails []*model.Message) error {
	p.index = &Index{entries: make(map[string][]*model.Message, len(mails))}
	var found conflicts

	for _, m := range mails {
		existing := p.index.entries[m.ID]
		switch {
		case len(existing) > 0 && m.Origin.IsNew():
			switch {
			case m.HasValue("List-Id", p.rules.Deduplicate):
				p.logDebug("dropping duplicate from quirk list", "id", m.ID, "path", m.Path)
				p.actions[m] = NewAction(DropDest(DropDuplicateQuirk))
			case isVerbatimCopy(m, existing):
				p.logDebug("dropping verbatim copy", "id", m.ID, "path", m.Path)
				p.actions[m] = NewAction(DropDest(DropVerbatimCopy))
			default:
				found.add(ConflictDuplicateID,
					fmt.Sprintf("new message %s has the same id as %d known message(s) but differs from them", m.ID, len(existing)),
					append(paths(existing), m.Path)...)
			}
		case !m.Origin.IsNew() && hasOtherOrigin(existing, m.Origin):
			found.add(ConflictSplitCopies,
				fmt.Sprintf("copies of %s are not stored in the same folder", m.ID),
				append(paths(existing), m.Path)...)
		}

		if m.Origin.IsNew() {
			p.newMail = append(p.newMail, m)
		}
		p.index.entries[m.ID] = append(existing, m)
	}

	return found.err("indexing")
}

func isVerbatimCopy(m *model.Message, existing []*model.Message) bool {
	for _, e := range existing {
		if bytes.Equal(m.Raw, e.Raw) || m.Body == e.Body {
			return true
		}
	}
	return false
}

func hasOtherOrigin(list []*model.Message, origin model.Origin) bool {
	for _, e := range list {
		if e.Origin != origin {
			return true
		}
	}
	return false
}

func paths(list []*model.Message) []string {
	out := make([]string, 0, len(list)+1)
	for _, m := range list {
		out = append(out, m.Path)
	}
	return out
}
