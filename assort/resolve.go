package assort

import (
	"github.com/dhcgn/mailsort/model"
)

// resolve decides the action of a new message and memoizes it. Replies
// follow their parent; keyword rules may move them to a more preferred
// folder only.
func (p *Plan) resolve(m *model.Message) (Action, error) {
	if action, ok := p.actions[m]; ok {
		return action, nil
	}
	if err := p.enter(m); err != nil {
		return Action{}, err
	}
	defer p.leave()

	var (
		candidate   Action
		found       bool
		parentIsNew bool
	)
	if parent, ok := p.index.Canonical(m.Parent); ok && parent != m {
		found = true
		if idx, filed := parent.Origin.Folder(); filed {
			candidate = NewAction(FolderDest(idx))
		} else {
			parentIsNew = true
			parentAction, err := p.resolve(parent)
			if err != nil {
				return Action{}, err
			}
			candidate = parentAction.WithClearedMark()
		}
	}

	if !found || parentIsNew {
		limit := p.folders.Len()
		if found {
			// only a more preferred folder may override the thread
			limit, _ = candidate.Dest.FolderIndex()
		}
		for i := 0; i < limit; i++ {
			if p.folders.At(i).Keywords.Matches(m.Body) {
				candidate = NewAction(FolderDest(i))
				found = true
				break
			}
		}
	}

	action := candidate
	if !found {
		action = NewAction(FolderDest(p.folders.Rest()))
	}

	if p.ignored(m, action) {
		p.logDebug("ignoring message from ignored list", "id", m.ID, "path", m.Path)
		action = NewAction(DropDest(DropIgnored))
	}

	action = p.present(m, action.Dest)
	p.actions[m] = action
	return action, nil
}

// ignored reports whether a message bound for the catch-all comes from an
// ignored list without mentioning the user directly.
func (p *Plan) ignored(m *model.Message, action Action) bool {
	rule := p.rules.Ignore
	if rule == nil {
		return false
	}
	if idx, ok := action.Dest.FolderIndex(); !ok || idx != p.folders.Rest() {
		return false
	}
	if action.Mark == MarkFlagged {
		return false
	}
	if !m.HasValue("List-Id", rule.Lists) {
		return false
	}
	return !m.Mentions("To", rule.Name) && !m.Mentions("Cc", rule.Name)
}

func (p *Plan) enter(m *model.Message) error {
	if p.visiting[m] {
		start := 0
		for i, v := range p.stack {
			if v == m {
				start = i
				break
			}
		}
		cycle := append(paths(p.stack[start:]), m.Path)
		return &CycleError{Paths: cycle}
	}
	p.visiting[m] = true
	p.stack = append(p.stack, m)
	return nil
}

func (p *Plan) leave() {
	last := p.stack[len(p.stack)-1]
	p.stack = p.stack[:len(p.stack)-1]
	delete(p.visiting, last)
}
