// Package assort decides where newly arrived mail goes. It indexes new and
// already filed messages by Message-ID, drops duplicates, routes every new
// message by its thread and the folder keyword rules, and keeps the replies
// of a thread together. Nothing is touched on disk until the whole batch has
// a consistent plan.
package assort

import (
	"fmt"
	"log/slog"
	"sort"

	"github.com/dhcgn/mailsort/keyword"
	"github.com/dhcgn/mailsort/model"
)

// Rules are the routing rules that do not belong to a single folder.
type Rules struct {
	// Flagging keywords flag a message unless its folder overrides them.
	Flagging keyword.Set
	// Deduplicate lists List-Id values whose copies of a known message are dropped.
	Deduplicate map[string]struct{}
	// Prefer lists Message-ID values to pick when a message has several.
	Prefer map[string]struct{}
	// Addresses of the user; mail from them is marked read.
	Addresses []string
	Ignore    *IgnoreRule
}

// IgnoreRule drops catch-all mail from the listed lists unless it is
// addressed to Name.
type IgnoreRule struct {
	Name  string
	Lists map[string]struct{}
}

// Plan is the action table of one run. It owns every decision; a Plan is
// built once and executed at most once.
type Plan struct {
	folders Folders
	rules   Rules
	logger  *slog.Logger

	index   *Index
	newMail []*model.Message
	actions map[*model.Message]Action

	visiting map[*model.Message]bool
	stack    []*model.Message
	passes   int
}

// Build plans the given batch. mails must list the already filed messages
// first and the new ones after, in discovery order. On a *ConflictError or
// *CycleError no plan is returned.
func Build(folders Folders, rules Rules, mails []*model.Message, logger *slog.Logger) (*Plan, error) {
	p := &Plan{
		folders:  folders,
		rules:    rules,
		logger:   logger,
		actions:  make(map[*model.Message]Action),
		visiting: make(map[*model.Message]bool),
	}

	if err := p.buildIndex(mails); err != nil {
		return nil, err
	}
	p.logDebug("indexed messages", "ids", p.index.Len(), "new", len(p.newMail))

	for _, m := range p.newMail {
		if _, err := p.resolve(m); err != nil {
			return nil, err
		}
	}

	if err := p.reconcile(); err != nil {
		return nil, err
	}
	p.logDebug("threads reconciled", "passes", p.passes)

	for _, m := range p.newMail {
		if _, ok := p.actions[m]; !ok {
			return nil, fmt.Errorf("%w: no action for %s", ErrInternal, m.Path)
		}
	}

	if err := p.checkTargets(); err != nil {
		return nil, err
	}
	return p, nil
}

// Planned is a new message with its final action.
type Planned struct {
	Message *model.Message
	Action  Action
}

// Actions returns the plan ordered by message path.
func (p *Plan) Actions() []Planned {
	out := make([]Planned, 0, len(p.newMail))
	for _, m := range p.newMail {
		out = append(out, Planned{Message: m, Action: p.actions[m]})
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Message.Path < out[j].Message.Path
	})
	return out
}

// Action returns the action planned for m.
func (p *Plan) Action(m *model.Message) (Action, bool) {
	a, ok := p.actions[m]
	return a, ok
}

func (p *Plan) Folders() Folders {
	return p.folders
}

// Summary counts the outcome of a plan.
type Summary struct {
	New     int
	Filed   map[string]int
	Dropped map[string]int
	Read    int
	Flagged int
	// Passes is the number of thread reconciliation passes.
	Passes int
}

func (p *Plan) Summary() Summary {
	s := Summary{
		New:     len(p.newMail),
		Filed:   make(map[string]int),
		Dropped: make(map[string]int),
		Passes:  p.passes,
	}
	for _, m := range p.newMail {
		a := p.actions[m]
		if a.Dest.IsDrop() {
			s.Dropped[a.Dest.Reason().String()]++
			continue
		}
		s.Filed[p.folders.Name(a.Dest)]++
		switch a.Mark {
		case MarkRead:
			s.Read++
		case MarkFlagged:
			s.Flagged++
		}
	}
	return s
}

func (s Summary) LogAttrs() []any {
	dropped := 0
	for _, n := range s.Dropped {
		dropped += n
	}
	return []any{
		"new", s.New,
		"filed", s.New - dropped,
		"dropped", dropped,
		"read", s.Read,
		"flagged", s.Flagged,
		"passes", s.Passes,
	}
}

func (p *Plan) logDebug(msg string, args ...any) {
	if p.logger != nil {
		p.logger.Debug(msg, args...)
	}
}
