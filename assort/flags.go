package assort

import (
	"github.com/dhcgn/mailsort/model"
)

// present builds the action for m going to dest, with the presentation mark
// derived from the folder rules and the sender.
func (p *Plan) present(m *model.Message, dest Dest) Action {
	action := NewAction(dest)
	p.computeFlags(m, &action)
	if p.fromSelf(m) {
		action.Read()
	}
	return action
}

// computeFlags applies the mark-read switch and the flagging keywords of the
// destination folder. Drops carry no flags.
func (p *Plan) computeFlags(m *model.Message, action *Action) {
	idx, ok := action.Dest.FolderIndex()
	if !ok {
		return
	}
	folder := p.folders.At(idx)
	if folder.MarkRead {
		action.Read()
	}
	flagging := p.rules.Flagging
	if folder.FlaggingKeywords != nil {
		flagging = *folder.FlaggingKeywords
	}
	if flagging.Matches(m.Body) {
		action.Flag()
	}
}

func (p *Plan) fromSelf(m *model.Message) bool {
	for _, addr := range p.rules.Addresses {
		if addr != "" && m.Mentions("From", addr) {
			return true
		}
	}
	return false
}
