package assort

import (
	"fmt"

	"github.com/dhcgn/mailsort/store"
)

// Execute applies the plan: dropped messages are deleted, every other one is
// copied into the cur area of its folder and then deleted from the pool.
// With dryRun only the log is written. report, when set, is called after each
// applied action.
func (p *Plan) Execute(dryRun bool, report func(Planned, error)) error {
	for _, planned := range p.Actions() {
		err := p.apply(planned, dryRun)
		if report != nil {
			report(planned, err)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

func (p *Plan) apply(planned Planned, dryRun bool) error {
	m, action := planned.Message, planned.Action

	idx, ok := action.Dest.FolderIndex()
	if !ok {
		p.logInfo("deleting", "id", m.StorageID, "reason", action.Dest.Reason().String(), "dryRun", dryRun)
		if dryRun {
			return nil
		}
		return store.Remove(m.Path)
	}

	if idx >= p.folders.Len() {
		return fmt.Errorf("%w: folder index %d out of range for %s", ErrInternal, idx, m.Path)
	}
	folder := p.folders.At(idx)
	p.logInfo("moving", "id", m.StorageID, "folder", folder.Name, "flags", action.Flags(), "src", m.Path, "dryRun", dryRun)
	if dryRun {
		return nil
	}
	if _, err := folder.Store.Deliver(m.Path, m.StorageID, action.Flags()); err != nil {
		return fmt.Errorf("file into %s: %w", folder.Name, err)
	}
	return nil
}

func (p *Plan) logInfo(msg string, args ...any) {
	if p.logger != nil {
		p.logger.Info(msg, args...)
	}
}
