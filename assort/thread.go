package assort

import (
	"fmt"
)

// reconcile moves new messages of one thread into a common folder. Whenever
// a reply and an entry under its parent id disagree, both go to the more
// preferred folder. Indices only ever decrease, so the loop terminates.
// Replies that would leave a thread already filed elsewhere, or that split a
// thread between the bin and a folder, are reported as of the final pass.
func (p *Plan) reconcile() error {
	var found conflicts
	for changed := true; changed; {
		changed = false
		found = conflicts{}
		p.passes++
		for _, m := range p.newMail {
			for _, entry := range p.index.Lookup(m.Parent) {
				if entry == m {
					continue
				}
				ours := p.actions[m]

				if idx, filed := entry.Origin.Folder(); filed {
					if own, ok := ours.Dest.FolderIndex(); ok && own != idx {
						found.add(ConflictThreadSplit,
							fmt.Sprintf("reply would go to %s but its thread is filed in %s",
								p.folders.Name(ours.Dest), p.folders.Name(FolderDest(idx))),
							entry.Path, m.Path)
					}
					continue
				}

				theirs := p.actions[entry]
				if ours.Dest == theirs.Dest || ours.Dest.isCopy() || theirs.Dest.isCopy() {
					continue
				}
				dest, ok := MaxPriority(ours.Dest, theirs.Dest)
				if !ok {
					found.add(ConflictDropAndKeep,
						fmt.Sprintf("thread is split between %s and %s", ours.Dest, theirs.Dest),
						entry.Path, m.Path)
					continue
				}
				p.logDebug("moving thread to preferred folder", "id", m.ID, "parent", entry.ID, "folder", p.folders.Name(dest))
				p.actions[m] = p.present(m, dest)
				p.actions[entry] = p.present(entry, dest)
				changed = true
			}
		}
	}
	return found.err("reconciling threads")
}
