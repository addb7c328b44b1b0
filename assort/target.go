package assort

import (
	"fmt"

	"github.com/dhcgn/mailsort/store"
)

// checkTargets makes sure no filed message is replaced. Within one folder a
// storage id names a single message, so a planned delivery must neither hit
// an id already present in the folder's cur area nor share its id with
// another delivery.
func (p *Plan) checkTargets() error {
	var found conflicts
	existing := make(map[int]map[string]string)
	planned := make(map[int]map[string]string)

	for _, entry := range p.Actions() {
		idx, ok := entry.Action.Dest.FolderIndex()
		if !ok {
			continue
		}
		if idx >= p.folders.Len() {
			return fmt.Errorf("%w: folder index %d out of range for %s", ErrInternal, idx, entry.Message.Path)
		}
		folder := p.folders.At(idx)

		if _, ok := existing[idx]; !ok {
			ids, err := storageIDs(folder.Store)
			if err != nil {
				return err
			}
			existing[idx] = ids
			planned[idx] = make(map[string]string)
		}

		id := entry.Message.StorageID
		target := folder.Store.Target(id, entry.Action.Flags())
		if path, ok := existing[idx][id]; ok {
			found.add(ConflictTargetExists,
				fmt.Sprintf("%s already holds a message stored as %s", folder.Name, id),
				path, entry.Message.Path)
			continue
		}
		if other, ok := planned[idx][id]; ok {
			found.add(ConflictSameTarget,
				fmt.Sprintf("two messages would be stored as %s in %s", id, folder.Name),
				other, entry.Message.Path)
			continue
		}
		planned[idx][id] = entry.Message.Path
		p.logDebug("target", "id", id, "path", target)
	}
	return found.err("checking targets")
}

func storageIDs(m store.Maildir) (map[string]string, error) {
	paths, err := m.ListCur()
	if err != nil {
		return nil, err
	}
	ids := make(map[string]string, len(paths))
	for _, path := range paths {
		ids[store.StorageID(path)] = path
	}
	return ids, nil
}
