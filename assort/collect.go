package assort

import (
	"fmt"

	"github.com/dhcgn/mailsort/model"
	"github.com/dhcgn/mailsort/store"
)

// Collect reads the batch: every already filed message, folder by folder in
// preference order, then the new messages of pool. New messages from a
// deduplicate list come last, so a plain copy of the same message becomes
// the canonical entry.
func Collect(folders Folders, pool store.Maildir, rules Rules) ([]*model.Message, error) {
	var mails []*model.Message
	for i := 0; i < folders.Len(); i++ {
		folder := folders.At(i)
		for _, list := range []func() ([]string, error){folder.Store.ListNew, folder.Store.ListCur} {
			files, err := list()
			if err != nil {
				return nil, fmt.Errorf("folder %s: %w", folder.Name, err)
			}
			for _, path := range files {
				m, err := store.ReadMessage(path, model.InFolder(i), rules.Prefer)
				if err != nil {
					return nil, err
				}
				mails = append(mails, m)
			}
		}
	}

	var quirked []*model.Message
	for _, list := range []func() ([]string, error){pool.ListCur, pool.ListNew} {
		files, err := list()
		if err != nil {
			return nil, fmt.Errorf("new mail: %w", err)
		}
		for _, path := range files {
			m, err := store.ReadMessage(path, model.New, rules.Prefer)
			if err != nil {
				return nil, err
			}
			if m.HasValue("List-Id", rules.Deduplicate) {
				quirked = append(quirked, m)
				continue
			}
			mails = append(mails, m)
		}
	}
	return append(mails, quirked...), nil
}
