package assort

import (
	"fmt"
	"math"
	"sort"

	"github.com/dhcgn/mailsort/keyword"
	"github.com/dhcgn/mailsort/store"
)

// FolderSpec is the validated configuration of one destination folder.
type FolderSpec struct {
	Name     string
	Priority int
	// Keywords route a message into this folder when its body matches.
	Keywords keyword.Set
	// FlaggingKeywords, when set, replaces the global flagging keywords for
	// messages filed here.
	FlaggingKeywords *keyword.Set
	MarkRead         bool
}

// Folder is a destination folder with its storage handle.
type Folder struct {
	FolderSpec
	Store store.Maildir
}

// Folders holds the destination folders in preference order: index 0 is the
// most preferred. The order is fixed once built.
type Folders struct {
	list []Folder
	rest int
}

// NewFolders sorts specs by descending priority and attaches the storage of
// each folder below root. The INBOX folder is the catch-all; when it is not
// configured it is appended with the lowest preference.
func NewFolders(root string, specs []FolderSpec) Folders {
	list := make([]Folder, 0, len(specs)+1)
	for _, spec := range specs {
		list = append(list, Folder{FolderSpec: spec, Store: store.Open(root, spec.Name)})
	}
	sort.SliceStable(list, func(i, j int) bool {
		return list[i].Priority > list[j].Priority
	})

	rest := -1
	for i, f := range list {
		if f.Name == store.RootName {
			rest = i
			break
		}
	}
	if rest < 0 {
		list = append(list, Folder{
			FolderSpec: FolderSpec{Name: store.RootName, Priority: math.MaxInt},
			Store:      store.Open(root, store.RootName),
		})
		rest = len(list) - 1
	}
	return Folders{list: list, rest: rest}
}

// Init creates the maildir structure of every folder.
func (f Folders) Init() error {
	for _, folder := range f.list {
		if err := folder.Store.Init(); err != nil {
			return fmt.Errorf("folder %s: %w", folder.Name, err)
		}
	}
	return nil
}

func (f Folders) Len() int {
	return len(f.list)
}

func (f Folders) At(idx int) *Folder {
	return &f.list[idx]
}

// Rest returns the index of the catch-all folder.
func (f Folders) Rest() int {
	return f.rest
}

// Name returns the name of the folder a destination points at.
func (f Folders) Name(d Dest) string {
	if idx, ok := d.FolderIndex(); ok && idx < len(f.list) {
		return f.list[idx].Name
	}
	return d.String()
}
