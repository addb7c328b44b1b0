package store

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/emersion/go-maildir"
)

// RootName is the folder name that maps to the maildir root itself.
const RootName = "INBOX"

// InfoSeparator separates the storage id from the info part of a maildir
// file name. Windows file names cannot contain a colon.
var InfoSeparator = func() string {
	if runtime.GOOS == "windows" {
		return ";"
	}
	return ":"
}()

// Maildir is the storage handle of one destination folder.
type Maildir struct {
	Name string
	Path string
}

// Open returns the maildir of folder name below root. The INBOX folder is
// the root itself, every other folder is a dot-prefixed subdirectory.
func Open(root, name string) Maildir {
	if name == RootName {
		return Maildir{Name: name, Path: root}
	}
	return Maildir{Name: name, Path: filepath.Join(root, "."+name)}
}

// Init creates the new, cur and tmp areas if they are missing.
func (m Maildir) Init() error {
	if err := maildir.Dir(m.Path).Init(); err != nil {
		return fmt.Errorf("init maildir %s: %w", m.Path, err)
	}
	return nil
}

// ListNew returns the paths of all files in the new area.
func (m Maildir) ListNew() ([]string, error) {
	return listFiles(filepath.Join(m.Path, "new"))
}

// ListCur returns the paths of all files in the cur area.
func (m Maildir) ListCur() ([]string, error) {
	return listFiles(filepath.Join(m.Path, "cur"))
}

// listFiles lists the mail files of one area. A missing area holds no mail.
func listFiles(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", dir, err)
	}
	paths := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() || strings.HasPrefix(entry.Name(), ".") {
			continue
		}
		paths = append(paths, filepath.Join(dir, entry.Name()))
	}
	return paths, nil
}

// Filename returns the committed name of a message in the cur area.
func Filename(storageID, flags string) string {
	return storageID + InfoSeparator + "2," + flags
}

// FlagString renders the maildir flag letters, in maildir order, for the
// given presentation state.
func FlagString(read, flagged bool) string {
	var b strings.Builder
	if flagged {
		b.WriteRune(rune(maildir.FlagFlagged))
	}
	if read {
		b.WriteRune(rune(maildir.FlagSeen))
	}
	return b.String()
}

// StorageID strips the info suffix from a maildir file name.
func StorageID(path string) string {
	name := filepath.Base(path)
	for _, sep := range []string{":", ";"} {
		if idx := strings.Index(name, sep+"2,"); idx >= 0 {
			return name[:idx]
		}
	}
	return name
}

// Target returns the path a message is delivered to.
func (m Maildir) Target(storageID, flags string) string {
	return filepath.Join(m.Path, "cur", Filename(storageID, flags))
}

// Deliver copies src into the cur area under its committed name and then
// removes src. The copy is synced before the original goes away, so a crash
// in between leaves a duplicate rather than losing the message. An existing
// file is never replaced; Deliver fails with fs.ErrExist instead.
func (m Maildir) Deliver(src, storageID, flags string) (string, error) {
	dst := m.Target(storageID, flags)
	if err := copyFile(src, dst); err != nil {
		return "", err
	}
	if err := os.Remove(src); err != nil {
		return "", fmt.Errorf("remove %s: %w", src, err)
	}
	return dst, nil
}

// Remove deletes a message file.
func Remove(path string) error {
	if err := os.Remove(path); err != nil {
		return fmt.Errorf("remove %s: %w", path, err)
	}
	return nil
}

func copyFile(src, dst string) (err error) {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("open %s: %w", src, err)
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o600)
	if err != nil {
		return fmt.Errorf("create %s: %w", dst, err)
	}
	defer func() {
		if cerr := out.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("close %s: %w", dst, cerr)
		}
		if err != nil {
			_ = os.Remove(dst)
		}
	}()

	if _, err := io.Copy(out, in); err != nil {
		return fmt.Errorf("copy %s to %s: %w", src, dst, err)
	}
	if err := out.Sync(); err != nil && !errors.Is(err, os.ErrInvalid) {
		return fmt.Errorf("sync %s: %w", dst, err)
	}
	return nil
}
