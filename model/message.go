package model

import (
	"fmt"
	"strings"
	"time"
)

// Origin tells where a message was discovered: in the pool of new mail or
// already filed in one of the destination folders.
type Origin struct {
	folder int // 0 means New, otherwise folder index + 1
}

// New is the origin of every message in the pool of new mail.
var New = Origin{}

// InFolder returns the origin of a message already filed in folder idx.
func InFolder(idx int) Origin {
	return Origin{folder: idx + 1}
}

func (o Origin) IsNew() bool {
	return o.folder == 0
}

// Folder returns the folder index of an already filed message.
func (o Origin) Folder() (int, bool) {
	if o.folder == 0 {
		return 0, false
	}
	return o.folder - 1, true
}

func (o Origin) String() string {
	if idx, ok := o.Folder(); ok {
		return fmt.Sprintf("folder(%d)", idx)
	}
	return "new"
}

// Message is a single mail file. ID is the normalized Message-ID; two files
// may share it, so Path is what tells messages apart.
type Message struct {
	ID        string
	Parent    string // normalized In-Reply-To, empty when absent
	Origin    Origin
	Path      string
	StorageID string // file name without the maildir info suffix
	Header    map[string][]string
	Body      string
	Raw       []byte
}

// Values returns all decoded values of header key in file order.
func (m *Message) Values(key string) []string {
	return m.Header[strings.ToLower(key)]
}

// HasValue reports whether any value of header key is in set.
func (m *Message) HasValue(key string, set map[string]struct{}) bool {
	for _, v := range m.Values(key) {
		if _, ok := set[v]; ok {
			return true
		}
	}
	return false
}

// Mentions reports whether any value of header key contains needle.
func (m *Message) Mentions(key, needle string) bool {
	for _, v := range m.Values(key) {
		if strings.Contains(v, needle) {
			return true
		}
	}
	return false
}

// RawMessage is a single message split out of an mbox archive, before it is written
// to the pool of new mail.
type RawMessage struct {
	ID         string
	Hash       string
	ReceivedAt time.Time
	Size       int64
	Raw        []byte
}

// Envelope wraps a message alongside an optional error encountered while decoding.
// Filtered envelopes carry no message; the import filters rejected it.
type Envelope struct {
	Message  RawMessage
	Err      error
	Filtered bool
}
