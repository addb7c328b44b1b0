package assort

import (
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dhcgn/mailsort/keyword"
	"github.com/dhcgn/mailsort/model"
	"github.com/dhcgn/mailsort/store"
)

// Folder indices after sorting by priority.
const (
	idxRust = iota
	idxNet
	idxMuted
	idxInbox
)

const (
	listRust   = "<rust-for-linux.vger.kernel.org>"
	listRiscv  = "<linux-riscv.lists.infradead.org>"
	listQemu   = "<qemu-devel.nongnu.org>"
	me         = "Jane Doe"
	myAddress  = "jane@example.org"
	rustPatch  = "diff --git a/rust/kernel/lib.rs b/rust/kernel/lib.rs"
	netPatch   = "diff --git a/net/core/dev.c b/net/core/dev.c"
	urgentText = "URGENT: please review"
)

func testFolders(t *testing.T) Folders {
	t.Helper()
	override := keyword.MustCompile(`NAK`)
	folders := NewFolders(t.TempDir(), []FolderSpec{
		{Name: "muted", Priority: 1, Keywords: keyword.MustCompile(`staging/`), MarkRead: true},
		{Name: "rust", Priority: 10, Keywords: keyword.MustCompile(`diff --git a/rust/`)},
		{Name: "net", Priority: 5, Keywords: keyword.MustCompile(`diff --git a/net/`), FlaggingKeywords: &override},
	})
	require.Equal(t, 4, folders.Len())
	require.Equal(t, idxInbox, folders.Rest())
	return folders
}

func testRules() Rules {
	return Rules{
		Flagging:    keyword.MustCompile(`URGENT`),
		Deduplicate: map[string]struct{}{listRiscv: {}},
		Addresses:   []string{myAddress},
		Ignore: &IgnoreRule{
			Name:  me,
			Lists: map[string]struct{}{listQemu: {}},
		},
	}
}

type mailOpt func(*mailSpec)

type mailSpec struct {
	headers []string
	body    string
}

func replyTo(id string) mailOpt {
	return func(s *mailSpec) { s.headers = append(s.headers, "In-Reply-To: "+id) }
}

func header(key, value string) mailOpt {
	return func(s *mailSpec) { s.headers = append(s.headers, key+": "+value) }
}

func body(text string) mailOpt {
	return func(s *mailSpec) { s.body = text }
}

func newMail(t *testing.T, path string, origin model.Origin, id string, opts ...mailOpt) *model.Message {
	t.Helper()
	spec := mailSpec{
		headers: []string{"From: Someone <someone@example.com>", "To: list@example.com", "Message-ID: " + id},
		body:    "Some text for " + id,
	}
	for _, opt := range opts {
		opt(&spec)
	}
	raw := strings.Join(spec.headers, "\n") + "\n\n" + spec.body + "\n"
	m, err := store.ParseMessage([]byte(raw), path, origin, nil)
	require.NoError(t, err)
	return m
}

func build(t *testing.T, mails ...*model.Message) *Plan {
	t.Helper()
	p, err := Build(testFolders(t), testRules(), mails, nil)
	require.NoError(t, err)
	return p
}

func requireAction(t *testing.T, p *Plan, m *model.Message, want Action) {
	t.Helper()
	got, ok := p.Action(m)
	require.True(t, ok, "no action for %s", m.Path)
	assert.Equal(t, want, got, "action for %s", m.Path)
}

func TestBuild_EveryNewMessageGetsOneAction(t *testing.T) {
	filed := newMail(t, "rust/cur/a", model.InFolder(idxRust), "<a@x>", body(rustPatch))
	first := newMail(t, "pool/1", model.New, "<b@x>", body(netPatch))
	second := newMail(t, "pool/2", model.New, "<c@x>")
	reply := newMail(t, "pool/3", model.New, "<d@x>", replyTo("<a@x>"))

	p := build(t, filed, first, second, reply)

	actions := p.Actions()
	require.Len(t, actions, 3)
	for _, planned := range actions {
		assert.True(t, planned.Message.Origin.IsNew())
	}
	_, ok := p.Action(filed)
	assert.False(t, ok, "already filed messages get no action")

	requireAction(t, p, first, NewAction(FolderDest(idxNet)))
	requireAction(t, p, second, NewAction(FolderDest(idxInbox)))
	requireAction(t, p, reply, NewAction(FolderDest(idxRust)))
}

func TestBuild_RepliesFollowNewParent(t *testing.T) {
	parent := newMail(t, "pool/p", model.New, "<p@x>", body(netPatch))
	one := newMail(t, "pool/1", model.New, "<r1@x>", replyTo("<p@x>"))
	two := newMail(t, "pool/2", model.New, "<r2@x>", replyTo("<p@x>"))

	p := build(t, one, two, parent)

	for _, m := range []*model.Message{parent, one, two} {
		requireAction(t, p, m, NewAction(FolderDest(idxNet)))
	}
}

func TestBuild_SiblingsConvergeToPreferredFolder(t *testing.T) {
	parent := newMail(t, "pool/p", model.New, "<p@x>")
	netReply := newMail(t, "pool/1", model.New, "<r1@x>", replyTo("<p@x>"), body(netPatch))
	rustReply := newMail(t, "pool/2", model.New, "<r2@x>", replyTo("<p@x>"), body(rustPatch))

	p := build(t, parent, netReply, rustReply)

	for _, m := range []*model.Message{parent, netReply, rustReply} {
		requireAction(t, p, m, NewAction(FolderDest(idxRust)))
	}
}

func TestBuild_KeywordsCannotDemoteThread(t *testing.T) {
	parent := newMail(t, "pool/p", model.New, "<p@x>", body(netPatch))
	reply := newMail(t, "pool/r", model.New, "<r@x>", replyTo("<p@x>"), body("touches drivers/staging/foo"))

	p := build(t, parent, reply)

	requireAction(t, p, reply, NewAction(FolderDest(idxNet)))
}

func TestBuild_ReplyToFiledMessageStaysInThread(t *testing.T) {
	filed := newMail(t, "net/cur/p", model.InFolder(idxNet), "<p@x>")
	reply := newMail(t, "pool/r", model.New, "<r@x>", replyTo("<p@x>"), body(rustPatch))

	p := build(t, filed, reply)

	requireAction(t, p, reply, NewAction(FolderDest(idxNet)))
}

func TestBuild_ThreadSplitAgainstFiledParent(t *testing.T) {
	filed := newMail(t, "net/cur/p", model.InFolder(idxNet), "<p@x>")
	reply := newMail(t, "pool/r", model.New, "<r@x>", replyTo("<p@x>"))
	nested := newMail(t, "pool/n", model.New, "<n@x>", replyTo("<r@x>"), body(rustPatch))

	_, err := Build(testFolders(t), testRules(), []*model.Message{filed, reply, nested}, nil)

	var conflict *ConflictError
	require.ErrorAs(t, err, &conflict)
	require.Len(t, conflict.Conflicts, 1)
	assert.Equal(t, ConflictThreadSplit, conflict.Conflicts[0].Kind)
	assert.Equal(t, []string{filed.Path, reply.Path}, conflict.Conflicts[0].Paths)
}

func TestBuild_VerbatimCopyIsDropped(t *testing.T) {
	filed := newMail(t, "net/cur/p", model.InFolder(idxNet), "<p@x>", body(netPatch))
	copyOf := newMail(t, "pool/p", model.New, "<p@x>", body(netPatch))

	p := build(t, filed, copyOf)

	requireAction(t, p, copyOf, NewAction(DropDest(DropVerbatimCopy)))
	_, ok := p.Action(filed)
	assert.False(t, ok)
	assert.Equal(t, []*model.Message{filed, copyOf}, p.index.Lookup("<p@x>"))
}

func TestBuild_SameBodyDifferentHeadersIsVerbatimCopy(t *testing.T) {
	filed := newMail(t, "net/cur/p", model.InFolder(idxNet), "<p@x>", body(netPatch))
	copyOf := newMail(t, "pool/p", model.New, "<p@x>", header("List-Id", listRust), body(netPatch))

	p := build(t, filed, copyOf)

	requireAction(t, p, copyOf, NewAction(DropDest(DropVerbatimCopy)))
}

func TestBuild_DeduplicateQuirkIgnoresBody(t *testing.T) {
	plain := newMail(t, "pool/1", model.New, "<p@x>", body(netPatch))
	footer := newMail(t, "pool/2", model.New, "<p@x>", header("List-Id", listRiscv), body(netPatch+"\n-- \nlist footer"))

	p := build(t, plain, footer)

	requireAction(t, p, plain, NewAction(FolderDest(idxNet)))
	requireAction(t, p, footer, NewAction(DropDest(DropDuplicateQuirk)))
}

func TestBuild_UnexplainedDuplicateIsConflict(t *testing.T) {
	filed := newMail(t, "net/cur/p", model.InFolder(idxNet), "<p@x>", body("one"))
	other := newMail(t, "pool/p", model.New, "<p@x>", body("two"))

	_, err := Build(testFolders(t), testRules(), []*model.Message{filed, other}, nil)

	var conflict *ConflictError
	require.ErrorAs(t, err, &conflict)
	assert.Equal(t, "indexing", conflict.Phase)
	require.Len(t, conflict.Conflicts, 1)
	assert.Equal(t, ConflictDuplicateID, conflict.Conflicts[0].Kind)
	assert.Equal(t, []string{filed.Path, other.Path}, conflict.Paths())
}

func TestBuild_CopiesInDifferentFoldersAreConflict(t *testing.T) {
	one := newMail(t, "net/cur/p", model.InFolder(idxNet), "<p@x>")
	two := newMail(t, "rust/cur/p", model.InFolder(idxRust), "<p@x>")
	fresh := newMail(t, "pool/q", model.New, "<q@x>")

	_, err := Build(testFolders(t), testRules(), []*model.Message{one, two, fresh}, nil)

	var conflict *ConflictError
	require.ErrorAs(t, err, &conflict)
	assert.Equal(t, ConflictSplitCopies, conflict.Conflicts[0].Kind)
}

func TestBuild_AllConflictsAreCollected(t *testing.T) {
	mails := []*model.Message{
		newMail(t, "net/cur/a", model.InFolder(idxNet), "<a@x>", body("one")),
		newMail(t, "net/cur/b", model.InFolder(idxNet), "<b@x>", body("one")),
		newMail(t, "pool/a", model.New, "<a@x>", body("two")),
		newMail(t, "pool/b", model.New, "<b@x>", body("two")),
	}

	_, err := Build(testFolders(t), testRules(), mails, nil)

	var conflict *ConflictError
	require.ErrorAs(t, err, &conflict)
	assert.Len(t, conflict.Conflicts, 2)
	assert.Contains(t, err.Error(), "pool/a")
	assert.Contains(t, err.Error(), "pool/b")
}

func TestBuild_IgnoreRule(t *testing.T) {
	tests := []struct {
		name string
		opts []mailOpt
		want Action
	}{
		{
			name: "ignored list without mention",
			opts: []mailOpt{header("List-Id", listQemu)},
			want: NewAction(DropDest(DropIgnored)),
		},
		{
			name: "ignored list mentioning me in To",
			opts: []mailOpt{header("List-Id", listQemu), header("To", me+" <"+myAddress+">")},
			want: NewAction(FolderDest(idxInbox)),
		},
		{
			name: "ignored list mentioning me in Cc",
			opts: []mailOpt{header("List-Id", listQemu), header("Cc", "Other <o@x>, "+me+" <"+myAddress+">")},
			want: NewAction(FolderDest(idxInbox)),
		},
		{
			name: "ignored list matching keywords",
			opts: []mailOpt{header("List-Id", listQemu), body(rustPatch)},
			want: NewAction(FolderDest(idxRust)),
		},
		{
			name: "other list",
			opts: []mailOpt{header("List-Id", listRust)},
			want: NewAction(FolderDest(idxInbox)),
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := newMail(t, "pool/m", model.New, "<m@x>", tt.opts...)
			p := build(t, m)
			requireAction(t, p, m, tt.want)
		})
	}
}

func TestBuild_Flags(t *testing.T) {
	tests := []struct {
		name string
		opts []mailOpt
		want Action
	}{
		{
			name: "global flagging keyword",
			opts: []mailOpt{body(urgentText)},
			want: Action{Dest: FolderDest(idxInbox), Mark: MarkFlagged},
		},
		{
			name: "folder override replaces global keywords",
			opts: []mailOpt{body(netPatch + "\n" + urgentText)},
			want: NewAction(FolderDest(idxNet)),
		},
		{
			name: "folder override keyword",
			opts: []mailOpt{body(netPatch + "\nNAK")},
			want: Action{Dest: FolderDest(idxNet), Mark: MarkFlagged},
		},
		{
			name: "mark read folder",
			opts: []mailOpt{body("drivers/staging/foo")},
			want: Action{Dest: FolderDest(idxMuted), Mark: MarkRead},
		},
		{
			name: "flagging wins over mark read folder",
			opts: []mailOpt{body("drivers/staging/foo " + urgentText)},
			want: Action{Dest: FolderDest(idxMuted), Mark: MarkFlagged},
		},
		{
			name: "own address is always read",
			opts: []mailOpt{header("From", me+" <"+myAddress+">"), body(urgentText)},
			want: Action{Dest: FolderDest(idxInbox), Mark: MarkRead},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := newMail(t, "pool/m", model.New, "<m@x>", tt.opts...)
			p := build(t, m)
			requireAction(t, p, m, tt.want)
		})
	}
}

func TestBuild_RepliesDoNotInheritMark(t *testing.T) {
	parent := newMail(t, "pool/p", model.New, "<p@x>", body(urgentText))
	reply := newMail(t, "pool/r", model.New, "<r@x>", replyTo("<p@x>"))

	p := build(t, parent, reply)

	requireAction(t, p, parent, Action{Dest: FolderDest(idxInbox), Mark: MarkFlagged})
	requireAction(t, p, reply, NewAction(FolderDest(idxInbox)))
}

func TestBuild_OwnMessageStaysReadAfterThreadMove(t *testing.T) {
	parent := newMail(t, "pool/p", model.New, "<p@x>", header("From", myAddress), body(urgentText))
	reply := newMail(t, "pool/r", model.New, "<r@x>", replyTo("<p@x>"), body(rustPatch))

	p := build(t, parent, reply)

	requireAction(t, p, parent, Action{Dest: FolderDest(idxRust), Mark: MarkRead})
	requireAction(t, p, reply, NewAction(FolderDest(idxRust)))
}

func TestBuild_DropAndKeepInOneThreadIsConflict(t *testing.T) {
	parent := newMail(t, "pool/p", model.New, "<p@x>", header("List-Id", listQemu), header("To", me))
	reply := newMail(t, "pool/r", model.New, "<r@x>", replyTo("<p@x>"), header("List-Id", listQemu))

	_, err := Build(testFolders(t), testRules(), []*model.Message{parent, reply}, nil)

	var conflict *ConflictError
	require.ErrorAs(t, err, &conflict)
	assert.Equal(t, ConflictDropAndKeep, conflict.Conflicts[0].Kind)
}

func TestBuild_DroppedCopyOfParentDoesNotSplitThread(t *testing.T) {
	filed := newMail(t, "net/cur/p", model.InFolder(idxNet), "<p@x>", body(netPatch))
	copyOf := newMail(t, "pool/p", model.New, "<p@x>", body(netPatch))
	reply := newMail(t, "pool/r", model.New, "<r@x>", replyTo("<p@x>"))

	p := build(t, filed, copyOf, reply)

	requireAction(t, p, copyOf, NewAction(DropDest(DropVerbatimCopy)))
	requireAction(t, p, reply, NewAction(FolderDest(idxNet)))
}

func TestBuild_ReplyCycleIsReported(t *testing.T) {
	a := newMail(t, "pool/a", model.New, "<a@x>", replyTo("<b@x>"))
	b := newMail(t, "pool/b", model.New, "<b@x>", replyTo("<a@x>"))

	_, err := Build(testFolders(t), testRules(), []*model.Message{a, b}, nil)

	var cycle *CycleError
	require.ErrorAs(t, err, &cycle)
	assert.Equal(t, []string{a.Path, b.Path, a.Path}, cycle.Paths)
}

func TestBuild_SelfReplyIsNoParent(t *testing.T) {
	m := newMail(t, "pool/a", model.New, "<a@x>", replyTo("<a@x>"), body(netPatch))

	p := build(t, m)

	requireAction(t, p, m, NewAction(FolderDest(idxNet)))
}

func TestBuild_LongChainConverges(t *testing.T) {
	const length = 8
	mails := make([]*model.Message, 0, length)
	for i := 0; i < length; i++ {
		var opts []mailOpt
		if i > 0 {
			opts = append(opts, replyTo(fmt.Sprintf("<m%d@x>", i-1)))
		}
		if i == length-1 {
			opts = append(opts, body(rustPatch))
		}
		mails = append(mails, newMail(t, fmt.Sprintf("pool/%02d", i), model.New, fmt.Sprintf("<m%d@x>", i), opts...))
	}

	p := build(t, mails...)

	for _, m := range mails {
		requireAction(t, p, m, NewAction(FolderDest(idxRust)))
	}
	assert.LessOrEqual(t, p.passes, length)
}

func TestBuild_ParentFromLaterInBatch(t *testing.T) {
	reply := newMail(t, "pool/1", model.New, "<r@x>", replyTo("<p@x>"))
	parent := newMail(t, "pool/2", model.New, "<p@x>", body(netPatch))

	p := build(t, reply, parent)

	requireAction(t, p, reply, NewAction(FolderDest(idxNet)))
	requireAction(t, p, parent, NewAction(FolderDest(idxNet)))
}

func TestSummary(t *testing.T) {
	filed := newMail(t, "net/cur/p", model.InFolder(idxNet), "<p@x>", body(netPatch))
	mails := []*model.Message{
		filed,
		newMail(t, "pool/p", model.New, "<p@x>", body(netPatch)),
		newMail(t, "pool/q", model.New, "<q@x>", header("List-Id", listQemu)),
		newMail(t, "pool/r", model.New, "<r@x>", body(urgentText)),
		newMail(t, "pool/s", model.New, "<s@x>", body(rustPatch), header("From", myAddress)),
	}

	s := build(t, mails...).Summary()

	assert.Equal(t, 4, s.New)
	assert.Equal(t, map[string]int{"INBOX": 1, "rust": 1}, s.Filed)
	assert.Equal(t, map[string]int{"verbatim-copy": 1, "ignored": 1}, s.Dropped)
	assert.Equal(t, 1, s.Read)
	assert.Equal(t, 1, s.Flagged)
}
