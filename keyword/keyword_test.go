package keyword

import (
	"testing"
)

func TestSet_Matches(t *testing.T) {
	s, err := Compile([]string{`diff --git a/rust/`, "  ", `^Signed-off-by: .*@example\.org>$`})
	if err != nil {
		t.Fatalf("Compile() error = %v", err)
	}
	if s.Len() != 2 {
		t.Fatalf("Len() = %d, want 2 (blank pattern skipped)", s.Len())
	}

	tests := []struct {
		name string
		text string
		want bool
	}{
		{name: "first pattern", text: "diff --git a/rust/kernel/lib.rs b/rust/kernel/lib.rs", want: true},
		{name: "anchored pattern needs multiline", text: "x\nSigned-off-by: A <a@example.org>", want: false},
		{name: "anchored pattern whole text", text: "Signed-off-by: A <a@example.org>", want: true},
		{name: "no match", text: "diff --git a/drivers/net", want: false},
		{name: "empty text", text: "", want: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := s.Matches(tt.text); got != tt.want {
				t.Errorf("Matches(%q) = %v, want %v", tt.text, got, tt.want)
			}
		})
	}
}

func TestSet_MatchReturnsPattern(t *testing.T) {
	s := MustCompile(`foo`, `ba[rz]`)
	got, ok := s.Match("a baz b")
	if !ok || got != `ba[rz]` {
		t.Errorf("Match() = %q, %v; want %q, true", got, ok, `ba[rz]`)
	}
	if want := []string{`foo`, `ba[rz]`}; len(s.Patterns()) != 2 || s.Patterns()[1] != want[1] {
		t.Errorf("Patterns() = %v, want %v", s.Patterns(), want)
	}
}

func TestSet_ZeroValue(t *testing.T) {
	var s Set
	if s.Matches("anything") {
		t.Error("zero Set must not match")
	}
}

func TestCompile_Invalid(t *testing.T) {
	if _, err := Compile([]string{"("}); err == nil {
		t.Error("expected error for invalid pattern")
	}
}

func TestFilter_Allows_IncludeMode(t *testing.T) {
	f, err := NewFilter(FilterOptions{IncludeHeader: []string{"Subject: Test"}})
	if err != nil {
		t.Fatalf("NewFilter() error = %v", err)
	}

	body := []byte("This is the message body")
	if !f.Allows([]byte("Subject: Test Message\nFrom: sender@example.com\n"), body) {
		t.Error("Expected message to be allowed (header matches)")
	}
	if f.Allows([]byte("Subject: Other\nFrom: sender@example.com\n"), body) {
		t.Error("Expected message to be filtered out (header doesn't match)")
	}
}

func TestFilter_Allows_ExcludeMode(t *testing.T) {
	f, err := NewFilter(FilterOptions{ExcludeBody: []string{"unsubscribe"}})
	if err != nil {
		t.Fatalf("NewFilter() error = %v", err)
	}

	header := []byte("Subject: Normal Message\n")
	if !f.Allows(header, []byte("patch content")) {
		t.Error("Expected message to be allowed")
	}
	if f.Allows(header, []byte("click to unsubscribe")) {
		t.Error("Expected message to be filtered out")
	}
}

func TestFilter_MutuallyExclusive(t *testing.T) {
	_, err := NewFilter(FilterOptions{
		IncludeHeader: []string{"test"},
		ExcludeHeader: []string{"spam"},
	})
	if err == nil {
		t.Error("Expected error when both include and exclude are specified")
	}
}

func TestFilter_NoFilters(t *testing.T) {
	f, err := NewFilter(FilterOptions{})
	if err != nil {
		t.Fatalf("NewFilter() error = %v", err)
	}
	if !f.Allows([]byte("Subject: Any Message\n"), []byte("Any body content")) {
		t.Error("Expected message to be allowed when no filters are active")
	}
}

func TestSplitRawMessage(t *testing.T) {
	tests := []struct {
		name       string
		raw        []byte
		wantHeader []byte
		wantBody   []byte
	}{
		{
			name:       "CRLF separator",
			raw:        []byte("Header: value\r\n\r\nBody content"),
			wantHeader: []byte("Header: value"),
			wantBody:   []byte("Body content"),
		},
		{
			name:       "LF separator",
			raw:        []byte("Header: value\n\nBody content"),
			wantHeader: []byte("Header: value"),
			wantBody:   []byte("Body content"),
		},
		{
			name:       "No separator",
			raw:        []byte("All header content"),
			wantHeader: []byte("All header content"),
			wantBody:   nil,
		},
		{
			name:       "Empty message",
			raw:        []byte{},
			wantHeader: nil,
			wantBody:   nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gotHeader, gotBody := SplitRawMessage(tt.raw)
			if string(gotHeader) != string(tt.wantHeader) {
				t.Errorf("SplitRawMessage() header = %q, want %q", gotHeader, tt.wantHeader)
			}
			if string(gotBody) != string(tt.wantBody) {
				t.Errorf("SplitRawMessage() body = %q, want %q", gotBody, tt.wantBody)
			}
		})
	}
}
