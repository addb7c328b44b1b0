package keyword

import (
	"bytes"
	"fmt"
	"regexp"
	"strings"
)

// Set is a compiled set of regular expressions. A Set matches a text when any
// of its patterns does. The zero value is an empty set that matches nothing.
type Set struct {
	patterns []*regexp.Regexp
}

// Compile builds a Set from the given patterns. Blank patterns are skipped.
func Compile(patterns []string) (Set, error) {
	compiled := make([]*regexp.Regexp, 0, len(patterns))
	for _, pattern := range patterns {
		pattern = strings.TrimSpace(pattern)
		if pattern == "" {
			continue
		}
		re, err := regexp.Compile(pattern)
		if err != nil {
			return Set{}, fmt.Errorf("compile %q: %w", pattern, err)
		}
		compiled = append(compiled, re)
	}
	return Set{patterns: compiled}, nil
}

// MustCompile is like Compile but panics on an invalid pattern.
func MustCompile(patterns ...string) Set {
	s, err := Compile(patterns)
	if err != nil {
		panic(err)
	}
	return s
}

// Matches reports whether any pattern matches text.
func (s Set) Matches(text string) bool {
	_, ok := s.Match(text)
	return ok
}

// Match returns the source of the first pattern matching text.
func (s Set) Match(text string) (string, bool) {
	for _, re := range s.patterns {
		if re.MatchString(text) {
			return re.String(), true
		}
	}
	return "", false
}

func (s Set) Len() int {
	return len(s.patterns)
}

// Patterns returns the pattern sources in configuration order.
func (s Set) Patterns() []string {
	out := make([]string, 0, len(s.patterns))
	for _, re := range s.patterns {
		out = append(out, re.String())
	}
	return out
}

// FilterOptions captures the include/exclude filtering configuration.
type FilterOptions struct {
	IncludeHeader []string
	IncludeBody   []string
	ExcludeHeader []string
	ExcludeBody   []string
}

// Filter selects messages by header and body patterns. Include and exclude
// modes are mutually exclusive.
type Filter struct {
	includeHeader Set
	includeBody   Set
	excludeHeader Set
	excludeBody   Set
}

// NewFilter compiles the filter patterns.
func NewFilter(opts FilterOptions) (*Filter, error) {
	var (
		f   Filter
		err error
	)
	if f.includeHeader, err = Compile(opts.IncludeHeader); err != nil {
		return nil, fmt.Errorf("compile include-header pattern: %w", err)
	}
	if f.includeBody, err = Compile(opts.IncludeBody); err != nil {
		return nil, fmt.Errorf("compile include-body pattern: %w", err)
	}
	if f.excludeHeader, err = Compile(opts.ExcludeHeader); err != nil {
		return nil, fmt.Errorf("compile exclude-header pattern: %w", err)
	}
	if f.excludeBody, err = Compile(opts.ExcludeBody); err != nil {
		return nil, fmt.Errorf("compile exclude-body pattern: %w", err)
	}
	if f.includeMode() && f.excludeMode() {
		return nil, fmt.Errorf("include and exclude filters are mutually exclusive")
	}
	return &f, nil
}

func (f *Filter) includeMode() bool {
	return f.includeHeader.Len() > 0 || f.includeBody.Len() > 0
}

func (f *Filter) excludeMode() bool {
	return f.excludeHeader.Len() > 0 || f.excludeBody.Len() > 0
}

// Allows returns true if the message passes the filter criteria.
func (f *Filter) Allows(header, body []byte) bool {
	if f.includeMode() {
		return f.includeHeader.Matches(string(header)) || f.includeBody.Matches(string(body))
	}
	if f.excludeMode() {
		return !f.excludeHeader.Matches(string(header)) && !f.excludeBody.Matches(string(body))
	}
	return true
}

// SplitRawMessage splits a raw email message into header and body parts.
func SplitRawMessage(raw []byte) (header, body []byte) {
	if len(raw) == 0 {
		return nil, nil
	}

	if idx := bytes.Index(raw, []byte("\r\n\r\n")); idx >= 0 {
		return raw[:idx], raw[idx+4:]
	}
	if idx := bytes.Index(raw, []byte("\n\n")); idx >= 0 {
		return raw[:idx], raw[idx+2:]
	}

	return raw, nil
}
