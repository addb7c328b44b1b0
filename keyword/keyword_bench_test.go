package keyword

import (
	"strings"
	"testing"
)

var benchBody = strings.Repeat("Some review comment on the patch.\n", 200) +
	"diff --git a/rust/kernel/sync.rs b/rust/kernel/sync.rs\n"

// BenchmarkSet_Matches_Empty benchmarks a folder without keywords.
func BenchmarkSet_Matches_Empty(b *testing.B) {
	var s Set
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		s.Matches(benchBody)
	}
}

// BenchmarkSet_Matches_Hit benchmarks a keyword set whose last pattern matches.
func BenchmarkSet_Matches_Hit(b *testing.B) {
	s := MustCompile(`drivers/gpu/`, `fs/btrfs/`, `diff --git a/rust/`)
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		s.Matches(benchBody)
	}
}

// BenchmarkSet_Matches_Miss benchmarks a keyword set without any match.
func BenchmarkSet_Matches_Miss(b *testing.B) {
	s := MustCompile(`drivers/gpu/`, `fs/btrfs/`, `mm/slub\.c`)
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		s.Matches(benchBody)
	}
}
