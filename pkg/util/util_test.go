package util

import (
	"os"
	"path/filepath"
	"slices"
	"testing"
)

func TestWithUserWritePermission(t *testing.T) {
	if got := WithUserWritePermission(0444); got != 0644 {
		t.Errorf("expected 0644, got %o", got)
	}
	if got := WithUserWritePermission(0755); got != 0755 {
		t.Errorf("expected 0755 to be unchanged, got %o", got)
	}
}

func TestExpandPath(t *testing.T) {
	home, err := os.UserHomeDir()
	if err != nil {
		t.Skipf("no home directory available: %v", err)
	}

	tests := []struct {
		in   string
		want string
	}{
		{"~/server", filepath.Join(home, "server")},
		{"./server", "./server"},
		{"/abs/server", "/abs/server"},
	}
	for _, tc := range tests {
		got, err := ExpandPath(tc.in)
		if err != nil {
			t.Fatalf("ExpandPath(%q) returned error: %v", tc.in, err)
		}
		if got != tc.want {
			t.Errorf("ExpandPath(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestInvertMap(t *testing.T) {
	inv := InvertMap(map[int]string{1: "run", 2: "abort"})
	if inv["run"] != 1 || inv["abort"] != 2 || len(inv) != 2 {
		t.Errorf("unexpected inverted map: %v", inv)
	}
}

func TestSortedKeys(t *testing.T) {
	got := SortedKeys(map[string]int{"run": 2, "abort": 2, "confirm": 2})
	want := []string{"abort", "confirm", "run"}
	if !slices.Equal(got, want) {
		t.Errorf("SortedKeys = %v, want %v", got, want)
	}
}
