package storage

import "testing"

func TestRebind(t *testing.T) {
	got := rebind(true, "SELECT a FROM t WHERE b = ? AND c IN (?, ?)")
	want := "SELECT a FROM t WHERE b = $1 AND c IN ($2, $3)"
	if got != want {
		t.Fatalf("rebind = %q, want %q", got, want)
	}
	if rebind(false, "a = ?") != "a = ?" {
		t.Fatalf("sqlite queries must keep ? placeholders")
	}
}
