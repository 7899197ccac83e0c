//go:build unix

package rlimit

import "testing"

func TestRaiseNoFileBelowCurrent(t *testing.T) {
	// Any reasonable environment's current soft limit is already above a
	// handful of file descriptors, so this should be a no-op success
	// rather than exercise the actual Setrlimit path.
	got, err := RaiseNoFile(8)
	if err != nil {
		t.Fatalf("RaiseNoFile(8) returned error: %v", err)
	}
	if got < 8 {
		t.Errorf("RaiseNoFile(8) = %d, want at least 8", got)
	}
}
