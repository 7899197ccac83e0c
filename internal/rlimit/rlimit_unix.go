//go:build unix

// Package rlimit raises the process's open-file soft limit at startup. A
// proxy holding thousands of long-lived client and backend sockets open at
// once will otherwise run into the default per-process fd ceiling well
// before it runs into any other resource limit.
package rlimit

import "golang.org/x/sys/unix"

// DefaultNoFile is the soft limit this proxy asks for.
const DefaultNoFile = 65536

// RaiseNoFile raises RLIMIT_NOFILE's soft limit to want, capped at the
// current hard limit, and returns the limit actually in effect afterward.
func RaiseNoFile(want uint64) (uint64, error) {
	var rlim unix.Rlimit
	if err := unix.Getrlimit(unix.RLIMIT_NOFILE, &rlim); err != nil {
		return 0, err
	}

	target := want
	if rlim.Max != unix.RLIM_INFINITY && target > rlim.Max {
		target = rlim.Max
	}
	if rlim.Cur >= target {
		return rlim.Cur, nil
	}

	rlim.Cur = target
	if err := unix.Setrlimit(unix.RLIMIT_NOFILE, &rlim); err != nil {
		return 0, err
	}
	return rlim.Cur, nil
}
