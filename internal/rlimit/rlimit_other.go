//go:build !unix

package rlimit

import "errors"

// DefaultNoFile is the soft limit this proxy asks for on platforms that
// support it.
const DefaultNoFile = 65536

// RaiseNoFile changes nothing on platforms without RLIMIT_NOFILE and
// always returns an error there.
func RaiseNoFile(want uint64) (uint64, error) {
	return 0, errors.New("rlimit: not supported on this platform")
}
