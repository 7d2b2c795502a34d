// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package libpf // import "go.opentelemetry.io/symtrace/libpf"

import "os"

// PID represent Unix Process ID (pid_t)
type PID uint32

// IsSelf reports whether p names the calling process.
func (p PID) IsSelf() bool {
	return int(p) == os.Getpid()
}

// SelfPID returns the PID of the calling process.
func SelfPID() PID {
	return PID(os.Getpid())
}
