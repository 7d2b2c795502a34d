// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package libpf // import "go.opentelemetry.io/symtrace/libpf"

import "fmt"

// Address represents an absolute instruction address, or an offset within an image.
type Address uintptr

// String formats the address the way frames render it.
func (adr Address) String() string {
	return fmt.Sprintf("0x%x", uint64(adr))
}
