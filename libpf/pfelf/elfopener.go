// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package pfelf // import "go.opentelemetry.io/symtrace/libpf/pfelf"

// ELFOpener is the interface to open ELF files by name. Image discovery
// goes through it so the file source can be swapped.
//
// Implementations must be safe to be called from different threads simultaneously.
type ELFOpener interface {
	OpenELF(string) (*File, error)
}

// systemOpener implements ELFOpener by opening files from file system
type systemOpener struct{}

func (systemOpener) OpenELF(file string) (*File, error) {
	return Open(file)
}

// SystemOpener opens ELF files from the local file system.
var SystemOpener ELFOpener = systemOpener{}
