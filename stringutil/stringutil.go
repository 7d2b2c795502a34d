// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

// Package stringutil provides allocation-free field splitting for parsing
// procfs text files line by line.
package stringutil // import "go.opentelemetry.io/symtrace/stringutil"

import "strings"

var asciiSpace = [256]uint8{'\t': 1, '\n': 1, '\v': 1, '\f': 1, '\r': 1, ' ': 1}

func trimLeftSpace(s string) string {
	i := 0
	for i < len(s) && asciiSpace[s[i]] != 0 {
		i++
	}
	return s[i:]
}

// FieldsN splits s around runs of ASCII white space into at most len(f)
// fields and returns how many were filled. The last field receives the
// unsplit remainder of s, starting at its first non-space character.
func FieldsN(s string, f []string) int {
	if len(f) == 0 {
		return 0
	}
	n := 0
	for {
		s = trimLeftSpace(s)
		if s == "" {
			return n
		}
		if n == len(f)-1 {
			f[n] = s
			return n + 1
		}
		end := 0
		for end < len(s) && asciiSpace[s[end]] == 0 {
			end++
		}
		f[n] = s[:end]
		s = s[end:]
		n++
	}
}

// SplitN splits s around sep into at most len(f) fields and returns how many
// were filled. The last field receives the unsplit remainder of s. Like
// strings.SplitN, but writing into f instead of allocating.
func SplitN(s, sep string, f []string) int {
	if len(f) == 0 {
		return 0
	}
	n := 0
	for ; n < len(f)-1; n++ {
		before, after, found := strings.Cut(s, sep)
		if !found {
			break
		}
		f[n] = before
		s = after
	}
	f[n] = s
	return n + 1
}
