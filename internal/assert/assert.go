// Copyright 2024 The vxrun Authors
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

// Package assert contains common assert methods.
package assert

import (
	"fmt"
	"reflect"
	"strings"
	"testing"
)

func prettyError(expected, actual interface{}) string {
	return fmt.Sprintf("expected: %v\ngot: %v", expected, actual)
}

// Assert checks that the given bool is true.
func Assert(t *testing.T, b bool) {
	t.Helper()
	if !b {
		t.Fatal("assertion failed")
	}
}

// NilError checks that the given error is nil.
func NilError(t *testing.T, err error) {
	t.Helper()
	if err != nil {
		t.Fatalf("expected nil error, got: %v", err)
	}
}

// NonNilError checks that the given error is non-nil.
func NonNilError(t *testing.T, err error) {
	t.Helper()
	if err == nil {
		t.Fatal("expected non-nil error")
	}
}

// ErrorContains checks that the given error contains the given string.
func ErrorContains(t *testing.T, err error, s string) {
	t.Helper()
	if err == nil {
		t.Fatalf("expected error containing %q, got nil", s)
	}
	if !strings.Contains(err.Error(), s) {
		t.Fatalf("expected error containing %q, got: %v", s, err)
	}
}

// IntsEqual checks that the two ints are equal.
func IntsEqual(t *testing.T, a, b int) {
	t.Helper()
	if a != b {
		t.Fatal(prettyError(b, a))
	}
}

// StringsEqual checks that the two strings are equal.
func StringsEqual(t *testing.T, a, b string) {
	t.Helper()
	if a != b {
		t.Fatal(prettyError(b, a))
	}
}

// BoolsEqual checks that the two bools are equal.
func BoolsEqual(t *testing.T, a, b bool) {
	t.Helper()
	if a != b {
		t.Fatal(prettyError(b, a))
	}
}

// StringArrsEqual checks that the two string arrays are equal.
func StringArrsEqual(t *testing.T, a, b []string) {
	t.Helper()
	if !reflect.DeepEqual(a, b) {
		t.Fatal(prettyError(b, a))
	}
}
