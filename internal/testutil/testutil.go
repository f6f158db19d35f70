// Package testutil provides shared test utilities and fixtures.
//
// This package centralises common numeric test helpers to reduce code
// duplication across test files and improve test maintainability.
package testutil

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"gonum.org/v1/gonum/mat"
)

// AssertNoError fails the test if err is not nil.
func AssertNoError(t *testing.T, err error) {
	t.Helper()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

// AssertError fails the test if err is nil.
func AssertError(t *testing.T, err error) {
	t.Helper()
	if err == nil {
		t.Fatal("expected error, got nil")
	}
}

// AssertMatrixNear checks that two matrices agree entrywise within tol.
func AssertMatrixNear(t *testing.T, got, want mat.Matrix, tol float64) {
	t.Helper()
	if got == nil || want == nil {
		t.Fatalf("nil matrix: got=%v want=%v", got, want)
	}
	gr, gc := got.Dims()
	wr, wc := want.Dims()
	if gr != wr || gc != wc {
		t.Fatalf("dims %dx%d, want %dx%d", gr, gc, wr, wc)
	}
	if !mat.EqualApprox(got, want, tol) {
		t.Errorf("matrices differ beyond %g:\ngot:\n%v\nwant:\n%v",
			tol, mat.Formatted(got), mat.Formatted(want))
	}
}

// AssertFloatsNear diffs two float slices with an absolute tolerance.
func AssertFloatsNear(t *testing.T, got, want []float64, tol float64) {
	t.Helper()
	if diff := cmp.Diff(want, got, cmpopts.EquateApprox(0, tol)); diff != "" {
		t.Errorf("float slices differ (-want +got):\n%s", diff)
	}
}

// AssertVec3Near checks a 3-vector against expected values within tol.
func AssertVec3Near(t *testing.T, got, want [3]float64, tol float64) {
	t.Helper()
	AssertFloatsNear(t, got[:], want[:], tol)
}
