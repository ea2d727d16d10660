// Package verify implements contract checks for the estimators.
//
// A failed check panics with an *AssertionError. Contract violations mean the
// caller fed invalid data (out-of-order trades, bad parameters); they are not
// a normal runtime outcome and are never retried. Boundaries that must keep
// running, like the replay harness, convert the panic back into an error with
// Recover.
package verify

import (
	"cmp"
	"fmt"
	"runtime"
	"strings"
)

// AssertionError describes a failed contract check.
type AssertionError struct {
	Expr     string
	File     string
	Line     int
	Operands []any
}

func (e *AssertionError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s:%d failed assertion `%s`", e.File, e.Line, e.Expr)
	if len(e.Operands) > 0 {
		b.WriteString(" (")
		for i, op := range e.Operands {
			if i > 0 {
				b.WriteString(", ")
			}
			fmt.Fprint(&b, op)
		}
		b.WriteString(")")
	}
	return b.String()
}

// That panics with an AssertionError for expr unless cond holds.
func That(cond bool, expr string, operands ...any) {
	if cond {
		return
	}
	fail(expr, operands)
}

func EQ[T comparable](a, b T, expr string) {
	if a != b {
		fail(expr, []any{a, b})
	}
}

func GT[T cmp.Ordered](a, b T, expr string) {
	if !(a > b) {
		fail(expr, []any{a, b})
	}
}

func GE[T cmp.Ordered](a, b T, expr string) {
	if !(a >= b) {
		fail(expr, []any{a, b})
	}
}

func LT[T cmp.Ordered](a, b T, expr string) {
	if !(a < b) {
		fail(expr, []any{a, b})
	}
}

func LE[T cmp.Ordered](a, b T, expr string) {
	if !(a <= b) {
		fail(expr, []any{a, b})
	}
}

// NotNil panics when v is nil.
func NotNil(v any, expr string) {
	if v == nil {
		fail(expr, nil)
	}
}

// Recover turns an in-flight *AssertionError panic into *errp.
// Any other panic is re-raised. Use as: defer verify.Recover(&err).
func Recover(errp *error) {
	r := recover()
	if r == nil {
		return
	}
	if ae, ok := r.(*AssertionError); ok {
		*errp = ae
		return
	}
	panic(r)
}

// fail reports the caller of the exported check, two frames up.
func fail(expr string, operands []any) {
	_, file, line, ok := runtime.Caller(2)
	if !ok {
		file = "?"
	} else if i := strings.LastIndexByte(file, '/'); i >= 0 {
		file = file[i+1:]
	}
	panic(&AssertionError{Expr: expr, File: file, Line: line, Operands: operands})
}
