// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package xact

import (
	"errors"
	"testing"

	"github.com/shoenig/test/must"
)

func TestTransaction_AllStepsSucceed(t *testing.T) {
	t.Parallel()

	var order []string
	tx := New(nil)
	step, err := tx.Run(
		Step{Name: "a", Do: func() error { order = append(order, "a"); return nil }},
		Step{Name: "b", Do: func() error { order = append(order, "b"); return nil }},
	)
	must.NoError(t, err)
	must.Eq(t, "", step)
	must.Eq(t, []string{"a", "b"}, order)
}

func TestTransaction_UnwindsCommittedStepsInReverse(t *testing.T) {
	t.Parallel()

	var undone []string
	boom := errors.New("boom")
	tx := New(nil)
	failed, err := tx.Run(
		Step{Name: "a", Do: func() error { return nil }, Undo: func() { undone = append(undone, "a") }},
		Step{Name: "b", Do: func() error { return nil }, Undo: func() { undone = append(undone, "b") }},
		Step{Name: "c", Do: func() error { return boom }, Undo: func() { undone = append(undone, "c") }},
	)
	must.Error(t, err)
	must.Eq(t, "c", failed)
	must.Eq(t, []string{"b", "a"}, undone)
}

func TestTransaction_UndoPanicIsRecovered(t *testing.T) {
	t.Parallel()

	boom := errors.New("boom")
	tx := New(nil)
	_, err := tx.Run(
		Step{Name: "a", Do: func() error { return nil }, Undo: func() { panic("undo exploded") }},
		Step{Name: "b", Do: func() error { return boom }},
	)
	must.Error(t, err)
}
