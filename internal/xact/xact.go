// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

// Package xact implements the (do, undo) transaction stack described in the
// network lifecycle engine's design notes: each transactional step is a pair
// of functions; the transaction is a stack, and failure pops and runs undo on
// every frame that already committed, in LIFO order.
package xact

import "github.com/hashicorp/go-hclog"

// Step is one frame of a transaction: Do performs the forward action, Undo
// reverses it. Undo is only ever invoked for a step whose Do already
// succeeded.
type Step struct {
	Name string
	Do   func() error
	Undo func()
}

// Transaction runs a sequence of steps in order. The first failing step
// aborts the sequence and unwinds every previously committed step's Undo in
// reverse order. Undo errors are logged, never propagated — the triggering Do
// error is always what the caller sees.
type Transaction struct {
	logger hclog.Logger
	steps  []Step
	done   []Step
}

// New returns a Transaction that logs undo failures through logger (which may
// be nil, in which case a null logger is used).
func New(logger hclog.Logger) *Transaction {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	return &Transaction{logger: logger.Named("xact")}
}

// Run executes steps in order. On the first error, it unwinds every step
// whose Do already completed (LIFO) by invoking its Undo, then returns the
// failing step's name together with the original, unmodified error.
func (t *Transaction) Run(steps ...Step) (failedStep string, err error) {
	t.steps = steps
	t.done = t.done[:0]

	for _, s := range steps {
		if doErr := s.Do(); doErr != nil {
			t.unwind()
			return s.Name, doErr
		}
		t.done = append(t.done, s)
	}
	return "", nil
}

// unwind runs Undo for every committed step, most-recent first, swallowing
// and logging any error raised by Undo itself.
func (t *Transaction) unwind() {
	for i := len(t.done) - 1; i >= 0; i-- {
		step := t.done[i]
		if step.Undo == nil {
			continue
		}
		func() {
			defer func() {
				if r := recover(); r != nil {
					t.logger.Error("panic during unwind", "step", step.Name, "recovered", r)
				}
			}()
			step.Undo()
		}()
		t.logger.Debug("unwound step", "step", step.Name)
	}
	t.done = t.done[:0]
}
