// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package presenter shows archive notices to the operator.
//
// # Description
//
// The presenter owns its own ticker and pulls one message from the sink
// per tick, so the archive core never knows whether anything is
// displaying its output. Two front ends exist: a line printer for pipes
// and logs, and a bubbletea view for interactive terminals.
package presenter

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/mattn/go-isatty"

	"github.com/AleutianAI/SpeechArchive/pkg/archive/notify"
)

// DrainInterval is the polling cadence.
const DrainInterval = 100 * time.Millisecond

// Source is the consumer side of a notify.Sink.
type Source interface {
	Drain() (notify.Message, bool)
}

var _ Source = (*notify.Sink)(nil)

// Progress is the archive fill level shown by the terminal view.
type Progress struct {
	Files   int
	Max     int
	Summary string
}

// Ratio returns Files/Max clamped to [0, 1].
func (p Progress) Ratio() float64 {
	if p.Max <= 0 {
		return 0
	}
	r := float64(p.Files) / float64(p.Max)
	if r > 1 {
		return 1
	}
	return r
}

// ProgressFunc reports the current archive fill level.
type ProgressFunc func() Progress

// IsTerminal reports whether f is an interactive terminal.
func IsTerminal(f *os.File) bool {
	fd := f.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}

// Run presents messages until ctx ends (or the user quits the terminal
// view). It picks the terminal view when out is a TTY.
func Run(ctx context.Context, src Source, progress ProgressFunc, out *os.File) error {
	if IsTerminal(out) {
		p := tea.NewProgram(NewModel(src, progress), tea.WithContext(ctx), tea.WithOutput(out))
		_, err := p.Run()
		if err != nil && ctx.Err() != nil {
			return nil
		}
		return err
	}
	NewLinePrinter(src, out).Run(ctx)
	return nil
}

// LinePrinter writes one drained message per tick as a plain line.
type LinePrinter struct {
	src      Source
	out      io.Writer
	interval time.Duration
}

// NewLinePrinter creates a printer polling at DrainInterval.
func NewLinePrinter(src Source, out io.Writer) *LinePrinter {
	return &LinePrinter{src: src, out: out, interval: DrainInterval}
}

// Run blocks until ctx ends, then prints whatever is still queued.
func (p *LinePrinter) Run(ctx context.Context) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			p.Flush()
			return
		case <-ticker.C:
			if msg, ok := p.src.Drain(); ok {
				fmt.Fprintln(p.out, msg.String())
			}
		}
	}
}

// Flush prints every queued message without waiting.
func (p *LinePrinter) Flush() {
	for {
		msg, ok := p.src.Drain()
		if !ok {
			return
		}
		fmt.Fprintln(p.out, msg.String())
	}
}
