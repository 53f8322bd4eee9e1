package main

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"handoff/internal/chat"
)

// newClientLogger builds a text logger on stderr so log lines never
// interleave with the interactive transcript on stdout.
func newClientLogger(level string) *slog.Logger {
	lvl := slog.LevelWarn

	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		lvl = slog.LevelDebug
	case "info":
		lvl = slog.LevelInfo
	case "warn", "warning":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	}

	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}

// transcriptPrinter tails a growing transcript and prints entries it has not
// printed yet. The controllers own the transcript; the CLI only renders it.
type transcriptPrinter struct {
	snapshot func() []chat.Entry
	printed  int
}

func (p *transcriptPrinter) flush() {
	entries := p.snapshot()
	for ; p.printed < len(entries); p.printed++ {
		printEntry(entries[p.printed])
	}
}

// tail polls the transcript until stop is closed. Polling keeps the
// controllers free of UI callbacks.
func (p *transcriptPrinter) tail(stop <-chan struct{}) {
	t := time.NewTicker(200 * time.Millisecond)
	defer t.Stop()

	for {
		select {
		case <-stop:
			p.flush()
			return
		case <-t.C:
			p.flush()
		}
	}
}

func printEntry(e chat.Entry) {
	label := string(e.Role)
	if e.Local {
		label = label + "*"
	}
	fmt.Printf("[%s] %-6s %s\n", e.TS.Format("15:04:05"), label, e.Text)
}
