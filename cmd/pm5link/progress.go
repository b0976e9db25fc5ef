package main

import (
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"golang.org/x/term"
)

const (
	progressUpdateInterval = 100 * time.Millisecond
	clearLineSequence      = "\r\033[K"
)

// ProgressPrinter shows "<prefix> (Ns)" while a blocking step runs.
// On a non-terminal writer it prints the prefix once and nothing else.
//
//	p := NewProgressPrinter(os.Stderr, "Connecting to PM5")
//	p.Start()
//	defer p.Stop()
type ProgressPrinter struct {
	w      io.Writer
	prefix string
	tty    bool

	once sync.Once
	stop chan struct{}
	done chan struct{}
}

func NewProgressPrinter(w io.Writer, prefix string) *ProgressPrinter {
	return &ProgressPrinter{
		w:      w,
		prefix: prefix,
		tty:    isTerminal(w),
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

// Start begins displaying progress. It must be paired with Stop.
func (p *ProgressPrinter) Start() {
	if !p.tty {
		fmt.Fprintf(p.w, "%s...\n", p.prefix)
		close(p.done)
		return
	}

	start := time.Now()
	fmt.Fprintf(p.w, "\r%s...", p.prefix)
	go func() {
		defer close(p.done)
		ticker := time.NewTicker(progressUpdateInterval)
		defer ticker.Stop()
		for {
			select {
			case <-p.stop:
				fmt.Fprint(p.w, clearLineSequence)
				return
			case <-ticker.C:
				fmt.Fprintf(p.w, "\r%s (%ds)   ", p.prefix, int(time.Since(start).Seconds()))
			}
		}
	}()
}

// Stop clears the progress line. Safe to call more than once.
func (p *ProgressPrinter) Stop() {
	p.once.Do(func() {
		close(p.stop)
		<-p.done
	})
}
