package main

import (
	"fmt"
	"io"
	"sync"
	"time"
)

const (
	progressUpdateInterval = time.Second
	clearLineSequence      = "\r\033[K"
)

// ProgressPrinter shows "<prefix> (<n>s)" on one terminal line until Stop.
//
//	p := NewProgressPrinter(os.Stdout, "Searching for HC-01")
//	p.Start()
//	defer p.Stop()
//
// Start and Stop are idempotent; a stopped printer cannot be restarted.
type ProgressPrinter struct {
	out    io.Writer
	prefix string

	mu      sync.Mutex
	started bool
	stopped bool
	stop    chan struct{}
	done    chan struct{}
}

func NewProgressPrinter(out io.Writer, prefix string) *ProgressPrinter {
	return &ProgressPrinter{
		out:    out,
		prefix: prefix,
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
}

// Start begins displaying elapsed seconds in a background goroutine.
func (p *ProgressPrinter) Start() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.started || p.stopped {
		return
	}
	p.started = true

	fmt.Fprintf(p.out, "\r%s...   ", p.prefix)
	start := time.Now()
	ticker := time.NewTicker(progressUpdateInterval)

	go func() {
		defer close(p.done)
		defer ticker.Stop()
		for {
			select {
			case <-p.stop:
				return
			case <-ticker.C:
				fmt.Fprintf(p.out, "\r%s (%ds)   ", p.prefix, int(time.Since(start).Seconds()))
			}
		}
	}()
}

// Stop ends the display and clears the line. It is safe to call more than once.
func (p *ProgressPrinter) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stopped {
		return
	}
	p.stopped = true
	if !p.started {
		return
	}
	close(p.stop)
	<-p.done
	fmt.Fprint(p.out, clearLineSequence)
}
