package main

import (
	"io"
	"sync"

	"github.com/schollz/progressbar/v3"
)

// taskProgress renders a progress bar on terminals and stays silent
// elsewhere so piped output remains parseable.
type taskProgress struct {
	mu  sync.Mutex
	bar *progressbar.ProgressBar
}

func newTaskProgress(out io.Writer, total int, description string, enabled bool) *taskProgress {
	if !enabled || total <= 0 || !isTerminal(out) {
		return &taskProgress{}
	}
	bar := progressbar.NewOptions(total,
		progressbar.OptionSetWriter(out),
		progressbar.OptionSetDescription(description),
		progressbar.OptionShowCount(),
		progressbar.OptionSetElapsedTime(true),
		progressbar.OptionSetPredictTime(true),
		progressbar.OptionClearOnFinish(),
		progressbar.OptionEnableColorCodes(shouldColorize(out)),
		progressbar.OptionSetWidth(30),
	)
	return &taskProgress{bar: bar}
}

// Set moves the bar to done. It is safe to call from worker goroutines.
func (p *taskProgress) Set(done int) {
	if p == nil || p.bar == nil {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	_ = p.bar.Set(done)
}

func (p *taskProgress) Describe(description string) {
	if p == nil || p.bar == nil {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.bar.Describe(description)
}

func (p *taskProgress) Finish() {
	if p == nil || p.bar == nil {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	_ = p.bar.Finish()
}
