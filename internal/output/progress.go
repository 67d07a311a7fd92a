package output

import (
	"fmt"
	"io"
	"math"
	"os"
	"time"

	"github.com/charmbracelet/bubbles/progress"
	"github.com/mattn/go-isatty"
)

// EpochProgress renders a one-line progress bar per training or validation
// pass. On a terminal the line is redrawn in place; otherwise only the
// finished line is written, so log files stay readable.
type EpochProgress struct {
	w      io.Writer
	bar    progress.Model
	tty    bool
	epochs int

	epoch   int
	phase   string
	total   int
	done    int
	lossSum float64
	started time.Time
}

// NewEpochProgress writes to w for a run of the given epoch count.
func NewEpochProgress(w io.Writer, epochs int) *EpochProgress {
	tty := false
	if f, ok := w.(*os.File); ok {
		tty = isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
	}
	return &EpochProgress{
		w:      w,
		bar:    progress.New(progress.WithDefaultGradient(), progress.WithWidth(30)),
		tty:    tty,
		epochs: epochs,
	}
}

// Begin starts a pass. A "train" pass advances the epoch counter.
func (p *EpochProgress) Begin(phase string, batches int) {
	if phase == "train" {
		p.epoch++
	}
	p.phase, p.total, p.done, p.lossSum = phase, batches, 0, 0
	p.started = time.Now()
	if p.tty {
		p.render(false)
	}
}

// Advance records one finished batch.
func (p *EpochProgress) Advance(loss float64) {
	p.done++
	p.lossSum += loss
	if p.tty {
		p.render(false)
	}
}

// End finishes the line.
func (p *EpochProgress) End() {
	p.render(true)
}

func (p *EpochProgress) render(final bool) {
	pct := 0.0
	if p.total > 0 {
		pct = float64(p.done) / float64(p.total)
	}
	mean := math.NaN()
	if p.done > 0 {
		mean = p.lossSum / float64(p.done)
	}
	line := fmt.Sprintf("epoch %d/%d %-5s %s %d/%d loss=%.4f %s",
		p.epoch, p.epochs, p.phase, p.bar.ViewAs(pct), p.done, p.total, mean,
		time.Since(p.started).Round(time.Millisecond))

	switch {
	case p.tty && final:
		fmt.Fprintf(p.w, "\r%s\n", line)
	case p.tty:
		fmt.Fprintf(p.w, "\r%s", line)
	case final:
		fmt.Fprintln(p.w, line)
	}
}
