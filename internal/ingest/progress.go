package ingest

import (
	"io"
	"os"

	"github.com/schollz/progressbar/v3"
	"golang.org/x/term"
)

// Progress receives directory ingest progress.
type Progress interface {
	Start(total int)
	Increment()
	Finish()
}

type barProgress struct {
	w   io.Writer
	bar *progressbar.ProgressBar
}

// NewBarProgress reports progress as a bar on w.
func NewBarProgress(w io.Writer) Progress {
	return &barProgress{w: w}
}

// TerminalProgress returns a bar on stderr when it is a terminal, and nil otherwise.
func TerminalProgress() Progress {
	if !term.IsTerminal(int(os.Stderr.Fd())) {
		return nil
	}
	return NewBarProgress(os.Stderr)
}

func (p *barProgress) Start(total int) {
	if total <= 0 {
		return
	}
	p.bar = progressbar.NewOptions(total,
		progressbar.OptionSetWriter(p.w),
		progressbar.OptionSetDescription("ingesting"),
		progressbar.OptionSetWidth(32),
		progressbar.OptionShowCount(),
		progressbar.OptionClearOnFinish(),
		progressbar.OptionSetTheme(progressbar.Theme{
			Saucer:        "=",
			SaucerHead:    ">",
			SaucerPadding: " ",
			BarStart:      "[",
			BarEnd:        "]",
		}),
	)
}

func (p *barProgress) Increment() {
	if p.bar == nil {
		return
	}
	_ = p.bar.Add(1)
}

func (p *barProgress) Finish() {
	if p.bar == nil {
		return
	}
	_ = p.bar.Finish()
}
