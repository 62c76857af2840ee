package main

import (
	"fmt"
	"io"
	"os"

	"github.com/mattn/go-isatty"
	"github.com/schollz/progressbar/v3"
	"go.uber.org/zap"

	"github.com/sells-group/geocluster/internal/pipeline"
	"github.com/sells-group/geocluster/pkg/geocode"
)

// barProgress draws a progress bar on a terminal. The bar is created on the
// first step because the row count is only known then.
type barProgress struct {
	w   io.Writer
	bar *progressbar.ProgressBar
}

func (p *barProgress) Step(done, total int, rec geocode.Record) {
	if p.bar == nil {
		p.bar = progressbar.NewOptions(total,
			progressbar.OptionSetDescription("Geocoding"),
			progressbar.OptionSetWriter(p.w),
			progressbar.OptionShowCount(),
			progressbar.OptionClearOnFinish(),
		)
	}
	p.bar.Describe(fmt.Sprintf("Processing %d/%d: %s", done, total, rec.Query.City))
	_ = p.bar.Add(1)
	if done == total {
		_ = p.bar.Finish()
	}
}

// logProgress logs every resolved row, for pipes and log collectors.
func logProgress(done, total int, rec geocode.Record) {
	zap.L().Info("resolved row",
		zap.Int("row", done),
		zap.Int("total", total),
		zap.String("city", rec.Query.City),
		zap.String("source", string(rec.Source)),
	)
}

// newProgress picks a bar when stderr is a terminal and logging otherwise.
func newProgress() pipeline.Progress {
	if isatty.IsTerminal(os.Stderr.Fd()) || isatty.IsCygwinTerminal(os.Stderr.Fd()) {
		return &barProgress{w: os.Stderr}
	}
	return pipeline.ProgressFunc(logProgress)
}
