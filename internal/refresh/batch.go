package refresh

import (
	"context"
	"log/slog"

	"github.com/BadgerOps/pqrefresh/internal/workbook"
)

// BatchResult aggregates a batch. Success+Failed always equals Total, and
// Total equals the number of files passed in.
type BatchResult struct {
	Success int       `json:"success"`
	Failed  int       `json:"failed"`
	Total   int       `json:"total"`
	Files   []Outcome `json:"files,omitempty"`
}

// Batch refreshes an ordered list of workbooks strictly one at a time.
// The spreadsheet application is not safe to drive from two instances at
// once, so there is no worker pool here.
type Batch struct {
	refresher *Refresher
	logger    *slog.Logger

	// OnFileStart, when set, is called before each workbook is refreshed.
	OnFileStart func(workbook.File)
	// OnFileDone, when set, is called after each workbook in input order.
	OnFileDone func(Outcome)
}

// NewBatch creates a Batch around refresher.
func NewBatch(refresher *Refresher, logger *slog.Logger) *Batch {
	if logger == nil {
		logger = slog.Default()
	}
	return &Batch{
		refresher: refresher,
		logger:    logger,
	}
}

// Run processes files in order. Cancelling ctx stops the batch between
// files: the workbook in flight finishes (its context is detached from
// cancellation) and every remaining workbook is counted as failed.
func (b *Batch) Run(ctx context.Context, files []workbook.File, settings Settings) BatchResult {
	if len(files) == 0 {
		b.logger.Info("no workbooks to refresh")
		return BatchResult{}
	}

	b.logger.Info("starting refresh batch", "files", len(files))

	result := BatchResult{
		Total: len(files),
		Files: make([]Outcome, 0, len(files)),
	}
	fileCtx := context.WithoutCancel(ctx)

	for _, f := range files {
		var out Outcome
		if err := ctx.Err(); err != nil {
			out = Outcome{File: f, Step: StepCancelled, Error: err.Error()}
			b.logger.Warn("workbook skipped, batch cancelled", "file", f.Name)
		} else {
			if b.OnFileStart != nil {
				b.OnFileStart(f)
			}
			out = b.refresher.Refresh(fileCtx, f, settings)
		}

		if out.Success {
			result.Success++
		} else {
			result.Failed++
		}
		result.Files = append(result.Files, out)

		if b.OnFileDone != nil {
			b.OnFileDone(out)
		}
	}

	b.logger.Info("refresh batch finished",
		"success", result.Success,
		"failed", result.Failed,
		"total", result.Total,
	)
	return result
}
