package sync

import (
	"fmt"
	"time"
)

// Stages at which a single file can fail.
const (
	StageScan     = "scan"
	StageHash     = "hash"
	StageStage    = "stage"
	StageFinalize = "finalize"
)

// FileFailure is a per-file error. It never aborts a pass.
type FileFailure struct {
	Path  string
	Stage string
	Err   error
}

// ItemError is the service's rejection of one item in a finalize batch.
type ItemError struct {
	Code    int
	Message string
}

func (e *ItemError) Error() string {
	return fmt.Sprintf("rejected by service (code %d): %s", e.Code, e.Message)
}

// Report summarizes one upload pass.
type Report struct {
	PassID        string
	Candidates    int
	Uploaded      int
	UploadedBytes int64
	Skipped       int
	SkippedBytes  int64
	Duplicates    int
	Batches       int
	Failed        []FileFailure
	Elapsed       time.Duration
}

func (r *Report) skip(size int64) {
	r.Skipped++
	r.SkippedBytes += size
}

func (r *Report) fail(path, stage string, err error) {
	r.Failed = append(r.Failed, FileFailure{Path: path, Stage: stage, Err: err})
}

// AddFailures appends failures found before the pass began, such as
// unreadable directories during the walk.
func (r *Report) AddFailures(ff []FileFailure) {
	r.Failed = append(r.Failed, ff...)
}
