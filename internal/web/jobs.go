package web

// jobs.go runs uploaded imports in the background.
//
// POST /api/imports spools the upload to a temp file and returns an import
// ID at once. The import itself runs on its own goroutine once an import
// slot is free; clients poll GET /api/imports/{id} or follow the event
// stream, and may cancel. Finished jobs are forgotten after the configured
// retention.

import (
	"context"
	"errors"
	"io"
	"os"
	"sync"
	"time"

	"github.com/JonMunkholm/csvimport/internal/core"
	"github.com/JonMunkholm/csvimport/internal/logging"
)

// job is one background import.
type job struct {
	id      string
	tracker *core.Tracker
	created time.Time
	done    chan struct{}

	mu       sync.Mutex
	result   *core.ImportResult
	err      error
	finished time.Time
}

// ImportStatus is the JSON view of a job.
type ImportStatus struct {
	core.ImportProgress
	Percent int                `json:"percent"`
	Done    bool               `json:"done"`
	Result  *core.ImportResult `json:"result,omitempty"`
	Failure *ErrorResponse     `json:"failure,omitempty"`
}

func newJob(id, table string, size int64, now time.Time) *job {
	return &job{
		id:      id,
		tracker: core.NewTracker(id, table, size),
		created: now,
		done:    make(chan struct{}),
	}
}

// finish records the import result and wakes waiters.
func (j *job) finish(result *core.ImportResult, err error, now time.Time) {
	var outcome core.ImportOutcome
	if result != nil {
		outcome = result.Outcome
	}
	j.tracker.Complete(outcome, err)

	j.mu.Lock()
	j.result = result
	j.err = err
	j.finished = now
	j.mu.Unlock()

	close(j.done)
}

// status returns a snapshot for API responses.
func (j *job) status() ImportStatus {
	p := j.tracker.Snapshot()
	st := ImportStatus{ImportProgress: p, Percent: p.Percent()}

	j.mu.Lock()
	defer j.mu.Unlock()
	if j.finished.IsZero() {
		return st
	}
	st.Done = true
	st.Result = j.result
	if j.err != nil {
		failure := newErrorResponse(j.err)
		st.Failure = &failure
	}
	if st.Phase == core.PhaseCommitted {
		st.Percent = 100
	}
	return st
}

func (j *job) finishedAt() time.Time {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.finished
}

// jobRegistry tracks background imports by ID.
type jobRegistry struct {
	mu        sync.RWMutex
	jobs      map[string]*job
	retention time.Duration
	now       func() time.Time
}

func newJobRegistry(retention time.Duration) *jobRegistry {
	if retention <= 0 {
		retention = time.Hour
	}
	return &jobRegistry{
		jobs:      make(map[string]*job),
		retention: retention,
		now:       time.Now,
	}
}

func (r *jobRegistry) add(j *job) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.jobs[j.id] = j
}

func (r *jobRegistry) get(id string) (*job, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	j, ok := r.jobs[id]
	if !ok {
		return nil, errImportNotFound
	}
	return j, nil
}

// cancel asks a running import to stop. Cancelling a finished import is a
// no-op.
func (r *jobRegistry) cancel(id string) (*job, error) {
	j, err := r.get(id)
	if err != nil {
		return nil, err
	}
	j.tracker.Cancel()
	return j, nil
}

// sweep drops jobs that finished more than the retention period ago and
// returns how many were removed.
func (r *jobRegistry) sweep() int {
	cutoff := r.now().Add(-r.retention)

	r.mu.Lock()
	defer r.mu.Unlock()
	removed := 0
	for id, j := range r.jobs {
		if f := j.finishedAt(); !f.IsZero() && f.Before(cutoff) {
			delete(r.jobs, id)
			removed++
		}
	}
	return removed
}

// sweepLoop runs sweep until ctx is done.
func (r *jobRegistry) sweepLoop(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := r.sweep(); n > 0 {
				logging.FromContext(ctx).Debug("expired finished imports", "count", n)
			}
		}
	}
}

// spool copies an upload to a temp file the background job can read after
// the request has returned.
func spool(src io.Reader) (string, int64, error) {
	f, err := os.CreateTemp("", "csvimport-*.upload")
	if err != nil {
		return "", 0, err
	}
	n, err := io.Copy(f, src)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(f.Name())
		return "", 0, err
	}
	return f.Name(), n, nil
}

// runImport executes req for j from the spooled file at path, holding an
// import slot for the duration. It owns and removes path.
func (s *Server) runImport(ctx context.Context, j *job, req core.ImportRequest, path string) {
	defer os.Remove(path)

	logger := logging.WithFields(ctx, "import_id", j.id, "table", req.Table)

	ctx, cancel := context.WithTimeout(ctx, s.cfg.Import.Timeout)
	defer cancel()

	limiter := s.service.Limiter()
	if err := limiter.Acquire(ctx); err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			err = core.ErrTooManyImports
		}
		logger.Warn("import not started", "error", err)
		j.finish(&core.ImportResult{ImportID: j.id, Table: req.Table}, err, s.jobs.now())
		return
	}
	defer limiter.Release()

	f, err := os.Open(path)
	if err != nil {
		j.finish(&core.ImportResult{ImportID: j.id, Table: req.Table}, err, s.jobs.now())
		return
	}
	defer f.Close()

	req.Input = f
	result, err := s.service.Import(ctx, req)
	if err != nil {
		logger.Warn("import failed", "error", err, "code", core.MapError(err).Code)
	}
	j.finish(result, err, s.jobs.now())
}
