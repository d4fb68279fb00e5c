// package downloads coordinates the media download pipeline: per-user
// serialization, a bounded worker pool, artifact size policy and guaranteed
// cleanup of delivered or failed artifacts.
package downloads

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/melodymind/internal/services"
	"github.com/desertthunder/melodymind/internal/shared"
	"golang.org/x/sync/semaphore"
)

// State is a download job's lifecycle phase. Done and Failed are terminal.
type State int

const (
	StatePending State = iota
	StateFetching
	StateDelivering
	StateDone
	StateFailed
)

func (s State) String() string {
	switch s {
	case StatePending:
		return "pending"
	case StateFetching:
		return "fetching"
	case StateDelivering:
		return "delivering"
	case StateDone:
		return "done"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Terminal reports whether the state admits no further transitions.
func (s State) Terminal() bool { return s == StateDone || s == StateFailed }

// Artifact is a downloaded audio file ready for delivery. Title and
// Performer are already truncated to the transport's metadata limits.
type Artifact struct {
	Path      string
	Title     string
	Performer string
	Thumbnail string
	Duration  int
	SizeBytes int64
}

// Deliverer hands a finished artifact to the user. The artifact file is
// removed as soon as Deliver returns, success or not.
type Deliverer interface {
	Deliver(ctx context.Context, userID int64, artifact Artifact) error
}

// Job is one download request moving through the pipeline.
type Job struct {
	ID     string
	UserID int64
	Source string

	mu    sync.Mutex
	state State
	err   error
	done  chan struct{}
}

func (j *Job) setState(s State) {
	j.mu.Lock()
	j.state = s
	j.mu.Unlock()
}

func (j *Job) fail(err error) {
	j.mu.Lock()
	j.state = StateFailed
	j.err = err
	j.mu.Unlock()
}

// State returns the job's current phase.
func (j *Job) State() State {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.state
}

// Err returns the terminal error, nil unless the job failed.
func (j *Job) Err() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.err
}

// Wait blocks until the job reaches a terminal state or ctx is done, then
// returns the job's error.
func (j *Job) Wait(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-j.done:
		return j.Err()
	}
}

// metadataLimit bounds audio title and performer fields on delivery.
const metadataLimit = 64

// Coordinator runs download jobs. At most one non-terminal job exists per
// user; total platform fetch concurrency is capped by the worker pool.
type Coordinator struct {
	extractor services.MediaExtractor
	deliverer Deliverer
	pool      *semaphore.Weighted
	dir       string
	maxSize   int64
	logger    *log.Logger

	mu     sync.Mutex
	active map[int64]*Job
}

// NewCoordinator creates a coordinator writing artifacts under cfg.Dir.
func NewCoordinator(cfg shared.DownloadsConfig, extractor services.MediaExtractor, deliverer Deliverer, logger *log.Logger) (*Coordinator, error) {
	workers := cfg.Workers
	if workers <= 0 {
		workers = 4
	}
	maxSize := cfg.MaxSizeBytes
	if maxSize <= 0 {
		maxSize = 50 << 20
	}
	dir := cfg.Dir
	if dir == "" {
		dir = "downloads"
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create downloads dir: %w", err)
	}

	return &Coordinator{
		extractor: extractor,
		deliverer: deliverer,
		pool:      semaphore.NewWeighted(workers),
		dir:       dir,
		maxSize:   maxSize,
		logger:    logger,
		active:    make(map[int64]*Job),
	}, nil
}

// Start begins a download for the user, rejecting the request with
// ErrDownloadInProgress while a previous job of theirs is still running.
// The returned job completes in the background; use [Job.Wait] to observe
// the outcome.
func (c *Coordinator) Start(ctx context.Context, userID int64, source string) (*Job, error) {
	job := &Job{
		ID:     shared.GenerateID(),
		UserID: userID,
		Source: source,
		state:  StatePending,
		done:   make(chan struct{}),
	}

	c.mu.Lock()
	if _, busy := c.active[userID]; busy {
		c.mu.Unlock()
		return nil, shared.ErrDownloadInProgress
	}
	c.active[userID] = job
	c.mu.Unlock()

	go c.run(ctx, job)
	return job, nil
}

// Active returns the user's running job, if any.
func (c *Coordinator) Active(userID int64) (*Job, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	job, ok := c.active[userID]
	return job, ok
}

// run drives one job to a terminal state. The deferred finish releases the
// user's slot and removes the artifact no matter how the attempt ended.
func (c *Coordinator) run(ctx context.Context, job *Job) {
	var artifactPath string
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("download job panicked", "job_id", job.ID, "panic", r)
			job.fail(fmt.Errorf("%w: internal failure", shared.ErrUnclassified))
		}
		c.finish(job, artifactPath)
	}()

	if err := c.pool.Acquire(ctx, 1); err != nil {
		job.fail(err)
		return
	}
	defer c.pool.Release(1)

	job.setState(StateFetching)
	c.logger.Info("download started", "job_id", job.ID, "user_id", job.UserID, "source", job.Source)

	extraction, err := c.extractor.Extract(ctx, job.Source)
	if err != nil {
		job.fail(err)
		return
	}
	artifactPath = c.claimArtifact(job, extraction)

	size := extraction.SizeBytes
	if info, err := os.Stat(artifactPath); err == nil {
		size = info.Size()
	}
	if size > c.maxSize {
		job.fail(fmt.Errorf("%w: %d bytes over %d limit", shared.ErrArtifactTooBig, size, c.maxSize))
		return
	}

	job.setState(StateDelivering)
	artifact := Artifact{
		Path:      artifactPath,
		Title:     shared.Truncate(extraction.Title, metadataLimit),
		Performer: shared.Truncate(extraction.Uploader, metadataLimit),
		Thumbnail: extraction.Thumbnail,
		Duration:  extraction.Duration,
		SizeBytes: size,
	}
	if err := c.deliverer.Deliver(ctx, job.UserID, artifact); err != nil {
		job.fail(err)
		return
	}

	job.setState(StateDone)
	c.logger.Info("download delivered", "job_id", job.ID, "user_id", job.UserID, "bytes", size)
}

// claimArtifact moves the sidecar's file into the coordinator's directory
// under a collision-free name. When the move fails the original path is
// used; cleanup still removes it.
func (c *Coordinator) claimArtifact(job *Job, extraction *services.Extraction) string {
	name := fmt.Sprintf("%s_%d%s",
		shared.SanitizeName(job.Source),
		time.Now().UnixMilli(),
		filepath.Ext(extraction.FilePath),
	)
	claimed := filepath.Join(c.dir, name)
	if err := os.Rename(extraction.FilePath, claimed); err != nil {
		c.logger.Warn("failed to claim artifact, using sidecar path", "err", err)
		return extraction.FilePath
	}
	return claimed
}

// finish makes the job terminal, removes its artifact and frees the user's
// slot.
func (c *Coordinator) finish(job *Job, artifactPath string) {
	if !job.State().Terminal() {
		job.fail(fmt.Errorf("%w: job abandoned", shared.ErrUnclassified))
	}

	if artifactPath != "" {
		if err := os.Remove(artifactPath); err != nil && !os.IsNotExist(err) {
			c.logger.Warn("failed to remove artifact", "path", artifactPath, "err", err)
		}
	}

	c.mu.Lock()
	if c.active[job.UserID] == job {
		delete(c.active, job.UserID)
	}
	c.mu.Unlock()

	close(job.done)

	if err := job.Err(); err != nil {
		c.logger.Warn("download failed", "job_id", job.ID, "user_id", job.UserID, "err", err)
	}
}

// Sweep removes any leftover files from the downloads directory. Called on
// shutdown so interrupted jobs do not leak artifacts onto disk.
func (c *Coordinator) Sweep() {
	entries, err := os.ReadDir(c.dir)
	if err != nil {
		c.logger.Warn("failed to sweep downloads dir", "err", err)
		return
	}
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		path := filepath.Join(c.dir, entry.Name())
		if err := os.Remove(path); err != nil {
			c.logger.Warn("failed to remove leftover artifact", "path", path, "err", err)
		}
	}
}
