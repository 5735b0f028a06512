package jobs

import (
	"context"
	"errors"
	"io/fs"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/mvejnar/sidekick/internal/memory"
	"github.com/mvejnar/sidekick/internal/store"
)

// RetentionJob deletes call data older than the configured age: session rows
// (utterances and events follow via FK cascade), memory items, and WAV
// recordings. It runs on a configurable interval (default: 1 hour).
type RetentionJob struct {
	store        *store.Store
	memory       *memory.PG
	logger       *log.Logger
	days         int
	recordingDir string
	interval     time.Duration
	stopCh       chan struct{}
	wg           sync.WaitGroup
}

// NewRetentionJob creates a new retention job. days <= 0 disables it.
func NewRetentionJob(s *store.Store, mem *memory.PG, logger *log.Logger, days int, recordingDir string, interval time.Duration) *RetentionJob {
	if interval == 0 {
		interval = 1 * time.Hour
	}
	return &RetentionJob{
		store:        s,
		memory:       mem,
		logger:       logger,
		days:         days,
		recordingDir: recordingDir,
		interval:     interval,
		stopCh:       make(chan struct{}),
	}
}

// Enabled reports whether the job will do anything.
func (j *RetentionJob) Enabled() bool {
	return j.days > 0
}

// Start begins the background job.
func (j *RetentionJob) Start() {
	if !j.Enabled() {
		j.logger.Println("RetentionJob: disabled (retention days not set)")
		return
	}
	j.wg.Add(1)
	go j.run()
	j.logger.Printf("RetentionJob: started (days=%d, interval=%v)", j.days, j.interval)
}

// Stop gracefully stops the background job.
func (j *RetentionJob) Stop() {
	close(j.stopCh)
	j.wg.Wait()
	if j.Enabled() {
		j.logger.Println("RetentionJob: stopped")
	}
}

func (j *RetentionJob) run() {
	defer j.wg.Done()

	// Run immediately on start
	j.processAll()

	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			j.processAll()
		case <-j.stopCh:
			return
		}
	}
}

func (j *RetentionJob) processAll() {
	ctx := context.Background()
	cutoff := time.Now().AddDate(0, 0, -j.days)

	j.deleteSessions(ctx, cutoff)
	j.deleteMemories(ctx, cutoff)
	j.sweepRecordings(cutoff)
}

func (j *RetentionJob) deleteSessions(ctx context.Context, cutoff time.Time) {
	paths, err := j.store.DeleteSessionsOlderThan(ctx, cutoff)
	if err != nil {
		j.logger.Printf("RetentionJob: failed to delete sessions: %v", err)
		return
	}

	removed := 0
	for _, p := range paths {
		if err := os.Remove(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
			j.logger.Printf("RetentionJob: failed to remove recording %s: %v", p, err)
			continue
		}
		removed++
	}

	if len(paths) > 0 {
		j.logger.Printf("RetentionJob: deleted %d expired sessions (%d recordings removed)", len(paths), removed)
	}
}

func (j *RetentionJob) deleteMemories(ctx context.Context, cutoff time.Time) {
	if j.memory == nil {
		return
	}
	n, err := j.memory.DeleteOlderThan(ctx, cutoff)
	if err != nil {
		j.logger.Printf("RetentionJob: failed to delete memories: %v", err)
		return
	}
	if n > 0 {
		j.logger.Printf("RetentionJob: deleted %d expired memories", n)
	}
}

// sweepRecordings removes WAV files the session delete missed, e.g. files
// whose session row was already gone or never written.
func (j *RetentionJob) sweepRecordings(cutoff time.Time) {
	if j.recordingDir == "" {
		return
	}

	entries, err := os.ReadDir(j.recordingDir)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			j.logger.Printf("RetentionJob: failed to read recording dir: %v", err)
		}
		return
	}

	removed := 0
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".wav") {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		if info.ModTime().After(cutoff) {
			continue
		}
		path := filepath.Join(j.recordingDir, entry.Name())
		if err := os.Remove(path); err != nil {
			j.logger.Printf("RetentionJob: failed to remove stale recording %s: %v", path, err)
			continue
		}
		removed++
	}

	if removed > 0 {
		j.logger.Printf("RetentionJob: swept %d stale recordings", removed)
	}
}
