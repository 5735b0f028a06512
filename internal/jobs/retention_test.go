package jobs

import (
	"io"
	"log"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestRetentionJobDisabled(t *testing.T) {
	logger := log.New(io.Discard, "", 0)
	j := NewRetentionJob(nil, nil, logger, 0, "", time.Minute)

	if j.Enabled() {
		t.Error("job with days=0 should be disabled")
	}

	// Start must not launch the loop (a nil store would panic inside it),
	// and Stop must return promptly.
	j.Start()
	done := make(chan struct{})
	go func() {
		j.Stop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Stop did not return for a disabled job")
	}
}

func TestNewRetentionJobDefaultInterval(t *testing.T) {
	logger := log.New(io.Discard, "", 0)
	j := NewRetentionJob(nil, nil, logger, 30, "", 0)
	if j.interval != time.Hour {
		t.Errorf("interval = %v, want 1h default", j.interval)
	}
}

func TestSweepRecordings(t *testing.T) {
	logger := log.New(io.Discard, "", 0)
	dir := t.TempDir()

	oldWav := filepath.Join(dir, "20260601_120000_deadbeef.wav")
	newWav := filepath.Join(dir, "20260820_090000_cafebabe.wav")
	notWav := filepath.Join(dir, "notes.txt")
	for _, p := range []string{oldWav, newWav, notWav} {
		if err := os.WriteFile(p, []byte("x"), 0o644); err != nil {
			t.Fatalf("write %s: %v", p, err)
		}
	}

	past := time.Now().Add(-40 * 24 * time.Hour)
	if err := os.Chtimes(oldWav, past, past); err != nil {
		t.Fatalf("chtimes: %v", err)
	}
	if err := os.Chtimes(notWav, past, past); err != nil {
		t.Fatalf("chtimes: %v", err)
	}

	j := NewRetentionJob(nil, nil, logger, 30, dir, time.Minute)
	j.sweepRecordings(time.Now().AddDate(0, 0, -30))

	if _, err := os.Stat(oldWav); !os.IsNotExist(err) {
		t.Error("old wav should be removed")
	}
	if _, err := os.Stat(newWav); err != nil {
		t.Errorf("recent wav should survive: %v", err)
	}
	if _, err := os.Stat(notWav); err != nil {
		t.Errorf("non-wav file should survive: %v", err)
	}
}

func TestSweepRecordingsMissingDir(t *testing.T) {
	logger := log.New(io.Discard, "", 0)
	j := NewRetentionJob(nil, nil, logger, 30, filepath.Join(t.TempDir(), "nope"), time.Minute)
	// Must not panic or log-spam on a directory that does not exist yet.
	j.sweepRecordings(time.Now())
}
