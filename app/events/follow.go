package events

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	log "github.com/go-pkgz/lgr"
)

// Follower reads lines appended to a file, like tail -F. File rotation (remove or rename)
// reopens the file from the beginning.
type Follower struct {
	Path        string
	FromEnd     bool          // skip content present at start
	PollEvery   time.Duration // safety re-read interval in case a notification is missed
	ReopenDelay time.Duration
}

// Run follows the file and calls onLine for each complete line until ctx is done
func (f *Follower) Run(ctx context.Context, onLine func(line string)) error {
	pollEvery, reopenDelay := f.PollEvery, f.ReopenDelay
	if pollEvery <= 0 {
		pollEvery = time.Second
	}
	if reopenDelay <= 0 {
		reopenDelay = 100 * time.Millisecond
	}

	fh, err := os.Open(f.Path)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", f.Path, err)
	}
	defer func() { _ = fh.Close() }()

	if f.FromEnd {
		if _, err = fh.Seek(0, io.SeekEnd); err != nil {
			return fmt.Errorf("failed to seek %s: %w", f.Path, err)
		}
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to make file watcher: %w", err)
	}
	defer func() { _ = watcher.Close() }()
	if err = watcher.Add(f.Path); err != nil {
		return fmt.Errorf("failed to watch %s: %w", f.Path, err)
	}
	log.Printf("[INFO] following events in %s", f.Path)

	reader := bufio.NewReader(fh)
	var partial strings.Builder
	readLines := func() {
		for {
			chunk, rerr := reader.ReadString('\n')
			partial.WriteString(chunk)
			if rerr != nil {
				if !errors.Is(rerr, io.EOF) {
					log.Printf("[WARN] can't read %s, %v", f.Path, rerr)
				}
				return // incomplete line stays in partial until the rest is written
			}
			line := strings.TrimRight(partial.String(), "\r\n")
			partial.Reset()
			onLine(line)
		}
	}
	readLines()

	ticker := time.NewTicker(pollEvery)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if ev.Has(fsnotify.Write) {
				readLines()
			}
			if ev.Has(fsnotify.Remove) || ev.Has(fsnotify.Rename) {
				log.Printf("[INFO] %s rotated, reopening", f.Path)
				readLines()
				_ = fh.Close()
				if fh, err = f.reopen(ctx, reopenDelay); err != nil {
					return err
				}
				reader.Reset(fh)
				partial.Reset()
				if err = watcher.Add(f.Path); err != nil {
					return fmt.Errorf("failed to watch %s: %w", f.Path, err)
				}
				readLines()
			}
		case werr, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			log.Printf("[WARN] file watcher error, %v", werr)
		case <-ticker.C:
			readLines()
		}
	}
}

// reopen waits for the file to appear again
func (f *Follower) reopen(ctx context.Context, delay time.Duration) (*os.File, error) {
	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(delay):
		}
		fh, err := os.Open(f.Path)
		if err == nil {
			return fh, nil
		}
		if !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("failed to reopen %s: %w", f.Path, err)
		}
	}
}
