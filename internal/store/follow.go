package store

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"sessiond/internal/claude"
)

// followPollInterval backstops filesystem notification: some mounts (and
// some editors' replace-on-save patterns) never deliver a Write event.
const followPollInterval = 500 * time.Millisecond

// Follow tails the transcript at path, invoking fn for every well-formed
// entry already present and then for each one appended afterwards, until
// ctx ends or fn returns an error. Malformed lines are skipped. A file that
// does not exist yet is waited for rather than treated as an error.
func Follow(ctx context.Context, path string, fn func(claude.LogEntry) error) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer watcher.Close()

	// Watch the directory, not the file: the session file may not exist
	// yet, and rename-style rewrites would drop a file-level watch.
	dir := filepath.Dir(path)
	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("watch %s: %w", dir, err)
	}

	var offset int64
	offset, err = emitAppended(path, offset, fn)
	if err != nil {
		return err
	}

	ticker := time.NewTicker(followPollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if ev.Name != path || !ev.Op.Has(fsnotify.Write|fsnotify.Create) {
				continue
			}
			offset, err = emitAppended(path, offset, fn)
			if err != nil {
				return err
			}
		case werr, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			return fmt.Errorf("watch %s: %w", dir, werr)
		case <-ticker.C:
			offset, err = emitAppended(path, offset, fn)
			if err != nil {
				return err
			}
		}
	}
}

// emitAppended decodes the complete lines written since offset and feeds
// them to fn. A trailing line without its newline is left for the next
// pass; a file shorter than offset restarts from the beginning.
func emitAppended(path string, offset int64, fn func(claude.LogEntry) error) (int64, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return offset, nil
		}
		return offset, fmt.Errorf("open session file: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return offset, fmt.Errorf("stat session file: %w", err)
	}
	if info.Size() < offset {
		offset = 0
	}
	if info.Size() == offset {
		return offset, nil
	}
	if _, err := f.Seek(offset, io.SeekStart); err != nil {
		return offset, fmt.Errorf("seek session file: %w", err)
	}

	reader := bufio.NewReaderSize(f, 64*1024)
	for {
		line, err := reader.ReadBytes('\n')
		if err == io.EOF {
			return offset, nil
		}
		if err != nil {
			return offset, fmt.Errorf("read session file: %w", err)
		}
		offset += int64(len(line))

		entry, derr := claude.DecodeEntry(line)
		if derr != nil {
			continue
		}
		if err := fn(entry); err != nil {
			return offset, err
		}
	}
}
