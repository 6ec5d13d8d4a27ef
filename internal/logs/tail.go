package logs

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"time"
)

const (
	followPollInterval = 250 * time.Millisecond
	maxLineBytes       = 1024 * 1024
)

// TailOptions controls Tail. A negative Offset reads the last Limit matching
// entries; otherwise reading resumes at Offset. With Follow set, Tail waits up
// to Wait for new entries when none are available yet.
type TailOptions struct {
	Offset int64
	Limit  int
	Follow bool
	Wait   time.Duration
	Filter Filter
}

// TailResult carries the entries read and the offset to resume from.
type TailResult struct {
	Entries []Entry
	Offset  int64
}

// Latest returns the newest daily log file in dir, or "" when none exist.
func Latest(dir string) (string, error) {
	matches, err := filepath.Glob(filepath.Join(dir, "stepdeck-*.log"))
	if err != nil {
		return "", fmt.Errorf("list log files: %w", err)
	}
	if len(matches) == 0 {
		return "", nil
	}
	// Daily names sort chronologically.
	sort.Strings(matches)
	return matches[len(matches)-1], nil
}

// Tail reads entries from a log file. A missing file yields no entries and a
// zero offset.
func Tail(ctx context.Context, path string, opts TailOptions) (TailResult, error) {
	result := TailResult{Offset: opts.Offset}
	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			result.Offset = 0
			return result, nil
		}
		return result, fmt.Errorf("stat log file: %w", err)
	}
	if info.IsDir() {
		return result, fmt.Errorf("log path %q is a directory", path)
	}
	if opts.Wait < 0 {
		opts.Wait = 0
	}

	if opts.Offset < 0 {
		entries, offset, err := lastEntries(path, opts.Limit, opts.Filter)
		if err != nil {
			return result, err
		}
		result = TailResult{Entries: entries, Offset: offset}
	} else {
		offset := opts.Offset
		if offset > info.Size() {
			// The file was truncated or replaced.
			offset = 0
		}
		entries, next, err := readFrom(path, offset, opts.Filter)
		if err != nil {
			return result, err
		}
		result = TailResult{Entries: entries, Offset: next}
	}

	if opts.Follow && opts.Wait > 0 && len(result.Entries) == 0 {
		return waitForEntries(ctx, path, result.Offset, opts.Wait, opts.Filter)
	}
	return result, nil
}

// lastEntries keeps a ring of the last limit matching entries. A non-positive
// limit skips to the end of the file.
func lastEntries(path string, limit int, filter Filter) ([]Entry, int64, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, 0, fmt.Errorf("open log file: %w", err)
	}
	defer file.Close()

	if limit <= 0 {
		end, err := file.Seek(0, io.SeekEnd)
		if err != nil {
			return nil, 0, fmt.Errorf("seek log file: %w", err)
		}
		return nil, end, nil
	}

	ring := make([]Entry, limit)
	count, next := 0, 0
	end, err := scanEntries(file, filter, func(entry Entry) {
		ring[next] = entry
		next = (next + 1) % limit
		if count < limit {
			count++
		}
	})
	if err != nil {
		return nil, 0, err
	}

	entries := make([]Entry, 0, count)
	start := 0
	if count == limit {
		start = next
	}
	for i := 0; i < count; i++ {
		entries = append(entries, ring[(start+i)%limit])
	}
	return entries, end, nil
}

func readFrom(path string, offset int64, filter Filter) ([]Entry, int64, error) {
	file, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, 0, nil
		}
		return nil, 0, fmt.Errorf("open log file: %w", err)
	}
	defer file.Close()

	if _, err := file.Seek(offset, io.SeekStart); err != nil {
		return nil, 0, fmt.Errorf("seek log file: %w", err)
	}
	var entries []Entry
	read, err := scanEntries(file, filter, func(entry Entry) {
		entries = append(entries, entry)
	})
	if err != nil {
		return nil, 0, err
	}
	return entries, offset + read, nil
}

// scanEntries feeds complete lines to fn and returns the number of bytes
// consumed. A trailing line without a newline is left for the next read.
func scanEntries(r io.Reader, filter Filter, fn func(Entry)) (int64, error) {
	reader := bufio.NewReaderSize(r, 64*1024)
	var consumed int64
	for {
		line, err := reader.ReadString('\n')
		if err != nil {
			if errors.Is(err, io.EOF) {
				return consumed, nil
			}
			return consumed, fmt.Errorf("read log file: %w", err)
		}
		consumed += int64(len(line))
		if len(line) > maxLineBytes {
			continue
		}
		text := trimNewline(line)
		if text == "" {
			continue
		}
		if entry := ParseEntry(text); filter.Match(entry) {
			fn(entry)
		}
	}
}

func waitForEntries(ctx context.Context, path string, offset int64, wait time.Duration, filter Filter) (TailResult, error) {
	deadline := time.Now().Add(wait)
	ticker := time.NewTicker(followPollInterval)
	defer ticker.Stop()

	result := TailResult{Offset: offset}
	for {
		entries, next, err := readFrom(path, result.Offset, filter)
		if err != nil {
			return result, err
		}
		result.Offset = next
		if len(entries) > 0 {
			result.Entries = entries
			return result, nil
		}
		if time.Now().After(deadline) {
			return result, nil
		}
		select {
		case <-ctx.Done():
			return result, ctx.Err()
		case <-ticker.C:
		}
	}
}

func trimNewline(line string) string {
	for len(line) > 0 && (line[len(line)-1] == '\n' || line[len(line)-1] == '\r') {
		line = line[:len(line)-1]
	}
	return line
}
