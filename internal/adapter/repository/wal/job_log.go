package wal

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/V4T54L/postbus/internal/domain"
)

const (
	segmentPrefix = "jobs-"
	segmentSuffix = ".wal"
	filePerm      = 0o644
	maxLineBytes  = 4 << 20
)

// ErrFull is returned when a write would push the log past its disk budget.
var ErrFull = errors.New("wal: disk budget exhausted")

// JobLog is a segmented, append-only file log of admitted jobs. It holds jobs
// that could not reach the queue until they are replayed.
type JobLog struct {
	dir            string
	maxSegmentSize int64
	maxTotalSize   int64
	logger         *slog.Logger

	mu          sync.Mutex
	current     *os.File
	currentSize int64
	totalSize   int64
	nextSeq     uint64
}

// NewJobLog opens (or creates) the log in dir.
func NewJobLog(dir string, maxSegmentSize, maxTotalSize int64, logger *slog.Logger) (*JobLog, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create WAL directory %s: %w", dir, err)
	}
	l := &JobLog{
		dir:            dir,
		maxSegmentSize: maxSegmentSize,
		maxTotalSize:   maxTotalSize,
		logger:         logger.With("component", "wal"),
	}
	if err := l.load(); err != nil {
		return nil, err
	}
	return l, nil
}

// Write appends job and syncs it to disk before returning.
func (l *JobLog) Write(ctx context.Context, job domain.Job) error {
	line, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("encode job for WAL: %w", err)
	}
	line = append(line, '\n')

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.maxTotalSize > 0 && l.totalSize+int64(len(line)) > l.maxTotalSize {
		return fmt.Errorf("%w (%d bytes used)", ErrFull, l.totalSize)
	}
	if l.current == nil || (l.maxSegmentSize > 0 && l.currentSize >= l.maxSegmentSize) {
		if err := l.rotate(); err != nil {
			return err
		}
	}

	n, err := l.current.Write(line)
	l.currentSize += int64(n)
	l.totalSize += int64(n)
	if err != nil {
		return fmt.Errorf("append to WAL segment: %w", err)
	}
	if err := l.current.Sync(); err != nil {
		return fmt.Errorf("sync WAL segment: %w", err)
	}
	return nil
}

// Replay hands every logged job to handler in write order and stops at the
// first handler error.
func (l *JobLog) Replay(ctx context.Context, handler func(job domain.Job) error) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.closeCurrent()
	segments, err := l.segments()
	if err != nil {
		return err
	}
	if len(segments) == 0 {
		return nil
	}
	l.logger.Info("replaying WAL", "segments", len(segments))

	replayed := 0
	for _, path := range segments {
		n, err := replaySegment(ctx, path, handler, l.logger)
		replayed += n
		if err != nil {
			return err
		}
	}
	l.logger.Info("WAL replay completed", "jobs", replayed)
	return nil
}

func replaySegment(ctx context.Context, path string, handler func(domain.Job) error, logger *slog.Logger) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("open WAL segment %s: %w", path, err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), maxLineBytes)
	n := 0
	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return n, err
		}
		var job domain.Job
		if err := json.Unmarshal(scanner.Bytes(), &job); err != nil {
			logger.Warn("skipping corrupt WAL entry", "segment", filepath.Base(path), "error", err)
			continue
		}
		if err := handler(job); err != nil {
			return n, fmt.Errorf("replay job %s: %w", job.ID, err)
		}
		n++
	}
	if err := scanner.Err(); err != nil {
		return n, fmt.Errorf("scan WAL segment %s: %w", path, err)
	}
	return n, nil
}

// Truncate deletes every segment. Call it only after a successful Replay.
func (l *JobLog) Truncate(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.closeCurrent()
	segments, err := l.segments()
	if err != nil {
		return err
	}
	var errs []error
	for _, path := range segments {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			errs = append(errs, err)
		}
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("remove WAL segments: %w", err)
	}
	l.totalSize = 0
	l.currentSize = 0
	return nil
}

// Size returns the bytes currently held on disk.
func (l *JobLog) Size() int64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.totalSize
}

// Close closes the open segment.
func (l *JobLog) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.current == nil {
		return nil
	}
	err := l.current.Close()
	l.current = nil
	return err
}

func (l *JobLog) load() error {
	segments, err := l.segments()
	if err != nil {
		return err
	}
	for _, path := range segments {
		info, err := os.Stat(path)
		if err != nil {
			return fmt.Errorf("stat WAL segment %s: %w", path, err)
		}
		l.totalSize += info.Size()
		if seq, ok := parseSeq(filepath.Base(path)); ok && seq >= l.nextSeq {
			l.nextSeq = seq + 1
		}
	}
	if l.totalSize > 0 {
		l.logger.Warn("found unreplayed WAL segments", "segments", len(segments), "bytes", l.totalSize)
	}
	return nil
}

func (l *JobLog) rotate() error {
	l.closeCurrent()
	path := filepath.Join(l.dir, fmt.Sprintf("%s%020d%s", segmentPrefix, l.nextSeq, segmentSuffix))
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, filePerm)
	if err != nil {
		return fmt.Errorf("create WAL segment %s: %w", path, err)
	}
	l.nextSeq++
	l.current = f
	l.currentSize = 0
	l.logger.Debug("opened WAL segment", "path", path)
	return nil
}

func (l *JobLog) closeCurrent() {
	if l.current == nil {
		return
	}
	if err := l.current.Close(); err != nil {
		l.logger.Warn("failed to close WAL segment", "error", err)
	}
	l.current = nil
}

func (l *JobLog) segments() ([]string, error) {
	entries, err := os.ReadDir(l.dir)
	if err != nil {
		return nil, fmt.Errorf("read WAL directory: %w", err)
	}
	var out []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if _, ok := parseSeq(e.Name()); ok {
			out = append(out, filepath.Join(l.dir, e.Name()))
		}
	}
	sort.Strings(out)
	return out, nil
}

func parseSeq(name string) (uint64, bool) {
	if !strings.HasPrefix(name, segmentPrefix) || !strings.HasSuffix(name, segmentSuffix) {
		return 0, false
	}
	seq, err := strconv.ParseUint(strings.TrimSuffix(strings.TrimPrefix(name, segmentPrefix), segmentSuffix), 10, 64)
	return seq, err == nil
}
