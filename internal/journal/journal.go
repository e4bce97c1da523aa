// Package journal records relayed feed messages as JSON lines, one directory
// per UTC day, rotated by size.
package journal

import (
	"encoding/json"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"gopkg.in/natefinch/lumberjack.v2"
)

var (
	ErrClosed     = errors.New("journal: closed")
	ErrBufferFull = errors.New("journal: buffer full")
)

// Record is one journaled message.
type Record struct {
	Seq     uint64    `json:"seq"`
	Time    time.Time `json:"ts"`
	Message string    `json:"msg"`
}

// Journal writes records asynchronously. Record never blocks; when the buffer
// is full the record is dropped and counted.
type Journal struct {
	dir       string
	maxSizeMB int
	now       func() time.Time

	writeCh chan Record
	done    chan struct{}
	wg      sync.WaitGroup
	closeMu sync.RWMutex
	closed  bool

	seq     atomic.Uint64
	dropped atomic.Int64

	mu          sync.Mutex
	currentDate string
	logger      *lumberjack.Logger
}

func New(dir string, bufferSize, maxSizeMB int) *Journal {
	if bufferSize <= 0 {
		bufferSize = 4096
	}
	if maxSizeMB <= 0 {
		maxSizeMB = 100
	}
	j := &Journal{
		dir:       dir,
		maxSizeMB: maxSizeMB,
		now:       time.Now,
		writeCh:   make(chan Record, bufferSize),
		done:      make(chan struct{}),
	}
	j.wg.Add(1)
	go j.writeLoop()
	return j
}

// Dispatch journals msg. It lets a Journal sit beside the dispatcher as an
// upstream sink.
func (j *Journal) Dispatch(msg string) {
	_ = j.Record(msg)
}

func (j *Journal) Record(msg string) error {
	j.closeMu.RLock()
	defer j.closeMu.RUnlock()
	if j.closed {
		return ErrClosed
	}
	rec := Record{Seq: j.seq.Add(1), Time: j.now().UTC(), Message: msg}
	select {
	case j.writeCh <- rec:
		return nil
	default:
		if j.dropped.Add(1)%1000 == 1 {
			slog.Warn("journal buffer full, dropping records", "dir", j.dir, "dropped", j.dropped.Load())
		}
		return ErrBufferFull
	}
}

// Dropped reports records lost to a full buffer.
func (j *Journal) Dropped() int64 {
	return j.dropped.Load()
}

// Close flushes buffered records and closes the current file.
func (j *Journal) Close() error {
	j.closeMu.Lock()
	if j.closed {
		j.closeMu.Unlock()
		return nil
	}
	j.closed = true
	close(j.done)
	j.closeMu.Unlock()

	j.wg.Wait()

	j.mu.Lock()
	defer j.mu.Unlock()
	if j.logger != nil {
		return j.logger.Close()
	}
	return nil
}

func (j *Journal) writeLoop() {
	defer j.wg.Done()
	for {
		select {
		case rec := <-j.writeCh:
			j.write(rec)
		case <-j.done:
			for {
				select {
				case rec := <-j.writeCh:
					j.write(rec)
				default:
					return
				}
			}
		}
	}
}

func (j *Journal) write(rec Record) {
	data, err := json.Marshal(rec)
	if err != nil {
		slog.Error("journal marshal failed", "seq", rec.Seq, "error", err)
		return
	}

	j.mu.Lock()
	defer j.mu.Unlock()

	date := rec.Time.Format("2006-01-02")
	if date != j.currentDate || j.logger == nil {
		if err := j.rotate(date); err != nil {
			slog.Error("journal rotate failed", "dir", j.dir, "date", date, "error", err)
			return
		}
	}
	if _, err := j.logger.Write(append(data, '\n')); err != nil {
		slog.Error("journal write failed", "seq", rec.Seq, "error", err)
	}
}

func (j *Journal) rotate(date string) error {
	if j.logger != nil {
		if err := j.logger.Close(); err != nil {
			slog.Debug("journal close failed", "error", err)
		}
		j.logger = nil
	}

	dir := filepath.Join(j.dir, date)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	filename := filepath.Join(dir, "feed.jsonl")
	j.logger = &lumberjack.Logger{
		Filename:   filename,
		MaxSize:    j.maxSizeMB,
		MaxBackups: 100,
		MaxAge:     30,
		LocalTime:  false,
	}
	j.currentDate = date
	slog.Info("journal file opened", "file", filename)
	return nil
}
