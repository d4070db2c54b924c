package logger

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

var errWriterClosed = errors.New("logger: file writer is closed")

// DailyFileWriter is an io.Writer that appends to {service}_{date}.log in dir
// and switches to a new file on the first write of each day. It is safe for
// concurrent use.
type DailyFileWriter struct {
	service string
	dir     string
	now     func() time.Time

	mu       sync.Mutex
	file     *os.File
	currDate string
	closed   bool
}

// NewDailyFileWriter opens today's log file in logDir. The directory must
// already exist.
func NewDailyFileWriter(service string, logDir string) (*DailyFileWriter, error) {
	w := &DailyFileWriter{
		service: service,
		dir:     logDir,
		now:     time.Now,
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.openLocked(w.now().Format(time.DateOnly)); err != nil {
		return nil, err
	}

	return w, nil
}

// Write appends p to the current day's file, rotating first if the date has
// changed since the previous write.
func (w *DailyFileWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return 0, errWriterClosed
	}

	if date := w.now().Format(time.DateOnly); date != w.currDate || w.file == nil {
		if err := w.openLocked(date); err != nil {
			return 0, err
		}
	}

	return w.file.Write(p)
}

// CurrentLogFile returns the path of the file being written, or "" once closed.
func (w *DailyFileWriter) CurrentLogFile() string {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.file == nil {
		return ""
	}

	return w.path(w.currDate)
}

// Close closes the current file. Later writes fail; repeated calls return nil.
func (w *DailyFileWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return nil
	}

	w.closed = true
	if w.file == nil {
		return nil
	}

	err := w.file.Close()
	w.file = nil
	return err
}

// openLocked switches to the file for date; caller must hold w.mu.
func (w *DailyFileWriter) openLocked(date string) error {
	file, err := os.OpenFile(w.path(date), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("logger: open log file: %w", err)
	}

	if w.file != nil {
		_ = w.file.Close()
	}

	w.file = file
	w.currDate = date
	return nil
}

func (w *DailyFileWriter) path(date string) string {
	return filepath.Join(w.dir, fmt.Sprintf("%s_%s.log", w.service, date))
}
