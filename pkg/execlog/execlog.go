// Package execlog implements the operator-facing execution log: leveled text
// lines duplicated to a per-run log file and the controlling terminal. This
// is the human-readable run narrative; the zerolog engineering log is
// separate and both are active in a run.
package execlog

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"
)

const timeLayout = "2006-01-02 15:04:05"

// Sink writes `[LEVEL] <timestamp> - <message>` lines plus unstructured
// header, section, and success markers. Writes are best-effort: a log file
// that cannot be appended to never fails the run.
type Sink struct {
	file    *os.File
	console io.Writer
	start   time.Time
	clock   func() time.Time
}

// New opens (or creates) the log file in append mode and returns a sink that
// duplicates every line to the terminal writer.
func New(path string, console io.Writer) (*Sink, error) {
	var file *os.File
	if path != "" {
		f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, fmt.Errorf("failed to open execution log %s: %w", path, err)
		}
		file = f
	}
	if console == nil {
		console = os.Stdout
	}
	return &Sink{
		file:    file,
		console: console,
		start:   time.Now(),
		clock:   time.Now,
	}, nil
}

// Info writes an INFO line.
func (s *Sink) Info(format string, args ...interface{}) {
	s.leveled("INFO", format, args...)
}

// Warning writes a WARNING line.
func (s *Sink) Warning(format string, args ...interface{}) {
	s.leveled("WARNING", format, args...)
}

// Error writes an ERROR line.
func (s *Sink) Error(format string, args ...interface{}) {
	s.leveled("ERROR", format, args...)
}

// Success writes an unstructured success marker.
func (s *Sink) Success(format string, args ...interface{}) {
	s.raw("[OK] " + fmt.Sprintf(format, args...))
}

// Header writes a run banner.
func (s *Sink) Header(title string) {
	bar := strings.Repeat("=", 64)
	s.raw(bar)
	s.raw(title)
	s.raw(bar)
}

// Section writes a stage separator.
func (s *Sink) Section(title string) {
	s.raw("")
	s.raw("--- " + title + " ---")
}

// Close writes the closing footer with total elapsed time and completion
// status, then releases the log file.
func (s *Sink) Close(allCompleted bool) error {
	elapsed := s.clock().Sub(s.start).Round(time.Second)
	status := "all steps completed"
	if !allCompleted {
		status = "completed with failures"
	}
	s.raw("")
	s.raw(fmt.Sprintf("Finished in %s: %s", elapsed, status))
	if s.file != nil {
		return s.file.Close()
	}
	return nil
}

func (s *Sink) leveled(level, format string, args ...interface{}) {
	line := fmt.Sprintf("[%s] %s - %s",
		level, s.clock().Format(timeLayout), fmt.Sprintf(format, args...))
	s.raw(line)
}

func (s *Sink) raw(line string) {
	fmt.Fprintln(s.console, line)
	if s.file != nil {
		fmt.Fprintln(s.file, line)
	}
}
