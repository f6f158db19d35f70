// Package imulog reads and writes measurement logs as JSON lines.
//
// Each line of a log file is one gyrocal.Measurement encoded as a single
// JSON object. The line-oriented layout keeps logs appendable and lets a
// truncated final line (crash mid-write) be detected and reported rather
// than silently dropped.
package imulog

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/banshee-data/gyrocal/internal/gyrocal"
)

// maxLineBytes bounds a single log line; a measurement record is a few
// hundred bytes, so anything past this is a corrupt file.
const maxLineBytes = 64 * 1024

// Write encodes measurements to w, one JSON object per line.
func Write(w io.Writer, measurements []gyrocal.Measurement) error {
	bw := bufio.NewWriter(w)
	enc := json.NewEncoder(bw)
	for i := range measurements {
		if err := enc.Encode(&measurements[i]); err != nil {
			return fmt.Errorf("encoding measurement %d: %w", i, err)
		}
	}
	return bw.Flush()
}

// Read decodes all measurements from r. A malformed line aborts the read
// with an error naming the line number.
func Read(r io.Reader) ([]gyrocal.Measurement, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 4096), maxLineBytes)

	var measurements []gyrocal.Measurement
	lineNum := 0
	for scanner.Scan() {
		lineNum++
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var m gyrocal.Measurement
		if err := json.Unmarshal(line, &m); err != nil {
			return nil, fmt.Errorf("parsing line %d: %w", lineNum, err)
		}
		measurements = append(measurements, m)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading log: %w", err)
	}
	return measurements, nil
}

// WriteFile writes measurements to a log file, replacing any existing
// contents.
func WriteFile(path string, measurements []gyrocal.Measurement) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating log file: %w", err)
	}
	if err := Write(f, measurements); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// ReadFile reads all measurements from a log file.
func ReadFile(path string) ([]gyrocal.Measurement, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening log file: %w", err)
	}
	defer f.Close()
	return Read(f)
}
