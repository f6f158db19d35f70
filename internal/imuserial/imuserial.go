// Package imuserial reads raw IMU samples from a serial-attached sensor.
//
// The device emits one CSV line per sample:
//
//	IMU,<t>,<wx>,<wy>,<wz>,<fx>,<fy>,<fz>
//
// with t in seconds, angular rates in rad/s and specific forces in m/s².
// Lines with any other prefix (status chatter, boot banners) are skipped.
package imuserial

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"

	"go.bug.st/serial"
)

// Porter is the minimal interface needed for a serial port. The
// abstraction enables unit testing without real serial hardware.
type Porter interface {
	io.ReadWriter
	io.Closer
}

// Sample is one raw IMU reading.
type Sample struct {
	T             float64
	AngularRate   [3]float64
	SpecificForce [3]float64
}

// Reader scans IMU sample lines from a serial port.
type Reader struct {
	port    Porter
	scanner *bufio.Scanner
}

// DefaultBaudRate matches the sensor's factory configuration.
const DefaultBaudRate = 115200

// Open opens the serial device at path and returns a sample reader.
func Open(path string, baudRate int) (*Reader, error) {
	if baudRate <= 0 {
		baudRate = DefaultBaudRate
	}
	port, err := serial.Open(path, &serial.Mode{BaudRate: baudRate})
	if err != nil {
		return nil, fmt.Errorf("opening serial port %s: %w", path, err)
	}
	return NewReader(port), nil
}

// NewReader wraps an already-open port.
func NewReader(port Porter) *Reader {
	return &Reader{
		port:    port,
		scanner: bufio.NewScanner(port),
	}
}

// Next returns the next IMU sample, skipping unrelated lines. It returns
// io.EOF when the port closes.
func (r *Reader) Next() (Sample, error) {
	for r.scanner.Scan() {
		line := strings.TrimSpace(r.scanner.Text())
		if !strings.HasPrefix(line, "IMU,") {
			continue
		}
		return parseLine(line)
	}
	if err := r.scanner.Err(); err != nil {
		return Sample{}, fmt.Errorf("reading serial port: %w", err)
	}
	return Sample{}, io.EOF
}

// Collect reads up to n samples, stopping early if ctx is cancelled or the
// stream ends. It returns the samples read so far together with the reason
// for stopping.
func (r *Reader) Collect(ctx context.Context, n int) ([]Sample, error) {
	samples := make([]Sample, 0, n)
	for len(samples) < n {
		if err := ctx.Err(); err != nil {
			return samples, err
		}
		s, err := r.Next()
		if err != nil {
			return samples, err
		}
		samples = append(samples, s)
	}
	return samples, nil
}

// Close closes the underlying port.
func (r *Reader) Close() error {
	return r.port.Close()
}

func parseLine(line string) (Sample, error) {
	fields := strings.Split(line, ",")
	if len(fields) != 8 {
		return Sample{}, fmt.Errorf("malformed sample line %q: want 8 fields, got %d", line, len(fields))
	}

	var vals [7]float64
	for i, f := range fields[1:] {
		v, err := strconv.ParseFloat(strings.TrimSpace(f), 64)
		if err != nil {
			return Sample{}, fmt.Errorf("malformed sample field %q in %q: %w", f, line, err)
		}
		vals[i] = v
	}

	return Sample{
		T:             vals[0],
		AngularRate:   [3]float64{vals[1], vals[2], vals[3]},
		SpecificForce: [3]float64{vals[4], vals[5], vals[6]},
	}, nil
}
