// Command imu-capture streams raw samples from a serial-attached IMU and
// prints them as CSV on stdout. Pair the captured stream with reference
// frames offline to build a calibration measurement log.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/banshee-data/gyrocal/internal/imuserial"
)

var (
	port  = flag.String("port", "/dev/ttyUSB0", "Serial port to use")
	baud  = flag.Int("baud", imuserial.DefaultBaudRate, "Baud rate")
	count = flag.Int("n", 0, "Stop after this many samples (0 = until interrupted)")
)

func main() {
	flag.Parse()

	reader, err := imuserial.Open(*port, *baud)
	if err != nil {
		log.Fatalf("failed to open IMU port: %v", err)
	}
	defer reader.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	captured := 0
	for *count == 0 || captured < *count {
		if ctx.Err() != nil {
			break
		}
		s, err := reader.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			log.Printf("skipping sample: %v", err)
			continue
		}
		fmt.Printf("%.6f,%.8f,%.8f,%.8f,%.6f,%.6f,%.6f\n",
			s.T,
			s.AngularRate[0], s.AngularRate[1], s.AngularRate[2],
			s.SpecificForce[0], s.SpecificForce[1], s.SpecificForce[2])
		captured++
	}
	log.Printf("captured %d samples", captured)
}
