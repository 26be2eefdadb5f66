package bundle

import (
	"fmt"
	"math"
	"time"
)

// DefaultThroughput is the assumed download rate, in bytes per second, of a
// 3 Mbps mobile connection (3 * 1024 * 1024 / 8).
const DefaultThroughput int64 = 3 * 1024 * 1024 / 8

// Estimator converts byte sizes into estimated load durations at a fixed
// assumed throughput.
type Estimator struct {
	bytesPerSec int64
}

// NewEstimator creates an Estimator for the given throughput.
func NewEstimator(bytesPerSec int64) (*Estimator, error) {
	if bytesPerSec <= 0 {
		return nil, fmt.Errorf("throughput must be positive, got %d", bytesPerSec)
	}
	return &Estimator{bytesPerSec: bytesPerSec}, nil
}

// Throughput returns the assumed throughput in bytes per second.
func (e *Estimator) Throughput() int64 {
	return e.bytesPerSec
}

// Estimate returns the time needed to transfer size bytes. Negative sizes
// give negative durations so that signed deltas can be summed.
func (e *Estimator) Estimate(size int64) time.Duration {
	seconds := float64(size) / float64(e.bytesPerSec)
	return time.Duration(math.Round(seconds * float64(time.Second)))
}
