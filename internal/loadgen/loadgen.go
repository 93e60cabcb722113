// Package loadgen generates synthetic GPS traffic against a live queue.
//
// A truck shift produces a position sample every few seconds for hours;
// the generator reproduces that write pattern so queue and drain
// behavior can be validated at realistic and worst-case volumes before
// a unit ships.
package loadgen

import (
	"context"
	"fmt"
	"math/rand"
	"sort"
	"time"

	"github.com/routeworks/haulsync/internal/model"
	"github.com/routeworks/haulsync/internal/queue"
)

// Options controls the synthetic track.
type Options struct {
	// Points is the total number of samples to enqueue.
	Points int

	// Rate is samples per second. Zero means as fast as possible.
	Rate int

	// RouteID stamps every sample. Optional.
	RouteID string

	// Seed makes the walk reproducible. Zero seeds from the clock.
	Seed int64
}

// Result captures generator throughput.
type Result struct {
	Enqueued int
	Errors   int
	Duration time.Duration

	// Enqueue latency over all samples.
	Min  time.Duration
	Max  time.Duration
	Mean time.Duration
	P95  time.Duration
}

// Run walks a synthetic track and enqueues each sample. The walk
// starts from a fixed depot position and drifts with plausible speed
// and heading changes.
func Run(ctx context.Context, gps *queue.GPS, opts Options) (*Result, error) {
	if opts.Points <= 0 {
		return nil, fmt.Errorf("points must be positive")
	}

	seed := opts.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	rng := rand.New(rand.NewSource(seed))

	// Depot position; the walk stays in its neighborhood.
	lat, lng := 45.5152, -122.6784
	speed := 8.0
	heading := rng.Float64() * 360

	var interval time.Duration
	if opts.Rate > 0 {
		interval = time.Second / time.Duration(opts.Rate)
	}

	durations := make([]time.Duration, 0, opts.Points)
	result := &Result{}
	start := time.Now()

	var ticker *time.Ticker
	if interval > 0 {
		ticker = time.NewTicker(interval)
		defer ticker.Stop()
	}

	for i := 0; i < opts.Points; i++ {
		if ticker != nil {
			select {
			case <-ctx.Done():
				result.Duration = time.Since(start)
				finalize(result, durations)
				return result, ctx.Err()
			case <-ticker.C:
			}
		} else if err := ctx.Err(); err != nil {
			result.Duration = time.Since(start)
			finalize(result, durations)
			return result, err
		}

		// Drift: small heading wander, speed between stop-and-go and
		// arterial pace.
		heading += (rng.Float64() - 0.5) * 30
		speed += (rng.Float64() - 0.5) * 2
		if speed < 0 {
			speed = 0
		}
		if speed > 20 {
			speed = 20
		}
		lat += (rng.Float64() - 0.5) * 0.0005
		lng += (rng.Float64() - 0.5) * 0.0005

		point := model.GPSPoint{
			Lat:        lat,
			Lng:        lng,
			Speed:      speed,
			Heading:    normalizeHeading(heading),
			RouteID:    opts.RouteID,
			CapturedAt: time.Now(),
		}

		enqStart := time.Now()
		_, err := gps.Enqueue(ctx, point)
		elapsed := time.Since(enqStart)
		durations = append(durations, elapsed)

		if err != nil {
			result.Errors++
			continue
		}
		result.Enqueued++
	}

	result.Duration = time.Since(start)
	finalize(result, durations)
	return result, nil
}

func normalizeHeading(h float64) float64 {
	for h < 0 {
		h += 360
	}
	for h >= 360 {
		h -= 360
	}
	return h
}

// finalize computes latency statistics in place.
func finalize(r *Result, durations []time.Duration) {
	if len(durations) == 0 {
		return
	}
	sorted := make([]time.Duration, len(durations))
	copy(sorted, durations)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	var sum time.Duration
	for _, d := range sorted {
		sum += d
	}

	r.Min = sorted[0]
	r.Max = sorted[len(sorted)-1]
	r.Mean = sum / time.Duration(len(sorted))
	r.P95 = sorted[len(sorted)*95/100]
}

// PrintStats formats throughput statistics to stdout.
func (r *Result) PrintStats() {
	fmt.Printf("Load generation results:\n")
	fmt.Printf("  Enqueued: %d\n", r.Enqueued)
	fmt.Printf("  Errors:   %d\n", r.Errors)
	fmt.Printf("  Duration: %v\n", r.Duration.Round(time.Millisecond))
	if r.Duration > 0 {
		fmt.Printf("  Rate:     %.0f points/s\n", float64(r.Enqueued)/r.Duration.Seconds())
	}
	fmt.Printf("  Enqueue latency min/mean/p95/max: %v / %v / %v / %v\n",
		r.Min, r.Mean, r.P95, r.Max)
}
