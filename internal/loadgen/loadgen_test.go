package loadgen

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/routeworks/haulsync/internal/queue"
	"github.com/routeworks/haulsync/internal/store"
)

func newTestGPS(t *testing.T) *queue.GPS {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("store.Open() failed: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	return queue.NewGPS(st, nil)
}

func TestRun_EnqueuesRequestedPoints(t *testing.T) {
	gps := newTestGPS(t)
	ctx := context.Background()

	result, err := Run(ctx, gps, Options{Points: 50, RouteID: "RT-1", Seed: 42})
	if err != nil {
		t.Fatalf("Run() failed: %v", err)
	}
	if result.Enqueued != 50 || result.Errors != 0 {
		t.Errorf("result = %+v", result)
	}

	points, err := gps.ListPending(ctx)
	if err != nil {
		t.Fatalf("ListPending() failed: %v", err)
	}
	if len(points) != 50 {
		t.Fatalf("pending = %d, want 50", len(points))
	}
	for _, p := range points {
		if p.RouteID != "RT-1" {
			t.Errorf("RouteID = %q, want RT-1", p.RouteID)
		}
		if p.Heading < 0 || p.Heading >= 360 {
			t.Errorf("heading %v outside [0,360)", p.Heading)
		}
		if p.Speed < 0 || p.Speed > 20 {
			t.Errorf("speed %v outside [0,20]", p.Speed)
		}
	}
}

func TestRun_RejectsZeroPoints(t *testing.T) {
	if _, err := Run(context.Background(), newTestGPS(t), Options{}); err == nil {
		t.Error("Run() accepted zero points")
	}
}

func TestRun_DeterministicWithSeed(t *testing.T) {
	ctx := context.Background()

	gpsA := newTestGPS(t)
	if _, err := Run(ctx, gpsA, Options{Points: 10, Seed: 7}); err != nil {
		t.Fatalf("Run() failed: %v", err)
	}
	gpsB := newTestGPS(t)
	if _, err := Run(ctx, gpsB, Options{Points: 10, Seed: 7}); err != nil {
		t.Fatalf("Run() failed: %v", err)
	}

	a, _ := gpsA.ListPending(ctx)
	b, _ := gpsB.ListPending(ctx)
	for i := range a {
		if a[i].Lat != b[i].Lat || a[i].Lng != b[i].Lng {
			t.Fatalf("walks diverge at %d with same seed", i)
		}
	}
}
