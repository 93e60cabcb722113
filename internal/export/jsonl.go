// Package export dumps and restores the outbound queues as JSONL, one
// envelope per line. The format is the device-swap path: dump on the
// old unit, import on the replacement, and the pending backlog survives
// the hardware change.
package export

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/routeworks/haulsync/internal/model"
	"github.com/routeworks/haulsync/internal/queue"
)

// Envelope is one JSONL line. Exactly one payload is set, per Kind.
type Envelope struct {
	Kind       string                  `json:"kind"`
	GPS        *model.GPSPoint         `json:"gps,omitempty"`
	Completion *model.CompletionAction `json:"completion,omitempty"`
}

const (
	KindGPS        = "gps"
	KindCompletion = "completion"
)

// Result holds dump/load statistics.
type Result struct {
	GPSPoints   int
	Completions int
	Errors      []string
}

// Dump writes both queues' pending items to path, GPS first. The write
// is atomic via a temp file so a crash never leaves a half-written
// dump.
func Dump(ctx context.Context, gps *queue.GPS, completions *queue.Completions, path string) (*Result, error) {
	result := &Result{}

	points, err := gps.ListPending(ctx)
	if err != nil {
		return nil, fmt.Errorf("read gps queue: %w", err)
	}
	actions, err := completions.ListPending(ctx)
	if err != nil {
		return nil, fmt.Errorf("read completion queue: %w", err)
	}

	tmpPath := path + ".tmp"
	// #nosec G304 - controlled path from CLI
	file, err := os.OpenFile(tmpPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return nil, fmt.Errorf("create dump file: %w", err)
	}

	encoder := json.NewEncoder(file)
	for i := range points {
		if err := encoder.Encode(Envelope{Kind: KindGPS, GPS: &points[i]}); err != nil {
			_ = file.Close()
			_ = os.Remove(tmpPath)
			return nil, fmt.Errorf("write gps point seq=%d: %w", points[i].Seq, err)
		}
		result.GPSPoints++
	}
	for i := range actions {
		if err := encoder.Encode(Envelope{Kind: KindCompletion, Completion: &actions[i]}); err != nil {
			_ = file.Close()
			_ = os.Remove(tmpPath)
			return nil, fmt.Errorf("write completion seq=%d: %w", actions[i].Seq, err)
		}
		result.Completions++
	}

	if err := file.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return nil, fmt.Errorf("close dump file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath)
		return nil, fmt.Errorf("finalize dump file: %w", err)
	}
	return result, nil
}

// Load reads a dump and re-enqueues every item. Sequence numbers are
// reassigned by the receiving queues; the dump's relative GPS order is
// preserved because lines replay in file order. Malformed or invalid
// lines are recorded in Result.Errors and skipped.
func Load(ctx context.Context, gps *queue.GPS, completions *queue.Completions, path string) (*Result, error) {
	// #nosec G304 - controlled path from CLI
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open dump file: %w", err)
	}
	defer file.Close()

	result := &Result{}
	decoder := json.NewDecoder(file)
	lineNum := 0

	for {
		var env Envelope
		if err := decoder.Decode(&env); err != nil {
			if err == io.EOF {
				break
			}
			return result, fmt.Errorf("invalid JSON at line %d: %w", lineNum+1, err)
		}
		lineNum++

		switch env.Kind {
		case KindGPS:
			if env.GPS == nil {
				result.Errors = append(result.Errors, fmt.Sprintf("line %d: gps envelope without payload", lineNum))
				continue
			}
			p := *env.GPS
			if p.CapturedAt.IsZero() {
				p.CapturedAt = time.Now()
			}
			if _, err := gps.Enqueue(ctx, p); err != nil {
				result.Errors = append(result.Errors, fmt.Sprintf("line %d: %v", lineNum, err))
				continue
			}
			result.GPSPoints++

		case KindCompletion:
			if env.Completion == nil {
				result.Errors = append(result.Errors, fmt.Sprintf("line %d: completion envelope without payload", lineNum))
				continue
			}
			if _, err := completions.Enqueue(ctx, *env.Completion); err != nil {
				result.Errors = append(result.Errors, fmt.Sprintf("line %d: %v", lineNum, err))
				continue
			}
			result.Completions++

		default:
			result.Errors = append(result.Errors, fmt.Sprintf("line %d: unknown kind %q", lineNum, env.Kind))
		}
	}

	return result, nil
}
