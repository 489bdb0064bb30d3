package reactor

import (
	"context"
	"fmt"
	"time"

	"github.com/sweeney/bioreactor/internal/filter"
)

// CaptureZero takes n raw readings spaced every apart and folds their mean
// into cal as the zero offset. Failed reads are skipped; it fails only if
// no reading succeeded or ctx ends first.
func CaptureZero(ctx context.Context, read func() (float64, error), cal filter.Calibration, n int, every time.Duration) (filter.Calibration, error) {
	samples := make([]float64, 0, n)
	var lastErr error

	for i := 0; i < n; i++ {
		if i > 0 && every > 0 {
			select {
			case <-ctx.Done():
				return cal, ctx.Err()
			case <-time.After(every):
			}
		}
		v, err := read()
		if err != nil {
			lastErr = err
			continue
		}
		samples = append(samples, v)
	}

	out, err := cal.CaptureZero(samples)
	if err != nil {
		if lastErr != nil {
			return cal, fmt.Errorf("%w: last read error: %w", err, lastErr)
		}
		return cal, err
	}
	return out, nil
}
