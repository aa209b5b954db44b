package energy

import (
	"context"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
)

// raplInterval is the spacing between the two counter reads of one sample.
const raplInterval = 5 * time.Millisecond

// RAPL derives package power from the Linux powercap energy counter.
type RAPL struct {
	path     string
	maxRange uint64
	interval time.Duration
}

// NewRAPL checks that the energy_uj counter at path is readable.
func NewRAPL(path string) (*RAPL, error) {
	if path == "" {
		return nil, errors.Wrap(ErrSamplerUnavailable, "rapl path not set")
	}
	if _, err := readCounter(path); err != nil {
		return nil, err
	}
	r := &RAPL{path: path, interval: raplInterval}
	if limit, err := readCounter(filepath.Join(filepath.Dir(path), "max_energy_range_uj")); err == nil {
		r.maxRange = limit
	}
	return r, nil
}

// Sample implements Sampler by reading the counter twice, interval apart.
func (r *RAPL) Sample(ctx context.Context) (float64, error) {
	e0, err := readCounter(r.path)
	if err != nil {
		return 0, err
	}
	t0 := time.Now()

	select {
	case <-ctx.Done():
		return 0, errors.Mark(ctx.Err(), ErrSamplerUnavailable)
	case <-time.After(r.interval):
	}

	e1, err := readCounter(r.path)
	if err != nil {
		return 0, err
	}
	return r.watts(e0, e1, time.Since(t0))
}

func (r *RAPL) watts(e0, e1 uint64, dt time.Duration) (float64, error) {
	if dt <= 0 {
		return 0, nil
	}
	delta := e1 - e0
	if e1 < e0 {
		// counter wrapped; without max_energy_range_uj the delta is unknown
		if r.maxRange == 0 || e0 > r.maxRange {
			return 0, errors.Wrapf(ErrSamplerUnavailable, "rapl counter wrapped (%d -> %d) with unknown range", e0, e1)
		}
		delta = r.maxRange - e0 + e1
	}
	return float64(delta) / 1e6 / dt.Seconds(), nil
}

func readCounter(path string) (uint64, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, errors.Mark(errors.Wrapf(err, "read %s", path), ErrSamplerUnavailable)
	}
	v, err := strconv.ParseUint(strings.TrimSpace(string(data)), 10, 64)
	if err != nil {
		return 0, errors.Mark(errors.Wrapf(err, "parse %s", path), ErrSamplerUnavailable)
	}
	return v, nil
}
