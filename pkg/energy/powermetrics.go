package energy

import (
	"context"
	"os/exec"
	"strconv"
	"strings"

	"github.com/cockroachdb/errors"
)

// Powermetrics reads package CPU power on macOS through powermetrics.
type Powermetrics struct {
	path string
	run  commandRunner
}

// NewPowermetrics locates powermetrics. Sampling needs root on most systems.
func NewPowermetrics() (*Powermetrics, error) {
	path, err := exec.LookPath("powermetrics")
	if err != nil {
		return nil, errors.Mark(errors.Wrap(err, "locate powermetrics"), ErrSamplerUnavailable)
	}
	return &Powermetrics{path: path, run: runCommand}, nil
}

// Sample implements Sampler with one 100ms cpu_power sample.
func (p *Powermetrics) Sample(ctx context.Context) (float64, error) {
	out, err := p.run(ctx, p.path, "--samplers", "cpu_power", "-n", "1", "-i", "100")
	if err != nil {
		return 0, errors.Mark(errors.Wrap(err, "powermetrics"), ErrSamplerUnavailable)
	}
	return parseCPUPower(string(out))
}

// parseCPUPower reads the "CPU Power: N mW" line and returns watts.
func parseCPUPower(out string) (float64, error) {
	for _, line := range strings.Split(out, "\n") {
		label, value, ok := strings.Cut(line, ":")
		if !ok || strings.TrimSpace(label) != "CPU Power" {
			continue
		}
		fields := strings.Fields(value)
		if len(fields) == 0 {
			break
		}
		mw, err := strconv.ParseFloat(fields[0], 64)
		if err != nil {
			return 0, errors.Mark(errors.Wrapf(err, "parse cpu power %q", value), ErrSamplerUnavailable)
		}
		return mw / 1000, nil
	}
	return 0, errors.Wrap(ErrSamplerUnavailable, "powermetrics: no CPU Power line")
}
