package energy

import (
	"context"
	"os/exec"
	"strconv"
	"strings"

	"github.com/cockroachdb/errors"
)

type commandRunner func(ctx context.Context, name string, args ...string) ([]byte, error)

func runCommand(ctx context.Context, name string, args ...string) ([]byte, error) {
	return exec.CommandContext(ctx, name, args...).Output()
}

// NvidiaSMI reads GPU board power through nvidia-smi.
type NvidiaSMI struct {
	path     string
	gpuIndex int
	run      commandRunner
}

// NewNvidiaSMI locates nvidia-smi. gpuIndex < 0 sums every device.
func NewNvidiaSMI(gpuIndex int) (*NvidiaSMI, error) {
	path, err := exec.LookPath("nvidia-smi")
	if err != nil {
		return nil, errors.Mark(errors.Wrap(err, "locate nvidia-smi"), ErrSamplerUnavailable)
	}
	return &NvidiaSMI{path: path, gpuIndex: gpuIndex, run: runCommand}, nil
}

// Sample implements Sampler.
func (n *NvidiaSMI) Sample(ctx context.Context) (float64, error) {
	args := []string{"--query-gpu=power.draw", "--format=csv,noheader,nounits"}
	if n.gpuIndex >= 0 {
		args = append(args, "-i", strconv.Itoa(n.gpuIndex))
	}
	out, err := n.run(ctx, n.path, args...)
	if err != nil {
		return 0, errors.Mark(errors.Wrap(err, "nvidia-smi"), ErrSamplerUnavailable)
	}
	return parsePowerDraw(string(out))
}

// parsePowerDraw sums one watts value per line, skipping "[N/A]" devices.
func parsePowerDraw(out string) (float64, error) {
	var total float64
	var found bool
	for _, line := range strings.Split(out, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		w, err := strconv.ParseFloat(line, 64)
		if err != nil {
			continue
		}
		total += w
		found = true
	}
	if !found {
		return 0, errors.Wrap(ErrSamplerUnavailable, "nvidia-smi reported no power draw")
	}
	return total, nil
}
