package energy

import (
	"context"
	"runtime"

	"github.com/cockroachdb/errors"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/host"
)

// CPU samples system-wide CPU utilization since its previous call.
type CPU struct{}

// Utilization implements UtilizationSampler.
func (CPU) Utilization(ctx context.Context) (float64, error) {
	pct, err := cpu.PercentWithContext(ctx, 0, false)
	if err != nil {
		return 0, errors.Wrap(err, "cpu percent")
	}
	if len(pct) == 0 {
		return 0, errors.New("cpu percent: no data")
	}
	return clamp01(pct[0] / 100), nil
}

// Platform describes the host energy figures are measured on.
type Platform struct {
	Sampler  string `json:"sampler"`
	Hostname string `json:"hostname,omitempty"`
	OS       string `json:"os"`
	Platform string `json:"platform,omitempty"`
	CPUModel string `json:"cpu_model,omitempty"`
	Cores    int    `json:"cores"`
}

// Describe gathers host details through gopsutil. Missing details are left empty.
func Describe(ctx context.Context, sampler string) Platform {
	p := Platform{Sampler: sampler, OS: runtime.GOOS, Cores: runtime.NumCPU()}
	if info, err := host.InfoWithContext(ctx); err == nil {
		p.Hostname = info.Hostname
		p.Platform = info.Platform
	}
	if infos, err := cpu.InfoWithContext(ctx); err == nil && len(infos) > 0 {
		p.CPUModel = infos[0].ModelName
	}
	if n, err := cpu.CountsWithContext(ctx, true); err == nil && n > 0 {
		p.Cores = n
	}
	return p
}

func clamp01(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	}
	return v
}
