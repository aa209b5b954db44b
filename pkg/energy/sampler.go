// Package energy measures the energy and carbon cost of scoped operations.
package energy

import (
	"context"
	"runtime"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"

	"github.com/greencache-ai/greencache/pkg/config"
	"github.com/greencache-ai/greencache/pkg/logging"
)

// ErrSamplerUnavailable means no reading could be taken. It lowers the
// confidence of a record; it never fails a query.
var ErrSamplerUnavailable = errors.New("energy sampler unavailable")

// Sampler reports instantaneous power draw in watts.
type Sampler interface {
	Sample(ctx context.Context) (float64, error)
}

// UtilizationSampler reports resource utilization as a fraction in [0,1].
type UtilizationSampler interface {
	Utilization(ctx context.Context) (float64, error)
}

// None is the sampler used when no power sensor exists.
type None struct{}

// Sample implements Sampler.
func (None) Sample(context.Context) (float64, error) {
	return 0, ErrSamplerUnavailable
}

// NewSampler builds the sampler selected by cfg.Sampler and returns it with its kind.
// "auto" probes nvidia-smi, then powermetrics on macOS, then RAPL, then falls back to none.
func NewSampler(cfg config.EnergyConfig, logger *zap.Logger) (Sampler, string, error) {
	logger = logging.OrNop(logger)
	switch cfg.Sampler {
	case config.SamplerNvidia:
		s, err := NewNvidiaSMI(cfg.GPUIndex)
		if err != nil {
			return nil, "", err
		}
		return s, config.SamplerNvidia, nil
	case config.SamplerPowermetrics:
		s, err := NewPowermetrics()
		if err != nil {
			return nil, "", err
		}
		return s, config.SamplerPowermetrics, nil
	case config.SamplerRAPL:
		s, err := NewRAPL(cfg.RAPLPath)
		if err != nil {
			return nil, "", err
		}
		return s, config.SamplerRAPL, nil
	case config.SamplerNone:
		return None{}, config.SamplerNone, nil
	case config.SamplerAuto, "":
		if s, err := NewNvidiaSMI(cfg.GPUIndex); err == nil {
			return s, config.SamplerNvidia, nil
		}
		if runtime.GOOS == "darwin" {
			if s, err := NewPowermetrics(); err == nil {
				return s, config.SamplerPowermetrics, nil
			}
		}
		if s, err := NewRAPL(cfg.RAPLPath); err == nil {
			return s, config.SamplerRAPL, nil
		}
		logger.Info("no power sensor found, energy will be estimated from utilization")
		return None{}, config.SamplerNone, nil
	default:
		return nil, "", errors.Newf("unknown energy sampler %q", cfg.Sampler)
	}
}
