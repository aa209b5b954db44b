package models

// Confidence tags how an energy figure was obtained.
type Confidence string

const (
	ConfidenceMeasured    Confidence = "measured"
	ConfidenceEstimated   Confidence = "estimated"
	ConfidenceUnavailable Confidence = "unavailable"
)

func (c Confidence) rank() int {
	switch c {
	case ConfidenceMeasured:
		return 2
	case ConfidenceEstimated:
		return 1
	default:
		return 0
	}
}

// Lower returns the less certain of c and other. Unknown values count as unavailable.
func (c Confidence) Lower(other Confidence) Confidence {
	if other.rank() < c.rank() {
		c = other
	}
	if c.rank() == 0 {
		return ConfidenceUnavailable
	}
	return c
}

// EnergyRecord is the energy and carbon cost of one measured scope.
type EnergyRecord struct {
	Watts          float64    `json:"watts"`
	ElapsedSeconds float64    `json:"elapsed_seconds"`
	EnergyWh       float64    `json:"energy_wh"`
	CarbonG        float64    `json:"carbon_g"`
	Confidence     Confidence `json:"confidence"`
}
