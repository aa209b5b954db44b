package models

import "time"

// Comparison pairs a cached and an uncached run of the same query.
type Comparison struct {
	ID        string     `json:"id"`
	Timestamp time.Time  `json:"timestamp"`
	Query     string     `json:"query"`
	Model     string     `json:"model"`
	Cached    QueryEvent `json:"cached"`
	Uncached  QueryEvent `json:"uncached"`
	Savings   Savings    `json:"savings"`
}

// Savings is what the cached path saved relative to the uncached path.
type Savings struct {
	EnergySavedWh float64     `json:"energy_saved_wh"`
	TimeSavedMs   float64     `json:"time_saved_ms"`
	CarbonSavedG  float64     `json:"carbon_saved_g"`
	PercentSaved  float64     `json:"percent_saved"`
	Equivalents   Equivalents `json:"equivalents"`
}

// Equivalents expresses saved carbon in everyday terms.
type Equivalents struct {
	TreeDays     float64 `json:"tree_days"`
	CarKm        float64 `json:"car_km"`
	PhoneCharges float64 `json:"phone_charges"`
}

// EquivalentsFor converts grams of CO2 into everyday equivalents.
func EquivalentsFor(carbonG float64) Equivalents {
	kg := carbonG / 1000
	return Equivalents{
		TreeDays:     kg * 1.2,
		CarKm:        kg * 6.3,
		PhoneCharges: kg * 121,
	}
}
