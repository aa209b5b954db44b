package models

import "time"

// Outcome is the cache decision for one query.
type Outcome string

const (
	OutcomeHit  Outcome = "hit"
	OutcomeMiss Outcome = "miss"
)

// Failure reasons carried on failed events.
const (
	ReasonEmbedding = "embedding"
	ReasonTimeout   = "timeout"
	ReasonLLM       = "llm"
	ReasonBudget    = "budget"
	ReasonInternal  = "internal"
)

// QueryEvent summarizes one handled query: its cache outcome and energy cost.
type QueryEvent struct {
	ID         string    `json:"id"`
	Timestamp  time.Time `json:"timestamp"`
	Query      string    `json:"query"`
	Model      string    `json:"model"`
	Outcome    Outcome   `json:"outcome"`
	EntryID    uint64    `json:"entry_id,omitempty"`
	Similarity float64   `json:"similarity,omitempty"`
	Answer     string    `json:"answer,omitempty"`
	Error      string    `json:"error,omitempty"`
	// Reason classifies a failure: embedding, timeout, llm or budget.
	Reason string `json:"reason,omitempty"`
	// Shared is set when the answer came from a concurrent identical miss.
	Shared bool `json:"shared,omitempty"`
	// Uncached is set on comparison runs that went straight upstream.
	Uncached  bool    `json:"uncached,omitempty"`
	LatencyMs float64 `json:"latency_ms"`

	Lookup EnergyRecord `json:"lookup_energy"`
	LLM    EnergyRecord `json:"llm_energy"`
	Energy EnergyRecord `json:"energy"`

	SavedWh      float64 `json:"saved_wh,omitempty"`
	SavedCarbonG float64 `json:"saved_carbon_g,omitempty"`
}

// Failed reports whether the query ended with an error.
func (e QueryEvent) Failed() bool {
	return e.Error != ""
}

// EventRecord is the flat form of a QueryEvent used for persistence and export.
type EventRecord struct {
	ID           string     `json:"id"`
	Timestamp    time.Time  `json:"timestamp"`
	Query        string     `json:"query"`
	Outcome      Outcome    `json:"outcome"`
	Model        string     `json:"model"`
	Watts        float64    `json:"watts"`
	EnergyWh     float64    `json:"energy_wh"`
	CarbonG      float64    `json:"carbon_g"`
	LatencyMs    float64    `json:"latency_ms"`
	Confidence   Confidence `json:"confidence"`
	Error        string     `json:"error,omitempty"`
	Reason       string     `json:"reason,omitempty"`
	SavedWh      float64    `json:"saved_wh"`
	SavedCarbonG float64    `json:"saved_carbon_g"`
}

// Flat converts the event to its flat record.
func (e QueryEvent) Flat() EventRecord {
	return EventRecord{
		ID:           e.ID,
		Timestamp:    e.Timestamp,
		Query:        e.Query,
		Outcome:      e.Outcome,
		Model:        e.Model,
		Watts:        e.Energy.Watts,
		EnergyWh:     e.Energy.EnergyWh,
		CarbonG:      e.Energy.CarbonG,
		LatencyMs:    e.LatencyMs,
		Confidence:   e.Energy.Confidence,
		Error:        e.Error,
		Reason:       e.Reason,
		SavedWh:      e.SavedWh,
		SavedCarbonG: e.SavedCarbonG,
	}
}

// EnergySummary aggregates events by model and outcome.
type EnergySummary struct {
	Model        string  `json:"model"`
	Outcome      Outcome `json:"outcome"`
	Queries      int     `json:"queries"`
	Failures     int     `json:"failures"`
	EnergyWh     float64 `json:"energy_wh"`
	CarbonG      float64 `json:"carbon_g"`
	AvgLatencyMs float64 `json:"avg_latency_ms"`
	SavedWh      float64 `json:"saved_wh"`
	SavedCarbonG float64 `json:"saved_carbon_g"`
}
