package models

// BudgetPeriod defines the time window for a budget policy.
type BudgetPeriod string

const (
	BudgetDaily   BudgetPeriod = "daily"
	BudgetMonthly BudgetPeriod = "monthly"
)

// BudgetPolicy caps grams of CO2 emitted by LLM calls per period.
// An empty Model applies the cap across all models.
type BudgetPolicy struct {
	Model      string       `json:"model,omitempty" yaml:"model,omitempty"`
	MaxCarbonG float64      `json:"max_carbon_g" yaml:"max_carbon_g"`
	Period     BudgetPeriod `json:"period" yaml:"period"`
}

// BudgetStatus shows current emissions against a policy.
type BudgetStatus struct {
	Policy     BudgetPolicy `json:"policy"`
	UsedG      float64      `json:"used_g"`
	RemainingG float64      `json:"remaining_g"`
}
