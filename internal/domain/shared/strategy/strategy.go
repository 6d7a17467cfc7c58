package strategy

// StrategyType groups strategies that are interchangeable for one concern
type StrategyType string

const (
	// StrategyTypeMatching identifies ledger matching strategies
	StrategyTypeMatching StrategyType = "matching"
)

// String returns the string representation of the strategy type
func (t StrategyType) String() string {
	return string(t)
}

// IsValid returns true if the strategy type is known
func (t StrategyType) IsValid() bool {
	return t == StrategyTypeMatching
}

// Strategy is the base interface for all strategies
type Strategy interface {
	// Name returns the unique name of the strategy
	Name() string
	// Type returns the type of the strategy
	Type() StrategyType
	// Description returns a human-readable description
	Description() string
}

// BaseStrategy provides common implementation for strategies
type BaseStrategy struct {
	name         string
	strategyType StrategyType
	description  string
}

// NewBaseStrategy creates a new BaseStrategy
func NewBaseStrategy(name string, strategyType StrategyType, description string) BaseStrategy {
	return BaseStrategy{
		name:         name,
		strategyType: strategyType,
		description:  description,
	}
}

func (s BaseStrategy) Name() string { return s.name }
func (s BaseStrategy) Type() StrategyType { return s.strategyType }
func (s BaseStrategy) Description() string { return s.description }
