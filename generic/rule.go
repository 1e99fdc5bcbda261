package generic

import (
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// DISCOUNT RULES
// =============================================================================

// ApplicationMode decides how a matching rule combines with others.
type ApplicationMode string

const (
	ModeAccumulative ApplicationMode = "ACUMULATIVO"   // adds with others
	ModeExclusive    ApplicationMode = "EXCLUSIVO"     // only the first matching rule of this mode
	ModeMaximum      ApplicationMode = "MAXIMO"        // only the largest percentage of this mode
	ModeCustom       ApplicationMode = "PERSONALIZADO" // named combination function
)

func (m ApplicationMode) Valid() bool {
	switch m {
	case ModeAccumulative, ModeExclusive, ModeMaximum, ModeCustom:
		return true
	}
	return false
}

// DiscountRule is the stored form of a rule. Condition and Formula are raw
// descriptors compiled by the discount package.
type DiscountRule struct {
	ID                  RuleID
	Code                string
	Name                string
	Priority            int
	Condition           []byte
	Formula             []byte
	Mode                ApplicationMode
	CustomFunction      string
	MaxDiscount         *decimal.Decimal
	AppliesToBase       bool
	AppliesToActivities bool
	Active              bool
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

// DefaultTotalLimit caps the combined discount percentage.
var DefaultTotalLimit = decimal.NewFromInt(80)

// DiscountConfig is loaded once per run and passed by value. It is never
// mutated by the engine.
type DiscountConfig struct {
	// TotalLimit caps the combined percentage across all modes.
	TotalLimit decimal.Decimal
	// PriorityOrder lists rule codes evaluated before all others, in order.
	PriorityOrder []string
	UpdatedAt     time.Time
}

func DefaultDiscountConfig() DiscountConfig {
	return DiscountConfig{TotalLimit: DefaultTotalLimit}
}

// Limit returns the cap clamped to [0, 100].
func (c DiscountConfig) Limit() decimal.Decimal {
	return ClampPercentage(c.TotalLimit)
}
