package generic

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// =============================================================================
// PERIOD - The billing unit (one month of one year)
// =============================================================================

// Period identifies one billing month. A person has at most one
// item-based cuota per period.
//
// Examples:
//   - March 2025: Period{Year: 2025, Month: time.March}
//   - String form: "2025-03"
type Period struct {
	Year  int
	Month time.Month
}

func NewPeriod(year int, month time.Month) Period {
	return Period{Year: year, Month: month}
}

// PeriodOf returns the period containing t.
func PeriodOf(t time.Time) Period {
	return Period{Year: t.Year(), Month: t.Month()}
}

// ParsePeriod accepts "YYYY-MM".
func ParsePeriod(s string) (Period, error) {
	parts := strings.Split(strings.TrimSpace(s), "-")
	if len(parts) != 2 {
		return Period{}, Validationf("invalid period %q (use YYYY-MM)", s)
	}
	year, err := strconv.Atoi(parts[0])
	if err != nil {
		return Period{}, Validationf("invalid period year %q", parts[0])
	}
	month, err := strconv.Atoi(parts[1])
	if err != nil {
		return Period{}, Validationf("invalid period month %q", parts[1])
	}
	p := Period{Year: year, Month: time.Month(month)}
	if err := p.Validate(); err != nil {
		return Period{}, err
	}
	return p, nil
}

func (p Period) Validate() error {
	if p.Month < time.January || p.Month > time.December {
		return Validationf("invalid period month %d", p.Month)
	}
	if p.Year < 1900 || p.Year > 9999 {
		return Validationf("invalid period year %d", p.Year)
	}
	return nil
}

func (p Period) String() string {
	return fmt.Sprintf("%04d-%02d", p.Year, int(p.Month))
}

// Index orders periods: Year*12 + Month.
func (p Period) Index() int { return p.Year*12 + int(p.Month) - 1 }

func (p Period) Before(o Period) bool { return p.Index() < o.Index() }
func (p Period) After(o Period) bool  { return p.Index() > o.Index() }

// Start returns the first day of the period.
func (p Period) Start() time.Time { return StartOfMonth(p.Year, p.Month) }

// End returns the last day of the period.
func (p Period) End() time.Time { return EndOfMonth(p.Year, p.Month) }

// BillingDate is the date exemptions and assignments are evaluated at.
func (p Period) BillingDate() time.Time { return p.Start() }

// Next returns the following period.
func (p Period) Next() Period {
	t := p.Start().AddDate(0, 1, 0)
	return PeriodOf(t)
}

// =============================================================================
// PERIOD RANGE - For adjustments valid over several months
// =============================================================================

// PeriodRange is [From, To]; a nil To is open-ended.
type PeriodRange struct {
	From Period
	To   *Period
}

func (r PeriodRange) Contains(p Period) bool {
	if p.Before(r.From) {
		return false
	}
	return r.To == nil || !p.After(*r.To)
}

func (r PeriodRange) Validate() error {
	if err := r.From.Validate(); err != nil {
		return err
	}
	if r.To != nil {
		if err := r.To.Validate(); err != nil {
			return err
		}
		if r.To.Before(r.From) {
			return Validationf("invalid period range: %s before %s", r.To, r.From)
		}
	}
	return nil
}
