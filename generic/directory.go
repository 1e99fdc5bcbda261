/*
directory.go - Inputs owned by collaborating modules

PURPOSE:
  The fee engine does not manage people, activities or family links. It
  reads them. These types are the contracts for what it reads:

  Person directory:   identity, enrollment date, active type assignments
  Member categories:  membership tier and its configured base amount
  Activities:         enrollments with standard and special prices
  Family relations:   active family-discount links and their percentages
  Receivables:        a receipt is the monetary counterpart of a cuota

SEE ALSO:
  - store.go: DirectoryStore, ReceiptStore
  - composer/loader.go: Bulk loading of these inputs
*/
package generic

import (
	"time"

	"github.com/shopspring/decimal"
)

// AssignmentSocio is the type code that makes a person billable.
const AssignmentSocio = "SOCIO"

type Person struct {
	ID         PersonID
	Name       string
	EnrolledAt time.Time
}

// TypeAssignment links a person to a person type (SOCIO, ...) and, for
// members, to a membership category.
type TypeAssignment struct {
	ID           string
	PersonID     PersonID
	TypeCode     string
	CategoryCode string
	From         time.Time
	To           *time.Time
}

func (a TypeAssignment) ActiveOn(day time.Time) bool {
	return InWindow(day, a.From, a.To)
}

// MemberCategory is a membership tier with its monthly base amount.
type MemberCategory struct {
	Code       string
	Name       string
	BaseAmount decimal.Decimal
	Active     bool
}

type Activity struct {
	ID    string
	Name  string
	Price decimal.Decimal
}

// Participation is one person's enrollment in an activity.
type Participation struct {
	ID            string
	PersonID      PersonID
	ActivityID    string
	ActivityName  string
	StandardPrice decimal.Decimal
	SpecialPrice  *decimal.Decimal
	From          time.Time
	To            *time.Time
	Active        bool
}

// ActiveIn reports whether the participation overlaps the period.
func (p Participation) ActiveIn(period Period) bool {
	if !p.Active {
		return false
	}
	if DateOf(p.From).After(period.End()) {
		return false
	}
	return p.To == nil || !DateOf(*p.To).Before(period.Start())
}

// EffectivePrice is the special price when set, else the standard price.
func (p Participation) EffectivePrice() decimal.Decimal {
	if p.SpecialPrice != nil {
		return *p.SpecialPrice
	}
	return p.StandardPrice
}

// FamilyRelation is an active family-discount link.
type FamilyRelation struct {
	ID              string
	PersonID        PersonID
	RelatedPersonID PersonID
	Kind            string
	Percentage      decimal.Decimal
	Active          bool
}

// Receipt is the receivable counterpart of a cuota.
type Receipt struct {
	ID        ReceiptID
	PersonID  PersonID
	Period    Period
	Amount    decimal.Decimal
	Status    string
	CreatedAt time.Time
	UpdatedAt time.Time
}

const (
	ReceiptPending   = "PENDIENTE"
	ReceiptCancelled = "ANULADO"
)
