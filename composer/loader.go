package composer

import (
	"context"

	"github.com/warp/fee-engine/catalog"
	"github.com/warp/fee-engine/discount"
	"github.com/warp/fee-engine/generic"
)

// =============================================================================
// LOADER - Bulk reads for one run
// =============================================================================

// Loader reads composition inputs with a fixed number of queries: Env costs
// five (categories, types, member categories, rules, config) and Inputs
// costs four (participations, relations, exemptions, adjustments) however
// many people are asked for.
type Loader struct {
	registry *catalog.Registry
}

func NewLoader(registry *catalog.Registry) *Loader {
	if registry == nil {
		registry = catalog.NewRegistry()
	}
	return &Loader{registry: registry}
}

func (l *Loader) Registry() *catalog.Registry { return l.registry }

// Env loads the run-wide snapshot through st. A failure here is a setup
// failure: no person of the run can be composed correctly without it.
func (l *Loader) Env(ctx context.Context, st generic.Store) (Env, error) {
	categories, err := st.ListItemCategories(ctx)
	if err != nil {
		return Env{}, generic.Internal("list item categories", err)
	}
	types, err := st.ListItemTypes(ctx)
	if err != nil {
		return Env{}, generic.Internal("list item types", err)
	}
	members, err := st.ListMemberCategories(ctx)
	if err != nil {
		return Env{}, generic.Internal("list member categories", err)
	}
	records, err := st.ListDiscountRules(ctx, true)
	if err != nil {
		return Env{}, generic.Internal("list discount rules", err)
	}
	cfg, err := st.GetDiscountConfig(ctx)
	if err != nil {
		return Env{}, generic.Internal("get discount config", err)
	}

	engine, err := discount.Load(records, cfg, l.registry)
	if err != nil {
		return Env{}, err
	}

	fees := make(map[string]generic.MemberCategory, len(members))
	for _, m := range members {
		fees[m.Code] = m
	}
	return Env{
		Catalog:  catalog.NewSnapshot(categories, types),
		Registry: l.registry,
		Rules:    engine,
		Fees:     fees,
	}, nil
}

// Inputs loads the per-person inputs of every billable person.
func (l *Loader) Inputs(ctx context.Context, st generic.Store, billable []generic.Billable, period generic.Period) (map[generic.PersonID]PersonInputs, error) {
	out := make(map[generic.PersonID]PersonInputs, len(billable))
	if len(billable) == 0 {
		return out, nil
	}
	ids := make([]generic.PersonID, len(billable))
	for i, b := range billable {
		ids[i] = b.Person.ID
	}

	participations, err := st.ParticipationsFor(ctx, ids, period)
	if err != nil {
		return nil, generic.Internal("load participations", err)
	}
	relations, err := st.FamilyRelationsFor(ctx, ids)
	if err != nil {
		return nil, generic.Internal("load family relations", err)
	}
	exemptions, err := st.EffectiveExemptionsFor(ctx, ids)
	if err != nil {
		return nil, generic.Internal("load exemptions", err)
	}
	adjustments, err := st.ActiveAdjustmentsFor(ctx, ids)
	if err != nil {
		return nil, generic.Internal("load adjustments", err)
	}

	for _, b := range billable {
		id := b.Person.ID
		out[id] = PersonInputs{
			Person:          b.Person,
			CategoryCode:    b.CategoryCode,
			Participations:  participations[id],
			FamilyRelations: relations[id],
			Exemptions:      exemptions[id],
			Adjustments:     adjustments[id],
		}
	}
	return out, nil
}

// One loads the inputs of a single person. A person who exists but holds
// no active SOCIO assignment gets inputs without a category, which Compose
// rejects as a configuration error.
func (l *Loader) One(ctx context.Context, st generic.Store, personID generic.PersonID, period generic.Period) (PersonInputs, error) {
	person, err := st.GetPerson(ctx, personID)
	if err != nil {
		return PersonInputs{}, generic.Internal("get person", err)
	}
	if person == nil {
		return PersonInputs{}, generic.NotFound("person", string(personID))
	}

	billable, err := st.ListBillable(ctx, generic.BillableQuery{
		Period:    period,
		PersonIDs: []generic.PersonID{personID},
	})
	if err != nil {
		return PersonInputs{}, generic.Internal("list billable", err)
	}
	b := generic.Billable{Person: *person}
	if len(billable) > 0 {
		b = billable[0]
	}

	inputs, err := l.Inputs(ctx, st, []generic.Billable{b}, period)
	if err != nil {
		return PersonInputs{}, err
	}
	return inputs[personID], nil
}
