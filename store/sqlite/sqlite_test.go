package sqlite_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/fee-engine/generic"
	"github.com/warp/fee-engine/store/sqlite"
)

var march = generic.NewPeriod(2025, time.March)

func newTestStore(t *testing.T) *sqlite.Store {
	t.Helper()
	store, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func member(t *testing.T, store *sqlite.Store, id generic.PersonID, category string, from time.Time, to *time.Time) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, store.SavePerson(ctx, generic.Person{ID: id, Name: "Persona " + string(id), EnrolledAt: from}))
	require.NoError(t, store.SaveAssignment(ctx, generic.TypeAssignment{
		ID:           "asig-" + string(id),
		PersonID:     id,
		TypeCode:     generic.AssignmentSocio,
		CategoryCode: category,
		From:         from,
		To:           to,
	}))
}

func liveCuota(id generic.CuotaID, person generic.PersonID) generic.Cuota {
	return generic.Cuota{ID: id, PersonID: person, Period: march, Total: decimal.NewFromInt(10000)}
}

// =============================================================================
// TRANSACTIONS
// =============================================================================

func TestWithTx_RollsBackOnError(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	boom := errors.New("boom")

	// WHEN: The function fails after a write
	err := store.WithTx(ctx, func(tx generic.Store) error {
		require.NoError(t, tx.(*sqlite.Store).SavePerson(ctx, generic.Person{ID: "p1", Name: "Ana", EnrolledAt: generic.Date(2020, time.January, 1)}))
		return boom
	})

	// THEN: The error surfaces and the write is gone
	assert.ErrorIs(t, err, boom)
	p, err := store.GetPerson(ctx, "p1")
	require.NoError(t, err)
	assert.Nil(t, p)
}

func TestWithTx_Commits(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	err := store.WithTx(ctx, func(tx generic.Store) error {
		return tx.InsertCuota(ctx, liveCuota("c1", "p1"))
	})

	require.NoError(t, err)
	c, err := store.GetCuota(ctx, "c1")
	require.NoError(t, err)
	require.NotNil(t, c)
	assert.True(t, decimal.NewFromInt(10000).Equal(c.Total))
}

func TestSavepoint_RollsBackOnlyInnerWork(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	boom := errors.New("boom")

	// GIVEN: A transaction with one cuota written before the savepoint
	err := store.WithTx(ctx, func(tx generic.Store) error {
		if err := tx.InsertCuota(ctx, liveCuota("c1", "p1")); err != nil {
			return err
		}

		// WHEN: The savepoint body fails
		spErr := tx.Savepoint(ctx, "persona p2", func(sp generic.Store) error {
			if err := sp.InsertCuota(ctx, liveCuota("c2", "p2")); err != nil {
				return err
			}
			return boom
		})
		assert.ErrorIs(t, spErr, boom)

		return tx.Savepoint(ctx, "persona p3", func(sp generic.Store) error {
			return sp.InsertCuota(ctx, liveCuota("c3", "p3"))
		})
	})
	require.NoError(t, err)

	// THEN: Work outside the failed savepoint is committed
	for id, want := range map[generic.CuotaID]bool{"c1": true, "c2": false, "c3": true} {
		c, err := store.GetCuota(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, want, c != nil, id)
	}
}

func TestSavepoint_ReleasesAfterRollback(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, store.InsertCuota(ctx, liveCuota("c1", "p1")))

	err := store.WithTx(ctx, func(tx generic.Store) error {
		// WHEN: Savepoints fail one after another with a duplicate
		for i := 0; i < 3; i++ {
			spErr := tx.Savepoint(ctx, "persona p1", func(sp generic.Store) error {
				return sp.InsertCuota(ctx, liveCuota("dup", "p1"))
			})

			// THEN: Each returns the body's error and nothing about the release
			var dup *generic.DuplicateCuotaError
			require.ErrorAs(t, spErr, &dup)
			assert.NotContains(t, spErr.Error(), "savepoint")
		}
		return tx.InsertCuota(ctx, liveCuota("c2", "p2"))
	})

	// AND: The outer transaction still commits
	require.NoError(t, err)
	c, err := store.GetCuota(ctx, "c2")
	require.NoError(t, err)
	assert.NotNil(t, c)
}

func TestSavepoint_WithoutTransaction(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	err := store.Savepoint(ctx, "suelto", func(sp generic.Store) error {
		return sp.InsertCuota(ctx, liveCuota("c1", "p1"))
	})

	require.NoError(t, err)
	c, err := store.FindCuota(ctx, "p1", march)
	require.NoError(t, err)
	require.NotNil(t, c)
	assert.Equal(t, generic.CuotaID("c1"), c.ID)
}

// =============================================================================
// CUOTA UNIQUENESS
// =============================================================================

func TestInsertCuota_OneLiveCuotaPerPeriod(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, store.InsertCuota(ctx, liveCuota("c1", "p1")))

	// WHEN: A second live cuota for the same person and period
	err := store.InsertCuota(ctx, liveCuota("c2", "p1"))

	// THEN: Duplicate, naming the existing cuota
	var dup *generic.DuplicateCuotaError
	require.ErrorAs(t, err, &dup)
	assert.Equal(t, generic.CuotaID("c1"), dup.ExistingID)
	assert.ErrorIs(t, err, generic.ErrConflict)

	// Another person or another period is fine
	require.NoError(t, store.InsertCuota(ctx, liveCuota("c3", "p2")))
	april := liveCuota("c4", "p1")
	april.Period = march.Next()
	require.NoError(t, store.InsertCuota(ctx, april))
}

func TestInsertCuota_IgnoresInvalidatedAndLegacy(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	legacy := liveCuota("legacy", "p1")
	legacy.Legacy = true
	legacy.LegacyBase = decimal.NewFromInt(9000)
	legacy.LegacyActivities = decimal.NewFromInt(1000)
	require.NoError(t, store.InsertCuota(ctx, legacy))

	invalidated := liveCuota("old", "p1")
	invalidated.Invalidated = true
	require.NoError(t, store.InsertCuota(ctx, invalidated))

	require.NoError(t, store.InsertCuota(ctx, liveCuota("c1", "p1")))

	found, err := store.FindCuota(ctx, "p1", march)
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, generic.CuotaID("c1"), found.ID)

	stored, err := store.GetCuota(ctx, "legacy")
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.True(t, stored.Legacy)
	assert.True(t, decimal.NewFromInt(9000).Equal(stored.LegacyBase))
}

func TestUpdateCuota_CannotRevive(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	old := liveCuota("old", "p1")
	old.Invalidated = true
	require.NoError(t, store.InsertCuota(ctx, old))
	require.NoError(t, store.InsertCuota(ctx, liveCuota("c1", "p1")))

	old.Invalidated = false
	err := store.UpdateCuota(ctx, old)
	assert.ErrorIs(t, err, generic.ErrConflict)

	err = store.UpdateCuota(ctx, liveCuota("missing", "p9"))
	assert.ErrorIs(t, err, generic.ErrNotFound)
}

// =============================================================================
// DIRECTORY
// =============================================================================

func TestGet_MissingRowsReturnNil(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	p, err := store.GetPerson(ctx, "nadie")
	require.NoError(t, err)
	assert.Nil(t, p)

	c, err := store.GetCuota(ctx, "nada")
	require.NoError(t, err)
	assert.Nil(t, c)

	r, err := store.GetReceipt(ctx, "nada")
	require.NoError(t, err)
	assert.Nil(t, r)

	a, err := store.GetAdjustment(ctx, "nada")
	require.NoError(t, err)
	assert.Nil(t, a)

	e, err := store.GetExemption(ctx, "nada")
	require.NoError(t, err)
	assert.Nil(t, e)
}

func TestListBillable(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	feb28 := generic.Date(2025, time.February, 28)

	// GIVEN: Two active members, one who left in February, one who joins in April
	member(t, store, "a-activo", "ACTIVO", generic.Date(2020, time.January, 1), nil)
	member(t, store, "b-cadete", "CADETE", generic.Date(2024, time.June, 1), nil)
	member(t, store, "c-baja", "ACTIVO", generic.Date(2019, time.January, 1), &feb28)
	member(t, store, "d-futuro", "ACTIVO", generic.Date(2025, time.April, 1), nil)
	// and one non-member
	require.NoError(t, store.SavePerson(ctx, generic.Person{ID: "e-empleado", Name: "Empleado", EnrolledAt: generic.Date(2020, time.January, 1)}))
	require.NoError(t, store.SaveAssignment(ctx, generic.TypeAssignment{
		ID: "asig-e", PersonID: "e-empleado", TypeCode: "EMPLEADO", From: generic.Date(2020, time.January, 1),
	}))
	// b-cadete already billed
	require.NoError(t, store.InsertCuota(ctx, liveCuota("c1", "b-cadete")))

	cadete := "CADETE"
	tests := []struct {
		name  string
		query generic.BillableQuery
		want  []generic.PersonID
	}{
		{"everyone", generic.BillableQuery{Period: march}, []generic.PersonID{"a-activo", "b-cadete"}},
		{"by category", generic.BillableQuery{Period: march, CategoryCode: &cadete}, []generic.PersonID{"b-cadete"}},
		{"by person", generic.BillableQuery{Period: march, PersonIDs: []generic.PersonID{"a-activo", "c-baja"}}, []generic.PersonID{"a-activo"}},
		{"exclude billed", generic.BillableQuery{Period: march, ExcludeBilled: true}, []generic.PersonID{"a-activo"}},
		{"april", generic.BillableQuery{Period: march.Next()}, []generic.PersonID{"a-activo", "b-cadete", "d-futuro"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			billable, err := store.ListBillable(ctx, tt.query)

			require.NoError(t, err)
			got := make([]generic.PersonID, len(billable))
			for i, b := range billable {
				got[i] = b.Person.ID
			}
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestListBillable_LatestAssignmentWins(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	member(t, store, "p1", "CADETE", generic.Date(2020, time.January, 1), nil)
	require.NoError(t, store.SaveAssignment(ctx, generic.TypeAssignment{
		ID:           "asig-p1-activo",
		PersonID:     "p1",
		TypeCode:     generic.AssignmentSocio,
		CategoryCode: "ACTIVO",
		From:         generic.Date(2025, time.January, 1),
	}))

	billable, err := store.ListBillable(ctx, generic.BillableQuery{Period: march})

	require.NoError(t, err)
	require.Len(t, billable, 1)
	assert.Equal(t, "ACTIVO", billable[0].CategoryCode)
	assert.True(t, generic.Date(2020, time.January, 1).Equal(billable[0].Person.EnrolledAt))
}

func TestParticipationsFor(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	member(t, store, "p1", "ACTIVO", generic.Date(2020, time.January, 1), nil)
	require.NoError(t, store.SaveActivity(ctx, generic.Activity{ID: "nat", Name: "Natación", Price: decimal.NewFromInt(2000)}))
	require.NoError(t, store.SaveActivity(ctx, generic.Activity{ID: "ten", Name: "Tenis", Price: decimal.NewFromInt(3000)}))
	require.NoError(t, store.SaveActivity(ctx, generic.Activity{ID: "bas", Name: "Básquet", Price: decimal.NewFromInt(1500)}))

	special := decimal.NewFromInt(1800)
	jan31 := generic.Date(2025, time.January, 31)
	require.NoError(t, store.SaveParticipation(ctx, generic.Participation{
		ID:           "pa-1",
		PersonID:     "p1",
		ActivityID:   "nat",
		SpecialPrice: &special,
		From:         generic.Date(2024, time.March, 1),
		Active:       true,
	}))
	require.NoError(t, store.SaveParticipation(ctx, generic.Participation{
		ID: "pa-2", PersonID: "p1", ActivityID: "ten", From: generic.Date(2024, time.March, 1), To: &jan31, Active: true,
	}))
	require.NoError(t, store.SaveParticipation(ctx, generic.Participation{
		ID: "pa-3", PersonID: "p1", ActivityID: "bas", From: generic.Date(2025, time.March, 20), Active: true,
	}))

	byPerson, err := store.ParticipationsFor(ctx, []generic.PersonID{"p1", "p2"}, march)

	require.NoError(t, err)
	list := byPerson["p1"]
	require.Len(t, list, 2)
	assert.Equal(t, "Básquet", list[0].ActivityName)
	assert.Equal(t, "Natación", list[1].ActivityName)
	assert.True(t, special.Equal(list[1].EffectivePrice()))
	assert.Empty(t, byPerson["p2"])

	empty, err := store.ParticipationsFor(ctx, nil, march)
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestReset(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	member(t, store, "p1", "ACTIVO", generic.Date(2020, time.January, 1), nil)
	require.NoError(t, store.InsertCuota(ctx, liveCuota("c1", "p1")))

	require.NoError(t, store.Reset(ctx))

	p, err := store.GetPerson(ctx, "p1")
	require.NoError(t, err)
	assert.Nil(t, p)
	c, err := store.GetCuota(ctx, "c1")
	require.NoError(t, err)
	assert.Nil(t, c)
}
