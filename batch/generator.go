/*
Package batch generates the cuotas of a whole cohort for one period.

PURPOSE:
  Drives the composer across every billable person with a bounded number
  of queries and isolates per-person failures so one bad record never
  blocks the rest of the run.

HOW IT WORKS:
  1. SETUP (aborts the run on failure)
     - catalog, member categories, rules, discount config (composer.Loader.Env)
     - eligible people: active SOCIO assignment, no live cuota for the
       period (one query)
     - participations, family relations, exemptions, adjustments for the
       selected people (one query each)

  2. COMPOSE (parallel, pure)
     Compositions run on an errgroup limited to Config.Workers. They only
     read the in-memory inputs of step 1.

  3. WRITE (chunked)
     One transaction per Config.ChunkSize people, one savepoint per person.
     A person whose composition or write fails is rolled back to the
     savepoint and reported; the rest of the chunk commits.

CANCELLATION:
  The context is checked between chunks. Committed chunks stay; running
  the same request again only picks up people still without a cuota.

SEE ALSO:
  - composer/loader.go: Bulk reads
  - composer/service.go: Persist
*/
package batch

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/warp/fee-engine/composer"
	"github.com/warp/fee-engine/generic"
	"github.com/warp/fee-engine/logger"
)

const (
	DefaultChunkSize         = 200
	DefaultWorkers           = 4
	DefaultMaxReportedErrors = 100
)

type Config struct {
	ChunkSize         int
	Workers           int
	MaxReportedErrors int
}

func (c Config) withDefaults() Config {
	if c.ChunkSize <= 0 {
		c.ChunkSize = DefaultChunkSize
	}
	if c.Workers <= 0 {
		c.Workers = DefaultWorkers
	}
	if c.MaxReportedErrors <= 0 {
		c.MaxReportedErrors = DefaultMaxReportedErrors
	}
	return c
}

// Request selects the cohort of one run.
type Request struct {
	Period generic.Period
	// CategoryCode restricts the run to one membership category.
	CategoryCode *string
	// PersonIDs restricts the run to the given people.
	PersonIDs []generic.PersonID
	Actor     string
}

// PersonError is one person's failure.
type PersonError struct {
	PersonID generic.PersonID  `json:"personaId"`
	Kind     generic.ErrorKind `json:"tipo"`
	Message  string            `json:"mensaje"`
}

// RecordStat describes one generated cuota.
type RecordStat struct {
	PersonID generic.PersonID `json:"personaId"`
	CuotaID  generic.CuotaID  `json:"cuotaId"`
	Items    int              `json:"items"`
	Total    decimal.Decimal  `json:"total"`
}

type Result struct {
	Period         generic.Period
	StartedAt      time.Time
	Selected       int
	GeneratedCount int
	// Errors holds at most Config.MaxReportedErrors entries; ErrorCount
	// is the full count.
	Errors     []PersonError
	ErrorCount int
	Stats      []RecordStat
	Elapsed    time.Duration
	// Aborted is set when the context ended before every chunk ran.
	Aborted bool
}

func (r *Result) fail(personID generic.PersonID, err error, max int) {
	r.ErrorCount++
	if len(r.Errors) >= max {
		return
	}
	r.Errors = append(r.Errors, PersonError{
		PersonID: personID,
		Kind:     generic.KindOf(err),
		Message:  err.Error(),
	})
}

type Generator struct {
	store  generic.Store
	cuotas *composer.Service
	cfg    Config
	clock  generic.Clock
	log    *logger.Logger
}

func NewGenerator(store generic.Store, cuotas *composer.Service, cfg Config, clock generic.Clock, log *logger.Logger) *Generator {
	if clock == nil {
		clock = generic.SystemClock
	}
	return &Generator{
		store:  store,
		cuotas: cuotas,
		cfg:    cfg.withDefaults(),
		clock:  clock,
		log:    logger.OrNop(log).With("component", "batch"),
	}
}

type composed struct {
	comp composer.Composition
	err  error
}

// Generate runs one batch. It returns an error only for a setup failure or
// a failed chunk commit; per-person failures are in Result.Errors.
func (g *Generator) Generate(ctx context.Context, req Request) (*Result, error) {
	if req.Actor == "" {
		return nil, generic.Validationf("actor is required")
	}
	if err := req.Period.Validate(); err != nil {
		return nil, err
	}
	start := time.Now()
	res := &Result{Period: req.Period, StartedAt: g.clock()}

	// 1. Setup
	loader := g.cuotas.Loader()
	env, err := loader.Env(ctx, g.store)
	if err != nil {
		g.log.Error("batch setup failed", "period", req.Period.String(), "error", err)
		return nil, err
	}
	billable, err := g.store.ListBillable(ctx, generic.BillableQuery{
		Period:        req.Period,
		CategoryCode:  req.CategoryCode,
		PersonIDs:     req.PersonIDs,
		ExcludeBilled: true,
	})
	if err != nil {
		return nil, generic.Internal("list billable", err)
	}
	inputs, err := loader.Inputs(ctx, g.store, billable, req.Period)
	if err != nil {
		return nil, err
	}
	res.Selected = len(billable)

	// 2. Compose
	results := make([]composed, len(billable))
	eg, egctx := errgroup.WithContext(ctx)
	eg.SetLimit(g.cfg.Workers)
	for i, b := range billable {
		i, b := i, b
		eg.Go(func() error {
			if egctx.Err() != nil {
				return egctx.Err()
			}
			comp, err := composer.Compose(inputs[b.Person.ID], env, req.Period)
			results[i] = composed{comp: comp, err: err}
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		res.Aborted = true
		res.Elapsed = time.Since(start)
		g.log.Warn("batch cancelled while composing", "period", req.Period.String(), "error", err)
		return res, nil
	}

	// 3. Write
	for lo := 0; lo < len(billable); lo += g.cfg.ChunkSize {
		if ctx.Err() != nil {
			res.Aborted = true
			break
		}
		hi := min(lo+g.cfg.ChunkSize, len(billable))
		if err := g.writeChunk(ctx, req, billable[lo:hi], results[lo:hi], res); err != nil {
			res.Elapsed = time.Since(start)
			g.log.Error("batch chunk failed", "period", req.Period.String(), "from", lo, "to", hi, "error", err)
			return res, err
		}
	}

	res.Elapsed = time.Since(start)
	g.log.Info("batch finished",
		"period", req.Period.String(),
		"selected", res.Selected,
		"generated", res.GeneratedCount,
		"errors", res.ErrorCount,
		"aborted", res.Aborted,
		"elapsed", res.Elapsed.String(),
	)
	return res, nil
}

type failure struct {
	personID generic.PersonID
	err      error
}

// writeChunk persists one chunk in one transaction. Counts are merged into
// res only after the commit.
func (g *Generator) writeChunk(ctx context.Context, req Request, people []generic.Billable, comps []composed, res *Result) error {
	var stats []RecordStat
	var failures []failure

	err := g.store.WithTx(ctx, func(tx generic.Store) error {
		stats, failures = nil, nil
		for i, b := range people {
			id := b.Person.ID
			if comps[i].err != nil {
				failures = append(failures, failure{personID: id, err: comps[i].err})
				continue
			}
			var stat RecordStat
			err := tx.Savepoint(ctx, "cuota_"+string(id), func(sp generic.Store) error {
				st, err := g.cuotas.Persist(ctx, sp, comps[i].comp, req.Actor)
				if err != nil {
					return err
				}
				stat = RecordStat{PersonID: id, CuotaID: st.Cuota.ID, Items: len(st.Items), Total: st.Cuota.Total}
				return nil
			})
			if err != nil {
				if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
					return err
				}
				failures = append(failures, failure{personID: id, err: err})
				continue
			}
			stats = append(stats, stat)
		}
		return nil
	})
	if err != nil {
		return err
	}

	res.GeneratedCount += len(stats)
	res.Stats = append(res.Stats, stats...)
	for _, f := range failures {
		g.log.Warn("cuota not generated", "person", f.personID, "period", req.Period.String(), "kind", generic.KindOf(f.err), "error", f.err)
		res.fail(f.personID, f.err, g.cfg.MaxReportedErrors)
	}
	return nil
}
