package collector

import (
	"context"
	"sort"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/intel-cli/internal/artifact"
	"github.com/sells-group/intel-cli/internal/config"
	"github.com/sells-group/intel-cli/internal/ledger"
	"github.com/sells-group/intel-cli/internal/model"
	"github.com/sells-group/intel-cli/internal/resilience"
)

// Runner builds the enabled collectors for a run and executes them,
// aggregating per-collector results into the totals that decide the run's
// terminal status.
type Runner struct {
	cfg    *config.Config
	ledger ledger.Ledger
	store  *artifact.Store
}

func NewRunner(cfg *config.Config, lg ledger.Ledger, store *artifact.Store) *Runner {
	return &Runner{cfg: cfg, ledger: lg, store: store}
}

// Collectors returns the collectors enabled by config, optionally narrowed
// to an explicit selection. Unknown selections error rather than silently
// running nothing.
func (r *Runner) Collectors(run *model.Run, only []string) ([]Collector, error) {
	retry := resilience.RetryConfig{
		MaxAttempts:    r.cfg.Retry.MaxAttempts,
		InitialBackoff: r.cfg.Retry.InitialBackoff(),
		MaxBackoff:     r.cfg.Retry.MaxBackoff(),
		Base:           r.cfg.Retry.Base,
	}

	available := map[string]func() Collector{
		"web": func() Collector {
			return NewWebCollector(r.cfg.Collectors.Web, retry, r.ledger, r.store, run)
		},
		"jobs": func() Collector {
			return NewJobsCollector(r.cfg.Collectors.Jobs, r.cfg.Collectors.Web, retry, r.ledger, r.store, run)
		},
		"ads": func() Collector {
			return NewAdsCollector(r.cfg.Collectors.Ads, r.ledger, r.store, run)
		},
		"email": func() Collector {
			return NewEmailCollector(r.cfg.Collectors.Email, r.ledger, r.store, run)
		},
	}
	enabled := map[string]bool{
		"web":   r.cfg.Collectors.Web.Enabled,
		"jobs":  r.cfg.Collectors.Jobs.Enabled,
		"ads":   r.cfg.Collectors.Ads.Enabled,
		"email": r.cfg.Collectors.Email.Enabled,
	}

	names := only
	if len(names) == 0 {
		for name, on := range enabled {
			if on {
				names = append(names, name)
			}
		}
		sort.Strings(names)
	}

	var collectors []Collector
	for _, name := range names {
		build, ok := available[strings.ToLower(name)]
		if !ok {
			return nil, eris.Errorf("runner: unknown collector %q", name)
		}
		if len(only) == 0 && !enabled[strings.ToLower(name)] {
			continue
		}
		collectors = append(collectors, build())
	}
	if len(collectors) == 0 {
		return nil, eris.New("runner: no collectors enabled")
	}
	return collectors, nil
}

// Totals aggregates per-collector results for run classification.
type Totals struct {
	Observations int
	Errors       int
	PerCollector map[string]Result
}

// Execute runs the collectors sequentially, or concurrently when asked.
// A collector whose source is entirely unusable contributes one error to
// the totals instead of failing the whole run; only context cancellation
// and ledger failures abort.
func (r *Runner) Execute(ctx context.Context, collectors []Collector, concurrent bool) (*Totals, error) {
	totals := &Totals{PerCollector: make(map[string]Result, len(collectors))}

	if !concurrent {
		for _, c := range collectors {
			res, err := r.runOne(ctx, c)
			if err != nil {
				return totals, err
			}
			totals.add(c.Name(), res)
		}
		return totals, nil
	}

	g, gctx := errgroup.WithContext(ctx)
	results := make([]Result, len(collectors))
	for i, c := range collectors {
		g.Go(func() error {
			res, err := r.runOne(gctx, c)
			results[i] = res
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return totals, err
	}
	for i, c := range collectors {
		totals.add(c.Name(), results[i])
	}
	return totals, nil
}

func (r *Runner) runOne(ctx context.Context, c Collector) (Result, error) {
	res, err := c.Collect(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return res, err
		}
		zap.L().Error("collector failed", zap.String("collector", c.Name()), zap.Error(err))
		res.Errors++
	}
	return res, nil
}

func (t *Totals) add(name string, res Result) {
	t.Observations += res.Observations
	t.Errors += res.Errors
	t.PerCollector[name] = res
}
