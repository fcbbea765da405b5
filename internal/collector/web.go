package collector

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/sells-group/intel-cli/internal/artifact"
	"github.com/sells-group/intel-cli/internal/config"
	"github.com/sells-group/intel-cli/internal/fingerprint"
	"github.com/sells-group/intel-cli/internal/ledger"
	"github.com/sells-group/intel-cli/internal/model"
	"github.com/sells-group/intel-cli/internal/normalize"
	"github.com/sells-group/intel-cli/internal/resilience"
)

// WebCollector fetches configured pages, fingerprints the normalized
// content, and records one observation per URL. Fetch failures become
// error observations rather than aborting the run.
type WebCollector struct {
	cfg       config.WebConfig
	fetcher   *fetcher
	recorder  *recorder
	artifacts *artifact.Store
}

func NewWebCollector(cfg config.WebConfig, retry resilience.RetryConfig, lg ledger.Ledger, store *artifact.Store, run *model.Run) *WebCollector {
	retry.OnRetry = resilience.RetryLogger("web", "fetch")
	return &WebCollector{
		cfg:       cfg,
		fetcher:   newFetcher(time.Duration(cfg.TimeoutSecs)*time.Second, cfg.RatePerSec, cfg.UserAgent, cfg.MaxBodyBytes, retry),
		recorder:  &recorder{ledger: lg, run: run},
		artifacts: store,
	}
}

func (w *WebCollector) Name() string             { return "web" }
func (w *WebCollector) Source() model.SourceType { return model.SourceWeb }

func (w *WebCollector) Collect(ctx context.Context) (Result, error) {
	log := zap.L().With(zap.String("collector", "web"))
	log.Info("starting web collection", zap.Int("urls", len(w.cfg.URLs)))

	var res Result
	for _, target := range w.cfg.URLs {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		if err := w.collectPage(ctx, target); err != nil {
			log.Error("page collection failed", zap.String("url", target.URL), zap.Error(err))
			res.Errors++
			continue
		}
		res.Observations++
	}

	log.Info("web collection finished",
		zap.Int("observations", res.Observations),
		zap.Int("errors", res.Errors))
	return res, nil
}

// collectPage fetches one URL and records its observation. The returned
// error reflects ledger failures only; fetch errors are captured as error
// observations and count against the result.
func (w *WebCollector) collectPage(ctx context.Context, target config.WebTarget) error {
	slug := target.Slug
	if slug == "" {
		slug = artifact.Slugify(target.URL)
	}

	obs := w.recorder.newObservation(model.SourceWeb, artifact.Slugify(target.URL), target.URL)

	fetched, err := w.fetcher.fetch(ctx, target.URL)
	if err != nil {
		obs.Status = model.ObservationError
		obs.ErrorMessage = err.Error()
		if _, recErr := w.recorder.record(ctx, obs); recErr != nil {
			return recErr
		}
		return err
	}

	if fetched.redirected(target.URL) {
		zap.L().Info("redirect detected",
			zap.String("url", target.URL),
			zap.String("final_url", fetched.FinalURL))
		obs.Status = model.ObservationRedirect
	}

	page := parsePage(fetched.Body, fetched.FinalURL, fetched.StatusCode)
	page.URL = target.URL

	obs.ContentHash = fingerprint.Hash(normalize.Normalize(string(fetched.Body)))
	obs.ParsedJSON = marshalParsed(page)

	if ref, err := w.artifacts.Save("web", slug, "page.html", fetched.Body); err != nil {
		zap.L().Warn("raw artifact save failed", zap.String("url", target.URL), zap.Error(err))
	} else {
		obs.RawRef = ref
	}
	if _, err := w.artifacts.Save("web", slug, "parsed.json", []byte(obs.ParsedJSON)); err != nil {
		zap.L().Warn("parsed artifact save failed", zap.String("url", target.URL), zap.Error(err))
	}

	_, err = w.recorder.record(ctx, obs)
	return err
}
