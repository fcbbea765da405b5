package collector

import (
	"bytes"
	"context"
	"net/url"
	"regexp"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/net/html"

	"github.com/sells-group/intel-cli/internal/artifact"
	"github.com/sells-group/intel-cli/internal/config"
	"github.com/sells-group/intel-cli/internal/fingerprint"
	"github.com/sells-group/intel-cli/internal/ledger"
	"github.com/sells-group/intel-cli/internal/model"
	"github.com/sells-group/intel-cli/internal/normalize"
	"github.com/sells-group/intel-cli/internal/resilience"
)

// defaultJobLinkPatterns match hrefs that look like job detail pages when
// the config does not override them.
var defaultJobLinkPatterns = []string{
	"/job/", "/jobs/", "/career/", "/careers/",
	"/position/", "/positions/", "/opening/", "/openings/",
	"requisition", "posting", "opportunity",
}

var (
	jobIDPatterns = []*regexp.Regexp{
		regexp.MustCompile(`/job/(\d+)`),
		regexp.MustCompile(`/jobs/(\d+)`),
		regexp.MustCompile(`id=(\d+)`),
		regexp.MustCompile(`job_id=(\w+)`),
		regexp.MustCompile(`/(\d+)/?$`),
	}
	requisitionPatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)req(?:uisition)?[_-]?(\w+)`),
		regexp.MustCompile(`(?i)posting[_-]?(\w+)`),
	}
)

// JobsCollector walks a careers page, follows links that look like job
// postings, and records one observation per posting with a stable identity.
type JobsCollector struct {
	cfg      config.JobsConfig
	fetcher  *fetcher
	recorder *recorder
	store    *artifact.Store
}

func NewJobsCollector(cfg config.JobsConfig, web config.WebConfig, retry resilience.RetryConfig, lg ledger.Ledger, store *artifact.Store, run *model.Run) *JobsCollector {
	retry.OnRetry = resilience.RetryLogger("jobs", "fetch")
	return &JobsCollector{
		cfg:      cfg,
		fetcher:  newFetcher(time.Duration(web.TimeoutSecs)*time.Second, cfg.RatePerSec, web.UserAgent, web.MaxBodyBytes, retry),
		recorder: &recorder{ledger: lg, run: run},
		store:    store,
	}
}

func (j *JobsCollector) Name() string             { return "jobs" }
func (j *JobsCollector) Source() model.SourceType { return model.SourceJob }

func (j *JobsCollector) Collect(ctx context.Context) (Result, error) {
	log := zap.L().With(zap.String("collector", "jobs"))
	log.Info("starting jobs collection", zap.String("careers_url", j.cfg.CareersURL))

	var res Result

	listing, err := j.fetcher.fetch(ctx, j.cfg.CareersURL)
	if err != nil {
		// Without the listing there is nothing to enumerate.
		return res, err
	}

	jobURLs := j.extractJobLinks(listing.Body, j.cfg.CareersURL)
	log.Info("job listings found", zap.Int("count", len(jobURLs)))

	limit := j.cfg.MaxPostings
	if limit <= 0 || limit > len(jobURLs) {
		limit = len(jobURLs)
	}

	for _, jobURL := range jobURLs[:limit] {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		if err := j.collectJob(ctx, jobURL); err != nil {
			log.Error("job collection failed", zap.String("url", jobURL), zap.Error(err))
			res.Errors++
			continue
		}
		res.Observations++
	}

	log.Info("jobs collection finished",
		zap.Int("observations", res.Observations),
		zap.Int("errors", res.Errors))
	return res, nil
}

// extractJobLinks returns the absolute, deduplicated URLs on the careers
// page whose href matches a job-link pattern. Sorted so runs enumerate
// postings in a stable order.
func (j *JobsCollector) extractJobLinks(body []byte, pageURL string) []string {
	doc, err := html.Parse(bytes.NewReader(body))
	if err != nil {
		return nil
	}

	patterns := j.cfg.LinkPatterns
	if len(patterns) == 0 {
		patterns = defaultJobLinkPatterns
	}

	base, _ := url.Parse(pageURL)
	seen := make(map[string]struct{})

	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && n.Data == "a" {
			if href := attrValue(n, "href"); href != "" {
				if resolved := resolveLink(base, href); resolved != "" && looksLikeJobURL(resolved, patterns) {
					seen[resolved] = struct{}{}
				}
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)

	urls := make([]string, 0, len(seen))
	for u := range seen {
		urls = append(urls, u)
	}
	sort.Strings(urls)
	return urls
}

func looksLikeJobURL(u string, patterns []string) bool {
	lower := strings.ToLower(u)
	for _, p := range patterns {
		if strings.Contains(lower, strings.ToLower(p)) {
			return true
		}
	}
	return false
}

func (j *JobsCollector) collectJob(ctx context.Context, jobURL string) error {
	obs := j.recorder.newObservation(model.SourceJob, "", jobURL)

	fetched, err := j.fetcher.fetch(ctx, jobURL)
	if err != nil {
		obs.Status = model.ObservationError
		obs.ErrorMessage = err.Error()
		obs.EntityKey = fingerprint.EntityKey(jobURL)
		if _, recErr := j.recorder.record(ctx, obs); recErr != nil {
			return recErr
		}
		return err
	}

	posting := parseJobPosting(fetched.Body, jobURL)

	natural, derived := posting.EntityKeyParts()
	if natural != "" {
		obs.EntityKey = natural
	} else {
		obs.EntityKey = fingerprint.EntityKey(derived...)
	}

	obs.ContentHash = fingerprint.Hash(normalize.Normalize(string(fetched.Body)))
	obs.ParsedJSON = marshalParsed(posting)

	slug := artifact.Slugify(posting.Title)
	if len(slug) > 50 {
		slug = slug[:50]
	}
	if ref, err := j.store.Save("jobs", slug, "detail.html", fetched.Body); err != nil {
		zap.L().Warn("raw artifact save failed", zap.String("url", jobURL), zap.Error(err))
	} else {
		obs.RawRef = ref
	}
	if _, err := j.store.Save("jobs", slug, "parsed.json", []byte(obs.ParsedJSON)); err != nil {
		zap.L().Warn("parsed artifact save failed", zap.String("url", jobURL), zap.Error(err))
	}

	zap.L().Info("collected job",
		zap.String("title", posting.Title),
		zap.String("location", posting.Location),
		zap.String("entity_key", obs.EntityKey))

	_, err = j.recorder.record(ctx, obs)
	return err
}

// parseJobPosting extracts posting fields from a detail page. Sites vary
// wildly, so extraction is heuristic: headings for the title, class-name
// hints for location and the rest, regex scans for platform identifiers.
func parseJobPosting(raw []byte, jobURL string) *model.JobPosting {
	posting := &model.JobPosting{URL: jobURL}

	doc, err := html.Parse(bytes.NewReader(raw))
	if err != nil {
		posting.Title = "Unknown Position"
		posting.JobID = extractJobID(jobURL)
		posting.RequisitionID = extractRequisitionID(jobURL)
		return posting
	}

	var pageTitle string
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode {
			switch n.Data {
			case "h1":
				if posting.Title == "" {
					posting.Title = strings.TrimSpace(textContent(n))
				}
			case "title":
				if pageTitle == "" {
					pageTitle = strings.TrimSpace(textContent(n))
				}
			default:
				class := strings.ToLower(attrValue(n, "class"))
				switch {
				case posting.Location == "" && strings.Contains(class, "location"):
					posting.Location = strings.TrimSpace(textContent(n))
				case posting.Department == "" && strings.Contains(class, "department"):
					posting.Department = strings.TrimSpace(textContent(n))
				case posting.EmploymentType == "" && (strings.Contains(class, "job-type") || strings.Contains(class, "employment-type")):
					posting.EmploymentType = strings.TrimSpace(textContent(n))
				case posting.PostedDate == "" && (strings.Contains(class, "posted") || n.Data == "time"):
					posting.PostedDate = strings.TrimSpace(textContent(n))
				case posting.Description == "" && strings.Contains(class, "description"):
					posting.Description = strings.TrimSpace(textContent(n))
				}
			}
			if id := attrValue(n, "data-job-id"); id != "" && posting.JobID == "" {
				posting.JobID = id
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)

	if posting.Title == "" {
		posting.Title = pageTitle
	}
	if posting.Title == "" {
		posting.Title = "Unknown Position"
	}

	if posting.JobID == "" {
		posting.JobID = extractJobID(jobURL)
	}
	posting.RequisitionID = extractRequisitionID(jobURL + " " + normalize.ExtractText(string(raw)))

	return posting
}

func extractJobID(jobURL string) string {
	for _, re := range jobIDPatterns {
		if m := re.FindStringSubmatch(jobURL); m != nil {
			return m[1]
		}
	}
	return ""
}

func extractRequisitionID(combined string) string {
	for _, re := range requisitionPatterns {
		if m := re.FindStringSubmatch(combined); m != nil {
			return m[1]
		}
	}
	return ""
}
