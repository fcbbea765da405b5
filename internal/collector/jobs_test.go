package collector

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/intel-cli/internal/config"
	"github.com/sells-group/intel-cli/internal/model"
)

func jobsConfig(careersURL string) config.JobsConfig {
	return config.JobsConfig{
		Enabled:     true,
		CareersURL:  careersURL,
		MaxPostings: 10,
		RatePerSec:  100,
	}
}

func TestJobsCollector_CollectsPostings(t *testing.T) {
	mux := http.NewServeMux()
	srv := httptest.NewServer(mux)
	defer srv.Close()

	mux.HandleFunc("/careers", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `<html><body>
			<a href="/job/101">Welder</a>
			<a href="/job/102">Machinist</a>
			<a href="/about">About us</a>
		</body></html>`)
	})
	mux.HandleFunc("/job/", func(w http.ResponseWriter, r *http.Request) {
		id := strings.TrimPrefix(r.URL.Path, "/job/")
		fmt.Fprintf(w, `<html><head><title>Job %s</title></head><body>
			<h1>Position %s</h1>
			<div class="job-location">Omaha, NE</div>
			<div class="job-description">Do the work.</div>
		</body></html>`, id, id)
	})

	lg, store, run := newTestEnv(t)
	jc := NewJobsCollector(jobsConfig(srv.URL+"/careers"), webConfig(), fastRetry(), lg, store, run)

	res, err := jc.Collect(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, res.Observations)
	assert.Equal(t, 0, res.Errors)

	obs, err := lg.GetRunObservations(context.Background(), run.ID)
	require.NoError(t, err)
	require.Len(t, obs, 2)
	keys := []string{obs[0].EntityKey, obs[1].EntityKey}
	assert.ElementsMatch(t, []string{"job_101", "job_102"}, keys)
	for _, o := range obs {
		assert.Equal(t, model.SourceJob, o.Source)
		assert.NotEmpty(t, o.ContentHash)
	}
}

func TestJobsCollector_ListingFetchFailureAborts(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusForbidden)
	}))
	defer srv.Close()

	lg, store, run := newTestEnv(t)
	jc := NewJobsCollector(jobsConfig(srv.URL+"/careers"), webConfig(), fastRetry(), lg, store, run)

	res, err := jc.Collect(context.Background())
	require.Error(t, err)
	assert.Equal(t, 0, res.Observations)
}

func TestExtractJobLinks_PatternsAndDedup(t *testing.T) {
	body := []byte(`<html><body>
		<a href="/job/1">One</a>
		<a href="/job/1">One again</a>
		<a href="https://other.test/jobs/2">Two</a>
		<a href="/blog/post">Blog</a>
		<a href="#apply">Anchor</a>
	</body></html>`)

	jc := &JobsCollector{cfg: config.JobsConfig{}}
	links := jc.extractJobLinks(body, "https://acme.test/careers")
	assert.Equal(t, []string{
		"https://acme.test/job/1",
		"https://other.test/jobs/2",
	}, links)
}

func TestExtractJobLinks_ConfiguredPatterns(t *testing.T) {
	body := []byte(`<html><body>
		<a href="/vacancies/9">Nine</a>
		<a href="/job/1">One</a>
	</body></html>`)

	jc := &JobsCollector{cfg: config.JobsConfig{LinkPatterns: []string{"/vacancies/"}}}
	links := jc.extractJobLinks(body, "https://acme.test/careers")
	assert.Equal(t, []string{"https://acme.test/vacancies/9"}, links)
}

func TestParseJobPosting_FieldsAndIdentity(t *testing.T) {
	raw := []byte(`<html><head><title>Careers</title></head><body>
		<h1>Senior Welder</h1>
		<span class="job-location">Lincoln, NE</span>
		<span class="department">Fabrication</span>
		<div class="job-description">Weld things together.</div>
	</body></html>`)

	posting := parseJobPosting(raw, "https://acme.test/job/4410")
	assert.Equal(t, "Senior Welder", posting.Title)
	assert.Equal(t, "Lincoln, NE", posting.Location)
	assert.Equal(t, "Fabrication", posting.Department)
	assert.Equal(t, "4410", posting.JobID)

	natural, derived := posting.EntityKeyParts()
	assert.Equal(t, "job_4410", natural)
	assert.Nil(t, derived)
}

func TestParseJobPosting_RequisitionWins(t *testing.T) {
	raw := []byte(`<html><body><h1>Welder</h1><p>Requisition REQ-2209</p></body></html>`)

	posting := parseJobPosting(raw, "https://acme.test/job/4410")
	assert.NotEmpty(t, posting.RequisitionID)

	natural, _ := posting.EntityKeyParts()
	assert.True(t, strings.HasPrefix(natural, "req_"))
}

func TestParseJobPosting_TitleFallsBackToPageTitle(t *testing.T) {
	raw := []byte(`<html><head><title>Open Role</title></head><body><p>text</p></body></html>`)

	posting := parseJobPosting(raw, "https://acme.test/opening/x")
	assert.Equal(t, "Open Role", posting.Title)
}

func TestExtractJobID_URLPatterns(t *testing.T) {
	cases := map[string]string{
		"https://a.test/job/123":        "123",
		"https://a.test/jobs/456":       "456",
		"https://a.test/apply?id=789":   "789",
		"https://a.test/p?job_id=ab12":  "ab12",
		"https://a.test/positions/555/": "555",
		"https://a.test/careers":        "",
	}
	for url, want := range cases {
		assert.Equal(t, want, extractJobID(url), url)
	}
}
