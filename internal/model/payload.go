package model

import "time"

// WebPage holds structured data parsed from a collected web page.
type WebPage struct {
	URL             string   `json:"url"`
	Title           string   `json:"title,omitempty"`
	MetaDescription string   `json:"meta_description,omitempty"`
	CanonicalURL    string   `json:"canonical_url,omitempty"`
	FinalURL        string   `json:"final_url,omitempty"`
	StatusCode      int      `json:"status_code,omitempty"`
	Links           []string `json:"links,omitempty"`
	H1Tags          []string `json:"h1_tags,omitempty"`
}

// JobPosting holds structured data parsed from a job listing page.
type JobPosting struct {
	Title          string `json:"title"`
	Location       string `json:"location,omitempty"`
	Department     string `json:"department,omitempty"`
	EmploymentType string `json:"employment_type,omitempty"`
	PostedDate     string `json:"posted_date,omitempty"`
	Description    string `json:"description,omitempty"`
	URL            string `json:"url"`
	JobID          string `json:"job_id,omitempty"`
	RequisitionID  string `json:"requisition_id,omitempty"`
}

// EntityKeyParts returns the identity parts for a posting in precedence
// order: an externally issued requisition number beats a platform job ID,
// which beats a derived key from title, location, and URL. Re-runs must
// never assign a different key to the same posting.
func (j *JobPosting) EntityKeyParts() (natural string, derived []string) {
	switch {
	case j.RequisitionID != "":
		return "req_" + j.RequisitionID, nil
	case j.JobID != "":
		return "job_" + j.JobID, nil
	default:
		return "", []string{j.Title, j.Location, j.URL}
	}
}

// AdCreative holds one parsed ad creative from a platform export.
type AdCreative struct {
	Platform    string   `json:"platform"`
	Advertiser  string   `json:"advertiser,omitempty"`
	CreativeID  string   `json:"creative_id,omitempty"`
	Text        string   `json:"text,omitempty"`
	Headline    string   `json:"headline,omitempty"`
	Description string   `json:"description,omitempty"`
	MediaURLs   []string `json:"media_urls,omitempty"`
	LandingPage string   `json:"landing_page,omitempty"`
	FirstSeen   string   `json:"first_seen,omitempty"`
	LastSeen    string   `json:"last_seen,omitempty"`
	Spend       string   `json:"spend,omitempty"`
	Currency    string   `json:"currency,omitempty"`
}

// EmailMessage holds structured data parsed from an exported email.
type EmailMessage struct {
	MessageID  string    `json:"message_id"`
	From       string    `json:"from"`
	FromDomain string    `json:"from_domain"`
	To         string    `json:"to,omitempty"`
	Subject    string    `json:"subject"`
	Date       time.Time `json:"date"`
	BodyText   string    `json:"body_text,omitempty"`
	BodyHTML   string    `json:"body_html,omitempty"`
	Links      []string  `json:"links,omitempty"`
}
