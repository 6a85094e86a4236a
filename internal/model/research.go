package model

import (
	"slices"
	"time"
)

// ResearchSource is one addressable content source for a vendor.
type ResearchSource struct {
	VendorID   string     `json:"vendorId" yaml:"vendor_id"`
	URL        string     `json:"url" yaml:"url"`
	SourceType SourceType `json:"sourceType" yaml:"source_type"`
	Label      string     `json:"label" yaml:"label"`
}

// PageStatus is the outcome of fetching a source.
type PageStatus string

const (
	PageSuccess PageStatus = "success"
	PageError   PageStatus = "error"
)

// FetchedPage is the parsed result of a single fetch. Error pages carry the
// failure reason in Error and empty content.
type FetchedPage struct {
	URL         string     `json:"url"`
	Text        string     `json:"text"`
	Title       string     `json:"title"`
	PublishedAt *time.Time `json:"publishedAt"`
	FetchedAt   time.Time  `json:"fetchedAt"`
	SourceType  SourceType `json:"sourceType"`
	VendorID    string     `json:"vendorId"`
	Status      PageStatus `json:"status"`
	Error       string     `json:"error,omitempty"`
}

// OK reports whether the page was fetched and parsed successfully.
func (p FetchedPage) OK() bool {
	return p.Status == PageSuccess
}

// JobStatus tracks one vendor's progress within a session.
type JobStatus string

const (
	JobPending   JobStatus = "pending"
	JobFetching  JobStatus = "fetching"
	JobAnalyzing JobStatus = "analyzing"
	JobComplete  JobStatus = "complete"
	JobError     JobStatus = "error"
)

// ResearchJob is the per-vendor unit of work within a session.
type ResearchJob struct {
	ID           string           `json:"id"`
	Status       JobStatus        `json:"status"`
	VendorID     string           `json:"vendorId"`
	Sources      []ResearchSource `json:"sources"`
	FetchedPages []FetchedPage    `json:"fetchedPages"`
	Evidence     []Evidence       `json:"evidence"`
	StartedAt    time.Time        `json:"startedAt"`
	CompletedAt  *time.Time       `json:"completedAt"`
	Error        string           `json:"error,omitempty"`
}

// SessionStatus is the lifecycle state of a research run.
type SessionStatus string

const (
	SessionIdle     SessionStatus = "idle"
	SessionRunning  SessionStatus = "running"
	SessionComplete SessionStatus = "complete"
	SessionError    SessionStatus = "error"
)

// Done reports whether the session reached a terminal state.
func (s SessionStatus) Done() bool {
	return s == SessionComplete || s == SessionError
}

// ResearchSession is one end-to-end research run.
type ResearchSession struct {
	ID          string          `json:"id"`
	Status      SessionStatus   `json:"status"`
	Jobs        []ResearchJob   `json:"jobs"`
	Events      []ResearchEvent `json:"events"`
	StartedAt   time.Time       `json:"startedAt"`
	CompletedAt *time.Time      `json:"completedAt"`
	CreatedAt   time.Time       `json:"createdAt"`
}

// Job returns a pointer to the job for vendorID, or nil.
func (s *ResearchSession) Job(vendorID string) *ResearchJob {
	for i := range s.Jobs {
		if s.Jobs[i].VendorID == vendorID {
			return &s.Jobs[i]
		}
	}
	return nil
}

// Evidence flattens evidence across all jobs in job order.
func (s *ResearchSession) Evidence() []Evidence {
	var out []Evidence
	for _, j := range s.Jobs {
		out = append(out, j.Evidence...)
	}
	return out
}

// TotalSources counts fetched pages across all jobs.
func (s *ResearchSession) TotalSources() int {
	n := 0
	for _, j := range s.Jobs {
		n += len(j.FetchedPages)
	}
	return n
}

// Clone returns a deep copy safe to hand to readers outside the registry lock.
func (s *ResearchSession) Clone() *ResearchSession {
	if s == nil {
		return nil
	}
	c := *s
	c.CompletedAt = cloneTime(s.CompletedAt)
	c.Events = slices.Clone(s.Events)
	c.Jobs = make([]ResearchJob, len(s.Jobs))
	for i, j := range s.Jobs {
		j.Sources = slices.Clone(j.Sources)
		j.FetchedPages = slices.Clone(j.FetchedPages)
		for k := range j.FetchedPages {
			j.FetchedPages[k].PublishedAt = cloneTime(j.FetchedPages[k].PublishedAt)
		}
		j.Evidence = slices.Clone(j.Evidence)
		j.CompletedAt = cloneTime(j.CompletedAt)
		c.Jobs[i] = j
	}
	return &c
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

// AnalyzerResult is what an analyzer produces for one page and requirement.
type AnalyzerResult struct {
	Evidence  []Evidence `json:"evidence"`
	Reasoning string     `json:"reasoning"`
}
