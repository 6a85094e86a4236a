// Package catalog holds the static vendor, requirement and source registry
// along with the canned analyzer tables and the reference evidence corpus.
package catalog

import (
	"embed"
	"io/fs"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"

	"github.com/signalcore/evidence-engine/internal/model"
)

//go:embed data/*.yaml
var dataFS embed.FS

// CannedResponse is one pre-written analyzer answer for a vendor/requirement pair.
type CannedResponse struct {
	Claim      string           `yaml:"claim" validate:"required"`
	Snippet    string           `yaml:"snippet" validate:"required"`
	SourceType model.SourceType `yaml:"source_type" validate:"required,oneof=official github blog community"`
	Strength   model.Strength   `yaml:"strength" validate:"required,oneof=strong moderate weak"`
	Reasoning  string           `yaml:"reasoning"`
}

type responseSet struct {
	VendorID      string           `yaml:"vendor_id" validate:"required"`
	RequirementID string           `yaml:"requirement_id" validate:"required"`
	Entries       []CannedResponse `yaml:"entries" validate:"required,dive"`
}

type evidenceRecord struct {
	ID            string           `yaml:"id" validate:"required"`
	VendorID      string           `yaml:"vendor_id" validate:"required"`
	RequirementID string           `yaml:"requirement_id" validate:"required"`
	Claim         string           `yaml:"claim" validate:"required"`
	Snippet       string           `yaml:"snippet"`
	SourceURL     string           `yaml:"source_url" validate:"required,url"`
	SourceType    model.SourceType `yaml:"source_type" validate:"required,oneof=official github blog community"`
	Strength      model.Strength   `yaml:"strength" validate:"required,oneof=strong moderate weak"`
	PublishedAt   string           `yaml:"published_at" validate:"required"`
	CapturedAt    string           `yaml:"captured_at" validate:"required"`
}

// Catalog is the immutable registry the pipeline and scoring engine read from.
type Catalog struct {
	Vendors      []model.Vendor
	Requirements []model.Requirement
	Sources      []model.ResearchSource
	Evidence     []model.Evidence

	responses map[string][]CannedResponse
}

// Load parses the embedded catalog.
func Load() (*Catalog, error) {
	sub, err := fs.Sub(dataFS, "data")
	if err != nil {
		return nil, eris.Wrap(err, "catalog: open embedded data")
	}
	return LoadFS(sub)
}

// LoadFS parses vendors.yaml, requirements.yaml, sources.yaml, responses.yaml
// and evidence.yaml from fsys and checks cross references.
func LoadFS(fsys fs.FS) (*Catalog, error) {
	v := validator.New()
	c := &Catalog{responses: make(map[string][]CannedResponse)}

	if err := decode(fsys, "vendors.yaml", &c.Vendors); err != nil {
		return nil, err
	}
	if err := decode(fsys, "requirements.yaml", &c.Requirements); err != nil {
		return nil, err
	}
	if err := decode(fsys, "sources.yaml", &c.Sources); err != nil {
		return nil, err
	}

	var sets []responseSet
	if err := decode(fsys, "responses.yaml", &sets); err != nil {
		return nil, err
	}
	for _, s := range sets {
		if err := v.Struct(s); err != nil {
			return nil, eris.Wrapf(err, "catalog: responses %s/%s", s.VendorID, s.RequirementID)
		}
		key := ResponseKey(s.VendorID, s.RequirementID)
		c.responses[key] = append(c.responses[key], s.Entries...)
	}

	var records []evidenceRecord
	if err := decode(fsys, "evidence.yaml", &records); err != nil {
		return nil, err
	}
	c.Evidence = make([]model.Evidence, 0, len(records))
	for _, r := range records {
		if err := v.Struct(r); err != nil {
			return nil, eris.Wrapf(err, "catalog: evidence %s", r.ID)
		}
		ev, err := r.toModel()
		if err != nil {
			return nil, err
		}
		c.Evidence = append(c.Evidence, ev)
	}

	if err := c.check(); err != nil {
		return nil, err
	}
	return c, nil
}

// MustLoad is Load for package init and tests; it panics on a corrupt build.
func MustLoad() *Catalog {
	c, err := Load()
	if err != nil {
		panic(err)
	}
	return c
}

func decode(fsys fs.FS, name string, out any) error {
	data, err := fs.ReadFile(fsys, name)
	if err != nil {
		return eris.Wrapf(err, "catalog: read %s", name)
	}
	if err := yaml.Unmarshal(data, out); err != nil {
		return eris.Wrapf(err, "catalog: parse %s", name)
	}
	return nil
}

func (r evidenceRecord) toModel() (model.Evidence, error) {
	published, err := time.Parse(time.RFC3339, r.PublishedAt)
	if err != nil {
		return model.Evidence{}, eris.Wrapf(err, "catalog: evidence %s published_at", r.ID)
	}
	captured, err := time.Parse(time.RFC3339, r.CapturedAt)
	if err != nil {
		return model.Evidence{}, eris.Wrapf(err, "catalog: evidence %s captured_at", r.ID)
	}
	return model.Evidence{
		ID:            r.ID,
		VendorID:      r.VendorID,
		RequirementID: r.RequirementID,
		Claim:         r.Claim,
		Snippet:       r.Snippet,
		SourceURL:     r.SourceURL,
		SourceType:    r.SourceType,
		Strength:      r.Strength,
		PublishedAt:   published,
		CapturedAt:    captured,
	}, nil
}

func (c *Catalog) check() error {
	vendors := make(map[string]bool, len(c.Vendors))
	for _, v := range c.Vendors {
		if v.ID == "" {
			return eris.New("catalog: vendor with empty id")
		}
		if vendors[v.ID] {
			return eris.Errorf("catalog: duplicate vendor %s", v.ID)
		}
		vendors[v.ID] = true
	}

	reqs := make(map[string]bool, len(c.Requirements))
	for _, r := range c.Requirements {
		switch r.Priority {
		case model.PriorityHigh, model.PriorityMedium, model.PriorityLow:
		default:
			return eris.Errorf("catalog: requirement %s has invalid priority %q", r.ID, r.Priority)
		}
		reqs[r.ID] = true
	}

	for _, s := range c.Sources {
		if !vendors[s.VendorID] {
			return eris.Errorf("catalog: source %s references unknown vendor %s", s.URL, s.VendorID)
		}
		if !s.SourceType.Valid() {
			return eris.Errorf("catalog: source %s has invalid type %q", s.URL, s.SourceType)
		}
	}

	seen := make(map[string]bool, len(c.Evidence))
	for _, e := range c.Evidence {
		if seen[e.ID] {
			return eris.Errorf("catalog: duplicate evidence id %s", e.ID)
		}
		seen[e.ID] = true
		if !vendors[e.VendorID] || !reqs[e.RequirementID] {
			return eris.Errorf("catalog: evidence %s references unknown vendor or requirement", e.ID)
		}
	}
	return nil
}

// ResponseKey is the canned-table key for a vendor/requirement pair.
func ResponseKey(vendorID, requirementID string) string {
	return vendorID + "-" + requirementID
}

// Responses returns the canned entries for a pair, or nil.
func (c *Catalog) Responses(vendorID, requirementID string) []CannedResponse {
	return c.responses[ResponseKey(vendorID, requirementID)]
}

// SourcesFor returns a vendor's sources in catalog order.
func (c *Catalog) SourcesFor(vendorID string) []model.ResearchSource {
	var out []model.ResearchSource
	for _, s := range c.Sources {
		if s.VendorID == vendorID {
			out = append(out, s)
		}
	}
	return out
}

// Vendor looks up a vendor by id.
func (c *Catalog) Vendor(id string) (model.Vendor, bool) {
	for _, v := range c.Vendors {
		if v.ID == id {
			return v, true
		}
	}
	return model.Vendor{}, false
}

// Requirement looks up a requirement by id.
func (c *Catalog) Requirement(id string) (model.Requirement, bool) {
	for _, r := range c.Requirements {
		if r.ID == id {
			return r, true
		}
	}
	return model.Requirement{}, false
}
