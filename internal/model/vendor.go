package model

import "time"

// Priority is the importance of a requirement when aggregating vendor scores.
type Priority string

const (
	PriorityHigh   Priority = "high"
	PriorityMedium Priority = "medium"
	PriorityLow    Priority = "low"
)

// SourceType classifies where a piece of evidence came from.
type SourceType string

const (
	SourceOfficial  SourceType = "official"
	SourceGitHub    SourceType = "github"
	SourceBlog      SourceType = "blog"
	SourceCommunity SourceType = "community"
)

// AllSourceTypes returns every known source type in descending trust order.
func AllSourceTypes() []SourceType {
	return []SourceType{SourceOfficial, SourceGitHub, SourceBlog, SourceCommunity}
}

// Valid reports whether s is a known source type.
func (s SourceType) Valid() bool {
	switch s {
	case SourceOfficial, SourceGitHub, SourceBlog, SourceCommunity:
		return true
	}
	return false
}

// Strength is the qualitative support a single evidence item gives a requirement.
type Strength string

const (
	StrengthStrong   Strength = "strong"
	StrengthModerate Strength = "moderate"
	StrengthWeak     Strength = "weak"
)

// Rank orders strengths for deduplication: strong=3, moderate=2, weak=1.
// Unknown strengths rank 0.
func (s Strength) Rank() int {
	switch s {
	case StrengthStrong:
		return 3
	case StrengthModerate:
		return 2
	case StrengthWeak:
		return 1
	}
	return 0
}

// Valid reports whether s is a known strength.
func (s Strength) Valid() bool {
	return s.Rank() > 0
}

// ConfidenceLevel labels the reliability of the evidence behind a score.
type ConfidenceLevel string

const (
	ConfidenceHigh   ConfidenceLevel = "high"
	ConfidenceMedium ConfidenceLevel = "medium"
	ConfidenceLow    ConfidenceLevel = "low"
)

// FreshnessLevel buckets the age of a publication date.
type FreshnessLevel string

const (
	FreshnessFresh FreshnessLevel = "fresh"
	FreshnessAging FreshnessLevel = "aging"
	FreshnessStale FreshnessLevel = "stale"
)

// Vendor is a product under evaluation.
type Vendor struct {
	ID          string `json:"id" yaml:"id"`
	Name        string `json:"name" yaml:"name"`
	Description string `json:"description" yaml:"description"`
	Website     string `json:"website" yaml:"website"`
	Color       string `json:"color" yaml:"color"`
}

// Requirement is an evaluation criterion.
type Requirement struct {
	ID          string   `json:"id" yaml:"id"`
	Name        string   `json:"name" yaml:"name"`
	Description string   `json:"description" yaml:"description"`
	Priority    Priority `json:"priority" yaml:"priority"`
}

// Evidence is one sourced, dated claim about a vendor's capability for a
// requirement.
type Evidence struct {
	ID            string     `json:"id"`
	VendorID      string     `json:"vendorId"`
	RequirementID string     `json:"requirementId"`
	Claim         string     `json:"claim"`
	Snippet       string     `json:"snippet"`
	SourceURL     string     `json:"sourceUrl"`
	SourceType    SourceType `json:"sourceType"`
	Strength      Strength   `json:"strength"`
	PublishedAt   time.Time  `json:"publishedAt"`
	CapturedAt    time.Time  `json:"capturedAt"`
}

// Score is the derived rating of one vendor against one requirement.
type Score struct {
	VendorID       string          `json:"vendorId"`
	RequirementID  string          `json:"requirementId"`
	Score          float64         `json:"score"`
	Confidence     ConfidenceLevel `json:"confidence"`
	EvidenceCount  int             `json:"evidenceCount"`
	FreshnessLevel FreshnessLevel  `json:"freshnessLevel"`
}

// VendorScore aggregates per-requirement scores for a vendor.
type VendorScore struct {
	Vendor     Vendor          `json:"vendor"`
	TotalScore float64         `json:"totalScore"`
	Confidence ConfidenceLevel `json:"confidence"`
	Scores     []Score         `json:"scores"`
}
