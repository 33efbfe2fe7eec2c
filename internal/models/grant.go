package models

import (
	"time"
)

// Lifecycle is the derived open/closed/upcoming state of a call.
type Lifecycle string

const (
	LifecycleOpen     Lifecycle = "open"
	LifecycleClosed   Lifecycle = "closed"
	LifecycleUpcoming Lifecycle = "upcoming"
)

// Rank orders lifecycle states for relevance sorting: open first, closed last.
func (l Lifecycle) Rank() int {
	switch l {
	case LifecycleOpen:
		return 0
	case LifecycleUpcoming:
		return 1
	case LifecycleClosed:
		return 2
	}
	return 3
}

type FinancingType string

const (
	FinancingGrant     FinancingType = "grant"
	FinancingLoan      FinancingType = "loan"
	FinancingMixed     FinancingType = "mixed"
	FinancingGuarantee FinancingType = "guarantee"
)

// Tier is used for both administrative complexity and competitiveness.
type Tier string

const (
	TierLow    Tier = "low"
	TierMedium Tier = "medium"
	TierHigh   Tier = "high"
)

// Flags are eligibility/impact markers detected on a call.
type Flags struct {
	Environmental         bool `json:"environmental"`
	GenderEquality        bool `json:"gender_equality"`
	DigitalTransformation bool `json:"digital_transformation"`
	CircularEconomy       bool `json:"circular_economy"`
	Youth                 bool `json:"youth"`
	Rural                 bool `json:"rural"`
}

// Grant is the canonical record every provider payload is normalized into.
type Grant struct {
	ID              string        `json:"id"`
	RegistryCode    string        `json:"registry_code,omitempty"`
	Title           string        `json:"title"`
	Description     string        `json:"description"`
	Organization    string        `json:"organization"`
	Amount          float64       `json:"amount"`
	Currency        string        `json:"currency"`
	OpeningDate     *time.Time    `json:"opening_date"`
	ClosingDate     *time.Time    `json:"closing_date"`
	Beneficiaries   []string      `json:"beneficiaries"`
	Categories      []string      `json:"categories"`
	Sectors         []string      `json:"sectors"`
	Region          string        `json:"region"`
	SourceURL       string        `json:"source_url"`
	SourceID        string        `json:"source_id"`
	Status          Lifecycle     `json:"status"`
	Flags           Flags         `json:"flags"`
	FinancingType   FinancingType `json:"financing_type"`
	AidIntensity    float64       `json:"aid_intensity"`
	Complexity      Tier          `json:"complexity"`
	Probability     float64       `json:"probability"`
	Competitiveness Tier          `json:"competitiveness"`
}

// LifecycleAt derives the lifecycle state from the call dates.
// A closing date in the past wins over an opening date in the future.
func (g Grant) LifecycleAt(now time.Time) Lifecycle {
	if g.ClosingDate != nil && g.ClosingDate.Before(now) {
		return LifecycleClosed
	}
	if g.OpeningDate != nil && g.OpeningDate.After(now) {
		return LifecycleUpcoming
	}
	return LifecycleOpen
}

// Clone returns a deep copy so cached slices are never shared with callers.
func (g Grant) Clone() Grant {
	out := g
	if g.OpeningDate != nil {
		t := *g.OpeningDate
		out.OpeningDate = &t
	}
	if g.ClosingDate != nil {
		t := *g.ClosingDate
		out.ClosingDate = &t
	}
	out.Beneficiaries = append([]string(nil), g.Beneficiaries...)
	out.Categories = append([]string(nil), g.Categories...)
	out.Sectors = append([]string(nil), g.Sectors...)
	return out
}

func CloneGrants(in []Grant) []Grant {
	if in == nil {
		return nil
	}
	out := make([]Grant, len(in))
	for i, g := range in {
		out[i] = g.Clone()
	}
	return out
}
