package billing

import (
	"strings"

	"github.com/saaskit/backend/internal/domain/shared"
)

// FeatureType describes how a feature is enforced and billed
type FeatureType string

const (
	// FeatureTypeLimit is a capped allowance (e.g. max 1000 users)
	FeatureTypeLimit FeatureType = "limit"
	// FeatureTypeBoolean is an on/off capability
	FeatureTypeBoolean FeatureType = "boolean"
	// FeatureTypeMetered is pay-as-you-go usage
	FeatureTypeMetered FeatureType = "metered"
)

// IsValid returns true if the feature type is known
func (t FeatureType) IsValid() bool {
	switch t {
	case FeatureTypeLimit, FeatureTypeBoolean, FeatureTypeMetered:
		return true
	}
	return false
}

// ValueType defines how a plan's value for the feature is interpreted
type ValueType string

const (
	ValueTypeBoolean ValueType = "boolean"
	ValueTypeInteger ValueType = "integer"
	ValueTypeText    ValueType = "text"
)

// IsValid returns true if the value type is known
func (t ValueType) IsValid() bool {
	switch t {
	case ValueTypeBoolean, ValueTypeInteger, ValueTypeText:
		return true
	}
	return false
}

// Feature describes a billable capability. Features are immutable once
// referenced by historical usage; corrections require a new feature.
type Feature struct {
	shared.BaseEntity
	Codename    string
	Description string
	Type        FeatureType
	ValueType   ValueType
}

// NewFeature creates a feature with validation
func NewFeature(codename string, featureType FeatureType, valueType ValueType) (*Feature, error) {
	codename = strings.TrimSpace(codename)
	if codename == "" {
		return nil, shared.NewDomainError("INVALID_CODENAME", "Feature codename cannot be empty")
	}
	if !featureType.IsValid() {
		return nil, shared.NewDomainError("INVALID_FEATURE_TYPE", "Unknown feature type")
	}
	if !valueType.IsValid() {
		return nil, shared.NewDomainError("INVALID_VALUE_TYPE", "Unknown value type")
	}
	return &Feature{
		BaseEntity: shared.NewBaseEntity(),
		Codename:   codename,
		Type:       featureType,
		ValueType:  valueType,
	}, nil
}

// WithDescription sets the feature description
func (f *Feature) WithDescription(description string) *Feature {
	f.Description = description
	return f
}

// IsMetered returns true for pay-as-you-go features
func (f *Feature) IsMetered() bool {
	return f.Type == FeatureTypeMetered
}
