package models

import (
	"encoding/json"
	"fmt"
)

type UniversitySource string

const (
	SourceLegacy     UniversitySource = "legacy"
	SourceAIResolved UniversitySource = "ai_resolved"
	SourceFallback   UniversitySource = "fallback"
)

// UniversityInfo is one of LegacyUniversity, ResolvedUniversity or
// FallbackUniversity. Each variant only carries the fields its source
// guarantees.
type UniversityInfo interface {
	Source() UniversitySource
	FullName() string
	Short() string
	isUniversityInfo()
}

type NearbyUniversity struct {
	Name          string  `json:"name"`
	ShortName     string  `json:"short_name"`
	City          string  `json:"city,omitempty"`
	DistanceMiles float64 `json:"distance_miles"`
	Relationship  string  `json:"relationship,omitempty"`
}

// LegacyUniversity comes from the static domain table after the detector
// rejected the domain.
type LegacyUniversity struct {
	Name      string `json:"university_name"`
	ShortName string `json:"short_name"`
}

// ResolvedUniversity is a detector result.
type ResolvedUniversity struct {
	Name        string             `json:"university_name"`
	ShortName   string             `json:"short_name"`
	City        string             `json:"city"`
	State       string             `json:"state"`
	Country     string             `json:"country,omitempty"`
	Coordinates *Coord             `json:"coordinates,omitempty"`
	Nearby      []NearbyUniversity `json:"nearby_universities"`
}

// FallbackUniversity comes from the static domain table while the detector
// was unavailable.
type FallbackUniversity struct {
	Name      string `json:"university_name"`
	ShortName string `json:"short_name"`
}

func (LegacyUniversity) Source() UniversitySource   { return SourceLegacy }
func (ResolvedUniversity) Source() UniversitySource { return SourceAIResolved }
func (FallbackUniversity) Source() UniversitySource { return SourceFallback }

func (u LegacyUniversity) FullName() string   { return u.Name }
func (u ResolvedUniversity) FullName() string { return u.Name }
func (u FallbackUniversity) FullName() string { return u.Name }

func (u LegacyUniversity) Short() string   { return u.ShortName }
func (u ResolvedUniversity) Short() string { return u.ShortName }
func (u FallbackUniversity) Short() string { return u.ShortName }

func (LegacyUniversity) isUniversityInfo()   {}
func (ResolvedUniversity) isUniversityInfo() {}
func (FallbackUniversity) isUniversityInfo() {}

// UniversityRecord holds an optional UniversityInfo and encodes it with a
// "source" discriminator.
type UniversityRecord struct {
	Info UniversityInfo
}

func (r UniversityRecord) MarshalJSON() ([]byte, error) {
	if r.Info == nil {
		return []byte("null"), nil
	}
	body, err := json.Marshal(r.Info)
	if err != nil {
		return nil, err
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(body, &fields); err != nil {
		return nil, err
	}
	src, _ := json.Marshal(r.Info.Source())
	fields["source"] = src
	return json.Marshal(fields)
}

func (r *UniversityRecord) UnmarshalJSON(b []byte) error {
	if string(b) == "null" {
		r.Info = nil
		return nil
	}
	var head struct {
		Source UniversitySource `json:"source"`
	}
	if err := json.Unmarshal(b, &head); err != nil {
		return err
	}
	switch head.Source {
	case SourceLegacy:
		var v LegacyUniversity
		if err := json.Unmarshal(b, &v); err != nil {
			return err
		}
		r.Info = v
	case SourceAIResolved:
		var v ResolvedUniversity
		if err := json.Unmarshal(b, &v); err != nil {
			return err
		}
		r.Info = v
	case SourceFallback:
		var v FallbackUniversity
		if err := json.Unmarshal(b, &v); err != nil {
			return err
		}
		r.Info = v
	default:
		return fmt.Errorf("models: unknown university source %q", head.Source)
	}
	return nil
}

func (r UniversityRecord) clone() UniversityRecord {
	if v, ok := r.Info.(ResolvedUniversity); ok {
		v.Nearby = append([]NearbyUniversity(nil), v.Nearby...)
		if v.Coordinates != nil {
			c := *v.Coordinates
			v.Coordinates = &c
		}
		return UniversityRecord{Info: v}
	}
	return r
}
