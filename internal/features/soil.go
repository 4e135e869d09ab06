package features

import "math"

// DefaultPH is assumed when a field has no measured pH.
const DefaultPH = 7.0

// SoilProperties holds the measured soil chemistry for a field. A nil field
// means "not measured": pH then defaults to DefaultPH and every other
// property to 0.
type SoilProperties struct {
	PH            *float64 `json:"ph,omitempty"`
	OrganicMatter *float64 `json:"organic_matter,omitempty"`
	Nitrogen      *float64 `json:"nitrogen,omitempty"`
	Phosphorus    *float64 `json:"phosphorus,omitempty"`
	Potassium     *float64 `json:"potassium,omitempty"`
}

// Float returns a pointer to v, for building SoilProperties literals.
func Float(v float64) *float64 {
	return &v
}

func valueOr(p *float64, def float64) float64 {
	if p == nil {
		return def
	}
	return *p
}

func (s SoilProperties) PHValue() float64            { return valueOr(s.PH, DefaultPH) }
func (s SoilProperties) OrganicMatterValue() float64 { return valueOr(s.OrganicMatter, 0) }
func (s SoilProperties) NitrogenValue() float64      { return valueOr(s.Nitrogen, 0) }
func (s SoilProperties) PhosphorusValue() float64    { return valueOr(s.Phosphorus, 0) }
func (s SoilProperties) PotassiumValue() float64     { return valueOr(s.Potassium, 0) }

// SoilFromMap builds typed soil properties from a loose key/value map such as
// the one returned by the soil provider. Keys are matched by name, so map
// iteration order never matters. Unknown keys are ignored.
func SoilFromMap(m map[string]float64) SoilProperties {
	var s SoilProperties
	for key, v := range m {
		switch key {
		case "ph":
			s.PH = &v
		case "organic_matter":
			s.OrganicMatter = &v
		case "nitrogen":
			s.Nitrogen = &v
		case "phosphorus":
			s.Phosphorus = &v
		case "potassium":
			s.Potassium = &v
		}
	}
	return s
}

// Validate rejects values no soil sample can have.
func (s SoilProperties) Validate() error {
	if s.PH != nil {
		if math.IsNaN(*s.PH) || *s.PH < 0 || *s.PH > 14 {
			return &ValidationError{Field: "soil_properties.ph", Reason: "must be within [0, 14]"}
		}
	}
	nutrients := []struct {
		name string
		v    *float64
	}{
		{"organic_matter", s.OrganicMatter},
		{"nitrogen", s.Nitrogen},
		{"phosphorus", s.Phosphorus},
		{"potassium", s.Potassium},
	}
	for _, n := range nutrients {
		if n.v == nil {
			continue
		}
		if math.IsNaN(*n.v) || math.IsInf(*n.v, 0) || *n.v < 0 {
			return &ValidationError{Field: "soil_properties." + n.name, Reason: "must be a non-negative number"}
		}
	}
	return nil
}
