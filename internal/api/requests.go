package api

import (
	"math"
	"strings"
	"time"

	"github.com/lox/yieldwise/internal/features"
)

type FarmRequest struct {
	Name      string  `json:"name"`
	Location  string  `json:"location"`
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	TotalArea float64 `json:"total_area"`
}

func (r FarmRequest) Validate() error {
	switch {
	case strings.TrimSpace(r.Name) == "":
		return invalid("name", "is required")
	case !between(r.Latitude, -90, 90):
		return invalid("latitude", "must be within [-90, 90]")
	case !between(r.Longitude, -180, 180):
		return invalid("longitude", "must be within [-180, 180]")
	case !positive(r.TotalArea):
		return invalid("total_area", "must be greater than 0")
	}
	return nil
}

type FieldRequest struct {
	FarmID int64   `json:"farm_id"`
	Name   string  `json:"name"`
	Area   float64 `json:"area"`
	// Soil overrides the lookup when the caller already has lab results.
	Soil *features.SoilProperties `json:"soil_properties,omitempty"`
}

func (r FieldRequest) Validate() error {
	if !positive(r.Area) {
		return invalid("area", "must be greater than 0")
	}
	if r.Soil != nil {
		return r.Soil.Validate()
	}
	return nil
}

type CropRequest struct {
	FieldID       int64      `json:"field_id"`
	CropType      string     `json:"crop_type"`
	PlantingDate  time.Time  `json:"planting_date"`
	HarvestDate   *time.Time `json:"harvest_date,omitempty"`
	ExpectedYield *float64   `json:"expected_yield,omitempty"`
	ActualYield   *float64   `json:"actual_yield,omitempty"`
}

func (r CropRequest) Validate() error {
	switch {
	case strings.TrimSpace(r.CropType) == "":
		return invalid("crop_type", "is required")
	case r.PlantingDate.IsZero():
		return invalid("planting_date", "is required")
	case r.ExpectedYield != nil && !nonNegative(*r.ExpectedYield):
		return invalid("expected_yield", "must be a non-negative number")
	case r.ActualYield != nil && !nonNegative(*r.ActualYield):
		return invalid("actual_yield", "must be a non-negative number")
	}
	return nil
}

type HarvestRequest struct {
	ActualYield *float64  `json:"actual_yield"`
	HarvestDate time.Time `json:"harvest_date"`
}

func (r HarvestRequest) Validate() error {
	switch {
	case r.ActualYield == nil:
		return invalid("actual_yield", "is required")
	case !nonNegative(*r.ActualYield):
		return invalid("actual_yield", "must be a non-negative number")
	}
	return nil
}

type WeatherRequest struct {
	CropID int64 `json:"crop_id"`
	features.WeatherObservation
}

func (r WeatherRequest) Validate() error {
	switch {
	case r.Date.IsZero():
		return invalid("date", "is required")
	case !finite(r.Temperature), !finite(r.Humidity), !finite(r.Rainfall), !finite(r.SoilMoisture):
		return invalid("weather", "values must be finite")
	}
	return nil
}

func invalid(field, reason string) error {
	return &features.ValidationError{Field: field, Reason: reason}
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

func positive(v float64) bool {
	return finite(v) && v > 0
}

func nonNegative(v float64) bool {
	return finite(v) && v >= 0
}

func between(v, lo, hi float64) bool {
	return finite(v) && v >= lo && v <= hi
}
