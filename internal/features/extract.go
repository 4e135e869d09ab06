// Package features turns raw per-field, per-season inputs into the fixed
// feature vector consumed by the yield model.
package features

import (
	"fmt"
	"math"
	"time"

	"github.com/lox/yieldwise/internal/stats"
)

// WeatherObservation is one reading for a crop-season.
type WeatherObservation struct {
	Date         time.Time `json:"date"`
	Temperature  float64   `json:"temperature"`
	Humidity     float64   `json:"humidity"`
	Rainfall     float64   `json:"rainfall"`
	SoilMoisture float64   `json:"soil_moisture"`
}

// Input is everything known about one field for one season.
type Input struct {
	// CropType is carried through but not yet encoded into the vector.
	CropType     string               `json:"crop_type"`
	FieldArea    float64              `json:"field_area"`
	PlantingDate time.Time            `json:"planting_date"`
	Soil         SoilProperties       `json:"soil_properties"`
	Weather      []WeatherObservation `json:"weather_data"`
}

// Example is an Input with the yield that was actually harvested.
type Example struct {
	Input
	ActualYield float64 `json:"actual_yield"`
}

// Season describes the observation window relative to planting. It is
// informational and not part of the vector.
type Season struct {
	DaysSincePlanting []int
	SpanDays          int
}

// ValidationError reports an input that cannot be turned into features.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

// Validate checks the input without extracting anything.
func (in Input) Validate() error {
	if !finite(in.FieldArea) || in.FieldArea <= 0 {
		return &ValidationError{Field: "field_area", Reason: "must be greater than 0"}
	}
	if len(in.Weather) == 0 {
		return &ValidationError{Field: "weather_data", Reason: "at least one observation is required"}
	}
	for i, obs := range in.Weather {
		if !finite(obs.Temperature) || !finite(obs.Humidity) || !finite(obs.Rainfall) || !finite(obs.SoilMoisture) {
			return &ValidationError{Field: fmt.Sprintf("weather_data[%d]", i), Reason: "values must be finite"}
		}
	}
	return in.Soil.Validate()
}

// Validate checks the input and the recorded yield.
func (ex Example) Validate() error {
	if err := ex.Input.Validate(); err != nil {
		return err
	}
	if !finite(ex.ActualYield) {
		return &ValidationError{Field: "actual_yield", Reason: "must be a finite number"}
	}
	return nil
}

// Extract aggregates the weather series and assembles the feature vector in
// schema order.
func Extract(in Input) (Vector, Season, error) {
	var v Vector
	if err := in.Validate(); err != nil {
		return v, Season{}, err
	}

	n := len(in.Weather)
	temps := make([]float64, n)
	rain := make([]float64, n)
	humidity := make([]float64, n)
	moisture := make([]float64, n)
	season := Season{DaysSincePlanting: make([]int, n)}
	for i, obs := range in.Weather {
		temps[i] = obs.Temperature
		rain[i] = obs.Rainfall
		humidity[i] = obs.Humidity
		moisture[i] = obs.SoilMoisture

		days := int(math.Floor(obs.Date.Sub(in.PlantingDate).Hours() / 24))
		season.DaysSincePlanting[i] = days
		if days > season.SpanDays {
			season.SpanDays = days
		}
	}

	v[FieldArea] = in.FieldArea
	v[SoilPH] = in.Soil.PHValue()
	v[SoilOrganicMatter] = in.Soil.OrganicMatterValue()
	v[SoilNitrogen] = in.Soil.NitrogenValue()
	v[SoilPhosphorus] = in.Soil.PhosphorusValue()
	v[SoilPotassium] = in.Soil.PotassiumValue()
	v[AvgTemperature] = stats.Mean(temps)
	v[TotalRainfall] = stats.Sum(rain)
	v[AvgHumidity] = stats.Mean(humidity)
	v[AvgSoilMoisture] = stats.Mean(moisture)
	v[TempVariation] = stats.SampleStd(temps)
	v[RainfallVariation] = stats.SampleStd(rain)

	return v, season, nil
}
