// Package advice derives agronomic recommendations from a yield prediction and
// the inputs that produced it.
package advice

import (
	"github.com/lox/yieldwise/internal/features"
	"github.com/lox/yieldwise/internal/stats"
)

const (
	MsgLowPH       = "Soil pH is low. Consider applying lime to increase pH for better nutrient absorption."
	MsgHighPH      = "Soil pH is high. Consider adding sulfur or organic matter to reduce pH."
	MsgHighTemp    = "High average temperature detected. Consider implementing shade structures or irrigation adjustments."
	MsgLowRainfall = "Low rainfall detected. Implement irrigation schedule to maintain optimal soil moisture."
)

const (
	LowPH         = 6.0
	HighPH        = 7.5
	HeatThreshold = 30.0  // mean °C over the season
	DryThreshold  = 100.0 // total mm over the season
)

// Season is the weather summary the rules look at.
type Season struct {
	AvgTemperature float64
	TotalRainfall  float64
}

// SeasonOf summarizes a weather series.
func SeasonOf(weather []features.WeatherObservation) Season {
	temps := make([]float64, len(weather))
	rain := make([]float64, len(weather))
	for i, w := range weather {
		temps[i] = w.Temperature
		rain[i] = w.Rainfall
	}
	return Season{AvgTemperature: stats.Mean(temps), TotalRainfall: stats.Sum(rain)}
}

type rule struct {
	applies func(predicted float64, soil features.SoilProperties, s Season) bool
	message string
}

// rules are evaluated in order; every rule that applies contributes its message.
var rules = []rule{
	{func(_ float64, soil features.SoilProperties, _ Season) bool { return soil.PHValue() < LowPH }, MsgLowPH},
	{func(_ float64, soil features.SoilProperties, _ Season) bool { return soil.PHValue() > HighPH }, MsgHighPH},
	{func(_ float64, _ features.SoilProperties, s Season) bool { return s.AvgTemperature > HeatThreshold }, MsgHighTemp},
	{func(_ float64, _ features.SoilProperties, s Season) bool { return s.TotalRainfall < DryThreshold }, MsgLowRainfall},
}

// Recommend returns the messages of every applicable rule, in rule order. The
// result is never nil.
func Recommend(predicted float64, soil features.SoilProperties, weather []features.WeatherObservation) []string {
	s := SeasonOf(weather)
	out := []string{}
	for _, r := range rules {
		if r.applies(predicted, soil, s) {
			out = append(out, r.message)
		}
	}
	return out
}
