package models

import (
	"time"

	"github.com/lox/yieldwise/internal/features"
)

type Farm struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	Location  string    `json:"location"`
	Latitude  float64   `json:"latitude"`
	Longitude float64   `json:"longitude"`
	TotalArea float64   `json:"total_area"` // hectares
	CreatedAt time.Time `json:"created_at"`
}

type Field struct {
	ID        int64                   `json:"id"`
	FarmID    int64                   `json:"farm_id"`
	Name      string                  `json:"name"`
	Area      float64                 `json:"area"` // hectares
	SoilType  string                  `json:"soil_type"`
	Soil      features.SoilProperties `json:"soil_properties"`
	CreatedAt time.Time               `json:"created_at"`
}

type Crop struct {
	ID            int64      `json:"id"`
	FieldID       int64      `json:"field_id"`
	CropType      string     `json:"crop_type"`
	PlantingDate  time.Time  `json:"planting_date"`
	HarvestDate   *time.Time `json:"harvest_date,omitempty"`
	ExpectedYield *float64   `json:"expected_yield,omitempty"` // t/ha
	ActualYield   *float64   `json:"actual_yield,omitempty"`   // t/ha
	CreatedAt     time.Time  `json:"created_at"`
}

// WeatherRecord is one stored observation for a crop-season.
type WeatherRecord struct {
	ID     int64 `json:"id"`
	CropID int64 `json:"crop_id"`
	features.WeatherObservation
	CreatedAt time.Time `json:"created_at"`
}
