package features

// SchemaVersion identifies the dimension layout below. Bump it whenever a
// dimension is added, removed or reordered; persisted models carry it and are
// refused on mismatch.
const SchemaVersion = 1

// Dimension is a position in a Vector.
type Dimension int

const (
	FieldArea Dimension = iota
	SoilPH
	SoilOrganicMatter
	SoilNitrogen
	SoilPhosphorus
	SoilPotassium
	AvgTemperature
	TotalRainfall
	AvgHumidity
	AvgSoilMoisture
	TempVariation
	RainfallVariation
)

// Len is the number of dimensions in the schema.
const Len = int(RainfallVariation) + 1

var schema = [Len]string{
	FieldArea:         "field_area",
	SoilPH:            "soil_ph",
	SoilOrganicMatter: "soil_organic_matter",
	SoilNitrogen:      "soil_nitrogen",
	SoilPhosphorus:    "soil_phosphorus",
	SoilPotassium:     "soil_potassium",
	AvgTemperature:    "avg_temperature",
	TotalRainfall:     "total_rainfall",
	AvgHumidity:       "avg_humidity",
	AvgSoilMoisture:   "avg_soil_moisture",
	TempVariation:     "temp_variation",
	RainfallVariation: "rainfall_variation",
}

func (d Dimension) String() string {
	if d < 0 || int(d) >= Len {
		return "unknown"
	}
	return schema[d]
}

// Names returns the dimension names in schema order.
func Names() []string {
	out := make([]string, Len)
	copy(out, schema[:])
	return out
}

// Vector is one feature row, positionally aligned to the schema.
type Vector [Len]float64

// At returns the value of dimension d.
func (v Vector) At(d Dimension) float64 {
	return v[d]
}
