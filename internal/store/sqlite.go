package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/lox/yieldwise/internal/features"
	"github.com/lox/yieldwise/internal/models"
)

type Store struct {
	db     *sql.DB
	logger *zap.Logger
}

func New(db *sql.DB, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{db: db, logger: logger}
}

func nullFloat(p *float64) sql.NullFloat64 {
	if p == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *p, Valid: true}
}

func floatPtr(n sql.NullFloat64) *float64 {
	if !n.Valid {
		return nil
	}
	v := n.Float64
	return &v
}

func (s *Store) InsertFarm(ctx context.Context, f models.Farm) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO farms (name, location, latitude, longitude, total_area, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, f.Name, f.Location, f.Latitude, f.Longitude, f.TotalArea, time.Now().UTC())
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

func (s *Store) GetFarm(ctx context.Context, id int64) (*models.Farm, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, name, location, latitude, longitude, total_area, created_at
		FROM farms WHERE id = ?
	`, id)

	var f models.Farm
	var location sql.NullString
	err := row.Scan(&f.ID, &f.Name, &location, &f.Latitude, &f.Longitude, &f.TotalArea, &f.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	f.Location = location.String
	return &f, nil
}

func (s *Store) ListFarms(ctx context.Context, offset, limit int) ([]models.Farm, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, location, latitude, longitude, total_area, created_at
		FROM farms ORDER BY id LIMIT ? OFFSET ?
	`, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	farms := []models.Farm{}
	for rows.Next() {
		var f models.Farm
		var location sql.NullString
		if err := rows.Scan(&f.ID, &f.Name, &location, &f.Latitude, &f.Longitude, &f.TotalArea, &f.CreatedAt); err != nil {
			return nil, err
		}
		f.Location = location.String
		farms = append(farms, f)
	}
	return farms, rows.Err()
}

func (s *Store) InsertField(ctx context.Context, f models.Field) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO fields (farm_id, name, area, soil_type, ph, organic_matter, nitrogen, phosphorus, potassium, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, f.FarmID, f.Name, f.Area, f.SoilType,
		nullFloat(f.Soil.PH), nullFloat(f.Soil.OrganicMatter), nullFloat(f.Soil.Nitrogen),
		nullFloat(f.Soil.Phosphorus), nullFloat(f.Soil.Potassium), time.Now().UTC())
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

type rowScanner interface {
	Scan(dest ...any) error
}

const fieldColumns = `id, farm_id, name, area, soil_type, ph, organic_matter, nitrogen, phosphorus, potassium, created_at`

func scanField(r rowScanner) (models.Field, error) {
	var f models.Field
	var name, soilType sql.NullString
	var ph, om, n, p, k sql.NullFloat64
	if err := r.Scan(&f.ID, &f.FarmID, &name, &f.Area, &soilType, &ph, &om, &n, &p, &k, &f.CreatedAt); err != nil {
		return f, err
	}
	f.Name = name.String
	f.SoilType = soilType.String
	f.Soil = features.SoilProperties{
		PH:            floatPtr(ph),
		OrganicMatter: floatPtr(om),
		Nitrogen:      floatPtr(n),
		Phosphorus:    floatPtr(p),
		Potassium:     floatPtr(k),
	}
	return f, nil
}

func (s *Store) GetField(ctx context.Context, id int64) (*models.Field, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+fieldColumns+` FROM fields WHERE id = ?`, id)
	f, err := scanField(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &f, nil
}

func (s *Store) ListFields(ctx context.Context, offset, limit int) ([]models.Field, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+fieldColumns+` FROM fields ORDER BY id LIMIT ? OFFSET ?`, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	fields := []models.Field{}
	for rows.Next() {
		f, err := scanField(rows)
		if err != nil {
			return nil, err
		}
		fields = append(fields, f)
	}
	return fields, rows.Err()
}

func (s *Store) InsertCrop(ctx context.Context, c models.Crop) (int64, error) {
	var harvest sql.NullTime
	if c.HarvestDate != nil {
		harvest = sql.NullTime{Time: c.HarvestDate.UTC(), Valid: true}
	}
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO crops (field_id, crop_type, planting_date, harvest_date, expected_yield, actual_yield, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, c.FieldID, c.CropType, c.PlantingDate.UTC(), harvest, nullFloat(c.ExpectedYield), nullFloat(c.ActualYield), time.Now().UTC())
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// RecordHarvest stores the actual yield of a crop, which makes it eligible
// for training.
func (s *Store) RecordHarvest(ctx context.Context, cropID int64, actualYield float64, harvestedAt time.Time) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE crops SET actual_yield = ?, harvest_date = ? WHERE id = ?
	`, actualYield, harvestedAt.UTC(), cropID)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("crop %d not found", cropID)
	}
	return nil
}

const cropColumns = `id, field_id, crop_type, planting_date, harvest_date, expected_yield, actual_yield, created_at`

func scanCrop(r rowScanner) (models.Crop, error) {
	var c models.Crop
	var harvest sql.NullTime
	var expected, actual sql.NullFloat64
	if err := r.Scan(&c.ID, &c.FieldID, &c.CropType, &c.PlantingDate, &harvest, &expected, &actual, &c.CreatedAt); err != nil {
		return c, err
	}
	if harvest.Valid {
		c.HarvestDate = &harvest.Time
	}
	c.ExpectedYield = floatPtr(expected)
	c.ActualYield = floatPtr(actual)
	return c, nil
}

func (s *Store) GetCrop(ctx context.Context, id int64) (*models.Crop, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+cropColumns+` FROM crops WHERE id = ?`, id)
	c, err := scanCrop(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func (s *Store) ListCrops(ctx context.Context, offset, limit int) ([]models.Crop, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+cropColumns+` FROM crops ORDER BY id LIMIT ? OFFSET ?`, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	crops := []models.Crop{}
	for rows.Next() {
		c, err := scanCrop(rows)
		if err != nil {
			return nil, err
		}
		crops = append(crops, c)
	}
	return crops, rows.Err()
}

func (s *Store) InsertWeather(ctx context.Context, w models.WeatherRecord) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO weather_data (crop_id, date, temperature, humidity, rainfall, soil_moisture, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, w.CropID, w.Date.UTC(), w.Temperature, w.Humidity, w.Rainfall, w.SoilMoisture, time.Now().UTC())
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

func (s *Store) GetWeather(ctx context.Context, cropID int64) ([]features.WeatherObservation, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT date, temperature, humidity, rainfall, soil_moisture
		FROM weather_data
		WHERE crop_id = ?
		ORDER BY date ASC, id ASC
	`, cropID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []features.WeatherObservation
	for rows.Next() {
		var w features.WeatherObservation
		if err := rows.Scan(&w.Date, &w.Temperature, &w.Humidity, &w.Rainfall, &w.SoilMoisture); err != nil {
			return nil, err
		}
		out = append(out, w)
	}
	return out, rows.Err()
}

// TrainingCorpus returns one example per harvested crop: every crop with a
// recorded actual yield, joined with its field and its weather series in
// date order. Harvested crops without any weather are skipped.
func (s *Store) TrainingCorpus(ctx context.Context) ([]features.Example, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT c.id, c.crop_type, c.planting_date, c.actual_yield,
		       f.area, f.ph, f.organic_matter, f.nitrogen, f.phosphorus, f.potassium
		FROM crops c
		JOIN fields f ON f.id = c.field_id
		WHERE c.actual_yield IS NOT NULL
		ORDER BY c.id ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("query harvested crops: %w", err)
	}

	type pending struct {
		cropID  int64
		example features.Example
	}
	var crops []pending
	for rows.Next() {
		var p pending
		var ph, om, n, ph2, k sql.NullFloat64
		if err := rows.Scan(&p.cropID, &p.example.CropType, &p.example.PlantingDate, &p.example.ActualYield,
			&p.example.FieldArea, &ph, &om, &n, &ph2, &k); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan crop: %w", err)
		}
		p.example.Soil = features.SoilProperties{
			PH:            floatPtr(ph),
			OrganicMatter: floatPtr(om),
			Nitrogen:      floatPtr(n),
			Phosphorus:    floatPtr(ph2),
			Potassium:     floatPtr(k),
		}
		crops = append(crops, p)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, err
	}
	rows.Close()

	examples := make([]features.Example, 0, len(crops))
	skipped := 0
	for _, p := range crops {
		weather, err := s.GetWeather(ctx, p.cropID)
		if err != nil {
			return nil, fmt.Errorf("weather for crop %d: %w", p.cropID, err)
		}
		if len(weather) == 0 {
			skipped++
			continue
		}
		p.example.Weather = weather
		examples = append(examples, p.example)
	}
	if skipped > 0 {
		s.logger.Warn("skipped harvested crops without weather", zap.Int("skipped", skipped))
	}
	return examples, nil
}
