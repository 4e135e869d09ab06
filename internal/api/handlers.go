package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/lox/yieldwise/internal/engine"
	"github.com/lox/yieldwise/internal/features"
	"github.com/lox/yieldwise/internal/models"
	"github.com/lox/yieldwise/internal/retrain"
)

const maxBodyBytes = 4 << 20

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

// fail maps validation and untrained-model errors onto client statuses and
// everything else onto 500.
func (s *Server) fail(w http.ResponseWriter, err error) {
	switch {
	case engine.IsValidation(err):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, engine.ErrUntrained):
		writeError(w, http.StatusConflict, err.Error())
	default:
		s.logger.Error("request failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

type validator interface {
	Validate() error
}

func decode(w http.ResponseWriter, r *http.Request, dst validator) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err))
		return false
	}
	if err := dst.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return false
	}
	return true
}

func pagination(r *http.Request) (offset, limit int) {
	offset, limit = 0, 100
	if v, err := strconv.Atoi(r.URL.Query().Get("skip")); err == nil && v >= 0 {
		offset = v
	}
	if v, err := strconv.Atoi(r.URL.Query().Get("limit")); err == nil && v > 0 {
		limit = min(v, 1000)
	}
	return offset, limit
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"trained": s.engine.Status().Trained,
	})
}

func (s *Server) handleCreateFarm(w http.ResponseWriter, r *http.Request) {
	var req FarmRequest
	if !decode(w, r, &req) {
		return
	}
	farm := models.Farm{
		Name:      req.Name,
		Location:  req.Location,
		Latitude:  req.Latitude,
		Longitude: req.Longitude,
		TotalArea: req.TotalArea,
	}
	id, err := s.store.InsertFarm(r.Context(), farm)
	if err != nil {
		s.fail(w, fmt.Errorf("insert farm: %w", err))
		return
	}
	created, err := s.store.GetFarm(r.Context(), id)
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

func (s *Server) handleListFarms(w http.ResponseWriter, r *http.Request) {
	offset, limit := pagination(r)
	farms, err := s.store.ListFarms(r.Context(), offset, limit)
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, farms)
}

func (s *Server) handleCreateField(w http.ResponseWriter, r *http.Request) {
	var req FieldRequest
	if !decode(w, r, &req) {
		return
	}
	farm, err := s.store.GetFarm(r.Context(), req.FarmID)
	if err != nil {
		s.fail(w, err)
		return
	}
	if farm == nil {
		writeError(w, http.StatusNotFound, "farm not found")
		return
	}

	field := models.Field{FarmID: farm.ID, Name: req.Name, Area: req.Area}
	switch {
	case req.Soil != nil:
		field.Soil = *req.Soil
	case s.soil != nil:
		profile, err := s.soil.Lookup(r.Context(), farm.Latitude, farm.Longitude)
		if err != nil {
			s.logger.Warn("soil lookup failed",
				zap.Int64("farm_id", farm.ID),
				zap.Float64("lat", farm.Latitude),
				zap.Float64("lon", farm.Longitude),
				zap.Error(err),
			)
			writeError(w, http.StatusBadGateway, "soil lookup failed")
			return
		}
		field.SoilType = profile.SoilType
		field.Soil = profile.Properties
	}

	id, err := s.store.InsertField(r.Context(), field)
	if err != nil {
		s.fail(w, fmt.Errorf("insert field: %w", err))
		return
	}
	created, err := s.store.GetField(r.Context(), id)
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

func (s *Server) handleListFields(w http.ResponseWriter, r *http.Request) {
	offset, limit := pagination(r)
	fields, err := s.store.ListFields(r.Context(), offset, limit)
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, fields)
}

func (s *Server) handleCreateCrop(w http.ResponseWriter, r *http.Request) {
	var req CropRequest
	if !decode(w, r, &req) {
		return
	}
	field, err := s.store.GetField(r.Context(), req.FieldID)
	if err != nil {
		s.fail(w, err)
		return
	}
	if field == nil {
		writeError(w, http.StatusNotFound, "field not found")
		return
	}

	id, err := s.store.InsertCrop(r.Context(), models.Crop{
		FieldID:       req.FieldID,
		CropType:      req.CropType,
		PlantingDate:  req.PlantingDate,
		HarvestDate:   req.HarvestDate,
		ExpectedYield: req.ExpectedYield,
		ActualYield:   req.ActualYield,
	})
	if err != nil {
		s.fail(w, fmt.Errorf("insert crop: %w", err))
		return
	}
	created, err := s.store.GetCrop(r.Context(), id)
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

func (s *Server) handleListCrops(w http.ResponseWriter, r *http.Request) {
	offset, limit := pagination(r)
	crops, err := s.store.ListCrops(r.Context(), offset, limit)
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, crops)
}

func (s *Server) handleHarvest(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid crop id")
		return
	}
	var req HarvestRequest
	if !decode(w, r, &req) {
		return
	}
	crop, err := s.store.GetCrop(r.Context(), id)
	if err != nil {
		s.fail(w, err)
		return
	}
	if crop == nil {
		writeError(w, http.StatusNotFound, "crop not found")
		return
	}
	harvested := req.HarvestDate
	if harvested.IsZero() {
		harvested = time.Now().UTC()
	}
	if err := s.store.RecordHarvest(r.Context(), id, *req.ActualYield, harvested); err != nil {
		s.fail(w, err)
		return
	}
	updated, err := s.store.GetCrop(r.Context(), id)
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

func (s *Server) handleCreateWeather(w http.ResponseWriter, r *http.Request) {
	var req WeatherRequest
	if !decode(w, r, &req) {
		return
	}
	crop, err := s.store.GetCrop(r.Context(), req.CropID)
	if err != nil {
		s.fail(w, err)
		return
	}
	if crop == nil {
		writeError(w, http.StatusNotFound, "crop not found")
		return
	}

	rec := models.WeatherRecord{CropID: req.CropID, WeatherObservation: req.WeatherObservation}
	id, err := s.store.InsertWeather(r.Context(), rec)
	if err != nil {
		s.fail(w, fmt.Errorf("insert weather: %w", err))
		return
	}
	rec.ID = id
	writeJSON(w, http.StatusCreated, rec)
}

func (s *Server) handlePredict(w http.ResponseWriter, r *http.Request) {
	var in features.Input
	if !decode(w, r, &in) {
		return
	}
	prediction, err := s.engine.Predict(in)
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, prediction)
}

type trainResponse struct {
	Message string `json:"message"`
	*retrain.Result
}

func (s *Server) handleTrain(w http.ResponseWriter, r *http.Request) {
	res, err := s.trainer.Run(r.Context())
	if errors.Is(err, retrain.ErrNoData) {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, trainResponse{Message: "model trained successfully", Result: res})
}

func (s *Server) handleModel(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.engine.Status())
}
