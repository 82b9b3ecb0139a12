package handler

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/mmeshcher/pulsebank/internal/model"
	"github.com/mmeshcher/pulsebank/internal/service"
	"github.com/mmeshcher/pulsebank/internal/validation"
)

var errInvalidDate = fmt.Errorf("%w: date must be formatted as YYYY-MM-DD", validation.ErrValidation)

type registerDonorRequest struct {
	Name             string   `json:"name"`
	BloodType        string   `json:"bloodType"`
	Latitude         *float64 `json:"latitude"`
	Longitude        *float64 `json:"longitude"`
	LastDonationDate string   `json:"lastDonationDate,omitempty"`
}

type donorResponse struct {
	ID               string        `json:"id"`
	Name             string        `json:"name"`
	BloodType        string        `json:"bloodType"`
	Location         coordinateDTO `json:"location"`
	Active           bool          `json:"active"`
	LastDonationDate *string       `json:"lastDonationDate,omitempty"`
	NextEligibleDate *string       `json:"nextEligibleDate,omitempty"`
	CreatedAt        time.Time     `json:"createdAt"`
}

func toDonorResponse(d *model.Donor) donorResponse {
	resp := donorResponse{
		ID:        d.ID,
		Name:      d.Name,
		BloodType: string(d.BloodType),
		Location:  coordinateDTO{Latitude: d.Location.Lat(), Longitude: d.Location.Lon()},
		Active:    d.Active,
		CreatedAt: d.CreatedAt,
	}
	if d.LastDonationAt != nil {
		s := d.LastDonationAt.Format(time.DateOnly)
		resp.LastDonationDate = &s
	}
	if next := d.NextEligibleAt(model.DonationWholeBlood); next != nil {
		s := next.Format(time.DateOnly)
		resp.NextEligibleDate = &s
	}
	return resp
}

// parseDate принимает дату в формате YYYY-MM-DD; пустая строка даёт нулевое время.
func parseDate(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.DateOnly, s)
	if err != nil {
		return time.Time{}, errInvalidDate
	}
	return t, nil
}

func parseLocation(lat, lon *float64) (model.Coordinate, error) {
	if lat == nil || lon == nil {
		return model.Coordinate{}, model.ErrLocationUnavailable
	}
	return model.NewCoordinate(*lat, *lon)
}

// RegisterDonor регистрирует нового донора.
func (h *Handler) RegisterDonor(w http.ResponseWriter, r *http.Request) {
	var req registerDonorRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	loc, err := parseLocation(req.Latitude, req.Longitude)
	if err != nil {
		h.writeError(w, "register donor error", err)
		return
	}

	in := service.DonorInput{
		Name:      req.Name,
		BloodType: model.BloodType(req.BloodType),
		Location:  loc,
	}

	last, err := parseDate(req.LastDonationDate)
	if err != nil {
		h.writeError(w, "register donor error", err)
		return
	}
	if !last.IsZero() {
		in.LastDonationAt = &last
	}

	d, err := h.service.RegisterDonor(r.Context(), in)
	if err != nil {
		h.writeError(w, "register donor error", err)
		return
	}

	h.logger.Info("donor registered", zap.String("donorID", d.ID), zap.String("bloodType", string(d.BloodType)))
	h.writeJSON(w, http.StatusCreated, toDonorResponse(d))
}

// GetDonor возвращает карточку донора.
func (h *Handler) GetDonor(w http.ResponseWriter, r *http.Request) {
	donorID := chi.URLParam(r, "donorID")

	d, err := h.service.GetDonor(r.Context(), donorID)
	if err != nil {
		h.writeError(w, "get donor error", err, zap.String("donorID", donorID))
		return
	}

	h.writeJSON(w, http.StatusOK, toDonorResponse(d))
}

type setActiveRequest struct {
	Active *bool `json:"active"`
}

// SetDonorActive включает или исключает донора из подбора.
func (h *Handler) SetDonorActive(w http.ResponseWriter, r *http.Request) {
	donorID := chi.URLParam(r, "donorID")

	var req setActiveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Active == nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	if err := h.service.SetDonorActive(r.Context(), donorID, *req.Active); err != nil {
		h.writeError(w, "set donor active error", err, zap.String("donorID", donorID))
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

type recordDonationRequest struct {
	Date string `json:"date,omitempty"`
}

// RecordDonation фиксирует донацию; без даты используется текущий момент.
func (h *Handler) RecordDonation(w http.ResponseWriter, r *http.Request) {
	donorID := chi.URLParam(r, "donorID")

	var req recordDonationRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
			return
		}
	}

	at, err := parseDate(req.Date)
	if err != nil {
		h.writeError(w, "record donation error", err)
		return
	}

	if err := h.service.RecordDonation(r.Context(), donorID, at); err != nil {
		h.writeError(w, "record donation error", err, zap.String("donorID", donorID))
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

type updateLocationRequest struct {
	Latitude  *float64 `json:"latitude"`
	Longitude *float64 `json:"longitude"`
}

// UpdateDonorLocation обновляет местоположение донора.
func (h *Handler) UpdateDonorLocation(w http.ResponseWriter, r *http.Request) {
	donorID := chi.URLParam(r, "donorID")

	var req updateLocationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	loc, err := parseLocation(req.Latitude, req.Longitude)
	if err != nil {
		h.writeError(w, "update location error", err)
		return
	}

	if err := h.service.UpdateDonorLocation(r.Context(), donorID, loc); err != nil {
		h.writeError(w, "update location error", err, zap.String("donorID", donorID))
		return
	}

	w.WriteHeader(http.StatusNoContent)
}
