// Package handler содержит HTTP-обработчики API сервиса подбора доноров.
package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/mmeshcher/pulsebank/internal/chat"
	"github.com/mmeshcher/pulsebank/internal/metrics"
	"github.com/mmeshcher/pulsebank/internal/model"
	"github.com/mmeshcher/pulsebank/internal/repository"
	"github.com/mmeshcher/pulsebank/internal/service"
	"github.com/mmeshcher/pulsebank/internal/validation"
)

// Service определяет контракт бизнес-логики, используемой HTTP-обработчиками.
type Service interface {
	FindDonors(ctx context.Context, req model.MatchRequest) ([]model.ScoredDonor, error)
	TopMatches(ctx context.Context, req model.MatchRequest, limit int) ([]model.ScoredDonor, error)
	CalculateMatch(required, donor model.BloodType, distanceKm float64, lastDonationDays int) (int, error)
	MatchScore(ctx context.Context, req model.MatchRequest, donorID string) (*model.ScoredDonor, error)
	Distance(a, b model.Coordinate) float64
	Compatibility(bt model.BloodType) ([]model.BloodType, []model.BloodType, error)
	RegisterDonor(ctx context.Context, in service.DonorInput) (*model.Donor, error)
	GetDonor(ctx context.Context, id string) (*model.Donor, error)
	SetDonorActive(ctx context.Context, id string, active bool) error
	RecordDonation(ctx context.Context, id string, at time.Time) error
	UpdateDonorLocation(ctx context.Context, id string, loc model.Coordinate) error
	Chat(ctx context.Context, message string, history []chat.Message) (string, error)
}

// Handler реализует HTTP-обработчики API сервиса подбора доноров.
type Handler struct {
	service Service
	logger  *zap.Logger
	metrics *metrics.Collector
}

// NewHandler создаёт новый экземпляр обработчика HTTP-запросов.
func NewHandler(s Service, logger *zap.Logger, collector *metrics.Collector) *Handler {
	return &Handler{
		service: s,
		logger:  logger,
		metrics: collector,
	}
}

type matchRequest struct {
	Latitude  *float64 `json:"latitude"`
	Longitude *float64 `json:"longitude"`
	BloodType string   `json:"bloodType"`
	RadiusKm  *float64 `json:"radiusKm,omitempty"`
	Limit     *int     `json:"limit,omitempty"`
	Urgency   string   `json:"urgency,omitempty"`
	MinScore  int      `json:"minScore,omitempty"`
	// DisplayLimit используется только в top-matches.
	DisplayLimit *int `json:"displayLimit,omitempty"`
}

// toModel переводит тело запроса в доменный запрос.
// Радиус по умолчанию берётся из срочности, если она указана.
func (m matchRequest) toModel() (model.MatchRequest, error) {
	if m.Latitude == nil || m.Longitude == nil {
		return model.MatchRequest{}, model.ErrLocationUnavailable
	}

	loc, err := model.NewCoordinate(*m.Latitude, *m.Longitude)
	if err != nil {
		return model.MatchRequest{}, err
	}

	bt, err := model.ParseBloodType(m.BloodType)
	if err != nil {
		return model.MatchRequest{}, err
	}

	req := model.NewMatchRequest(loc, bt)
	req.MinScore = m.MinScore

	if m.Urgency != "" {
		u, err := model.ParseUrgency(m.Urgency)
		if err != nil {
			return model.MatchRequest{}, err
		}
		req.RadiusKm = u.SearchRadiusKm()
	}
	if m.RadiusKm != nil {
		req.RadiusKm = *m.RadiusKm
	}
	if m.Limit != nil {
		req.Limit = *m.Limit
	}

	return req, req.Validate()
}

type coordinateDTO struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

type scoredDonorResponse struct {
	ID                    string        `json:"id"`
	Name                  string        `json:"name"`
	BloodType             string        `json:"bloodType"`
	Location              coordinateDTO `json:"location"`
	DaysSinceLastDonation int           `json:"daysSinceLastDonation"`
	DistanceKm            float64       `json:"distance"`
	MatchScore            int           `json:"matchScore"`
}

func toScoredResponse(d model.ScoredDonor) scoredDonorResponse {
	return scoredDonorResponse{
		ID:                    d.ID,
		Name:                  d.Name,
		BloodType:             string(d.BloodType),
		Location:              coordinateDTO{Latitude: d.Location.Lat(), Longitude: d.Location.Lon()},
		DaysSinceLastDonation: d.DaysSinceLastDonation,
		DistanceKm:            d.DistanceKm,
		MatchScore:            d.Score,
	}
}

func toScoredList(donors []model.ScoredDonor) []scoredDonorResponse {
	resp := make([]scoredDonorResponse, 0, len(donors))
	for _, d := range donors {
		resp = append(resp, toScoredResponse(d))
	}
	return resp
}

// FindDonors ранжирует доноров для реципиента.
func (h *Handler) FindDonors(w http.ResponseWriter, r *http.Request) {
	var body matchRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	req, err := body.toModel()
	if err != nil {
		h.writeError(w, "find donors error", err)
		return
	}

	donors, err := h.service.FindDonors(r.Context(), req)
	if err != nil {
		h.writeError(w, "find donors error", err)
		return
	}

	h.writeJSON(w, http.StatusOK, toScoredList(donors))
}

// TopMatches возвращает первые displayLimit доноров ранжирования.
func (h *Handler) TopMatches(w http.ResponseWriter, r *http.Request) {
	var body matchRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	req, err := body.toModel()
	if err != nil {
		h.writeError(w, "top matches error", err)
		return
	}

	limit := req.Limit
	if body.DisplayLimit != nil {
		limit = *body.DisplayLimit
	}

	donors, err := h.service.TopMatches(r.Context(), req, limit)
	if err != nil {
		h.writeError(w, "top matches error", err)
		return
	}

	h.writeJSON(w, http.StatusOK, toScoredList(donors))
}

type calculateMatchRequest struct {
	RequiredBloodType string  `json:"requiredBloodType"`
	DonorBloodType    string  `json:"donorBloodType"`
	DistanceKm        float64 `json:"distanceKm"`
	LastDonationDays  int     `json:"lastDonationDays"`
}

type calculateMatchResponse struct {
	MatchScore int `json:"matchScore"`
}

// CalculateMatch рассчитывает балл совпадения по переданным параметрам.
func (h *Handler) CalculateMatch(w http.ResponseWriter, r *http.Request) {
	var req calculateMatchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	score, err := h.service.CalculateMatch(
		model.BloodType(req.RequiredBloodType),
		model.BloodType(req.DonorBloodType),
		req.DistanceKm,
		req.LastDonationDays,
	)
	if err != nil {
		h.writeError(w, "calculate match error", err)
		return
	}

	h.writeJSON(w, http.StatusOK, calculateMatchResponse{MatchScore: score})
}

// MatchScore рассчитывает балл конкретного донора для запроса реципиента.
func (h *Handler) MatchScore(w http.ResponseWriter, r *http.Request) {
	donorID := chi.URLParam(r, "donorID")

	var body matchRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	req, err := body.toModel()
	if err != nil {
		h.writeError(w, "match score error", err)
		return
	}

	scored, err := h.service.MatchScore(r.Context(), req, donorID)
	if err != nil {
		h.writeError(w, "match score error", err, zap.String("donorID", donorID))
		return
	}

	h.writeJSON(w, http.StatusOK, toScoredResponse(*scored))
}

type distanceResponse struct {
	DistanceKm float64 `json:"distanceKm"`
}

// Distance возвращает расстояние между двумя точками из query-параметров lat1, lon1, lat2, lon2.
func (h *Handler) Distance(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	var values [4]float64
	for i, key := range []string{"lat1", "lon1", "lat2", "lon2"} {
		v, err := strconv.ParseFloat(q.Get(key), 64)
		if err != nil {
			http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
			return
		}
		values[i] = v
	}

	a, err := model.NewCoordinate(values[0], values[1])
	if err != nil {
		h.writeError(w, "distance error", err)
		return
	}
	b, err := model.NewCoordinate(values[2], values[3])
	if err != nil {
		h.writeError(w, "distance error", err)
		return
	}

	h.writeJSON(w, http.StatusOK, distanceResponse{DistanceKm: h.service.Distance(a, b)})
}

type compatibilityResponse struct {
	BloodType      string   `json:"bloodType"`
	CanDonateTo    []string `json:"canDonateTo"`
	CanReceiveFrom []string `json:"canReceiveFrom"`
}

// Compatibility возвращает таблицу совместимости для группы крови.
func (h *Handler) Compatibility(w http.ResponseWriter, r *http.Request) {
	bt := model.BloodType(chi.URLParam(r, "bloodType"))

	donateTo, receiveFrom, err := h.service.Compatibility(bt)
	if err != nil {
		h.writeError(w, "compatibility error", err)
		return
	}

	h.writeJSON(w, http.StatusOK, compatibilityResponse{
		BloodType:      string(bt),
		CanDonateTo:    bloodTypeStrings(donateTo),
		CanReceiveFrom: bloodTypeStrings(receiveFrom),
	})
}

func bloodTypeStrings(types []model.BloodType) []string {
	res := make([]string, 0, len(types))
	for _, t := range types {
		res = append(res, string(t))
	}
	return res
}

type chatRequest struct {
	Message             string         `json:"message"`
	ConversationHistory []chat.Message `json:"conversationHistory"`
}

type chatResponse struct {
	Reply string `json:"reply"`
}

// Chat передаёт сообщение пользователя языковой модели.
func (h *Handler) Chat(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	reply, err := h.service.Chat(r.Context(), req.Message, req.ConversationHistory)
	if err != nil {
		h.writeError(w, "chat error", err)
		return
	}

	h.writeJSON(w, http.StatusOK, chatResponse{Reply: reply})
}

// writeError сопоставляет доменные ошибки HTTP-статусам; неожиданные ошибки логируются.
func (h *Handler) writeError(w http.ResponseWriter, msg string, err error, fields ...zap.Field) {
	switch {
	case errors.Is(err, model.ErrLocationUnavailable):
		http.Error(w, err.Error(), http.StatusUnprocessableEntity)
	case errors.Is(err, validation.ErrValidation):
		http.Error(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, repository.ErrDonorNotFound):
		http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
	case errors.Is(err, repository.ErrDonorExists):
		http.Error(w, http.StatusText(http.StatusConflict), http.StatusConflict)
	case errors.Is(err, chat.ErrNotConfigured):
		http.Error(w, http.StatusText(http.StatusServiceUnavailable), http.StatusServiceUnavailable)
	case errors.Is(err, chat.ErrUpstream):
		h.logger.Warn(msg, append(fields, zap.Error(err))...)
		http.Error(w, http.StatusText(http.StatusBadGateway), http.StatusBadGateway)
	default:
		h.logger.Error(msg, append(fields, zap.Error(err))...)
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
	}
}

// writeJSON кодирует ответ в буфер до отправки статуса; ошибка кодирования даёт 500.
func (h *Handler) writeJSON(w http.ResponseWriter, status int, v any) {
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(v); err != nil {
		h.logger.Error("encode response error", zap.Error(err))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(buf.Bytes())
}
