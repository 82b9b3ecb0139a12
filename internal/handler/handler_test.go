package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"math"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/mmeshcher/pulsebank/internal/chat"
	"github.com/mmeshcher/pulsebank/internal/metrics"
	"github.com/mmeshcher/pulsebank/internal/model"
	"github.com/mmeshcher/pulsebank/internal/repository"
	"github.com/mmeshcher/pulsebank/internal/service"
)

const testDonorID = "6f1c2a8e-1d2b-4c3d-9e4f-5a6b7c8d9e0f"

type stubService struct {
	findResp []model.ScoredDonor
	findErr  error
	lastReq  model.MatchRequest

	topLimit int

	calcScore int
	calcErr   error

	matchResp *model.ScoredDonor
	matchErr  error

	distance float64

	registerResp *model.Donor
	registerErr  error
	registerIn   service.DonorInput

	getResp *model.Donor
	getErr  error

	activeErr   error
	recordedAt  time.Time
	recordErr   error
	locationErr error

	chatReply   string
	chatErr     error
	chatHistory []chat.Message
}

func (s *stubService) FindDonors(ctx context.Context, req model.MatchRequest) ([]model.ScoredDonor, error) {
	s.lastReq = req
	return s.findResp, s.findErr
}

func (s *stubService) TopMatches(ctx context.Context, req model.MatchRequest, limit int) ([]model.ScoredDonor, error) {
	s.lastReq = req
	s.topLimit = limit
	return s.findResp, s.findErr
}

func (s *stubService) CalculateMatch(required, donor model.BloodType, distanceKm float64, lastDonationDays int) (int, error) {
	return s.calcScore, s.calcErr
}

func (s *stubService) MatchScore(ctx context.Context, req model.MatchRequest, donorID string) (*model.ScoredDonor, error) {
	return s.matchResp, s.matchErr
}

func (s *stubService) Distance(a, b model.Coordinate) float64 {
	return s.distance
}

func (s *stubService) Compatibility(bt model.BloodType) ([]model.BloodType, []model.BloodType, error) {
	return (&service.Service{}).Compatibility(bt)
}

func (s *stubService) RegisterDonor(ctx context.Context, in service.DonorInput) (*model.Donor, error) {
	s.registerIn = in
	return s.registerResp, s.registerErr
}

func (s *stubService) GetDonor(ctx context.Context, id string) (*model.Donor, error) {
	return s.getResp, s.getErr
}

func (s *stubService) SetDonorActive(ctx context.Context, id string, active bool) error {
	return s.activeErr
}

func (s *stubService) RecordDonation(ctx context.Context, id string, at time.Time) error {
	s.recordedAt = at
	return s.recordErr
}

func (s *stubService) UpdateDonorLocation(ctx context.Context, id string, loc model.Coordinate) error {
	return s.locationErr
}

func (s *stubService) Chat(ctx context.Context, message string, history []chat.Message) (string, error) {
	s.chatHistory = history
	return s.chatReply, s.chatErr
}

func newTestHandler(t *testing.T, svc Service) *Handler {
	t.Helper()

	logger, err := zap.NewDevelopment()
	if err != nil {
		t.Fatalf("new logger: %v", err)
	}

	collector, err := metrics.NewCollector(prometheus.NewRegistry())
	if err != nil {
		t.Fatalf("new collector: %v", err)
	}

	return NewHandler(svc, logger, collector)
}

func serve(t *testing.T, h *Handler, method, target string, body any) *http.Response {
	t.Helper()

	var reader *bytes.Reader
	switch b := body.(type) {
	case nil:
		reader = bytes.NewReader(nil)
	case string:
		reader = bytes.NewReader([]byte(b))
	default:
		raw, err := json.Marshal(b)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(raw)
	}

	req := httptest.NewRequest(method, target, reader)
	rec := httptest.NewRecorder()

	h.SetupRouter().ServeHTTP(rec, req)

	return rec.Result()
}

func TestFindDonors_JSONResponse(t *testing.T) {
	svc := &stubService{
		findResp: []model.ScoredDonor{
			{
				DonorCandidate: model.DonorCandidate{
					ID:        "a",
					Name:      "Donor A",
					BloodType: model.BloodTypeOPos,
					Location:  model.MustCoordinate(43.24, 76.89),
					Active:    true,
				},
				DistanceKm: 1.2,
				Score:      98,
			},
		},
	}
	h := newTestHandler(t, svc)

	res := serve(t, h, http.MethodPost, "/api/matching/find-donors",
		`{"latitude":43.238,"longitude":76.889,"bloodType":"O+"}`)
	defer res.Body.Close()

	if res.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusOK)
	}
	if ct := res.Header.Get("Content-Type"); ct != "application/json" {
		t.Fatalf("content-type = %q, want application/json", ct)
	}

	var got []scoredDonorResponse
	if err := json.NewDecoder(res.Body).Decode(&got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(got) != 1 || got[0].MatchScore != 98 || got[0].DistanceKm != 1.2 {
		t.Fatalf("unexpected response: %+v", got)
	}

	if svc.lastReq.RadiusKm != model.DefaultRadiusKm || svc.lastReq.Limit != model.DefaultLimit {
		t.Fatalf("defaults not applied: %+v", svc.lastReq)
	}
}

func TestFindDonors_EmptyListIsArray(t *testing.T) {
	h := newTestHandler(t, &stubService{findResp: []model.ScoredDonor{}})

	res := serve(t, h, http.MethodPost, "/api/matching/find-donors",
		`{"latitude":0,"longitude":0,"bloodType":"AB-"}`)
	defer res.Body.Close()

	var raw bytes.Buffer
	if _, err := raw.ReadFrom(res.Body); err != nil {
		t.Fatalf("read body: %v", err)
	}
	if got := bytes.TrimSpace(raw.Bytes()); string(got) != "[]" {
		t.Fatalf("body = %s, want []", got)
	}
}

func TestFindDonors_UrgencyRadius(t *testing.T) {
	svc := &stubService{}
	h := newTestHandler(t, svc)

	res := serve(t, h, http.MethodPost, "/api/matching/find-donors",
		`{"latitude":0,"longitude":0,"bloodType":"B+","urgency":"critical","limit":3}`)
	res.Body.Close()

	if res.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusOK)
	}
	if svc.lastReq.RadiusKm != 50 || svc.lastReq.Limit != 3 {
		t.Fatalf("unexpected request: %+v", svc.lastReq)
	}

	res = serve(t, h, http.MethodPost, "/api/matching/find-donors",
		`{"latitude":0,"longitude":0,"bloodType":"B+","urgency":"critical","radiusKm":7}`)
	res.Body.Close()

	if svc.lastReq.RadiusKm != 7 {
		t.Fatalf("explicit radius must win over urgency, got %v", svc.lastReq.RadiusKm)
	}
}

func TestFindDonors_Errors(t *testing.T) {
	tests := []struct {
		name string
		body string
		want int
	}{
		{name: "malformed json", body: `{"latitude":`, want: http.StatusBadRequest},
		{name: "location missing", body: `{"bloodType":"O+"}`, want: http.StatusUnprocessableEntity},
		{name: "latitude out of range", body: `{"latitude":91,"longitude":0,"bloodType":"O+"}`, want: http.StatusBadRequest},
		{name: "unknown blood type", body: `{"latitude":0,"longitude":0,"bloodType":"C+"}`, want: http.StatusBadRequest},
		{name: "negative radius", body: `{"latitude":0,"longitude":0,"bloodType":"O+","radiusKm":-1}`, want: http.StatusBadRequest},
		{name: "zero limit", body: `{"latitude":0,"longitude":0,"bloodType":"O+","limit":0}`, want: http.StatusBadRequest},
		{name: "unknown urgency", body: `{"latitude":0,"longitude":0,"bloodType":"O+","urgency":"asap"}`, want: http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newTestHandler(t, &stubService{})

			res := serve(t, h, http.MethodPost, "/api/matching/find-donors", tt.body)
			res.Body.Close()

			if res.StatusCode != tt.want {
				t.Fatalf("status = %d, want %d", res.StatusCode, tt.want)
			}
		})
	}
}

func TestFindDonors_InternalError(t *testing.T) {
	h := newTestHandler(t, &stubService{findErr: context.DeadlineExceeded})

	res := serve(t, h, http.MethodPost, "/api/matching/find-donors",
		`{"latitude":0,"longitude":0,"bloodType":"O+"}`)
	res.Body.Close()

	if res.StatusCode != http.StatusInternalServerError {
		t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusInternalServerError)
	}
}

func TestTopMatches_DisplayLimit(t *testing.T) {
	svc := &stubService{}
	h := newTestHandler(t, svc)

	res := serve(t, h, http.MethodPost, "/api/matching/top-matches",
		`{"latitude":0,"longitude":0,"bloodType":"A-","limit":10,"displayLimit":3}`)
	res.Body.Close()

	if res.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusOK)
	}
	if svc.topLimit != 3 {
		t.Fatalf("limit = %d, want 3", svc.topLimit)
	}

	res = serve(t, h, http.MethodPost, "/api/matching/top-matches",
		`{"latitude":0,"longitude":0,"bloodType":"A-","limit":4}`)
	res.Body.Close()

	if svc.topLimit != 4 {
		t.Fatalf("limit = %d, want request limit 4", svc.topLimit)
	}
}

func TestCalculateMatch(t *testing.T) {
	h := newTestHandler(t, &stubService{calcScore: 88})

	res := serve(t, h, http.MethodPost, "/api/matching/calculate-match", calculateMatchRequest{
		RequiredBloodType: "O+",
		DonorBloodType:    "O+",
		DistanceKm:        3,
		LastDonationDays:  45,
	})
	defer res.Body.Close()

	if res.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusOK)
	}

	var got calculateMatchResponse
	if err := json.NewDecoder(res.Body).Decode(&got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.MatchScore != 88 {
		t.Fatalf("matchScore = %d, want 88", got.MatchScore)
	}
}

func TestMatchScore_NotFound(t *testing.T) {
	h := newTestHandler(t, &stubService{matchErr: repository.ErrDonorNotFound})

	res := serve(t, h, http.MethodPost, "/api/matching/match-score/"+testDonorID,
		`{"latitude":0,"longitude":0,"bloodType":"O+"}`)
	res.Body.Close()

	if res.StatusCode != http.StatusNotFound {
		t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusNotFound)
	}
}

func TestDistance(t *testing.T) {
	h := newTestHandler(t, &stubService{distance: 343.6})

	res := serve(t, h, http.MethodGet, "/api/location/distance?lat1=51.5074&lon1=-0.1278&lat2=48.8566&lon2=2.3522", nil)
	defer res.Body.Close()

	if res.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusOK)
	}

	var got distanceResponse
	if err := json.NewDecoder(res.Body).Decode(&got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.DistanceKm != 343.6 {
		t.Fatalf("distanceKm = %v, want 343.6", got.DistanceKm)
	}

	res = serve(t, h, http.MethodGet, "/api/location/distance?lat1=1&lon1=2", nil)
	res.Body.Close()
	if res.StatusCode != http.StatusBadRequest {
		t.Fatalf("missing params status = %d, want %d", res.StatusCode, http.StatusBadRequest)
	}

	res = serve(t, h, http.MethodGet, "/api/location/distance?lat1=100&lon1=0&lat2=0&lon2=0", nil)
	res.Body.Close()
	if res.StatusCode != http.StatusBadRequest {
		t.Fatalf("out of range status = %d, want %d", res.StatusCode, http.StatusBadRequest)
	}
}

func TestCompatibility(t *testing.T) {
	h := newTestHandler(t, &stubService{})

	res := serve(t, h, http.MethodGet, "/api/compatibility/O-", nil)
	defer res.Body.Close()

	if res.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusOK)
	}

	var got compatibilityResponse
	if err := json.NewDecoder(res.Body).Decode(&got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(got.CanDonateTo) != 8 || len(got.CanReceiveFrom) != 1 {
		t.Fatalf("unexpected compatibility: %+v", got)
	}
}

func TestRegisterDonor(t *testing.T) {
	created := time.Date(2025, 10, 1, 0, 0, 0, 0, time.UTC)
	svc := &stubService{
		registerResp: &model.Donor{
			ID:        testDonorID,
			Name:      "Aigerim",
			BloodType: model.BloodTypeBNeg,
			Location:  model.MustCoordinate(43.2, 76.9),
			Active:    true,
			CreatedAt: created,
		},
	}
	h := newTestHandler(t, svc)

	res := serve(t, h, http.MethodPost, "/api/donors",
		`{"name":"Aigerim","bloodType":"B-","latitude":43.2,"longitude":76.9,"lastDonationDate":"2025-08-01"}`)
	defer res.Body.Close()

	if res.StatusCode != http.StatusCreated {
		t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusCreated)
	}
	if svc.registerIn.LastDonationAt == nil || svc.registerIn.LastDonationAt.Format(time.DateOnly) != "2025-08-01" {
		t.Fatalf("last donation not passed: %+v", svc.registerIn)
	}

	var got donorResponse
	if err := json.NewDecoder(res.Body).Decode(&got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.ID != testDonorID || !got.Active {
		t.Fatalf("unexpected donor: %+v", got)
	}
}

func TestRegisterDonor_Errors(t *testing.T) {
	tests := []struct {
		name string
		svc  *stubService
		body string
		want int
	}{
		{
			name: "location missing",
			svc:  &stubService{},
			body: `{"name":"A","bloodType":"B-"}`,
			want: http.StatusUnprocessableEntity,
		},
		{
			name: "bad date",
			svc:  &stubService{},
			body: `{"name":"A","bloodType":"B-","latitude":0,"longitude":0,"lastDonationDate":"01.08.2025"}`,
			want: http.StatusBadRequest,
		},
		{
			name: "conflict",
			svc:  &stubService{registerErr: repository.ErrDonorExists},
			body: `{"name":"A","bloodType":"B-","latitude":0,"longitude":0}`,
			want: http.StatusConflict,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newTestHandler(t, tt.svc)

			res := serve(t, h, http.MethodPost, "/api/donors", tt.body)
			res.Body.Close()

			if res.StatusCode != tt.want {
				t.Fatalf("status = %d, want %d", res.StatusCode, tt.want)
			}
		})
	}
}

func TestGetDonor_NotFound(t *testing.T) {
	h := newTestHandler(t, &stubService{getErr: repository.ErrDonorNotFound})

	res := serve(t, h, http.MethodGet, "/api/donors/"+testDonorID, nil)
	res.Body.Close()

	if res.StatusCode != http.StatusNotFound {
		t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusNotFound)
	}
}

func TestSetDonorActive(t *testing.T) {
	h := newTestHandler(t, &stubService{})

	res := serve(t, h, http.MethodPut, "/api/donors/"+testDonorID+"/active", `{"active":false}`)
	res.Body.Close()
	if res.StatusCode != http.StatusNoContent {
		t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusNoContent)
	}

	res = serve(t, h, http.MethodPut, "/api/donors/"+testDonorID+"/active", `{}`)
	res.Body.Close()
	if res.StatusCode != http.StatusBadRequest {
		t.Fatalf("missing flag status = %d, want %d", res.StatusCode, http.StatusBadRequest)
	}
}

func TestRecordDonation_WithoutBody(t *testing.T) {
	svc := &stubService{}
	h := newTestHandler(t, svc)

	res := serve(t, h, http.MethodPost, "/api/donors/"+testDonorID+"/donations", nil)
	res.Body.Close()

	if res.StatusCode != http.StatusNoContent {
		t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusNoContent)
	}
	if !svc.recordedAt.IsZero() {
		t.Fatalf("recordedAt = %v, want zero time", svc.recordedAt)
	}

	res = serve(t, h, http.MethodPost, "/api/donors/"+testDonorID+"/donations", `{"date":"2025-09-15"}`)
	res.Body.Close()

	if svc.recordedAt.Format(time.DateOnly) != "2025-09-15" {
		t.Fatalf("recordedAt = %v, want 2025-09-15", svc.recordedAt)
	}
}

func TestUpdateDonorLocation(t *testing.T) {
	h := newTestHandler(t, &stubService{})

	res := serve(t, h, http.MethodPut, "/api/donors/"+testDonorID+"/location", `{"latitude":10,"longitude":20}`)
	res.Body.Close()
	if res.StatusCode != http.StatusNoContent {
		t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusNoContent)
	}

	res = serve(t, h, http.MethodPut, "/api/donors/"+testDonorID+"/location", `{"latitude":10}`)
	res.Body.Close()
	if res.StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusUnprocessableEntity)
	}
}

func TestChat(t *testing.T) {
	svc := &stubService{chatReply: "Hello!"}
	h := newTestHandler(t, svc)

	res := serve(t, h, http.MethodPost, "/api/chat",
		`{"message":"Hi","conversationHistory":[{"sender":"user","text":"earlier"},{"sender":"bot","text":"reply"}]}`)
	defer res.Body.Close()

	if res.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusOK)
	}

	var got chatResponse
	if err := json.NewDecoder(res.Body).Decode(&got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.Reply != "Hello!" {
		t.Fatalf("reply = %q", got.Reply)
	}
	if len(svc.chatHistory) != 2 || svc.chatHistory[1].Sender != chat.SenderBot {
		t.Fatalf("history = %+v", svc.chatHistory)
	}
}

func TestChat_Errors(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{name: "empty message", err: service.ErrEmptyMessage, want: http.StatusBadRequest},
		{name: "not configured", err: chat.ErrNotConfigured, want: http.StatusServiceUnavailable},
		{name: "upstream", err: chat.ErrUpstream, want: http.StatusBadGateway},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newTestHandler(t, &stubService{chatErr: tt.err})

			res := serve(t, h, http.MethodPost, "/api/chat", `{"message":"Hi"}`)
			res.Body.Close()

			if res.StatusCode != tt.want {
				t.Fatalf("status = %d, want %d", res.StatusCode, tt.want)
			}
		})
	}
}

func TestRouter_NotFoundAndMetrics(t *testing.T) {
	h := newTestHandler(t, &stubService{})

	res := serve(t, h, http.MethodGet, "/api/unknown", nil)
	res.Body.Close()
	if res.StatusCode != http.StatusNotFound {
		t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusNotFound)
	}

	res = serve(t, h, http.MethodGet, "/api/matching/find-donors", nil)
	res.Body.Close()
	if res.StatusCode != http.StatusMethodNotAllowed {
		t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusMethodNotAllowed)
	}

	res = serve(t, h, http.MethodPost, "/api/matching/find-donors", `{"latitude":0,"longitude":0,"bloodType":"O+"}`)
	res.Body.Close()

	res = serve(t, h, http.MethodGet, "/metrics", nil)
	defer res.Body.Close()
	if res.StatusCode != http.StatusOK {
		t.Fatalf("metrics status = %d, want %d", res.StatusCode, http.StatusOK)
	}

	var raw bytes.Buffer
	if _, err := raw.ReadFrom(res.Body); err != nil {
		t.Fatalf("read body: %v", err)
	}
	if !bytes.Contains(raw.Bytes(), []byte(`route="/api/matching/find-donors"`)) {
		t.Fatalf("metrics output lacks route label:\n%s", raw.String())
	}
}

func TestWriteJSON_EncodeFailure(t *testing.T) {
	h := newTestHandler(t, &stubService{distance: math.NaN()})

	res := serve(t, h, http.MethodGet, "/api/location/distance?lat1=0&lon1=0&lat2=1&lon2=1", nil)
	res.Body.Close()

	if res.StatusCode != http.StatusInternalServerError {
		t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusInternalServerError)
	}
}

func TestDistance_AntipodalThroughService(t *testing.T) {
	svc := service.NewService(repository.NewMemoryRepository(), nil, nil, 0)
	h := newTestHandler(t, svc)

	res := serve(t, h, http.MethodGet,
		"/api/location/distance?lat1=19.046852&lon1=158.583272&lat2=-19.046852&lon2=-21.416728", nil)
	defer res.Body.Close()

	if res.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusOK)
	}

	var got distanceResponse
	if err := json.NewDecoder(res.Body).Decode(&got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.DistanceKm != 20015.1 {
		t.Fatalf("distanceKm = %v, want 20015.1", got.DistanceKm)
	}
}

func TestGetDonor_NextEligibleDate(t *testing.T) {
	last := time.Date(2025, 9, 1, 0, 0, 0, 0, time.UTC)
	h := newTestHandler(t, &stubService{
		getResp: &model.Donor{
			ID:             testDonorID,
			Name:           "A",
			BloodType:      model.BloodTypeAPos,
			Location:       model.MustCoordinate(0, 0),
			Active:         true,
			LastDonationAt: &last,
		},
	})

	res := serve(t, h, http.MethodGet, "/api/donors/"+testDonorID, nil)
	defer res.Body.Close()

	var got donorResponse
	if err := json.NewDecoder(res.Body).Decode(&got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.NextEligibleDate == nil || *got.NextEligibleDate != "2025-10-27" {
		t.Fatalf("nextEligibleDate = %v, want 2025-10-27", got.NextEligibleDate)
	}
}
