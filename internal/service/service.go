// Package service реализует бизнес-логику сервиса подбора доноров.
package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/mmeshcher/pulsebank/internal/chat"
	"github.com/mmeshcher/pulsebank/internal/geo"
	"github.com/mmeshcher/pulsebank/internal/matching"
	"github.com/mmeshcher/pulsebank/internal/metrics"
	"github.com/mmeshcher/pulsebank/internal/model"
	"github.com/mmeshcher/pulsebank/internal/validation"
)

var (
	// ErrInvalidDonationDate возвращается для даты донации в будущем.
	ErrInvalidDonationDate = fmt.Errorf("%w: donation date is in the future", validation.ErrValidation)
	// ErrEmptyMessage возвращается для пустого сообщения чата.
	ErrEmptyMessage = fmt.Errorf("%w: message is empty", validation.ErrValidation)
)

// Repository описывает контракт справочника доноров, используемый сервисом.
type Repository interface {
	Close() error
	CreateDonor(ctx context.Context, d model.Donor) error
	GetDonor(ctx context.Context, id string) (*model.Donor, error)
	ListActiveDonors(ctx context.Context, bloodType *model.BloodType) ([]model.Donor, error)
	CountActiveDonors(ctx context.Context) (map[model.BloodType]int, error)
	SetDonorActive(ctx context.Context, id string, active bool) error
	RecordDonation(ctx context.Context, id string, at time.Time) error
	UpdateDonorLocation(ctx context.Context, id string, loc model.Coordinate) error
}

// ChatClient описывает внешнюю языковую модель.
type ChatClient interface {
	Reply(ctx context.Context, message string, history []chat.Message) (string, error)
}

// Service содержит бизнес-логику сервиса подбора доноров.
type Service struct {
	repo          Repository
	engine        *matching.Engine
	chat          ChatClient
	metrics       *metrics.Collector
	statsInterval time.Duration
	now           func() time.Time
}

// NewService создаёт сервис поверх справочника доноров, клиента чата и метрик.
func NewService(repo Repository, chatClient ChatClient, collector *metrics.Collector, statsInterval time.Duration) *Service {
	return &Service{
		repo:          repo,
		engine:        matching.NewEngine(repo),
		chat:          chatClient,
		metrics:       collector,
		statsInterval: statsInterval,
		now:           time.Now,
	}
}

// Close закрывает ресурсы сервиса.
func (s *Service) Close() error {
	if s.repo != nil {
		return s.repo.Close()
	}
	return nil
}

// FindDonors подбирает доноров для реципиента.
func (s *Service) FindDonors(ctx context.Context, req model.MatchRequest) ([]model.ScoredDonor, error) {
	res, poolSize, err := s.engine.FindDonors(ctx, req)
	s.observeMatch(res, poolSize, err)
	return res, err
}

// TopMatches подбирает доноров и возвращает не более limit лучших.
func (s *Service) TopMatches(ctx context.Context, req model.MatchRequest, limit int) ([]model.ScoredDonor, error) {
	res, poolSize, err := s.engine.TopMatches(ctx, req, limit)
	s.observeMatch(res, poolSize, err)
	return res, err
}

func (s *Service) observeMatch(res []model.ScoredDonor, poolSize int, err error) {
	switch {
	case errors.Is(err, validation.ErrValidation):
		s.metrics.ObserveMatch(metrics.OutcomeInvalid, 0, 0)
	case err != nil:
		s.metrics.ObserveMatch(metrics.OutcomeFailed, 0, 0)
	case len(res) == 0:
		s.metrics.ObserveMatch(metrics.OutcomeEmpty, poolSize, 0)
	default:
		s.metrics.ObserveMatch(metrics.OutcomeMatched, poolSize, len(res))
	}
}

// CalculateMatch рассчитывает балл совпадения по готовым параметрам.
func (s *Service) CalculateMatch(required, donor model.BloodType, distanceKm float64, lastDonationDays int) (int, error) {
	if !required.Valid() {
		return 0, fmt.Errorf("%w: %q", validation.ErrInvalidBloodType, string(required))
	}
	if !donor.Valid() {
		return 0, fmt.Errorf("%w: %q", validation.ErrInvalidBloodType, string(donor))
	}
	return matching.Score(required, donor, distanceKm, lastDonationDays)
}

// MatchScore рассчитывает расстояние и балл конкретного донора для запроса.
func (s *Service) MatchScore(ctx context.Context, req model.MatchRequest, donorID string) (*model.ScoredDonor, error) {
	if err := validation.DonorID(donorID); err != nil {
		return nil, err
	}

	d, err := s.repo.GetDonor(ctx, donorID)
	if err != nil {
		return nil, err
	}

	scored, err := matching.ScoreCandidate(req, d.Candidate(s.now()))
	if err != nil {
		return nil, err
	}
	return &scored, nil
}

// Distance возвращает расстояние между двумя точками в километрах.
func (s *Service) Distance(a, b model.Coordinate) float64 {
	return geo.Distance(a, b)
}

// Compatibility возвращает группы, которым может отдавать кровь bt, и группы, от которых может получать.
func (s *Service) Compatibility(bt model.BloodType) ([]model.BloodType, []model.BloodType, error) {
	if !bt.Valid() {
		return nil, nil, fmt.Errorf("%w: %q", validation.ErrInvalidBloodType, string(bt))
	}
	return bt.Recipients(), model.CompatibleDonors(bt), nil
}

// DonorInput содержит данные для регистрации донора.
type DonorInput struct {
	Name           string
	BloodType      model.BloodType
	Location       model.Coordinate
	LastDonationAt *time.Time
}

// RegisterDonor регистрирует нового активного донора.
func (s *Service) RegisterDonor(ctx context.Context, in DonorInput) (*model.Donor, error) {
	if err := validation.DonorName(in.Name); err != nil {
		return nil, err
	}
	if !in.BloodType.Valid() {
		return nil, fmt.Errorf("%w: %q", validation.ErrInvalidBloodType, string(in.BloodType))
	}

	now := s.now().UTC()
	if in.LastDonationAt != nil && in.LastDonationAt.After(now) {
		return nil, ErrInvalidDonationDate
	}

	d := model.Donor{
		ID:             uuid.NewString(),
		Name:           strings.TrimSpace(in.Name),
		BloodType:      in.BloodType,
		Location:       in.Location,
		Active:         true,
		LastDonationAt: in.LastDonationAt,
		CreatedAt:      now,
	}

	if err := s.repo.CreateDonor(ctx, d); err != nil {
		return nil, err
	}
	return &d, nil
}

// GetDonor возвращает донора по идентификатору.
func (s *Service) GetDonor(ctx context.Context, id string) (*model.Donor, error) {
	if err := validation.DonorID(id); err != nil {
		return nil, err
	}
	return s.repo.GetDonor(ctx, id)
}

// SetDonorActive включает или выключает донора из подбора.
func (s *Service) SetDonorActive(ctx context.Context, id string, active bool) error {
	if err := validation.DonorID(id); err != nil {
		return err
	}
	return s.repo.SetDonorActive(ctx, id, active)
}

// RecordDonation фиксирует донацию; нулевое время означает «сейчас».
func (s *Service) RecordDonation(ctx context.Context, id string, at time.Time) error {
	if err := validation.DonorID(id); err != nil {
		return err
	}

	now := s.now().UTC()
	if at.IsZero() {
		at = now
	}
	if at.After(now) {
		return ErrInvalidDonationDate
	}
	return s.repo.RecordDonation(ctx, id, at)
}

// UpdateDonorLocation обновляет местоположение донора.
func (s *Service) UpdateDonorLocation(ctx context.Context, id string, loc model.Coordinate) error {
	if err := validation.DonorID(id); err != nil {
		return err
	}
	return s.repo.UpdateDonorLocation(ctx, id, loc)
}

// Chat передаёт сообщение языковой модели и возвращает её ответ.
func (s *Service) Chat(ctx context.Context, message string, history []chat.Message) (string, error) {
	if strings.TrimSpace(message) == "" {
		return "", ErrEmptyMessage
	}
	if s.chat == nil {
		return "", chat.ErrNotConfigured
	}
	return s.chat.Reply(ctx, message, history)
}

// StartDonorStatsUpdates периодически обновляет метрику количества активных доноров
// и блокируется до отмены ctx.
func (s *Service) StartDonorStatsUpdates(ctx context.Context) {
	if s.metrics == nil || s.statsInterval <= 0 {
		return
	}

	s.refreshDonorStats(ctx)

	ticker := time.NewTicker(s.statsInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.refreshDonorStats(ctx)
		}
	}
}

func (s *Service) refreshDonorStats(ctx context.Context) {
	counts, err := s.repo.CountActiveDonors(ctx)
	if err != nil {
		return
	}
	s.metrics.SetActiveDonors(counts)
}
