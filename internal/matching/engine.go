package matching

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/mmeshcher/pulsebank/internal/geo"
	"github.com/mmeshcher/pulsebank/internal/model"
	"github.com/mmeshcher/pulsebank/internal/validation"
)

// RankDonors отбирает активных доноров нужной группы в пределах радиуса,
// рассчитывает балл и возвращает не более req.Limit лучших.
//
// Порядок: балл по убыванию, затем расстояние по возрастанию, затем ID.
// Пул не изменяется.
func RankDonors(req model.MatchRequest, pool []model.DonorCandidate) ([]model.ScoredDonor, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	ranked := rank(req, pool)
	if len(ranked) > req.Limit {
		ranked = ranked[:req.Limit]
	}
	return ranked, nil
}

// TopMatches ранжирует пул так же, как RankDonors, но обрезает результат до limit
// вместо req.Limit.
func TopMatches(req model.MatchRequest, pool []model.DonorCandidate, limit int) ([]model.ScoredDonor, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	if err := validation.Limit(limit); err != nil {
		return nil, err
	}

	ranked := rank(req, pool)
	if len(ranked) > limit {
		ranked = ranked[:limit]
	}
	return ranked, nil
}

// ScoreCandidate рассчитывает расстояние и балл для одного кандидата без фильтрации.
func ScoreCandidate(req model.MatchRequest, c model.DonorCandidate) (model.ScoredDonor, error) {
	if err := req.Validate(); err != nil {
		return model.ScoredDonor{}, err
	}

	distance := geo.Distance(req.Location, c.Location)
	score, err := Score(req.BloodType, c.BloodType, distance, c.DaysSinceLastDonation)
	if err != nil {
		return model.ScoredDonor{}, err
	}

	return model.ScoredDonor{
		DonorCandidate: c,
		DistanceKm:     distance,
		Score:          score,
	}, nil
}

func rank(req model.MatchRequest, pool []model.DonorCandidate) []model.ScoredDonor {
	res := make([]model.ScoredDonor, 0)

	for _, c := range pool {
		if !c.Active || c.BloodType != req.BloodType {
			continue
		}

		distance := geo.Distance(req.Location, c.Location)
		if distance > req.RadiusKm {
			continue
		}

		// кандидат с отрицательным числом дней нарушает инвариант снимка и исключается
		score, err := Score(req.BloodType, c.BloodType, distance, c.DaysSinceLastDonation)
		if err != nil {
			continue
		}
		if score < req.MinScore {
			continue
		}

		res = append(res, model.ScoredDonor{
			DonorCandidate: c,
			DistanceKm:     distance,
			Score:          score,
		})
	}

	slices.SortStableFunc(res, func(a, b model.ScoredDonor) int {
		if c := cmp.Compare(b.Score, a.Score); c != 0 {
			return c
		}
		if c := cmp.Compare(a.DistanceKm, b.DistanceKm); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})

	return res
}

// DonorSource предоставляет доступ на чтение к справочнику доноров.
// nil bloodType означает «все группы».
type DonorSource interface {
	ListActiveDonors(ctx context.Context, bloodType *model.BloodType) ([]model.Donor, error)
}

// Engine подбирает доноров из справочника.
type Engine struct {
	source DonorSource
	now    func() time.Time
}

// NewEngine создаёт движок подбора поверх источника доноров.
func NewEngine(source DonorSource) *Engine {
	return &Engine{
		source: source,
		now:    time.Now,
	}
}

// FindDonors загружает снимок активных доноров нужной группы и ранжирует его.
func (e *Engine) FindDonors(ctx context.Context, req model.MatchRequest) ([]model.ScoredDonor, int, error) {
	if err := req.Validate(); err != nil {
		return nil, 0, err
	}

	pool, err := e.snapshot(ctx, req.BloodType)
	if err != nil {
		return nil, 0, err
	}

	res, err := RankDonors(req, pool)
	return res, len(pool), err
}

// TopMatches загружает снимок и возвращает не более limit лучших доноров.
func (e *Engine) TopMatches(ctx context.Context, req model.MatchRequest, limit int) ([]model.ScoredDonor, int, error) {
	if err := req.Validate(); err != nil {
		return nil, 0, err
	}

	pool, err := e.snapshot(ctx, req.BloodType)
	if err != nil {
		return nil, 0, err
	}

	res, err := TopMatches(req, pool, limit)
	return res, len(pool), err
}

func (e *Engine) snapshot(ctx context.Context, bloodType model.BloodType) ([]model.DonorCandidate, error) {
	donors, err := e.source.ListActiveDonors(ctx, &bloodType)
	if err != nil {
		return nil, fmt.Errorf("list active donors: %w", err)
	}

	now := e.now()
	pool := make([]model.DonorCandidate, 0, len(donors))
	for _, d := range donors {
		pool = append(pool, d.Candidate(now))
	}
	return pool, nil
}
