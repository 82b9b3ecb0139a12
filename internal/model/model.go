// Package model содержит доменные сущности сервиса подбора доноров.
package model

import (
	"errors"
	"fmt"
	"time"

	"github.com/mmeshcher/pulsebank/internal/validation"
)

// ErrLocationUnavailable возвращается, если местоположение реципиента не получено.
var ErrLocationUnavailable = errors.New("location unavailable")

const (
	// DefaultRadiusKm используется, если радиус поиска не задан.
	DefaultRadiusKm = 10.0
	// DefaultLimit используется, если лимит результатов не задан.
	DefaultLimit = 5
)

// Coordinate описывает точку на поверхности Земли в десятичных градусах.
type Coordinate struct {
	lat float64
	lon float64
}

// NewCoordinate создаёт координату, проверяя диапазоны широты и долготы.
func NewCoordinate(lat, lon float64) (Coordinate, error) {
	if err := validation.Coordinate(lat, lon); err != nil {
		return Coordinate{}, err
	}
	return Coordinate{lat: lat, lon: lon}, nil
}

// MustCoordinate аналогична NewCoordinate, но паникует при ошибке.
func MustCoordinate(lat, lon float64) Coordinate {
	c, err := NewCoordinate(lat, lon)
	if err != nil {
		panic(err)
	}
	return c
}

// Lat возвращает широту.
func (c Coordinate) Lat() float64 { return c.lat }

// Lon возвращает долготу.
func (c Coordinate) Lon() float64 { return c.lon }

func (c Coordinate) String() string {
	return fmt.Sprintf("(%.6f, %.6f)", c.lat, c.lon)
}

// DonorCandidate содержит снимок донора, участвующего в одном запросе подбора.
type DonorCandidate struct {
	ID                    string
	Name                  string
	BloodType             BloodType
	Location              Coordinate
	Active                bool
	DaysSinceLastDonation int
}

// MatchRequest описывает параметры поиска доноров для реципиента.
type MatchRequest struct {
	Location  Coordinate
	BloodType BloodType
	RadiusKm  float64
	Limit     int
	// MinScore отсекает доноров с баллом ниже порога; 0 отключает отсечение.
	MinScore int
}

// NewMatchRequest создаёт запрос со значениями по умолчанию для радиуса и лимита.
func NewMatchRequest(location Coordinate, bloodType BloodType) MatchRequest {
	return MatchRequest{
		Location:  location,
		BloodType: bloodType,
		RadiusKm:  DefaultRadiusKm,
		Limit:     DefaultLimit,
	}
}

// Validate проверяет поля запроса до начала фильтрации.
func (r MatchRequest) Validate() error {
	if err := validation.Coordinate(r.Location.lat, r.Location.lon); err != nil {
		return err
	}
	if !r.BloodType.Valid() {
		return fmt.Errorf("%w: %q", validation.ErrInvalidBloodType, string(r.BloodType))
	}
	if err := validation.Radius(r.RadiusKm); err != nil {
		return err
	}
	if err := validation.Limit(r.Limit); err != nil {
		return err
	}
	return validation.MinScore(r.MinScore)
}

// ScoredDonor описывает кандидата с рассчитанными расстоянием и баллом совпадения.
type ScoredDonor struct {
	DonorCandidate
	DistanceKm float64
	Score      int
}

// Donor описывает запись справочника доноров.
type Donor struct {
	ID             string
	Name           string
	BloodType      BloodType
	Location       Coordinate
	Active         bool
	LastDonationAt *time.Time
	CreatedAt      time.Time
}

// Candidate возвращает снимок донора на момент now.
func (d Donor) Candidate(now time.Time) DonorCandidate {
	return DonorCandidate{
		ID:                    d.ID,
		Name:                  d.Name,
		BloodType:             d.BloodType,
		Location:              d.Location,
		Active:                d.Active,
		DaysSinceLastDonation: DaysSince(d.LastDonationAt, now),
	}
}

// DaysSince возвращает число полных дней между at и now.
// Отсутствие даты трактуется как 0, то есть «нет данных о донациях».
func DaysSince(at *time.Time, now time.Time) int {
	if at == nil || at.After(now) {
		return 0
	}
	return int(now.Sub(*at) / (24 * time.Hour))
}
