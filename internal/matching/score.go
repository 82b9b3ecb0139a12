// Package matching реализует ранжирование доноров для реципиента.
package matching

import (
	"github.com/mmeshcher/pulsebank/internal/model"
	"github.com/mmeshcher/pulsebank/internal/validation"
)

// Веса компонентов балла в процентах.
const (
	bloodTypeWeight    = 40
	distanceWeight     = 30
	availabilityWeight = 20
	baselineWeight     = 10
)

// baselineScore заменяет рейтинг и верификацию донора, которые не моделируются.
const baselineScore = 75

// Score возвращает балл совпадения донора в диапазоне 0..100.
// lastDonationDays == 0 означает отсутствие сведений о донациях.
func Score(required, donor model.BloodType, distanceKm float64, lastDonationDays int) (int, error) {
	if err := validation.Distance(distanceKm); err != nil {
		return 0, err
	}
	if err := validation.DaysSinceDonation(lastDonationDays); err != nil {
		return 0, err
	}

	sum := bloodTypeScore(required, donor)*bloodTypeWeight +
		distanceScore(distanceKm)*distanceWeight +
		availabilityScore(lastDonationDays)*availabilityWeight +
		baselineScore*baselineWeight

	// sum хранит балл в сотых долях; округление половины вверх.
	return (sum + 50) / 100, nil
}

func bloodTypeScore(required, donor model.BloodType) int {
	if required == donor {
		return 100
	}
	return 0
}

func distanceScore(km float64) int {
	switch {
	case km <= 2:
		return 100
	case km <= 5:
		return 80
	case km <= 10:
		return 60
	default:
		return 40
	}
}

func availabilityScore(days int) int {
	switch {
	case days == 0:
		return 100
	case days < 30:
		return 60
	case days < 60:
		return 80
	default:
		return 100
	}
}
