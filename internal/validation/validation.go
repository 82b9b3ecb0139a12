// Package validation содержит проверки входных данных на границе сервиса.
package validation

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"
)

// ErrValidation является общей причиной для всех ошибок валидации.
var ErrValidation = errors.New("validation failed")

var (
	// ErrInvalidCoordinate возвращается для координат вне допустимого диапазона или нечисловых значений.
	ErrInvalidCoordinate = fmt.Errorf("%w: invalid coordinate", ErrValidation)
	// ErrInvalidBloodType возвращается для неизвестной группы крови.
	ErrInvalidBloodType = fmt.Errorf("%w: invalid blood type", ErrValidation)
	// ErrInvalidRadius возвращается для неположительного радиуса поиска.
	ErrInvalidRadius = fmt.Errorf("%w: radius must be positive", ErrValidation)
	// ErrInvalidLimit возвращается для неположительного лимита результатов.
	ErrInvalidLimit = fmt.Errorf("%w: limit must be positive", ErrValidation)
	// ErrInvalidDistance возвращается для отрицательного расстояния.
	ErrInvalidDistance = fmt.Errorf("%w: distance must be non-negative", ErrValidation)
	// ErrInvalidDays возвращается для отрицательного числа дней с последней донации.
	ErrInvalidDays = fmt.Errorf("%w: days since last donation must be non-negative", ErrValidation)
	// ErrInvalidDonorID возвращается, если идентификатор донора не является UUID.
	ErrInvalidDonorID = fmt.Errorf("%w: invalid donor id", ErrValidation)
	// ErrInvalidName возвращается для пустого или слишком длинного имени.
	ErrInvalidName = fmt.Errorf("%w: invalid name", ErrValidation)
	// ErrInvalidScore возвращается для минимального балла вне диапазона 0..100.
	ErrInvalidScore = fmt.Errorf("%w: min score must be within 0..100", ErrValidation)
)

const maxNameLength = 200

var bloodTypes = map[string]struct{}{
	"O-": {}, "O+": {},
	"A-": {}, "A+": {},
	"B-": {}, "B+": {},
	"AB-": {}, "AB+": {},
}

// Coordinate проверяет широту и долготу в десятичных градусах.
func Coordinate(lat, lon float64) error {
	if !isFinite(lat) || !isFinite(lon) {
		return fmt.Errorf("%w: non-finite value (%v, %v)", ErrInvalidCoordinate, lat, lon)
	}
	if lat < -90 || lat > 90 {
		return fmt.Errorf("%w: latitude %v out of [-90, 90]", ErrInvalidCoordinate, lat)
	}
	if lon < -180 || lon > 180 {
		return fmt.Errorf("%w: longitude %v out of [-180, 180]", ErrInvalidCoordinate, lon)
	}
	return nil
}

// BloodType проверяет, что строка является одной из восьми групп крови.
func BloodType(s string) error {
	if _, ok := bloodTypes[s]; !ok {
		return fmt.Errorf("%w: %q", ErrInvalidBloodType, s)
	}
	return nil
}

// Radius проверяет радиус поиска в километрах.
func Radius(km float64) error {
	if !isFinite(km) || km <= 0 {
		return fmt.Errorf("%w: %v", ErrInvalidRadius, km)
	}
	return nil
}

// Limit проверяет лимит количества результатов.
func Limit(n int) error {
	if n <= 0 {
		return fmt.Errorf("%w: %d", ErrInvalidLimit, n)
	}
	return nil
}

// Distance проверяет расстояние в километрах.
func Distance(km float64) error {
	if !isFinite(km) || km < 0 {
		return fmt.Errorf("%w: %v", ErrInvalidDistance, km)
	}
	return nil
}

// DaysSinceDonation проверяет число дней с последней донации.
func DaysSinceDonation(days int) error {
	if days < 0 {
		return fmt.Errorf("%w: %d", ErrInvalidDays, days)
	}
	return nil
}

// MinScore проверяет порог минимального балла совпадения.
func MinScore(score int) error {
	if score < 0 || score > 100 {
		return fmt.Errorf("%w: %d", ErrInvalidScore, score)
	}
	return nil
}

// DonorID проверяет идентификатор донора.
func DonorID(id string) error {
	if _, err := uuid.Parse(id); err != nil {
		return fmt.Errorf("%w: %q", ErrInvalidDonorID, id)
	}
	return nil
}

// DonorName проверяет отображаемое имя донора.
func DonorName(name string) error {
	name = strings.TrimSpace(name)
	if name == "" || utf8.RuneCountInString(name) > maxNameLength {
		return ErrInvalidName
	}
	return nil
}

func isFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
