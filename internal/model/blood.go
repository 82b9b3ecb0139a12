package model

import (
	"fmt"

	"github.com/mmeshcher/pulsebank/internal/validation"
)

// BloodType описывает группу крови с резус-фактором.
type BloodType string

const (
	BloodTypeONeg  BloodType = "O-"
	BloodTypeOPos  BloodType = "O+"
	BloodTypeANeg  BloodType = "A-"
	BloodTypeAPos  BloodType = "A+"
	BloodTypeBNeg  BloodType = "B-"
	BloodTypeBPos  BloodType = "B+"
	BloodTypeABNeg BloodType = "AB-"
	BloodTypeABPos BloodType = "AB+"
)

// BloodTypes перечисляет все допустимые группы крови.
var BloodTypes = []BloodType{
	BloodTypeONeg, BloodTypeOPos,
	BloodTypeANeg, BloodTypeAPos,
	BloodTypeBNeg, BloodTypeBPos,
	BloodTypeABNeg, BloodTypeABPos,
}

// ParseBloodType преобразует строку в BloodType.
func ParseBloodType(s string) (BloodType, error) {
	if err := validation.BloodType(s); err != nil {
		return "", err
	}
	return BloodType(s), nil
}

// Valid сообщает, входит ли значение в закрытый набор групп крови.
func (b BloodType) Valid() bool {
	return validation.BloodType(string(b)) == nil
}

func (b BloodType) String() string { return string(b) }

// donatesTo задаёт таблицу совместимости, то есть кому может отдавать кровь каждая группа.
var donatesTo = map[BloodType][]BloodType{
	BloodTypeONeg:  {BloodTypeONeg, BloodTypeOPos, BloodTypeANeg, BloodTypeAPos, BloodTypeBNeg, BloodTypeBPos, BloodTypeABNeg, BloodTypeABPos},
	BloodTypeOPos:  {BloodTypeOPos, BloodTypeAPos, BloodTypeBPos, BloodTypeABPos},
	BloodTypeANeg:  {BloodTypeANeg, BloodTypeAPos, BloodTypeABNeg, BloodTypeABPos},
	BloodTypeAPos:  {BloodTypeAPos, BloodTypeABPos},
	BloodTypeBNeg:  {BloodTypeBNeg, BloodTypeBPos, BloodTypeABNeg, BloodTypeABPos},
	BloodTypeBPos:  {BloodTypeBPos, BloodTypeABPos},
	BloodTypeABNeg: {BloodTypeABNeg, BloodTypeABPos},
	BloodTypeABPos: {BloodTypeABPos},
}

// CanDonateTo сообщает, может ли донор с группой b отдавать кровь реципиенту.
func (b BloodType) CanDonateTo(recipient BloodType) bool {
	for _, t := range donatesTo[b] {
		if t == recipient {
			return true
		}
	}
	return false
}

// Recipients возвращает группы, которым может отдавать кровь b.
func (b BloodType) Recipients() []BloodType {
	res := make([]BloodType, len(donatesTo[b]))
	copy(res, donatesTo[b])
	return res
}

// CompatibleDonors возвращает группы, от которых может получать кровь recipient.
func CompatibleDonors(recipient BloodType) []BloodType {
	var res []BloodType
	for _, donor := range BloodTypes {
		if donor.CanDonateTo(recipient) {
			res = append(res, donor)
		}
	}
	return res
}

// Urgency описывает заявленную реципиентом срочность.
type Urgency string

const (
	UrgencyLow      Urgency = "low"
	UrgencyModerate Urgency = "moderate"
	UrgencyHigh     Urgency = "high"
	UrgencyCritical Urgency = "critical"
)

// ParseUrgency преобразует строку в Urgency.
func ParseUrgency(s string) (Urgency, error) {
	switch u := Urgency(s); u {
	case UrgencyLow, UrgencyModerate, UrgencyHigh, UrgencyCritical:
		return u, nil
	default:
		return "", fmt.Errorf("%w: unknown urgency %q", validation.ErrValidation, s)
	}
}

// SearchRadiusKm возвращает радиус поиска по умолчанию для уровня срочности.
func (u Urgency) SearchRadiusKm() float64 {
	switch u {
	case UrgencyCritical:
		return 50
	case UrgencyHigh:
		return 20
	case UrgencyLow:
		return 5
	default:
		return DefaultRadiusKm
	}
}
