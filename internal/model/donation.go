package model

import (
	"fmt"
	"time"

	"github.com/mmeshcher/pulsebank/internal/validation"
)

// DonationKind описывает вид донации.
type DonationKind string

const (
	DonationWholeBlood DonationKind = "whole_blood"
	DonationRedCells   DonationKind = "red_cells"
	DonationPlasma     DonationKind = "plasma"
	DonationPlatelets  DonationKind = "platelets"
)

// Минимальные интервалы между донациями в днях.
var donationIntervalDays = map[DonationKind]int{
	DonationWholeBlood: 56,
	DonationRedCells:   112,
	DonationPlasma:     2,
	DonationPlatelets:  2,
}

// ParseDonationKind преобразует строку в DonationKind.
func ParseDonationKind(s string) (DonationKind, error) {
	k := DonationKind(s)
	if _, ok := donationIntervalDays[k]; !ok {
		return "", fmt.Errorf("%w: unknown donation kind %q", validation.ErrValidation, s)
	}
	return k, nil
}

// IntervalDays возвращает минимальный интервал до следующей донации.
func (k DonationKind) IntervalDays() int {
	return donationIntervalDays[k]
}

// NextEligibleAt возвращает дату, начиная с которой донор снова может сдать kind.
// nil означает, что донаций не было и ограничений нет.
func (d Donor) NextEligibleAt(kind DonationKind) *time.Time {
	if d.LastDonationAt == nil {
		return nil
	}
	next := d.LastDonationAt.AddDate(0, 0, kind.IntervalDays())
	return &next
}
