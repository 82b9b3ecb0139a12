package repository

import (
	"context"
	"fmt"
	"io"
	"os"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/mmeshcher/pulsebank/internal/model"
	"github.com/mmeshcher/pulsebank/internal/validation"
)

// MemoryRepository хранит справочник доноров в памяти процесса.
type MemoryRepository struct {
	mu     sync.RWMutex
	donors map[string]model.Donor
}

// NewMemoryRepository создаёт репозиторий с начальным набором доноров.
// При повторе идентификатора остаётся последняя запись.
func NewMemoryRepository(donors ...model.Donor) *MemoryRepository {
	r := &MemoryRepository{donors: make(map[string]model.Donor, len(donors))}
	for _, d := range donors {
		r.donors[d.ID] = d
	}
	return r
}

// Close ничего не делает и существует для совместимости с PostgresRepository.
func (r *MemoryRepository) Close() error { return nil }

// CreateDonor сохраняет нового донора.
func (r *MemoryRepository) CreateDonor(_ context.Context, d model.Donor) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.donors[d.ID]; ok {
		return fmt.Errorf("%w: %s", ErrDonorExists, d.ID)
	}
	r.donors[d.ID] = d
	return nil
}

// GetDonor возвращает донора по идентификатору.
func (r *MemoryRepository) GetDonor(_ context.Context, id string) (*model.Donor, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	d, ok := r.donors[id]
	if !ok {
		return nil, ErrDonorNotFound
	}
	return &d, nil
}

// ListActiveDonors возвращает копию активных доноров, упорядоченную по идентификатору.
func (r *MemoryRepository) ListActiveDonors(_ context.Context, bloodType *model.BloodType) ([]model.Donor, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	res := make([]model.Donor, 0, len(r.donors))
	for _, d := range r.donors {
		if !d.Active {
			continue
		}
		if bloodType != nil && d.BloodType != *bloodType {
			continue
		}
		res = append(res, d)
	}

	slices.SortFunc(res, func(a, b model.Donor) int { return strings.Compare(a.ID, b.ID) })
	return res, nil
}

// CountActiveDonors возвращает количество активных доноров по группам крови.
func (r *MemoryRepository) CountActiveDonors(_ context.Context) (map[model.BloodType]int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	res := make(map[model.BloodType]int, len(model.BloodTypes))
	for _, d := range r.donors {
		if d.Active {
			res[d.BloodType]++
		}
	}
	return res, nil
}

// SetDonorActive меняет признак доступности донора для связи.
func (r *MemoryRepository) SetDonorActive(_ context.Context, id string, active bool) error {
	return r.update(id, func(d *model.Donor) { d.Active = active })
}

// RecordDonation фиксирует дату последней донации.
func (r *MemoryRepository) RecordDonation(_ context.Context, id string, at time.Time) error {
	return r.update(id, func(d *model.Donor) { d.LastDonationAt = &at })
}

// UpdateDonorLocation обновляет местоположение донора.
func (r *MemoryRepository) UpdateDonorLocation(_ context.Context, id string, loc model.Coordinate) error {
	return r.update(id, func(d *model.Donor) { d.Location = loc })
}

func (r *MemoryRepository) update(id string, fn func(d *model.Donor)) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	d, ok := r.donors[id]
	if !ok {
		return ErrDonorNotFound
	}
	fn(&d)
	r.donors[id] = d
	return nil
}

type donorRecord struct {
	ID               string  `yaml:"id"`
	Name             string  `yaml:"name"`
	BloodType        string  `yaml:"bloodType"`
	Latitude         float64 `yaml:"latitude"`
	Longitude        float64 `yaml:"longitude"`
	Active           *bool   `yaml:"active"`
	LastDonationDate string  `yaml:"lastDonationDate"`
}

type donorsFile struct {
	Donors []donorRecord `yaml:"donors"`
}

// DecodeDonorsYAML разбирает список доноров в формате YAML и проверяет каждую запись.
// Записи без id получают новый UUID; active по умолчанию true.
// Повторяющийся id отклоняется с ErrDonorExists.
func DecodeDonorsYAML(r io.Reader, now time.Time) ([]model.Donor, error) {
	var file donorsFile
	if err := yaml.NewDecoder(r).Decode(&file); err != nil && err != io.EOF {
		return nil, fmt.Errorf("decode donors yaml: %w", err)
	}

	res := make([]model.Donor, 0, len(file.Donors))
	seen := make(map[string]struct{}, len(file.Donors))
	for i, rec := range file.Donors {
		d, err := rec.toDonor(now)
		if err != nil {
			return nil, fmt.Errorf("donor #%d: %w", i+1, err)
		}
		if _, ok := seen[d.ID]; ok {
			return nil, fmt.Errorf("donor #%d: %w: %s", i+1, ErrDonorExists, d.ID)
		}
		seen[d.ID] = struct{}{}
		res = append(res, d)
	}
	return res, nil
}

func (rec donorRecord) toDonor(now time.Time) (model.Donor, error) {
	id := rec.ID
	if id == "" {
		id = uuid.NewString()
	} else if err := validation.DonorID(id); err != nil {
		return model.Donor{}, err
	}

	if err := validation.DonorName(rec.Name); err != nil {
		return model.Donor{}, err
	}

	bt, err := model.ParseBloodType(rec.BloodType)
	if err != nil {
		return model.Donor{}, err
	}

	loc, err := model.NewCoordinate(rec.Latitude, rec.Longitude)
	if err != nil {
		return model.Donor{}, err
	}

	active := true
	if rec.Active != nil {
		active = *rec.Active
	}

	var last *time.Time
	if rec.LastDonationDate != "" {
		t, err := time.Parse(time.DateOnly, rec.LastDonationDate)
		if err != nil {
			return model.Donor{}, fmt.Errorf("parse lastDonationDate: %w", err)
		}
		last = &t
	}

	return model.Donor{
		ID:             id,
		Name:           strings.TrimSpace(rec.Name),
		BloodType:      bt,
		Location:       loc,
		Active:         active,
		LastDonationAt: last,
		CreatedAt:      now,
	}, nil
}

// LoadDonorsYAML читает файл со списком доноров.
func LoadDonorsYAML(path string, now time.Time) ([]model.Donor, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open donors file: %w", err)
	}
	defer f.Close()

	return DecodeDonorsYAML(f, now)
}
