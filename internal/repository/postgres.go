// Package repository содержит реализации справочника доноров.
package repository

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"strings"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"

	"github.com/mmeshcher/pulsebank/internal/model"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

var (
	// ErrDonorNotFound возвращается, если донор не найден.
	ErrDonorNotFound = errors.New("donor not found")
	// ErrDonorExists возвращается при повторном создании донора с тем же идентификатором.
	ErrDonorExists = errors.New("donor already exists")
)

var psql = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)

// PostgresRepository хранит справочник доноров в PostgreSQL.
type PostgresRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresRepository создаёт репозиторий и применяет миграции схемы.
func NewPostgresRepository(dsn string) (*PostgresRepository, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse pool config: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	r := &PostgresRepository{pool: pool}

	if err := r.runMigrations(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	return r, nil
}

func (r *PostgresRepository) runMigrations(ctx context.Context) error {
	db := stdlib.OpenDBFromPool(r.pool)
	defer db.Close()

	goose.SetBaseFS(migrationsFS)

	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("set dialect: %w", err)
	}

	if err := goose.UpContext(ctx, db, "migrations"); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}

	return nil
}

var retryDelays = []time.Duration{1 * time.Second, 3 * time.Second, 5 * time.Second}

func withRetry(ctx context.Context, fn func() error) error {
	var err error

	for i := 0; i <= len(retryDelays); i++ {
		err = fn()
		if err == nil || !isRetryable(err) || i == len(retryDelays) {
			return err
		}

		timer := time.NewTimer(retryDelays[i])
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
	return err
}

func isRetryable(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgerrcode.SerializationFailure ||
			pgErr.Code == pgerrcode.DeadlockDetected ||
			pgerrcode.IsConnectionException(pgErr.Code)
	}

	return isConnectionError(err)
}

func isConnectionError(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "connection refused") ||
		strings.Contains(msg, "broken pipe") ||
		strings.Contains(msg, "connection reset by peer")
}

// Close закрывает пул соединений с БД.
func (r *PostgresRepository) Close() error {
	r.pool.Close()
	return nil
}

// CreateDonor сохраняет нового донора.
func (r *PostgresRepository) CreateDonor(ctx context.Context, d model.Donor) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO donors (id, name, blood_type, latitude, longitude, active, last_donation_at, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		d.ID, d.Name, string(d.BloodType), d.Location.Lat(), d.Location.Lon(), d.Active, d.LastDonationAt, d.CreatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
			return fmt.Errorf("%w: %s", ErrDonorExists, d.ID)
		}
		return fmt.Errorf("create donor: %w", err)
	}
	return nil
}

const donorColumns = "id, name, blood_type, latitude, longitude, active, last_donation_at, created_at"

// GetDonor возвращает донора по идентификатору.
func (r *PostgresRepository) GetDonor(ctx context.Context, id string) (*model.Donor, error) {
	var d model.Donor
	err := withRetry(ctx, func() error {
		row := r.pool.QueryRow(ctx, `SELECT `+donorColumns+` FROM donors WHERE id = $1`, id)
		var scanErr error
		d, scanErr = scanDonor(row)
		return scanErr
	})
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrDonorNotFound
		}
		return nil, fmt.Errorf("get donor: %w", err)
	}
	return &d, nil
}

// listActiveQuery строит запрос выборки активных доноров с необязательным фильтром по группе.
func listActiveQuery(bloodType *model.BloodType) (string, []any, error) {
	q := psql.Select(donorColumns).
		From("donors").
		Where(sq.Eq{"active": true}).
		OrderBy("id")

	if bloodType != nil {
		q = q.Where(sq.Eq{"blood_type": string(*bloodType)})
	}

	return q.ToSql()
}

// ListActiveDonors возвращает активных доноров, при необходимости только заданной группы.
func (r *PostgresRepository) ListActiveDonors(ctx context.Context, bloodType *model.BloodType) ([]model.Donor, error) {
	query, args, err := listActiveQuery(bloodType)
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}

	var res []model.Donor
	err = withRetry(ctx, func() error {
		rows, err := r.pool.Query(ctx, query, args...)
		if err != nil {
			return err
		}
		defer rows.Close()

		res = res[:0]
		for rows.Next() {
			d, err := scanDonor(rows)
			if err != nil {
				return err
			}
			res = append(res, d)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, fmt.Errorf("select active donors: %w", err)
	}

	return res, nil
}

// countActiveQuery строит запрос подсчёта активных доноров по группам крови.
func countActiveQuery() (string, []any, error) {
	return psql.Select("blood_type", "COUNT(*)").
		From("donors").
		Where(sq.Eq{"active": true}).
		GroupBy("blood_type").
		ToSql()
}

// CountActiveDonors возвращает количество активных доноров по группам крови.
func (r *PostgresRepository) CountActiveDonors(ctx context.Context) (map[model.BloodType]int, error) {
	query, args, err := countActiveQuery()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}

	res := make(map[model.BloodType]int, len(model.BloodTypes))
	err = withRetry(ctx, func() error {
		rows, err := r.pool.Query(ctx, query, args...)
		if err != nil {
			return err
		}
		defer rows.Close()

		for rows.Next() {
			var (
				bt    string
				count int
			)
			if err := rows.Scan(&bt, &count); err != nil {
				return err
			}
			res[model.BloodType(bt)] = count
		}
		return rows.Err()
	})
	if err != nil {
		return nil, fmt.Errorf("count active donors: %w", err)
	}

	return res, nil
}

// SetDonorActive меняет признак доступности донора для связи.
func (r *PostgresRepository) SetDonorActive(ctx context.Context, id string, active bool) error {
	return r.update(ctx, `UPDATE donors SET active = $2 WHERE id = $1`, id, active)
}

// RecordDonation фиксирует дату последней донации.
func (r *PostgresRepository) RecordDonation(ctx context.Context, id string, at time.Time) error {
	return r.update(ctx, `UPDATE donors SET last_donation_at = $2 WHERE id = $1`, id, at)
}

// UpdateDonorLocation обновляет местоположение донора.
func (r *PostgresRepository) UpdateDonorLocation(ctx context.Context, id string, loc model.Coordinate) error {
	return r.update(ctx, `UPDATE donors SET latitude = $2, longitude = $3 WHERE id = $1`, id, loc.Lat(), loc.Lon())
}

func (r *PostgresRepository) update(ctx context.Context, query string, args ...any) error {
	var cmdTag pgconn.CommandTag
	err := withRetry(ctx, func() error {
		var err error
		cmdTag, err = r.pool.Exec(ctx, query, args...)
		return err
	})
	if err != nil {
		return fmt.Errorf("update donor: %w", err)
	}
	if cmdTag.RowsAffected() == 0 {
		return ErrDonorNotFound
	}
	return nil
}

func scanDonor(row pgx.Row) (model.Donor, error) {
	var (
		d        model.Donor
		bt       string
		lat, lon float64
	)
	if err := row.Scan(&d.ID, &d.Name, &bt, &lat, &lon, &d.Active, &d.LastDonationAt, &d.CreatedAt); err != nil {
		return model.Donor{}, err
	}

	loc, err := model.NewCoordinate(lat, lon)
	if err != nil {
		return model.Donor{}, fmt.Errorf("donor %s: %w", d.ID, err)
	}
	d.Location = loc
	d.BloodType = model.BloodType(bt)

	return d, nil
}
