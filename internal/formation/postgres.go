package formation

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/lib/pq"

	apperrors "github.com/Adithya-Monish-Kumar-K/formation-assignment/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/formation-assignment/pkg/postgres"
)

// uniqueViolation is the PostgreSQL SQLSTATE for duplicate keys.
const uniqueViolation = "23505"

// PostgresStore keeps formations in the `formations` table created by
// postgres.Client.Migrate. Slots are stored as a JSONB array of [x, y].
type PostgresStore struct {
	db     *postgres.Client
	logger *slog.Logger
}

func NewPostgresStore(db *postgres.Client) *PostgresStore {
	return &PostgresStore{
		db:     db,
		logger: slog.Default().With("component", "formation-store"),
	}
}

func (s *PostgresStore) Get(ctx context.Context, name string) (*Formation, error) {
	var (
		f    Formation
		data []byte
	)
	err := s.db.DB.QueryRowContext(ctx,
		`SELECT name, slots, created_at FROM formations WHERE name = $1`, name,
	).Scan(&f.Name, &data, &f.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %q", apperrors.ErrFormationNotFound, name)
	}
	if err != nil {
		return nil, fmt.Errorf("querying formation %q: %w", name, err)
	}
	if err := json.Unmarshal(data, &f.Slots); err != nil {
		return nil, fmt.Errorf("decoding slots of %q: %w", name, err)
	}
	return &f, nil
}

func (s *PostgresStore) List(ctx context.Context) ([]Formation, error) {
	rows, err := s.db.DB.QueryContext(ctx,
		`SELECT name, slots, created_at FROM formations ORDER BY name`,
	)
	if err != nil {
		return nil, fmt.Errorf("listing formations: %w", err)
	}
	defer rows.Close()

	var out []Formation
	for rows.Next() {
		var (
			f    Formation
			data []byte
		)
		if err := rows.Scan(&f.Name, &data, &f.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning formation row: %w", err)
		}
		if err := json.Unmarshal(data, &f.Slots); err != nil {
			s.logger.Warn("skipping corrupt formation", "name", f.Name, "error", err)
			continue
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

func (s *PostgresStore) Save(ctx context.Context, f Formation) error {
	data, err := json.Marshal(f.Slots)
	if err != nil {
		return fmt.Errorf("encoding slots: %w", err)
	}
	_, err = s.db.DB.ExecContext(ctx,
		`INSERT INTO formations (name, slots) VALUES ($1, $2)`,
		f.Name, data,
	)
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && string(pqErr.Code) == uniqueViolation {
		return fmt.Errorf("%w: %q", apperrors.ErrFormationExists, f.Name)
	}
	if err != nil {
		return fmt.Errorf("inserting formation %q: %w", f.Name, err)
	}
	s.logger.Info("formation saved", "name", f.Name, "slots", len(f.Slots))
	return nil
}

func (s *PostgresStore) Delete(ctx context.Context, name string) error {
	res, err := s.db.DB.ExecContext(ctx, `DELETE FROM formations WHERE name = $1`, name)
	if err != nil {
		return fmt.Errorf("deleting formation %q: %w", name, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("deleting formation %q: %w", name, err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %q", apperrors.ErrFormationNotFound, name)
	}
	return nil
}

var (
	_ Store = (*PostgresStore)(nil)
	_ Store = (*MemoryStore)(nil)
)
