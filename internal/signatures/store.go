package signatures

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/aegis-sec/aegis/internal/models"
)

type PostgresStore struct {
	db *sqlx.DB
}

func NewPostgresStore(db *sqlx.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) GetSignature(ctx context.Context, id string) (*models.SignatureRecord, error) {
	var sig models.SignatureRecord
	err := s.db.GetContext(ctx, &sig, `
		SELECT id, name, description, severity, pattern, mitigation, active, created_at, updated_at
		FROM signatures WHERE id = $1
	`, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &sig, nil
}

func (s *PostgresStore) ListSignatures(ctx context.Context, activeOnly bool) ([]models.SignatureRecord, error) {
	query := `
		SELECT id, name, description, severity, pattern, mitigation, active, created_at, updated_at
		FROM signatures
	`
	if activeOnly {
		query += ` WHERE active = true`
	}
	query += ` ORDER BY severity DESC, name ASC`

	var sigs []models.SignatureRecord
	err := s.db.SelectContext(ctx, &sigs, query)
	return sigs, err
}

func (s *PostgresStore) CreateSignature(ctx context.Context, sig *models.SignatureRecord) error {
	if sig.ID == "" {
		sig.ID = uuid.New().String()
	}
	now := time.Now()
	sig.CreatedAt = now
	sig.UpdatedAt = now

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO signatures (id, name, description, severity, pattern, mitigation, active, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, sig.ID, sig.Name, sig.Description, string(sig.Severity), sig.Pattern, sig.Mitigation,
		sig.Active, sig.CreatedAt, sig.UpdatedAt)
	return err
}

func (s *PostgresStore) UpdateSignature(ctx context.Context, sig *models.SignatureRecord) error {
	sig.UpdatedAt = time.Now()
	_, err := s.db.ExecContext(ctx, `
		UPDATE signatures SET
			name = $2, description = $3, severity = $4, pattern = $5,
			mitigation = $6, active = $7, updated_at = $8
		WHERE id = $1
	`, sig.ID, sig.Name, sig.Description, string(sig.Severity), sig.Pattern,
		sig.Mitigation, sig.Active, sig.UpdatedAt)
	return err
}

func (s *PostgresStore) DeleteSignature(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM signatures WHERE id = $1`, id)
	return err
}
