package profile

import (
	"context"
	"errors"

	"github.com/evangomez/FairFuel/internal/db"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

var (
	// ErrProfileExists is returned when onboarding runs a second time.
	ErrProfileExists = errors.New("driver profile already configured")
	// ErrNoProfile is returned when no profile has been created yet.
	ErrNoProfile = errors.New("no driver profile configured")
)

type Service struct {
	db db.Querier
}

func NewService(db db.Querier) *Service {
	return &Service{db: db}
}

// Create sets up the local driver profile. There is exactly one per
// installation; a second create fails with ErrProfileExists.
func (s *Service) Create(ctx context.Context, name string) (Profile, error) {
	if _, err := s.Local(ctx); err == nil {
		return Profile{}, ErrProfileExists
	} else if !errors.Is(err, ErrNoProfile) {
		return Profile{}, err
	}

	p := Profile{ID: uuid.NewString(), Name: name}
	row := s.db.QueryRow(ctx, `
		INSERT INTO driver_profiles (id, name)
		VALUES ($1,$2)
		RETURNING created_at
	`, p.ID, p.Name)
	if err := row.Scan(&p.CreatedAt); err != nil {
		return Profile{}, err
	}
	return p, nil
}

// Local returns the installation's driver profile.
func (s *Service) Local(ctx context.Context) (Profile, error) {
	row := s.db.QueryRow(ctx, `
		SELECT id, name, created_at
		FROM driver_profiles
		ORDER BY created_at
		LIMIT 1
	`)
	var p Profile
	if err := row.Scan(&p.ID, &p.Name, &p.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Profile{}, ErrNoProfile
		}
		return Profile{}, err
	}
	return p, nil
}
