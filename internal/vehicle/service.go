package vehicle

import (
	"context"
	"errors"

	"github.com/evangomez/FairFuel/internal/db"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// TagURIPrefix is the scheme written to NFC vehicle tags.
const TagURIPrefix = "fairfuel://vehicle/"

var ErrNotFound = errors.New("vehicle not found")

type Service struct {
	db db.Querier
}

func NewService(db db.Querier) *Service {
	return &Service{db: db}
}

// Create registers a vehicle. When no proximity ID is supplied a fresh
// NFC tag URI is generated so the setup flow can program a blank tag.
func (s *Service) Create(ctx context.Context, input Vehicle) (Vehicle, error) {
	input.ID = uuid.NewString()
	if input.ProximityID == "" {
		input.ProximityID = TagURIPrefix + uuid.NewString()
	}
	if input.LitersPer100Km <= 0 {
		input.LitersPer100Km = DefaultLitersPer100Km
	}

	row := s.db.QueryRow(ctx, `
		INSERT INTO vehicles (id, name, proximity_id, liters_per_100km)
		VALUES ($1,$2,$3,$4)
		RETURNING created_at
	`, input.ID, input.Name, input.ProximityID, input.LitersPer100Km)
	if err := row.Scan(&input.CreatedAt); err != nil {
		return Vehicle{}, err
	}
	return input, nil
}

func (s *Service) Get(ctx context.Context, id string) (Vehicle, error) {
	row := s.db.QueryRow(ctx, `
		SELECT id, name, proximity_id, liters_per_100km, created_at
		FROM vehicles WHERE id=$1
	`, id)
	var v Vehicle
	if err := row.Scan(&v.ID, &v.Name, &v.ProximityID, &v.LitersPer100Km, &v.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Vehicle{}, ErrNotFound
		}
		return Vehicle{}, err
	}
	return v, nil
}

func (s *Service) List(ctx context.Context) ([]Vehicle, error) {
	rows, err := s.db.Query(ctx, `
		SELECT id, name, proximity_id, liters_per_100km, created_at
		FROM vehicles ORDER BY created_at
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var vehicles []Vehicle
	for rows.Next() {
		var v Vehicle
		if err := rows.Scan(&v.ID, &v.Name, &v.ProximityID, &v.LitersPer100Km, &v.CreatedAt); err != nil {
			return nil, err
		}
		vehicles = append(vehicles, v)
	}
	return vehicles, nil
}

func (s *Service) Update(ctx context.Context, id string, patch Vehicle) (Vehicle, error) {
	v, err := s.Get(ctx, id)
	if err != nil {
		return Vehicle{}, err
	}
	if patch.Name != "" {
		v.Name = patch.Name
	}
	if patch.LitersPer100Km > 0 {
		v.LitersPer100Km = patch.LitersPer100Km
	}

	_, err = s.db.Exec(ctx, `
		UPDATE vehicles SET name=$2, liters_per_100km=$3 WHERE id=$1
	`, v.ID, v.Name, v.LitersPer100Km)
	if err != nil {
		return Vehicle{}, err
	}
	return v, nil
}

// Delete removes a vehicle. Sessions keep their trip history: the vehicle
// reference is nullified, never cascade-deleted.
func (s *Service) Delete(ctx context.Context, id string) error {
	if _, err := s.db.Exec(ctx, `UPDATE driving_sessions SET vehicle_id=NULL WHERE vehicle_id=$1`, id); err != nil {
		return err
	}
	_, err := s.db.Exec(ctx, `DELETE FROM vehicles WHERE id=$1`, id)
	return err
}
