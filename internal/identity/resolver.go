package identity

import (
	"context"
	"errors"
	"strings"

	"github.com/evangomez/FairFuel/internal/db"
	"github.com/evangomez/FairFuel/internal/profile"
	"github.com/evangomez/FairFuel/internal/vehicle"

	"github.com/jackc/pgx/v5"
)

var (
	ErrUnknownVehicle      = errors.New("no vehicle matches this tag")
	ErrNoProfileConfigured = profile.ErrNoProfile
	ErrInvalidTagPayload   = errors.New("tag does not carry a valid vehicle URI")
)

// Resolver answers the two questions asked at session-start time: which
// vehicle does this proximity ID belong to, and who is the local driver.
// It is never consulted mid-session.
type Resolver struct {
	db       db.Querier
	profiles *profile.Service
}

func NewResolver(db db.Querier, profiles *profile.Service) *Resolver {
	return &Resolver{db: db, profiles: profiles}
}

// ParseTagURI validates a raw NFC payload and returns the vehicle tag URI.
func ParseTagURI(raw string) (string, error) {
	if !strings.HasPrefix(raw, vehicle.TagURIPrefix) {
		return "", ErrInvalidTagPayload
	}
	return raw, nil
}

func (r *Resolver) VehicleByProximityID(ctx context.Context, proximityID string) (vehicle.Vehicle, error) {
	row := r.db.QueryRow(ctx, `
		SELECT id, name, proximity_id, liters_per_100km, created_at
		FROM vehicles WHERE proximity_id=$1
	`, proximityID)
	var v vehicle.Vehicle
	if err := row.Scan(&v.ID, &v.Name, &v.ProximityID, &v.LitersPer100Km, &v.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return vehicle.Vehicle{}, ErrUnknownVehicle
		}
		return vehicle.Vehicle{}, err
	}
	return v, nil
}

func (r *Resolver) LocalProfile(ctx context.Context) (profile.Profile, error) {
	return r.profiles.Local(ctx)
}
