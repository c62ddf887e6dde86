package fuel

import (
	"context"
	"errors"
	"time"

	"github.com/evangomez/FairFuel/internal/db"
	"github.com/evangomez/FairFuel/internal/session"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

var ErrEntryNotFound = errors.New("fuel entry not found")

type Service struct {
	db       db.Querier
	sessions *session.Store
}

func NewService(db db.Querier, sessions *session.Store) *Service {
	return &Service{db: db, sessions: sessions}
}

func (s *Service) Create(ctx context.Context, input Entry) (Entry, error) {
	input.ID = uuid.NewString()
	if input.Date.IsZero() {
		input.Date = time.Now()
	}

	row := s.db.QueryRow(ctx, `
		INSERT INTO fuel_entries (id, entry_date, liters, total_cost, odometer)
		VALUES ($1,$2,$3,$4,NULLIF($5,0))
		RETURNING entry_date
	`, input.ID, input.Date, input.Liters, input.TotalCost, input.Odometer)
	if err := row.Scan(&input.Date); err != nil {
		return Entry{}, err
	}
	return input, nil
}

func (s *Service) Get(ctx context.Context, id string) (Entry, error) {
	row := s.db.QueryRow(ctx, `
		SELECT id, entry_date, liters, total_cost, COALESCE(odometer,0)
		FROM fuel_entries WHERE id=$1
	`, id)
	var e Entry
	if err := row.Scan(&e.ID, &e.Date, &e.Liters, &e.TotalCost, &e.Odometer); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Entry{}, ErrEntryNotFound
		}
		return Entry{}, err
	}
	return e, nil
}

func (s *Service) List(ctx context.Context) ([]Entry, error) {
	rows, err := s.db.Query(ctx, `
		SELECT id, entry_date, liters, total_cost, COALESCE(odometer,0)
		FROM fuel_entries ORDER BY entry_date DESC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.ID, &e.Date, &e.Liters, &e.TotalCost, &e.Odometer); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, nil
}

func (s *Service) Delete(ctx context.Context, id string) error {
	_, err := s.db.Exec(ctx, `DELETE FROM fuel_entries WHERE id=$1`, id)
	return err
}

// Allocation is the per-driver split of one fuel entry's cost.
type Allocation struct {
	EntryID string             `json:"entry_id"`
	From    time.Time          `json:"from"`
	To      time.Time          `json:"to"`
	Shares  map[string]float64 `json:"shares"`
}

// Allocate splits the entry's cost across the finalized sessions driven
// between from and to, proportionally to estimated consumption.
func (s *Service) Allocate(ctx context.Context, entryID string, from, to time.Time) (Allocation, error) {
	entry, err := s.Get(ctx, entryID)
	if err != nil {
		return Allocation{}, err
	}
	sessions, err := s.sessions.Between(ctx, from, to)
	if err != nil {
		return Allocation{}, err
	}

	return Allocation{
		EntryID: entry.ID,
		From:    from,
		To:      to,
		Shares:  AllocateCost(entry, sessions),
	}, nil
}
