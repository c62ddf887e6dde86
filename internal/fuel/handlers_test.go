package fuel

import (
	"bytes"
	"encoding/json"
	"math"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/evangomez/FairFuel/internal/session"

	"github.com/gofiber/fiber/v2"
	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v3"
)

func passthrough(c *fiber.Ctx) error { return c.Next() }

func TestFuelHandlersCreateAndGet(t *testing.T) {
	mock, err := pgxmock.NewPool(pgxmock.QueryMatcherOption(pgxmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("mock pool: %v", err)
	}
	defer mock.Close()

	date := time.Date(2026, 5, 10, 9, 0, 0, 0, time.UTC)
	mock.ExpectQuery(`INSERT INTO fuel_entries`).
		WithArgs(pgxmock.AnyArg(), pgxmock.AnyArg(), 40.0, 76.0, 0.0).
		WillReturnRows(pgxmock.NewRows([]string{"entry_date"}).AddRow(date))

	app := fiber.New()
	RegisterRoutes(app.Group("/fuel"), NewService(mock, session.NewStore(mock)), passthrough)

	body, _ := json.Marshal(Entry{Liters: 40, TotalCost: 76})
	req := httptest.NewRequest(http.MethodPost, "/fuel/", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	resp, err := app.Test(req)
	if err != nil || resp.StatusCode != http.StatusCreated {
		t.Fatalf("create entry status: %v", err)
	}

	mock.ExpectQuery(`SELECT id, entry_date`).
		WithArgs("entry-1").
		WillReturnRows(pgxmock.NewRows([]string{"id", "entry_date", "liters", "total_cost", "odometer"}).
			AddRow("entry-1", date, 40.0, 76.0, 0.0))

	req = httptest.NewRequest(http.MethodGet, "/fuel/entry-1", nil)
	resp, err = app.Test(req)
	if err != nil || resp.StatusCode != http.StatusOK {
		t.Fatalf("get entry status: %v", err)
	}

	var out struct {
		Entry        Entry   `json:"entry"`
		CostPerLiter float64 `json:"cost_per_liter"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if math.Abs(out.CostPerLiter-1.9) > 1e-9 {
		t.Fatalf("expected cost per liter 1.9, got %v", out.CostPerLiter)
	}
}

func TestFuelHandlersCreateRejectsNonPositive(t *testing.T) {
	app := fiber.New()
	RegisterRoutes(app.Group("/fuel"), NewService(nil, nil), passthrough)

	body, _ := json.Marshal(Entry{Liters: 0, TotalCost: 50})
	req := httptest.NewRequest(http.MethodPost, "/fuel/", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	resp, _ := app.Test(req)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected bad request, got %d", resp.StatusCode)
	}
}

func TestFuelHandlersAllocation(t *testing.T) {
	mock, err := pgxmock.NewPool(pgxmock.QueryMatcherOption(pgxmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("mock pool: %v", err)
	}
	defer mock.Close()

	from := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	to := time.Date(2026, 5, 31, 0, 0, 0, 0, time.UTC)
	date := from.Add(12 * time.Hour)
	end1 := from.Add(2 * time.Hour)
	end2 := from.Add(4 * time.Hour)

	mock.ExpectQuery(`SELECT id, entry_date`).
		WithArgs("entry-1").
		WillReturnRows(pgxmock.NewRows([]string{"id", "entry_date", "liters", "total_cost", "odometer"}).
			AddRow("entry-1", date, 40.0, 50.0, 0.0))

	// two finalized sessions with a 2:3 consumption split
	mock.ExpectQuery(`SELECT id, driver_id`).
		WithArgs(from, to).
		WillReturnRows(pgxmock.NewRows([]string{"id", "driver_id", "vehicle_id", "start_time", "end_time",
			"distance_km", "idle_seconds", "aggressive_accel_events", "hard_brake_events", "estimated_fuel_liters"}).
			AddRow("sess-1", "alice", "veh-1", from, &end1, 21.3, 0.0, 0, 0, 2.0).
			AddRow("sess-2", "bob", "veh-1", from, &end2, 31.9, 0.0, 0, 0, 3.0))

	app := fiber.New()
	RegisterRoutes(app.Group("/fuel"), NewService(mock, session.NewStore(mock)), passthrough)

	query := url.Values{}
	query.Set("from", from.Format(time.RFC3339))
	query.Set("to", to.Format(time.RFC3339))
	req := httptest.NewRequest(http.MethodGet, "/fuel/entry-1/allocation?"+query.Encode(), nil)
	resp, err := app.Test(req)
	if err != nil || resp.StatusCode != http.StatusOK {
		t.Fatalf("allocation status: %v", err)
	}

	var alloc Allocation
	if err := json.NewDecoder(resp.Body).Decode(&alloc); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if math.Abs(alloc.Shares["alice"]-20.0) > 1e-9 || math.Abs(alloc.Shares["bob"]-30.0) > 1e-9 {
		t.Fatalf("unexpected shares: %v", alloc.Shares)
	}
}

func TestFuelHandlersAllocationBadWindow(t *testing.T) {
	app := fiber.New()
	RegisterRoutes(app.Group("/fuel"), NewService(nil, nil), passthrough)

	req := httptest.NewRequest(http.MethodGet, "/fuel/entry-1/allocation?from=yesterday&to=today", nil)
	resp, _ := app.Test(req)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected bad request, got %d", resp.StatusCode)
	}
}

func TestFuelHandlersGetNotFound(t *testing.T) {
	mock, err := pgxmock.NewPool(pgxmock.QueryMatcherOption(pgxmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("mock pool: %v", err)
	}
	defer mock.Close()

	mock.ExpectQuery(`SELECT id, entry_date`).
		WithArgs("missing").
		WillReturnError(pgx.ErrNoRows)

	app := fiber.New()
	RegisterRoutes(app.Group("/fuel"), NewService(mock, nil), passthrough)

	req := httptest.NewRequest(http.MethodGet, "/fuel/missing", nil)
	resp, _ := app.Test(req)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected not found, got %d", resp.StatusCode)
	}
}
