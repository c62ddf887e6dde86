package orchestrator

import (
	"errors"
	"time"

	"github.com/evangomez/FairFuel/internal/identity"
	"github.com/evangomez/FairFuel/internal/motion"

	"github.com/gofiber/fiber/v2"
)

// RegisterIngestRoutes exposes the raw sensor feed the device posts to.
func RegisterIngestRoutes(r fiber.Router, o *Orchestrator, authMiddleware fiber.Handler) {
	r.Post("/proximity", authMiddleware, func(c *fiber.Ctx) error {
		var req struct {
			ProximityID string `json:"proximity_id"`
			Kind        string `json:"kind"`
			Inside      bool   `json:"inside"`
			Visible     bool   `json:"visible"`
		}
		if err := c.BodyParser(&req); err != nil || req.ProximityID == "" {
			return fiber.NewError(fiber.StatusBadRequest, "proximity_id and kind required")
		}

		switch req.Kind {
		case "region":
			o.ReportRegion(req.ProximityID, req.Inside)
		case "sighting":
			o.ReportSighting(req.ProximityID, req.Visible)
		case "failure":
			o.ReportFailure(req.ProximityID)
		default:
			return fiber.NewError(fiber.StatusBadRequest, "kind must be region, sighting or failure")
		}
		return c.SendStatus(fiber.StatusAccepted)
	})

	r.Post("/location", authMiddleware, func(c *fiber.Ctx) error {
		var req struct {
			Lat        float64   `json:"lat"`
			Lng        float64   `json:"lng"`
			SpeedMps   float64   `json:"speed_mps"`
			AccuracyM  float64   `json:"accuracy_m"`
			RecordedAt time.Time `json:"recorded_at"`
		}
		if err := c.BodyParser(&req); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}
		o.OfferLocation(motion.Sample{
			Timestamp: req.RecordedAt,
			Lat:       req.Lat,
			Lng:       req.Lng,
			SpeedMps:  req.SpeedMps,
			AccuracyM: req.AccuracyM,
		})
		return c.SendStatus(fiber.StatusAccepted)
	})

	r.Post("/tag", authMiddleware, func(c *fiber.Ctx) error {
		var req struct {
			Payload string `json:"payload"`
		}
		if err := c.BodyParser(&req); err != nil || req.Payload == "" {
			return fiber.NewError(fiber.StatusBadRequest, "payload required")
		}

		snap, err := o.StartByTag(c.Context(), req.Payload)
		if err != nil {
			return fiber.NewError(tagStartStatus(err), err.Error())
		}
		return c.Status(fiber.StatusCreated).JSON(snap)
	})
}

// RegisterSessionRoutes exposes manual control and the live state.
func RegisterSessionRoutes(r fiber.Router, o *Orchestrator, authMiddleware fiber.Handler) {
	r.Post("/end", authMiddleware, func(c *fiber.Ctx) error {
		return c.JSON(o.EndSession())
	})

	r.Get("/state", authMiddleware, func(c *fiber.Ctx) error {
		return c.JSON(o.Snapshot())
	})
}

func tagStartStatus(err error) int {
	switch {
	case errors.Is(err, identity.ErrInvalidTagPayload):
		return fiber.StatusBadRequest
	case errors.Is(err, ErrTagStartDisabled):
		return fiber.StatusBadRequest
	case errors.Is(err, identity.ErrUnknownVehicle):
		return fiber.StatusNotFound
	case errors.Is(err, identity.ErrNoProfileConfigured):
		return fiber.StatusConflict
	case errors.Is(err, ErrSessionInProgress):
		return fiber.StatusConflict
	default:
		return fiber.StatusInternalServerError
	}
}
