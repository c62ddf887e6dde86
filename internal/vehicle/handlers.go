package vehicle

import (
	"errors"

	"github.com/gofiber/fiber/v2"
)

// Monitor is how vehicle lifecycle changes reach the proximity watcher:
// a created vehicle is watched right away, a deleted one stops being
// watched.
type Monitor interface {
	BeginMonitoring(proximityID string)
	StopMonitoring(proximityID string)
}

func RegisterRoutes(r fiber.Router, svc *Service, monitor Monitor, authMiddleware fiber.Handler) {
	r.Post("/", authMiddleware, func(c *fiber.Ctx) error {
		var req Vehicle
		if err := c.BodyParser(&req); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}
		if req.Name == "" {
			return fiber.NewError(fiber.StatusBadRequest, "name required")
		}
		v, err := svc.Create(c.Context(), req)
		if err != nil {
			return fiber.NewError(fiber.StatusInternalServerError, err.Error())
		}
		if monitor != nil {
			monitor.BeginMonitoring(v.ProximityID)
		}
		return c.Status(fiber.StatusCreated).JSON(v)
	})

	r.Get("/", authMiddleware, func(c *fiber.Ctx) error {
		vehicles, err := svc.List(c.Context())
		if err != nil {
			return fiber.NewError(fiber.StatusInternalServerError, err.Error())
		}
		return c.JSON(vehicles)
	})

	r.Get("/:id", authMiddleware, func(c *fiber.Ctx) error {
		v, err := svc.Get(c.Context(), c.Params("id"))
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				return fiber.NewError(fiber.StatusNotFound, err.Error())
			}
			return fiber.NewError(fiber.StatusInternalServerError, err.Error())
		}
		return c.JSON(v)
	})

	r.Patch("/:id", authMiddleware, func(c *fiber.Ctx) error {
		var req Vehicle
		if err := c.BodyParser(&req); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}
		v, err := svc.Update(c.Context(), c.Params("id"), req)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				return fiber.NewError(fiber.StatusNotFound, err.Error())
			}
			return fiber.NewError(fiber.StatusInternalServerError, err.Error())
		}
		return c.JSON(v)
	})

	r.Delete("/:id", authMiddleware, func(c *fiber.Ctx) error {
		v, err := svc.Get(c.Context(), c.Params("id"))
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				return fiber.NewError(fiber.StatusNotFound, err.Error())
			}
			return fiber.NewError(fiber.StatusInternalServerError, err.Error())
		}
		if err := svc.Delete(c.Context(), v.ID); err != nil {
			return fiber.NewError(fiber.StatusInternalServerError, err.Error())
		}
		if monitor != nil {
			monitor.StopMonitoring(v.ProximityID)
		}
		return c.SendStatus(fiber.StatusNoContent)
	})
}
