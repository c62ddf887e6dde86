package fuel

import (
	"errors"
	"time"

	"github.com/gofiber/fiber/v2"
)

func RegisterRoutes(r fiber.Router, svc *Service, authMiddleware fiber.Handler) {
	r.Post("/", authMiddleware, func(c *fiber.Ctx) error {
		var req Entry
		if err := c.BodyParser(&req); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}
		if req.Liters <= 0 || req.TotalCost <= 0 {
			return fiber.NewError(fiber.StatusBadRequest, "liters and total_cost must be positive")
		}
		entry, err := svc.Create(c.Context(), req)
		if err != nil {
			return fiber.NewError(fiber.StatusInternalServerError, err.Error())
		}
		return c.Status(fiber.StatusCreated).JSON(entry)
	})

	r.Get("/", authMiddleware, func(c *fiber.Ctx) error {
		entries, err := svc.List(c.Context())
		if err != nil {
			return fiber.NewError(fiber.StatusInternalServerError, err.Error())
		}
		return c.JSON(entries)
	})

	r.Get("/:id", authMiddleware, func(c *fiber.Ctx) error {
		entry, err := svc.Get(c.Context(), c.Params("id"))
		if err != nil {
			if errors.Is(err, ErrEntryNotFound) {
				return fiber.NewError(fiber.StatusNotFound, err.Error())
			}
			return fiber.NewError(fiber.StatusInternalServerError, err.Error())
		}
		return c.JSON(fiber.Map{
			"entry":          entry,
			"cost_per_liter": entry.CostPerLiter(),
		})
	})

	r.Delete("/:id", authMiddleware, func(c *fiber.Ctx) error {
		if err := svc.Delete(c.Context(), c.Params("id")); err != nil {
			return fiber.NewError(fiber.StatusInternalServerError, err.Error())
		}
		return c.SendStatus(fiber.StatusNoContent)
	})

	r.Get("/:id/allocation", authMiddleware, func(c *fiber.Ctx) error {
		from, err := time.Parse(time.RFC3339, c.Query("from"))
		if err != nil {
			return fiber.NewError(fiber.StatusBadRequest, "from must be RFC3339")
		}
		to, err := time.Parse(time.RFC3339, c.Query("to"))
		if err != nil {
			return fiber.NewError(fiber.StatusBadRequest, "to must be RFC3339")
		}

		alloc, err := svc.Allocate(c.Context(), c.Params("id"), from, to)
		if err != nil {
			if errors.Is(err, ErrEntryNotFound) {
				return fiber.NewError(fiber.StatusNotFound, err.Error())
			}
			return fiber.NewError(fiber.StatusInternalServerError, err.Error())
		}
		return c.JSON(alloc)
	})
}
