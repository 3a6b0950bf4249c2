// handlers/catalog_routes.go
package handlers

import (
	"github.com/gofiber/fiber/v2"

	"nft-reward-system/services"
)

func SetupCatalogRoutes(app fiber.Router, admin fiber.Router, catalog *services.CatalogService) {
	app.Get("/catalog/stock", func(c *fiber.Ctx) error {
		stock, err := catalog.Stock(c.UserContext())
		if err != nil {
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "failed to load stock"})
		}
		return c.JSON(fiber.Map{"stock": stock})
	})

	admin.Post("/catalog-items", func(c *fiber.Ctx) error {
		var req struct {
			Items []services.NewCatalogItem `json:"items"`
		}
		if err := c.BodyParser(&req); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid JSON", "details": err.Error()})
		}
		if len(req.Items) == 0 {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "items must not be empty"})
		}
		created, err := catalog.CreateItems(c.UserContext(), req.Items)
		if err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
		}
		return c.Status(fiber.StatusCreated).JSON(fiber.Map{
			"created": created,
			"skipped": int64(len(req.Items)) - created,
		})
	})
}
