package httpapi

import (
	"errors"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/urbanflux/netatmo-ingest/internal/store"
)

// RegisterRoutes wires the observability endpoints into the Fiber app.
// These run beside the poller and only read through the store, so they
// never touch the poller's own state.
func RegisterRoutes(app *fiber.App, st store.DeviceStore) {
	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status":  "ok",
			"service": "netatmo-ingest",
		})
	})

	v1 := app.Group("/api/v1")

	v1.Get("/fleet", func(c *fiber.Ctx) error {
		count, err := st.Count(c.Context())
		if err != nil {
			return fiber.NewError(fiber.StatusInternalServerError, "failed to count devices")
		}

		resp := fiber.Map{"devices": count}

		oldest, err := st.GetOldestLastChecked(c.Context())
		switch {
		case err == nil:
			resp["oldestDeviceId"] = oldest.DeviceID
			resp["oldestLastChecked"] = oldest.LastChecked.UTC().Format(time.RFC3339)
		case errors.Is(err, store.ErrDeviceNotFound):
			// An empty fleet is a valid state, not an error.
		default:
			return fiber.NewError(fiber.StatusInternalServerError, "failed to find the oldest checked device")
		}

		return c.JSON(resp)
	})
}
