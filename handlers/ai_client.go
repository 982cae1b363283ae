// handlers/ai_client.go
package handlers

import (
	"errors"

	"github.com/gofiber/fiber/v2"

	"ai-player-service/services"
)

// AIClientHandler exposes the registry to operator tooling.
type AIClientHandler struct {
	Registry *services.ClientRegistry
}

func SetupAIClientRoutes(app *fiber.App, registry *services.ClientRegistry) {
	h := &AIClientHandler{Registry: registry}

	app.Get("/ai-clients", h.List)
	app.Post("/ai-clients", h.Create)
	app.Post("/ai-clients/stop-all", h.StopAll)
	app.Get("/ai-clients/:id/activity", h.Activity)
	app.Post("/ai-clients/:id/stop", h.Stop)
	app.Post("/ai-clients/:id/reconnect", h.Reconnect)
	app.Post("/ai-clients/:id/assign", h.Assign)
}

// statusFor maps the domain error taxonomy onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.As(err, new(*services.NotFoundError)):
		return fiber.StatusNotFound
	case errors.As(err, new(*services.ConfigurationError)),
		errors.As(err, new(*services.MissingGameTypeError)):
		return fiber.StatusBadRequest
	case errors.As(err, new(*services.ConnectionError)):
		return fiber.StatusBadGateway
	default:
		return fiber.StatusInternalServerError
	}
}

func (h *AIClientHandler) List(c *fiber.Ctx) error {
	views := h.Registry.ListAll(c.Context())
	return c.JSON(fiber.Map{"ai_clients": views, "count": len(views)})
}

func (h *AIClientHandler) Create(c *fiber.Ctx) error {
	var spec services.CreateClientSpec
	if err := c.BodyParser(&spec); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid JSON", "details": err.Error()})
	}

	view, err := h.Registry.Create(c.Context(), spec)
	if err != nil {
		return c.Status(statusFor(err)).JSON(fiber.Map{"error": err.Error()})
	}
	return c.Status(fiber.StatusCreated).JSON(view)
}

func (h *AIClientHandler) Stop(c *fiber.Ctx) error {
	if err := h.Registry.Stop(c.Context(), c.Params("id")); err != nil {
		return c.Status(statusFor(err)).JSON(fiber.Map{"error": err.Error()})
	}
	return c.JSON(fiber.Map{"status": "disconnected"})
}

func (h *AIClientHandler) StopAll(c *fiber.Ctx) error {
	h.Registry.StopAll(c.Context())
	return c.JSON(fiber.Map{"status": "ok"})
}

func (h *AIClientHandler) Reconnect(c *fiber.Ctx) error {
	if err := h.Registry.Reconnect(c.Context(), c.Params("id")); err != nil {
		return c.Status(statusFor(err)).JSON(fiber.Map{"error": err.Error()})
	}
	return c.JSON(fiber.Map{"status": "connected"})
}

type assignRequest struct {
	MatchID   string `json:"match_id"`
	SeatIndex int    `json:"seat_index"`
	GameType  string `json:"game_type,omitempty"`
}

func (h *AIClientHandler) Assign(c *fiber.Ctx) error {
	var req assignRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid JSON", "details": err.Error()})
	}
	if req.MatchID == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "match_id is required"})
	}

	err := h.Registry.AssignToMatch(c.Context(), c.Params("id"), req.MatchID, req.SeatIndex, req.GameType)
	if err != nil {
		return c.Status(statusFor(err)).JSON(fiber.Map{"error": err.Error()})
	}
	return c.JSON(fiber.Map{"status": "assigned", "match_id": req.MatchID})
}

func (h *AIClientHandler) Activity(c *fiber.Ctx) error {
	lines, err := h.Registry.Activity(c.Params("id"))
	if err != nil {
		return c.Status(statusFor(err)).JSON(fiber.Map{"error": err.Error()})
	}
	return c.JSON(fiber.Map{"activity": lines})
}
