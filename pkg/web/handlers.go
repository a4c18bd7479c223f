package web

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"

	"github.com/teslashibe/go-obstacle/pkg/calibration"
	"github.com/teslashibe/go-obstacle/pkg/hub"
)

// handleStatus returns the detector's current state
func (s *Server) handleStatus(c *fiber.Ctx) error {
	return c.JSON(s.Status())
}

// handleGetConfig returns the calibration in flat and nested form
func (s *Server) handleGetConfig(c *fiber.Ctx) error {
	if s.calibration == nil {
		return errNoCalibration(c)
	}
	return c.JSON(s.calibration.GetConfigJSON())
}

// handleUpdateConfig applies a flat map of calibration fields
func (s *Server) handleUpdateConfig(c *fiber.Ctx) error {
	if s.calibration == nil {
		return errNoCalibration(c)
	}

	var params map[string]interface{}
	if err := c.BodyParser(&params); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "invalid JSON body",
		})
	}

	if err := s.calibration.UpdateConfig(params); err != nil {
		return configError(c, err)
	}

	s.AddEvent(EventConfigChanged, "calibration updated ("+s.calibration.Preset()+")")
	return c.JSON(s.calibration.GetConfigJSON())
}

// handleListPresets returns available presets and the active one
func (s *Server) handleListPresets(c *fiber.Ctx) error {
	current := ""
	if s.calibration != nil {
		current = s.calibration.Preset()
	}
	return c.JSON(fiber.Map{
		"presets": calibration.PresetNames(),
		"current": current,
		"configs": calibration.Presets(),
	})
}

// handleApplyPreset switches the calibration to a named preset
func (s *Server) handleApplyPreset(c *fiber.Ctx) error {
	if s.calibration == nil {
		return errNoCalibration(c)
	}

	name := c.Params("name")
	if err := s.calibration.ApplyPreset(name); err != nil {
		return configError(c, err)
	}

	s.AddEvent(EventConfigChanged, "preset "+name+" applied")
	return c.JSON(s.calibration.GetConfigJSON())
}

// handleGetEvents returns recent events
func (s *Server) handleGetEvents(c *fiber.Ctx) error {
	return c.JSON(s.Events())
}

// handleSnapshot returns the latest annotated frame, optionally resized
func (s *Server) handleSnapshot(c *fiber.Ctx) error {
	frame := s.Snapshot()
	if frame == nil {
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
			"error": "no frame yet",
		})
	}

	if width := c.QueryInt("width", 0); width > 0 {
		resized, err := resizeJPEG(frame, width)
		if err != nil {
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
				"error": err.Error(),
			})
		}
		frame = resized
	}

	c.Set(fiber.HeaderContentType, "image/jpeg")
	c.Set(fiber.HeaderCacheControl, "no-store")
	return c.Send(frame)
}

// handleStatusWS streams a status message per frame
func (s *Server) handleStatusWS(c *websocket.Conn) {
	// Written before registering so the client's write pump owns the conn afterwards
	if err := c.WriteJSON(s.Status()); err != nil {
		return
	}
	serve(s.statusHub, c)
}

// handleEventsWS replays recent events, then streams new ones
func (s *Server) handleEventsWS(c *websocket.Conn) {
	for _, e := range s.Events() {
		if err := c.WriteJSON(e); err != nil {
			return
		}
	}
	serve(s.eventHub, c)
}

// handleFramesWS streams annotated frames as binary JPEG messages
func (s *Server) handleFramesWS(c *websocket.Conn) {
	if frame := s.Snapshot(); frame != nil {
		if err := c.WriteMessage(websocket.BinaryMessage, frame); err != nil {
			return
		}
	}
	serve(s.frameHub, c)
}

func serve(h *hub.Hub, c *websocket.Conn) {
	client := hub.NewClient(h, c)
	if client == nil {
		return
	}
	client.Run()
}

func errNoCalibration(c *fiber.Ctx) error {
	return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
		"error": "calibration not configured",
	})
}

// configError maps calibration errors to HTTP statuses
func configError(c *fiber.Ctx, err error) error {
	var verr *calibration.ValidationError
	switch {
	case errors.Is(err, calibration.ErrUnknownPreset):
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error":   err.Error(),
			"presets": calibration.PresetNames(),
		})
	case errors.As(err, &verr):
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error":    calibration.ErrInvalidConfig.Error(),
			"problems": verr.Problems,
		})
	default:
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": err.Error(),
		})
	}
}
