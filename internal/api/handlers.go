package api

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog/log"

	"github.com/aideepspeak/internal/conversation"
	"github.com/aideepspeak/pkg/models"
)

// generateSetup asks the configured model to compose a full meeting setup
// for a topic and persists it next to the other setup files.
func (s *Server) generateSetup(c echo.Context) error {
	if s.opts.Generator == nil {
		return serviceUnavailable(c, "setup generator")
	}

	var req struct {
		Topic string `json:"topic"`
	}
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{
			"error": "Invalid request body",
		})
	}
	if strings.TrimSpace(req.Topic) == "" {
		return c.JSON(http.StatusBadRequest, map[string]string{
			"error": "topic is required",
		})
	}

	setup, err := s.opts.Generator.Generate(c.Request().Context(), req.Topic)
	if err != nil {
		log.Error().Err(err).Str("topic", req.Topic).Msg("Setup generation failed")
		return c.JSON(http.StatusBadGateway, map[string]string{
			"error": err.Error(),
		})
	}

	if path, err := s.opts.Generator.Save(setup); err != nil {
		log.Warn().Err(err).Msg("Failed to persist generated setup")
	} else {
		log.Info().Str("path", path).Msg("Generated setup saved")
	}

	return c.JSON(http.StatusOK, setup)
}

// createMeeting runs a meeting from the posted setup. With ?async=1 the
// meeting is queued instead and the response carries the id to poll the
// archive with.
func (s *Server) createMeeting(c echo.Context) error {
	var setup models.Setup
	if err := c.Bind(&setup); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{
			"error": "Invalid request body",
		})
	}

	if async := c.QueryParam("async"); async == "1" || async == "true" {
		if s.opts.Queue == nil {
			return serviceUnavailable(c, "job queue")
		}
		if setup.ConversationID == "" {
			setup.ConversationID = uuid.NewString()
		}

		id, err := s.opts.Queue.QueueMeeting(c.Request().Context(), setup)
		if err != nil {
			log.Error().Err(err).Msg("Failed to queue meeting")
			return c.JSON(http.StatusInternalServerError, map[string]string{
				"error": "Failed to queue meeting",
			})
		}
		return c.JSON(http.StatusAccepted, map[string]string{
			"meeting_id": id,
			"status":     "queued",
		})
	}

	if s.opts.Runner == nil {
		return serviceUnavailable(c, "meeting runner")
	}

	doc, err := s.opts.Runner.RunMeeting(c.Request().Context(), setup)
	if err != nil {
		var cfgErr *conversation.ConfigError
		if errors.As(err, &cfgErr) {
			return c.JSON(http.StatusBadRequest, map[string]string{
				"error": err.Error(),
			})
		}
		log.Error().Err(err).Str("meeting_id", setup.ConversationID).Msg("Meeting run failed")
		return c.JSON(http.StatusInternalServerError, map[string]string{
			"error": err.Error(),
		})
	}

	if s.opts.Archive != nil {
		record := models.MeetingRecord{
			ID:         doc.ConversationID,
			Name:       doc.Name,
			Setup:      setup,
			Transcript: doc,
		}
		if err := s.opts.Archive.SaveMeeting(c.Request().Context(), record); err != nil {
			log.Error().Err(err).Str("meeting_id", doc.ConversationID).Msg("Failed to archive meeting")
		}
	}

	return c.JSON(http.StatusOK, doc)
}

func (s *Server) listMeetings(c echo.Context) error {
	if s.opts.Archive == nil {
		return serviceUnavailable(c, "archive")
	}

	limit := 50
	if raw := c.QueryParam("limit"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil {
			limit = parsed
		}
	}

	meetings, err := s.opts.Archive.ListMeetings(c.Request().Context(), limit)
	if err != nil {
		log.Error().Err(err).Msg("Failed to list meetings")
		return c.JSON(http.StatusInternalServerError, map[string]string{
			"error": "Failed to list meetings",
		})
	}

	return c.JSON(http.StatusOK, meetings)
}

func (s *Server) getMeeting(c echo.Context) error {
	if s.opts.Archive == nil {
		return serviceUnavailable(c, "archive")
	}

	record, err := s.opts.Archive.GetMeeting(c.Request().Context(), c.Param("id"))
	if err != nil {
		log.Error().Err(err).Str("meeting_id", c.Param("id")).Msg("Failed to load meeting")
		return c.JSON(http.StatusInternalServerError, map[string]string{
			"error": "Failed to load meeting",
		})
	}
	if record == nil {
		return c.JSON(http.StatusNotFound, map[string]string{
			"error": "Meeting not found",
		})
	}

	return c.JSON(http.StatusOK, record)
}

func (s *Server) deleteMeeting(c echo.Context) error {
	if s.opts.Archive == nil {
		return serviceUnavailable(c, "archive")
	}

	if err := s.opts.Archive.DeleteMeeting(c.Request().Context(), c.Param("id")); err != nil {
		log.Error().Err(err).Str("meeting_id", c.Param("id")).Msg("Failed to delete meeting")
		return c.JSON(http.StatusInternalServerError, map[string]string{
			"error": "Failed to delete meeting",
		})
	}

	return c.NoContent(http.StatusNoContent)
}

func (s *Server) meetingStats(c echo.Context) error {
	if s.opts.Archive == nil {
		return serviceUnavailable(c, "archive")
	}

	counts, err := s.opts.Archive.CountByTerminationReason(c.Request().Context())
	if err != nil {
		log.Error().Err(err).Msg("Failed to count meetings")
		return c.JSON(http.StatusInternalServerError, map[string]string{
			"error": "Failed to count meetings",
		})
	}

	return c.JSON(http.StatusOK, map[string]interface{}{
		"by_termination_reason": counts,
	})
}
