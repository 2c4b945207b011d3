package http

import (
	"errors"
	"net/http"

	"github.com/dkeye/Huddle/internal/app/orch"
	"github.com/dkeye/Huddle/internal/domain"
	"github.com/gin-contrib/sessions"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
)

const profileNameKey = "name"

type ProfileRequest struct {
	Name string `json:"name"`
}

type ProfileResponse struct {
	Name string `json:"name"`
}

func handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// handleNewRoom sends the browser to a freshly minted room link.
func handleNewRoom(c *gin.Context) {
	c.Redirect(http.StatusFound, "/room/"+string(domain.NewRoomID()))
}

func handleListRooms(o *orch.Orchestrator) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, o.Rooms.List())
	}
}

func handleRoomMembers(o *orch.Orchestrator) gin.HandlerFunc {
	return func(c *gin.Context) {
		members, ok := o.RoomMembers(domain.RoomID(c.Param("id")))
		if !ok {
			c.JSON(http.StatusNotFound, gin.H{"error": "room not found"})
			return
		}
		c.JSON(http.StatusOK, members)
	}
}

func handleSetProfile(c *gin.Context) {
	var req ProfileRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid body"})
		return
	}
	if err := domain.ValidateUsername(req.Name); err != nil {
		status := http.StatusBadRequest
		if errors.Is(err, domain.ErrUsernameTooLong) {
			status = http.StatusRequestEntityTooLarge
		}
		c.JSON(status, gin.H{"error": err.Error()})
		return
	}

	name := domain.NormalizeUsername(req.Name)
	s := sessions.Default(c)
	s.Set(profileNameKey, name)
	if err := s.Save(); err != nil {
		log.Error().Err(err).Str("module", "adapters.http").Msg("save profile")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "session save failed"})
		return
	}
	c.JSON(http.StatusOK, ProfileResponse{Name: name})
}

func handleGetProfile(c *gin.Context) {
	c.JSON(http.StatusOK, ProfileResponse{Name: profileName(c)})
}

func profileName(c *gin.Context) string {
	if name, ok := sessions.Default(c).Get(profileNameKey).(string); ok {
		return name
	}
	return ""
}
