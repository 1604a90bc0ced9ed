package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/templeseva/darshan/internal/service/slots"
)

type SlotHandler struct {
	service slots.SlotUseCase
	log     logrus.FieldLogger
}

func NewSlotHandler(service slots.SlotUseCase, log logrus.FieldLogger) *SlotHandler {
	return &SlotHandler{service: service, log: log}
}

// Register mounts availability under the bookings group. It is public.
func (h *SlotHandler) Register(router *gin.RouterGroup) {
	router.GET("/slots/:templeId", h.list)
}

func (h *SlotHandler) list(c *gin.Context) {
	templeID := c.Param("templeId")
	date := c.Query("date")
	if date == "" {
		badRequest(c, "date query parameter is required")
		return
	}

	result, err := h.service.ListSlotsForDate(c.Request.Context(), templeID, date)
	if err != nil {
		writeError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"templeId": templeID,
		"date":     date,
		"slots":    result,
	})
}
