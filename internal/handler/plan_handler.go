package handler

import (
	"net/http"

	"abonix/internal/repository"

	"github.com/gin-gonic/gin"
)

type PlanHandler struct {
	planRepo *repository.PlanRepository
}

func NewPlanHandler(planRepo *repository.PlanRepository) *PlanHandler {
	return &PlanHandler{planRepo: planRepo}
}

func (h *PlanHandler) List(c *gin.Context) {
	plans, err := h.planRepo.ListActive()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load plans"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"plans": plans})
}
