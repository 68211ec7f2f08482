package handler

import (
	"net/http"
	"strconv"

	"abonix/internal/middleware"
	"abonix/internal/repository"

	"github.com/gin-gonic/gin"
)

type OrderHandler struct {
	orderRepo   *repository.OrderRepository
	paymentRepo *repository.PaymentRepository
}

func NewOrderHandler(orderRepo *repository.OrderRepository, paymentRepo *repository.PaymentRepository) *OrderHandler {
	return &OrderHandler{orderRepo: orderRepo, paymentRepo: paymentRepo}
}

func (h *OrderHandler) ListMine(c *gin.Context) {
	userID := middleware.GetUserID(c)
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))
	if page < 1 {
		page = 1
	}
	if limit < 1 || limit > 100 {
		limit = 20
	}
	orders, total, err := h.orderRepo.ListByUser(userID, page, limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load orders"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"orders": orders, "total": total, "page": page})
}

func (h *OrderHandler) Get(c *gin.Context) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid order id"})
		return
	}
	order, err := h.orderRepo.GetByID(uint(id))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "order not found"})
		return
	}
	if order.UserID != middleware.GetUserID(c) {
		c.JSON(http.StatusNotFound, gin.H{"error": "order not found"})
		return
	}
	payments, _ := h.paymentRepo.ListByOrder(order.ID)
	c.JSON(http.StatusOK, gin.H{"order": order, "payments": payments})
}
