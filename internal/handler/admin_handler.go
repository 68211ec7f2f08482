package handler

import (
	"log"
	"net/http"
	"strconv"

	"abonix/internal/domain"
	"abonix/internal/models"
	"abonix/internal/repository"
	"abonix/internal/service"

	"github.com/gin-gonic/gin"
)

type AdminHandler struct {
	orderRepo   *repository.OrderRepository
	paymentRepo *repository.PaymentRepository
	stockRepo   *repository.StockRepository
	auditRepo   *repository.AuditLogRepository
	delivery    *service.DeliveryService
}

func NewAdminHandler(
	orderRepo *repository.OrderRepository,
	paymentRepo *repository.PaymentRepository,
	stockRepo *repository.StockRepository,
	auditRepo *repository.AuditLogRepository,
	delivery *service.DeliveryService,
) *AdminHandler {
	return &AdminHandler{
		orderRepo:   orderRepo,
		paymentRepo: paymentRepo,
		stockRepo:   stockRepo,
		auditRepo:   auditRepo,
		delivery:    delivery,
	}
}

// ListOrders handles GET /admin/orders with an optional status filter.
func (h *AdminHandler) ListOrders(c *gin.Context) {
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))
	if page < 1 {
		page = 1
	}
	if limit < 1 || limit > 100 {
		limit = 20
	}
	orders, total, err := h.orderRepo.List(c.Query("status"), page, limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load orders"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"orders": orders, "total": total, "page": page})
}

type addStockReq struct {
	PlanID   uint     `json:"plan_id" binding:"required"`
	Contents []string `json:"contents" binding:"required,min=1"`
}

// AddStock handles POST /admin/stock: bulk-provisions deliverable inventory
// for a plan.
func (h *AdminHandler) AddStock(c *gin.Context) {
	var req addStockReq
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	items := make([]models.StockItem, 0, len(req.Contents))
	for _, content := range req.Contents {
		if content == "" {
			continue
		}
		items = append(items, models.StockItem{PlanID: req.PlanID, Content: content})
	}
	if len(items) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "no stock contents supplied"})
		return
	}
	if err := h.stockRepo.CreateBatch(items); err != nil {
		log.Printf("[Admin] add stock for plan %d: %v", req.PlanID, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to add stock"})
		return
	}
	c.JSON(http.StatusCreated, gin.H{"added": len(items)})
}

// StockAvailability handles GET /admin/stock/:planId/available.
func (h *AdminHandler) StockAvailability(c *gin.Context) {
	planID, err := strconv.ParseUint(c.Param("planId"), 10, 32)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid plan id"})
		return
	}
	available, err := h.stockRepo.CountAvailable(uint(planID))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to count stock"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"plan_id": planID, "available": available})
}

// Redeliver handles POST /admin/orders/:id/redeliver: re-runs stock delivery
// for a completed order. Delivery is idempotent per order item, so items
// that already received their stock keep it.
func (h *AdminHandler) Redeliver(c *gin.Context) {
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
	if order.Status != domain.OrderStatusCompleted {
		c.JSON(http.StatusConflict, gin.H{"error": "order is not completed"})
		return
	}
	results := make([]gin.H, 0, len(order.Items))
	for i := range order.Items {
		item := &order.Items[i]
		stock, err := h.delivery.ProcessDelivery(order.ID, item)
		entry := gin.H{"order_item_id": item.ID, "delivered": len(stock)}
		if err != nil {
			log.Printf("[Admin] redeliver order %d item %d: %v", order.ID, item.ID, err)
			entry["error"] = err.Error()
		}
		results = append(results, entry)
	}
	c.JSON(http.StatusOK, gin.H{"order_id": order.ID, "items": results})
}

// ListAuditLogs handles GET /admin/audit-logs with an optional action filter.
func (h *AdminHandler) ListAuditLogs(c *gin.Context) {
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	if page < 1 {
		page = 1
	}
	if limit < 1 || limit > 200 {
		limit = 50
	}
	logs, total, err := h.auditRepo.List(c.Query("action"), page, limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load audit logs"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"logs": logs, "total": total, "page": page})
}
