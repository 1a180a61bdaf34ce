package handlers

import (
	"net/http"
	"time"

	"comanda-pos/internal/gateway/clients"
	"comanda-pos/internal/kitchen"

	"github.com/gin-gonic/gin"
)

type KitchenHTTPHandler struct {
	terminal *clients.Terminal
}

func NewKitchenHTTPHandler(terminal *clients.Terminal) *KitchenHTTPHandler {
	return &KitchenHTTPHandler{
		terminal: terminal,
	}
}

// --- Request & Query Structs for Binding ---

type ListOrdersQuery struct {
	TabID    string `form:"comanda"`
	Item     string `form:"item"`
	Category string `form:"categoria"`
	Status   string `form:"status" binding:"omitempty,oneof=aberta fechada"`
}

type SaveOrderRequest struct {
	TabID        string `json:"comanda"`
	Quantity     string `json:"quantidade"`
	QuantityPaid string `json:"quantidade_paga"`
	UnitPrice    string `json:"preco_unitario"`
	Price        string `json:"preco"`
	Options      string `json:"opcoes"`
	Extra        string `json:"extra"`
	DeliveryTime string `json:"horario_para_entrega"`
}

func (h *KitchenHTTPHandler) board(c *gin.Context) (*kitchen.Board, bool) {
	b := h.terminal.Kitchen()
	if b == nil {
		c.JSON(http.StatusUnauthorized, errorResponse("Sign in to use the terminal"))
		return nil, false
	}
	return b, true
}

// --- Handlers ---

func (h *KitchenHTTPHandler) ListOrders(c *gin.Context) {
	b, ok := h.board(c)
	if !ok {
		return
	}
	var query ListOrdersQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse("Invalid query parameters"))
		return
	}

	orders := b.Orders(kitchen.Filter{
		Tab:      query.TabID,
		Item:     query.Item,
		Category: query.Category,
		Status:   query.Status,
	})
	c.JSON(http.StatusOK, successWithMetaResponse("Orders retrieved successfully", orders, gin.H{
		"count":      len(orders),
		"categories": b.Categories(),
		"refreshing": b.Refreshing(),
	}))
}

func (h *KitchenHTTPHandler) Refresh(c *gin.Context) {
	b, ok := h.board(c)
	if !ok {
		return
	}
	ctx, cancel := requestContext(c, 5*time.Second)
	defer cancel()

	if err := b.Refresh(ctx); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, successResponse("Order refresh requested", nil))
}

func (h *KitchenHTTPHandler) SaveOrder(c *gin.Context) {
	b, ok := h.board(c)
	if !ok {
		return
	}
	var req SaveOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse("Invalid request format"))
		return
	}

	ctx, cancel := requestContext(c, 10*time.Second)
	defer cancel()

	err := b.SaveEdit(ctx, kitchen.Edit{
		ID:           c.Param("id"),
		TabID:        req.TabID,
		Quantity:     req.Quantity,
		QuantityPaid: req.QuantityPaid,
		UnitPrice:    req.UnitPrice,
		Price:        req.Price,
		Options:      req.Options,
		Extra:        req.Extra,
		DeliveryTime: req.DeliveryTime,
	})
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, successResponse("Order updated", nil))
}

func (h *KitchenHTTPHandler) ConfirmOrder(c *gin.Context) {
	b, ok := h.board(c)
	if !ok {
		return
	}
	ctx, cancel := requestContext(c, 10*time.Second)
	defer cancel()

	if err := b.Confirm(ctx, c.Param("id")); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, successResponse("Order confirmed", nil))
}

func (h *KitchenHTTPHandler) DeleteOrder(c *gin.Context) {
	b, ok := h.board(c)
	if !ok {
		return
	}
	ctx, cancel := requestContext(c, 10*time.Second)
	defer cancel()

	if err := b.Delete(ctx, c.Param("id")); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, successResponse("Order deleted", nil))
}
