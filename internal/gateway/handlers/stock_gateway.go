package handlers

import (
	"net/http"
	"strconv"
	"time"

	"comanda-pos/internal/gateway/clients"

	"github.com/gin-gonic/gin"
)

type StockHTTPHandler struct {
	terminal *clients.Terminal
}

func NewStockHTTPHandler(terminal *clients.Terminal) *StockHTTPHandler {
	return &StockHTTPHandler{
		terminal: terminal,
	}
}

func parseQuantity(c *gin.Context) (int, bool) {
	raw := c.DefaultQuery("quantidade", "1")
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 {
		c.JSON(http.StatusBadRequest, errorResponse("Invalid quantity"))
		return 0, false
	}
	return n, true
}

// CheckStock reports how many units of an item are left without adding it.
func (h *StockHTTPHandler) CheckStock(c *gin.Context) {
	item := c.Param("item")
	if item == "" {
		c.JSON(http.StatusBadRequest, errorResponse("Item required"))
		return
	}
	qty, ok := parseQuantity(c)
	if !ok {
		return
	}

	ctx, cancel := requestContext(c, 15*time.Second)
	defer cancel()

	notice, err := h.terminal.API().VerifyStock(ctx, item, qty)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, APIResponse{
		Success:  true,
		Message:  "Stock retrieved successfully",
		Data:     notice,
		Warnings: notice.Warnings(qty),
	})
}

// ListSettlements lists the payments this terminal recorded for a tab.
func (h *StockHTTPHandler) ListSettlements(c *gin.Context) {
	ledger := h.terminal.Ledger()
	if ledger == nil {
		c.JSON(http.StatusServiceUnavailable, errorResponse("Ledger is not configured"))
		return
	}

	ctx, cancel := requestContext(c, 10*time.Second)
	defer cancel()

	rows, err := ledger.Settlements(ctx, c.Param("id"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, errorResponse("Failed to list settlements"))
		return
	}
	c.JSON(http.StatusOK, successWithMetaResponse("Settlements retrieved successfully", rows, gin.H{"count": len(rows)}))
}
