package handlers

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"comanda-pos/internal/gateway/clients"
	"comanda-pos/internal/services/pos/handler"
	"comanda-pos/internal/settlement"
	"comanda-pos/internal/utils"

	"github.com/gin-gonic/gin"
)

type POSHTTPHandler struct {
	terminal *clients.Terminal
}

func NewPOSHTTPHandler(terminal *clients.Terminal) *POSHTTPHandler {
	return &POSHTTPHandler{
		terminal: terminal,
	}
}

// Request structs
type SelectItemRequest struct {
	Item string `json:"item" binding:"required"`
}

type ToggleOptionRequest struct {
	Group  *int   `json:"group" binding:"required,min=0"`
	Option string `json:"option" binding:"required"`
}

type QuantityRequest struct {
	Quantity int `json:"quantity"`
}

type AddToCartRequest struct {
	Note     string `json:"extra"`
	Customer string `json:"nome"`
}

type PlaceOrderRequest struct {
	TabID string `json:"comanda"`
}

type GiftRequest struct {
	TabID string `json:"comanda"`
	Item  string `json:"item" binding:"required"`
}

type OpenTabRequest struct {
	TabID string `json:"comanda" binding:"required"`
	Order int    `json:"ordem"`
}

type NavigateRequest struct {
	Delta int `json:"delta" binding:"required"`
}

type FilterRequest struct {
	Name string `json:"nome"`
}

type AdjustLineRequest struct {
	Delta int `json:"delta" binding:"required"`
}

type TransferRequest struct {
	Destination string `json:"destino"`
}

type AlterValueRequest struct {
	Category string `json:"categoria"`
	Value    string `json:"valor"`
}

type BeginSettlementRequest struct {
	Mode string `json:"mode" binding:"required"`
}

type AmountRequest struct {
	Value string `json:"valor"`
}

type MethodRequest struct {
	Method string `json:"method" binding:"required"`
}

type ServiceChargeRequest struct {
	On bool `json:"on"`
}

// Query structs
type SearchQuery struct {
	Query string `form:"q"`
}

func (h *POSHTTPHandler) pos(c *gin.Context) (*handler.POSHandler, bool) {
	pos := h.terminal.POS()
	if pos == nil {
		c.JSON(http.StatusUnauthorized, errorResponse("Sign in to use the terminal"))
		return nil, false
	}
	return pos, true
}

func (h *POSHTTPHandler) tab(c *gin.Context) (*handler.TabSession, bool) {
	pos, ok := h.pos(c)
	if !ok {
		return nil, false
	}
	s, ok := pos.Tab()
	if !ok {
		c.JSON(http.StatusConflict, errorResponse("No tab is open"))
		return nil, false
	}
	return s, true
}

func indexParam(c *gin.Context) (int, bool) {
	i, err := strconv.Atoi(c.Param("index"))
	if err != nil || i < 0 {
		c.JSON(http.StatusBadRequest, errorResponse("Invalid index"))
		return 0, false
	}
	return i, true
}

// --- Menu and tab list ---

func (h *POSHTTPHandler) ListMenu(c *gin.Context) {
	pos, ok := h.pos(c)
	if !ok {
		return
	}
	var query SearchQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse("Invalid query parameters"))
		return
	}

	items := pos.Menu()
	if strings.TrimSpace(query.Query) != "" {
		items = pos.SearchMenu(query.Query)
	}
	c.JSON(http.StatusOK, successWithMetaResponse("Menu retrieved successfully", items, gin.H{"count": len(items)}))
}

func (h *POSHTTPHandler) RefreshMenu(c *gin.Context) {
	pos, ok := h.pos(c)
	if !ok {
		return
	}
	ctx, cancel := requestContext(c, 5*time.Second)
	defer cancel()

	if err := pos.RefreshMenu(ctx); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, successResponse("Menu refresh requested", nil))
}

func (h *POSHTTPHandler) ListTabs(c *gin.Context) {
	pos, ok := h.pos(c)
	if !ok {
		return
	}
	var query SearchQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse("Invalid query parameters"))
		return
	}

	tabs := pos.OpenTabs()
	if strings.TrimSpace(query.Query) != "" {
		tabs = pos.SearchTabs(query.Query)
	}
	c.JSON(http.StatusOK, successWithMetaResponse("Tabs retrieved successfully", tabs, gin.H{
		"count":   len(tabs),
		"loading": pos.TabsLoading(),
	}))
}

func (h *POSHTTPHandler) RefreshTabs(c *gin.Context) {
	pos, ok := h.pos(c)
	if !ok {
		return
	}
	ctx, cancel := requestContext(c, 5*time.Second)
	defer cancel()

	if err := pos.RefreshTabs(ctx); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, successResponse("Tab list refresh requested", nil))
}

func (h *POSHTTPHandler) Alerts(c *gin.Context) {
	pos, ok := h.pos(c)
	if !ok {
		return
	}
	alerts := pos.Alerts()
	c.JSON(http.StatusOK, APIResponse{Success: true, Message: "Alerts retrieved successfully", Data: alerts, Warnings: alerts})
}

// --- Selection ---

func (h *POSHTTPHandler) SelectItem(c *gin.Context) {
	pos, ok := h.pos(c)
	if !ok {
		return
	}
	var req SelectItemRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse("Invalid request format"))
		return
	}

	sel, err := pos.SelectItem(req.Item)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, successResponse("Item selected", sel))
}

func (h *POSHTTPHandler) GetSelection(c *gin.Context) {
	pos, ok := h.pos(c)
	if !ok {
		return
	}
	sel, selected := pos.Selected()
	if !selected {
		c.JSON(http.StatusNotFound, errorResponse("No item selected"))
		return
	}
	c.JSON(http.StatusOK, successResponse("Selection retrieved successfully", sel))
}

func (h *POSHTTPHandler) ClearSelection(c *gin.Context) {
	pos, ok := h.pos(c)
	if !ok {
		return
	}
	pos.ClearSelection()
	c.JSON(http.StatusOK, successResponse("Selection cleared", nil))
}

func (h *POSHTTPHandler) ToggleOption(c *gin.Context) {
	pos, ok := h.pos(c)
	if !ok {
		return
	}
	var req ToggleOptionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse("Invalid request format"))
		return
	}

	sel, err := pos.ToggleOption(*req.Group, req.Option)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, successResponse("Option toggled", sel))
}

func (h *POSHTTPHandler) SetQuantity(c *gin.Context) {
	pos, ok := h.pos(c)
	if !ok {
		return
	}
	var req QuantityRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse("Invalid request format"))
		return
	}

	sel, err := pos.SetQuantity(req.Quantity)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, successResponse("Quantity updated", sel))
}

// --- Cart ---

func (h *POSHTTPHandler) GetCart(c *gin.Context) {
	pos, ok := h.pos(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, successWithMetaResponse("Cart retrieved successfully", pos.Cart(), gin.H{
		"subtotal": pos.CartSubtotal().StringFixed(2),
	}))
}

func (h *POSHTTPHandler) AddToCart(c *gin.Context) {
	pos, ok := h.pos(c)
	if !ok {
		return
	}
	var req AddToCartRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse("Invalid request format"))
		return
	}

	ctx, cancel := requestContext(c, 15*time.Second)
	defer cancel()

	res, err := pos.AddToCart(ctx, req.Note, req.Customer)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, APIResponse{
		Success:  true,
		Message:  "Item added to cart",
		Data:     res,
		Warnings: res.Warnings,
	})
}

func (h *POSHTTPHandler) IncrementCartLine(c *gin.Context) {
	h.cartLine(c, "Quantity increased", (*handler.POSHandler).CartIncrement)
}

func (h *POSHTTPHandler) DecrementCartLine(c *gin.Context) {
	h.cartLine(c, "Quantity decreased", (*handler.POSHandler).CartDecrement)
}

func (h *POSHTTPHandler) RemoveCartLine(c *gin.Context) {
	h.cartLine(c, "Item removed from cart", (*handler.POSHandler).CartRemove)
}

func (h *POSHTTPHandler) cartLine(c *gin.Context, message string, f func(*handler.POSHandler, int) error) {
	pos, ok := h.pos(c)
	if !ok {
		return
	}
	i, ok := indexParam(c)
	if !ok {
		return
	}
	if err := f(pos, i); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, successWithMetaResponse(message, pos.Cart(), gin.H{
		"subtotal": pos.CartSubtotal().StringFixed(2),
	}))
}

// --- Orders ---

func (h *POSHTTPHandler) PlaceOrder(c *gin.Context) {
	pos, ok := h.pos(c)
	if !ok {
		return
	}
	var req PlaceOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse("Invalid request format"))
		return
	}

	ctx, cancel := requestContext(c, 10*time.Second)
	defer cancel()

	payload, err := pos.PlaceOrder(ctx, req.TabID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, successResponse("Order sent", payload))
}

func (h *POSHTTPHandler) AddGift(c *gin.Context) {
	pos, ok := h.pos(c)
	if !ok {
		return
	}
	var req GiftRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse("Invalid request format"))
		return
	}

	ctx, cancel := requestContext(c, 10*time.Second)
	defer cancel()

	payload, err := pos.AddGift(ctx, req.TabID, req.Item)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, successResponse("Gift registered", payload))
}

// --- Open tab ---

func (h *POSHTTPHandler) OpenTab(c *gin.Context) {
	pos, ok := h.pos(c)
	if !ok {
		return
	}
	var req OpenTabRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse("Invalid request format"))
		return
	}

	ctx, cancel := requestContext(c, 15*time.Second)
	defer cancel()

	s, err := pos.OpenTab(ctx, req.TabID, req.Order)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, successResponse("Tab opened", s.State()))
}

func (h *POSHTTPHandler) GetTab(c *gin.Context) {
	s, ok := h.tab(c)
	if !ok {
		return
	}
	state := s.State()
	var meta interface{}
	if msg := s.LastError(); msg != "" {
		meta = gin.H{"last_error": msg}
	}
	c.JSON(http.StatusOK, successWithMetaResponse("Tab retrieved successfully", state, meta))
}

func (h *POSHTTPHandler) CloseTab(c *gin.Context) {
	pos, ok := h.pos(c)
	if !ok {
		return
	}
	pos.CloseTab()
	c.JSON(http.StatusOK, successResponse("Tab closed", nil))
}

func (h *POSHTTPHandler) Navigate(c *gin.Context) {
	s, ok := h.tab(c)
	if !ok {
		return
	}
	var req NavigateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse("Invalid request format"))
		return
	}

	ctx, cancel := requestContext(c, 15*time.Second)
	defer cancel()

	if _, err := s.Navigate(ctx, req.Delta); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, successResponse("Tab order changed", s.State()))
}

func (h *POSHTTPHandler) FilterByName(c *gin.Context) {
	s, ok := h.tab(c)
	if !ok {
		return
	}
	var req FilterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse("Invalid request format"))
		return
	}
	s.FilterByName(req.Name)
	c.JSON(http.StatusOK, successResponse("Filter applied", s.State()))
}

func (h *POSHTTPHandler) ShowAll(c *gin.Context) {
	s, ok := h.tab(c)
	if !ok {
		return
	}
	s.ShowAll()
	c.JSON(http.StatusOK, successResponse("Filter cleared", s.State()))
}

// --- Tab edit ---

func (h *POSHTTPHandler) BeginEdit(c *gin.Context) {
	s, ok := h.tab(c)
	if !ok {
		return
	}
	if err := s.BeginEdit(); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, successResponse("Editing tab", s.State()))
}

func (h *POSHTTPHandler) AdjustLine(c *gin.Context) {
	s, ok := h.tab(c)
	if !ok {
		return
	}
	i, ok := indexParam(c)
	if !ok {
		return
	}
	var req AdjustLineRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse("Invalid request format"))
		return
	}

	line, err := s.AdjustLine(i, req.Delta)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, successResponse("Line updated", line))
}

func (h *POSHTTPHandler) CancelEdit(c *gin.Context) {
	s, ok := h.tab(c)
	if !ok {
		return
	}
	if err := s.CancelEdit(); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, successResponse("Edit canceled", s.State()))
}

func (h *POSHTTPHandler) ConfirmEdit(c *gin.Context) {
	s, ok := h.tab(c)
	if !ok {
		return
	}
	ctx, cancel := requestContext(c, 10*time.Second)
	defer cancel()

	n, err := s.ConfirmEdit(ctx)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, successWithMetaResponse("Edit sent", s.State(), gin.H{"changed": n}))
}

// --- Tab actions ---

func (h *POSHTTPHandler) UndoLastPayment(c *gin.Context) {
	s, ok := h.tab(c)
	if !ok {
		return
	}
	ctx, cancel := requestContext(c, 10*time.Second)
	defer cancel()

	if err := s.UndoLastPayment(ctx); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, successResponse("Undo requested", nil))
}

func (h *POSHTTPHandler) Transfer(c *gin.Context) {
	s, ok := h.tab(c)
	if !ok {
		return
	}
	var req TransferRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse("Invalid request format"))
		return
	}

	ctx, cancel := requestContext(c, 30*time.Second)
	defer cancel()

	if err := s.Transfer(ctx, req.Destination); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, successResponse("Tab transferred", s.State()))
}

func (h *POSHTTPHandler) ListPayments(c *gin.Context) {
	s, ok := h.tab(c)
	if !ok {
		return
	}
	ctx, cancel := requestContext(c, 15*time.Second)
	defer cancel()

	payments, err := s.Payments(ctx)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, successWithMetaResponse("Payments retrieved successfully", payments, gin.H{"count": len(payments)}))
}

func (h *POSHTTPHandler) DeletePayment(c *gin.Context) {
	s, ok := h.tab(c)
	if !ok {
		return
	}
	ctx, cancel := requestContext(c, 15*time.Second)
	defer cancel()

	if err := s.DeletePayment(ctx, c.Param("id")); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, successResponse("Payment deleted", nil))
}

func (h *POSHTTPHandler) AlterValue(c *gin.Context) {
	s, ok := h.tab(c)
	if !ok {
		return
	}
	var req AlterValueRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse("Invalid request format"))
		return
	}

	ctx, cancel := requestContext(c, 10*time.Second)
	defer cancel()

	if err := s.AlterValue(ctx, req.Category, req.Value); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, successResponse("Value change requested", nil))
}

// --- Settlement ---

type settlementView struct {
	State   string           `json:"state"`
	Mode    settlement.Mode  `json:"mode"`
	Methods []string         `json:"methods"`
	Units   map[string]int   `json:"units"`
	Quote   settlement.Quote `json:"quote"`
	Display string           `json:"display"`
}

func viewOf(e *settlement.Engine) settlementView {
	q := e.Quote()
	return settlementView{
		State:   e.State().String(),
		Mode:    e.Mode(),
		Methods: e.Methods(),
		Units:   e.Units(),
		Quote:   q,
		Display: utils.FormatBRL(q.Total),
	}
}

func (h *POSHTTPHandler) GetSettlement(c *gin.Context) {
	s, ok := h.tab(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, successResponse("Settlement retrieved successfully", viewOf(s.Settlement)))
}

func (h *POSHTTPHandler) BeginSettlement(c *gin.Context) {
	s, ok := h.tab(c)
	if !ok {
		return
	}
	var req BeginSettlementRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse("Invalid request format"))
		return
	}
	if err := s.Settlement.Begin(settlement.Mode(req.Mode)); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, successResponse("Payment started", viewOf(s.Settlement)))
}

func (h *POSHTTPHandler) CancelSettlement(c *gin.Context) {
	s, ok := h.tab(c)
	if !ok {
		return
	}
	s.Settlement.Cancel()
	c.JSON(http.StatusOK, successResponse("Payment canceled", viewOf(s.Settlement)))
}

func (h *POSHTTPHandler) IncrementUnits(c *gin.Context) {
	h.units(c, (*settlement.Engine).IncrementUnits)
}

func (h *POSHTTPHandler) DecrementUnits(c *gin.Context) {
	h.units(c, (*settlement.Engine).DecrementUnits)
}

func (h *POSHTTPHandler) units(c *gin.Context, f func(*settlement.Engine, int) (int, error)) {
	s, ok := h.tab(c)
	if !ok {
		return
	}
	i, ok := indexParam(c)
	if !ok {
		return
	}
	if _, err := f(s.Settlement, i); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, successResponse("Units updated", viewOf(s.Settlement)))
}

func (h *POSHTTPHandler) SetPartialAmount(c *gin.Context) {
	s, ok := h.tab(c)
	if !ok {
		return
	}
	var req AmountRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse("Invalid request format"))
		return
	}
	if err := s.Settlement.SetPartialAmount(req.Value); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, successResponse("Amount updated", viewOf(s.Settlement)))
}

func (h *POSHTTPHandler) SetMethod(c *gin.Context) {
	s, ok := h.tab(c)
	if !ok {
		return
	}
	var req MethodRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse("Invalid request format"))
		return
	}
	if err := s.Settlement.SetMethod(req.Method); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, successResponse("Payment method selected", viewOf(s.Settlement)))
}

func (h *POSHTTPHandler) SetServiceCharge(c *gin.Context) {
	s, ok := h.tab(c)
	if !ok {
		return
	}
	var req ServiceChargeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse("Invalid request format"))
		return
	}
	if err := s.Settlement.SetServiceCharge(req.On); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, successResponse("Service charge updated", viewOf(s.Settlement)))
}

func (h *POSHTTPHandler) SetGratuity(c *gin.Context) {
	s, ok := h.tab(c)
	if !ok {
		return
	}
	var req AmountRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse("Invalid request format"))
		return
	}
	if err := s.Settlement.SetGratuity(req.Value); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, successResponse("Gratuity updated", viewOf(s.Settlement)))
}

func (h *POSHTTPHandler) ConfirmSettlement(c *gin.Context) {
	s, ok := h.tab(c)
	if !ok {
		return
	}
	ctx, cancel := requestContext(c, 15*time.Second)
	defer cancel()

	out, err := s.Settlement.Confirm(ctx)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, successWithMetaResponse("Payment sent", out.Quote, gin.H{
		"request_id": out.Record.ID,
		"event":      out.Record.Event,
		"tab":        s.State(),
	}))
}
