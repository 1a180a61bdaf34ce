// Package backend calls the request/response endpoints of the POS backend.
// Calls are never retried; a failure is reported and the operator retries.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"comanda-pos/internal/poserr"
	"comanda-pos/internal/tab"
	"comanda-pos/internal/utils"

	"github.com/shopspring/decimal"
)

const unknownStock = -200

type Client struct {
	baseURL string
	shop    string
	http    *http.Client
}

func NewClient(baseURL, shop string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 12 * time.Second
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		shop:    shop,
		http:    &http.Client{Timeout: timeout},
	}
}

func (c *Client) Shop() string { return c.shop }

func (c *Client) post(ctx context.Context, op, path string, body any) ([]byte, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("%s: failed to marshal request: %w", op, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("%s: failed to build request: %w", op, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, poserr.Transport(op, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, poserr.Transport(op, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return raw, poserr.Transport(op, fmt.Errorf("HTTP %d", resp.StatusCode))
	}
	return raw, nil
}

// -- Stock --

type StockNotice struct {
	Error   bool   `json:"erro"`
	Known   bool   `json:"known"`
	Stock   int    `json:"quantidade"`
	Message string `json:"mensagem"`
}

// Warnings are advisory; the item is added regardless.
func (n StockNotice) Warnings(requested int) []string {
	var out []string
	if n.Error {
		out = append(out, fmt.Sprintf("current stock: %d, adding anyway", max(n.Stock, 0)))
	}
	if !n.Known {
		return out
	}
	switch left := n.Stock - requested; {
	case n.Stock <= 0:
		out = append(out, "stock is 0, item added anyway")
	case left <= 0:
		out = append(out, "stock ran out for this item")
	default:
		out = append(out, fmt.Sprintf("only %d left, restock recommended", left))
	}
	return out
}

type stockResponse struct {
	Error   utils.FlexBool    `json:"erro"`
	Stock   *utils.FlexString `json:"quantidade"`
	Message utils.FlexString  `json:"mensagem"`
}

// VerifyStock asks how many units of item are left. A body that is not JSON
// is reported as a notice, not an error; only transport failures fail.
func (c *Client) VerifyStock(ctx context.Context, item string, quantity int) (StockNotice, error) {
	raw, err := c.post(ctx, "backend.verify_stock", "/verificar_quantidade", map[string]any{
		"item":       item,
		"quantidade": quantity,
		"carrinho":   c.shop,
	})
	if err != nil {
		return StockNotice{}, err
	}

	var r stockResponse
	if err := json.Unmarshal(raw, &r); err != nil {
		return StockNotice{Error: true, Stock: unknownStock, Message: "invalid response from server"}, nil
	}

	n := StockNotice{Error: bool(r.Error), Stock: unknownStock, Message: r.Message.String()}
	if r.Stock != nil && strings.TrimSpace(r.Stock.String()) != "" {
		n.Stock = utils.ParseInt(r.Stock.String())
	}
	n.Known = n.Stock != unknownStock
	return n, nil
}

// -- Tab lines --

type linesResponse struct {
	Data      []tab.Line         `json:"data"`
	Remaining utils.FlexDecimal  `json:"preco"`
	Total     *utils.FlexDecimal `json:"preco_total"`
	Paid      *utils.FlexDecimal `json:"preco_pago"`
}

// FetchLines reads the lines of a tab at an order cursor. The result is a
// partial snapshot unless the response carried the paid and total amounts.
func (c *Client) FetchLines(ctx context.Context, tabID string, order int) (tab.Snapshot, error) {
	raw, err := c.post(ctx, "backend.fetch_lines", "/pegar_pedidos", map[string]any{
		"comanda":  tabID,
		"ordem":    order,
		"carrinho": c.shop,
	})
	if err != nil {
		return tab.Snapshot{}, err
	}

	var r linesResponse
	if err := json.Unmarshal(raw, &r); err != nil {
		return tab.Snapshot{}, poserr.Transport("backend.fetch_lines", err)
	}
	if r.Data == nil {
		return tab.Snapshot{}, poserr.Transport("backend.fetch_lines", fmt.Errorf("response without data"))
	}

	s := tab.Snapshot{
		TabID:   tabID,
		Lines:   r.Data,
		Totals:  tab.Totals{Remaining: r.Remaining.Decimal},
		Partial: r.Total == nil || r.Paid == nil,
	}
	if !s.Partial {
		s.Totals.Total = r.Total.Decimal
		s.Totals.Paid = r.Paid.Decimal
	}
	return s, nil
}

// -- Payments --

type Payment struct {
	ID     string          `json:"id"`
	Method string          `json:"forma_de_pagamento"`
	Amount decimal.Decimal `json:"valor"`
	Time   string          `json:"horario"`
	Raw    map[string]any  `json:"raw"`
}

func (c *Client) Payments(ctx context.Context, tabID string) ([]Payment, error) {
	raw, err := c.post(ctx, "backend.payments", "/pegar_pagamentos_comanda", map[string]any{
		"comanda":  tabID,
		"carrinho": c.shop,
	})
	if err != nil {
		return nil, err
	}
	list, err := paymentList(raw)
	if err != nil {
		return nil, poserr.Transport("backend.payments", err)
	}

	out := make([]Payment, 0, len(list))
	for _, m := range list {
		out = append(out, Payment{
			ID:     paymentID(m),
			Method: utils.AnyString(firstPresent(m, "forma_de_pagamento", "forma", "metodo")),
			Amount: utils.ParseMoney(utils.AnyString(firstPresent(m, "valor", "valor_pago", "preco"))),
			Time:   utils.AnyString(firstPresent(m, "horario", "data", "created_at")),
			Raw:    m,
		})
	}
	return out, nil
}

func paymentList(raw []byte) ([]map[string]any, error) {
	var list []map[string]any
	if err := json.Unmarshal(raw, &list); err == nil {
		return list, nil
	}
	var wrapped struct {
		Payments []map[string]any `json:"pagamentos"`
		Data     []map[string]any `json:"data"`
	}
	if err := json.Unmarshal(raw, &wrapped); err != nil {
		return nil, err
	}
	if wrapped.Payments != nil {
		return wrapped.Payments, nil
	}
	if wrapped.Data != nil {
		return wrapped.Data, nil
	}
	return []map[string]any{}, nil
}

func paymentID(m map[string]any) string {
	return utils.AnyString(firstPresent(m, "id", "id_pagamento", "pagamento_id"))
}

func firstPresent(m map[string]any, keys ...string) any {
	for _, k := range keys {
		if v, ok := m[k]; ok && v != nil {
			return v
		}
	}
	return nil
}

func (c *Client) DeletePayment(ctx context.Context, tabID, paymentID string) error {
	_, err := c.post(ctx, "backend.delete_payment", "/excluir_pagamento", map[string]any{
		"comanda":      tabID,
		"pagamento_id": paymentID,
		"carrinho":     c.shop,
	})
	return err
}

func (c *Client) TransferTab(ctx context.Context, from, to string) error {
	_, err := c.post(ctx, "backend.transfer_tab", "/transferir_comanda", map[string]any{
		"comanda_origem":  from,
		"comanda_destino": to,
		"carrinho":        c.shop,
	})
	return err
}
