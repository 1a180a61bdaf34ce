package settlement

import (
	"encoding/json"

	"comanda-pos/internal/utils"

	"github.com/shopspring/decimal"
)

// ItemPayment is one line of a pay-by-items request.
type ItemPayment struct {
	Index     int     `json:"index"`
	ID        *string `json:"id"`
	OrderText string  `json:"pedido"`
	Extra     string  `json:"extra"`
	Quantity  int     `json:"quantidade"`
}

type itemsRequest struct {
	TabID         string        `json:"comanda"`
	Items         []ItemPayment `json:"itens"`
	Method        string        `json:"forma_de_pagamento"`
	ServiceCharge bool          `json:"aplicarDez"`
	Gratuity      *json.Number  `json:"caixinha"`
	Shop          string        `json:"carrinho"`
}

type partialRequest struct {
	Amount        json.Number  `json:"valor_pago"`
	TabID         string       `json:"fcomanda"`
	Gratuity      *json.Number `json:"caixinha"`
	ServiceCharge *json.Number `json:"dez_por_cento"`
	Method        string       `json:"forma_de_pagamento"`
	Shop          string       `json:"carrinho"`
}

// closeRequest pays the remaining amount and closes the tab.
type closeRequest partialRequest

type billingRefresh struct {
	Emit bool   `json:"emitir"`
	Shop string `json:"carrinho"`
}

func (e *Engine) requestLocked(tabID string, q Quote, items []ItemPayment) (string, any) {
	switch q.Mode {
	case ModeItems:
		return "pagar_itens", itemsRequest{
			TabID:         tabID,
			Items:         items,
			Method:        e.method,
			ServiceCharge: e.serviceCharge,
			Gratuity:      optionalAmount(q.Gratuity),
			Shop:          e.cfg.Shop,
		}
	case ModePartial:
		return "pagar_parcial", partialRequest{
			Amount:        amount(q.Base),
			TabID:         tabID,
			Gratuity:      optionalAmount(q.Gratuity),
			ServiceCharge: optionalAmount(q.ServiceCharge),
			Method:        e.method,
			Shop:          e.cfg.Shop,
		}
	default:
		return "delete_comanda", closeRequest{
			Amount:        amount(q.Base),
			TabID:         tabID,
			Gratuity:      optionalAmount(q.Gratuity),
			ServiceCharge: optionalAmount(q.ServiceCharge),
			Method:        e.method,
			Shop:          e.cfg.Shop,
		}
	}
}

func amount(d decimal.Decimal) json.Number {
	return json.Number(utils.Cents(d).String())
}

// optionalAmount is null on the wire when d is not positive.
func optionalAmount(d decimal.Decimal) *json.Number {
	if !d.IsPositive() {
		return nil
	}
	n := amount(d)
	return &n
}
