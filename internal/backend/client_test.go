package backend

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"comanda-pos/internal/poserr"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newBackend(t *testing.T, path string, reply func(w http.ResponseWriter, body map[string]any)) *Client {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != path || r.Method != http.MethodPost {
			http.NotFound(w, r)
			return
		}
		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)
		reply(w, body)
	}))
	t.Cleanup(srv.Close)
	return NewClient(srv.URL+"/", "loja1", time.Second)
}

func TestVerifyStockKnownQuantity(t *testing.T) {
	var got map[string]any
	c := newBackend(t, "/verificar_quantidade", func(w http.ResponseWriter, body map[string]any) {
		got = body
		_, _ = w.Write([]byte(`{"erro":false,"quantidade":"5","mensagem":""}`))
	})

	n, err := c.VerifyStock(context.Background(), "Burger", 2)
	require.NoError(t, err)
	assert.Equal(t, "Burger", got["item"])
	assert.Equal(t, float64(2), got["quantidade"])
	assert.Equal(t, "loja1", got["carrinho"])

	assert.True(t, n.Known)
	assert.Equal(t, 5, n.Stock)
	assert.Equal(t, []string{"only 3 left, restock recommended"}, n.Warnings(2))
	assert.Equal(t, []string{"stock ran out for this item"}, n.Warnings(5))
}

func TestVerifyStockUnknownAndErrors(t *testing.T) {
	c := newBackend(t, "/verificar_quantidade", func(w http.ResponseWriter, _ map[string]any) {
		_, _ = w.Write([]byte(`{"erro":false}`))
	})
	n, err := c.VerifyStock(context.Background(), "Suco", 1)
	require.NoError(t, err)
	assert.False(t, n.Known)
	assert.Empty(t, n.Warnings(1))

	c = newBackend(t, "/verificar_quantidade", func(w http.ResponseWriter, _ map[string]any) {
		_, _ = w.Write([]byte(`{"erro":true,"quantidade":0}`))
	})
	n, err = c.VerifyStock(context.Background(), "Suco", 1)
	require.NoError(t, err)
	assert.True(t, n.Error)
	assert.Equal(t, []string{"current stock: 0, adding anyway", "stock is 0, item added anyway"}, n.Warnings(1))
}

func TestVerifyStockInvalidBodyIsANotice(t *testing.T) {
	c := newBackend(t, "/verificar_quantidade", func(w http.ResponseWriter, _ map[string]any) {
		_, _ = w.Write([]byte(`<html>oops</html>`))
	})
	n, err := c.VerifyStock(context.Background(), "Suco", 1)
	require.NoError(t, err)
	assert.True(t, n.Error)
	assert.False(t, n.Known)
}

func TestVerifyStockTransportFailure(t *testing.T) {
	c := NewClient("http://127.0.0.1:1", "loja1", 200*time.Millisecond)
	_, err := c.VerifyStock(context.Background(), "Suco", 1)
	assert.True(t, poserr.Is(err, poserr.KindTransport))
}

func TestFetchLinesPartial(t *testing.T) {
	c := newBackend(t, "/pegar_pedidos", func(w http.ResponseWriter, body map[string]any) {
		assert.Equal(t, "12", body["comanda"])
		assert.Equal(t, float64(1), body["ordem"])
		_, _ = w.Write([]byte(`{"data":[{"id":"9","pedido":"Burger","quantidade":"2","quantidade_paga":1,"preco":"27.00"}],"preco":"13,50"}`))
	})

	s, err := c.FetchLines(context.Background(), "12", 1)
	require.NoError(t, err)
	assert.True(t, s.Partial)
	require.Len(t, s.Lines, 1)
	assert.Equal(t, 2, s.Lines[0].Quantity)
	assert.Equal(t, 1, s.Lines[0].QuantityPaid)
	assert.True(t, decimal.RequireFromString("13.5").Equal(s.Totals.Remaining))
}

func TestFetchLinesRejectsServerError(t *testing.T) {
	c := newBackend(t, "/pegar_pedidos", func(w http.ResponseWriter, _ map[string]any) {
		w.WriteHeader(http.StatusInternalServerError)
	})
	_, err := c.FetchLines(context.Background(), "12", 0)
	assert.True(t, poserr.Is(err, poserr.KindTransport))

	c = newBackend(t, "/pegar_pedidos", func(w http.ResponseWriter, _ map[string]any) {
		_, _ = w.Write([]byte(`{"preco":1}`))
	})
	_, err = c.FetchLines(context.Background(), "12", 0)
	assert.True(t, poserr.Is(err, poserr.KindTransport))
}

func TestPaymentsShapes(t *testing.T) {
	for name, body := range map[string]string{
		"array":      `[{"id_pagamento":7,"forma_de_pagamento":"pix","valor":"10.5"}]`,
		"pagamentos": `{"pagamentos":[{"pagamento_id":"7","forma_de_pagamento":"pix","valor":10.5}]}`,
		"data":       `{"data":[{"id":"7","forma_de_pagamento":"pix","valor":"10,50"}]}`,
	} {
		t.Run(name, func(t *testing.T) {
			c := newBackend(t, "/pegar_pagamentos_comanda", func(w http.ResponseWriter, _ map[string]any) {
				_, _ = w.Write([]byte(body))
			})
			ps, err := c.Payments(context.Background(), "12")
			require.NoError(t, err)
			require.Len(t, ps, 1)
			assert.Equal(t, "7", ps[0].ID)
			assert.Equal(t, "pix", ps[0].Method)
			assert.True(t, decimal.RequireFromString("10.5").Equal(ps[0].Amount))
		})
	}
}

func TestDeletePaymentAndTransfer(t *testing.T) {
	var got map[string]any
	c := newBackend(t, "/excluir_pagamento", func(w http.ResponseWriter, body map[string]any) {
		got = body
		_, _ = w.Write([]byte(`{}`))
	})
	require.NoError(t, c.DeletePayment(context.Background(), "12", "7"))
	assert.Equal(t, map[string]any{"comanda": "12", "pagamento_id": "7", "carrinho": "loja1"}, got)

	c = newBackend(t, "/transferir_comanda", func(w http.ResponseWriter, body map[string]any) {
		got = body
		_, _ = w.Write([]byte(`{}`))
	})
	require.NoError(t, c.TransferTab(context.Background(), "12", "30"))
	assert.Equal(t, map[string]any{"comanda_origem": "12", "comanda_destino": "30", "carrinho": "loja1"}, got)
}
