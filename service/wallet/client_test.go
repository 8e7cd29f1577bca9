package wallet

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeDaemon returns an httptest server that dispatches JSON-RPC methods to
// the given handlers and records the last request for assertions.
func fakeDaemon(t *testing.T, handlers map[string]func(params []any) (any, *RPCError)) (*httptest.Server, *rpcRequest) {
	t.Helper()

	var last rpcRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, pass, ok := r.BasicAuth()
		require.True(t, ok, "expected basic auth")
		assert.Equal(t, "rpcuser", user)
		assert.Equal(t, "rpcpass", pass)

		require.NoError(t, json.NewDecoder(r.Body).Decode(&last))

		handler, ok := handlers[last.Method]
		require.True(t, ok, "unexpected rpc method %s", last.Method)

		result, rpcErr := handler(last.Params)
		resp := map[string]any{"result": result, "error": rpcErr, "id": last.ID}
		require.NoError(t, json.NewEncoder(w).Encode(resp))
	}))
	return srv, &last
}

func newTestClient(url string) *Client {
	return NewClient(url, "rpcuser", "rpcpass", 0, nil, testLogger())
}

func TestGetNewAddress(t *testing.T) {
	srv, last := fakeDaemon(t, map[string]func([]any) (any, *RPCError){
		"getnewaddress": func(params []any) (any, *RPCError) {
			return "mwc1qminted", nil
		},
	})
	defer srv.Close()

	client := newTestClient(srv.URL)
	addr, err := client.GetNewAddress(context.Background(), "424242")
	require.NoError(t, err)
	assert.Equal(t, "mwc1qminted", addr)
	assert.Equal(t, []any{"424242"}, last.Params)
}

func TestListReceivedByAddress(t *testing.T) {
	srv, last := fakeDaemon(t, map[string]func([]any) (any, *RPCError){
		"listreceivedbyaddress": func(params []any) (any, *RPCError) {
			return []map[string]any{
				{
					"address":       "mwc1qalice",
					"amount":        1.5,
					"confirmations": 3,
					"txids":         []string{"tx-a", "tx-b"},
				},
			}, nil
		},
	})
	defer srv.Close()

	client := newTestClient(srv.URL)
	received, err := client.ListReceivedByAddress(context.Background(), 0, false, true)
	require.NoError(t, err)
	require.Len(t, received, 1)
	assert.Equal(t, "mwc1qalice", received[0].Address)
	assert.True(t, received[0].Amount.Equal(decimal.RequireFromString("1.5")))
	assert.Equal(t, []string{"tx-a", "tx-b"}, received[0].TxIDs)

	// Unconfirmed receives and watch-only addresses must be included.
	assert.Equal(t, []any{float64(0), false, true}, last.Params)
}

func TestGetTransaction(t *testing.T) {
	srv, _ := fakeDaemon(t, map[string]func([]any) (any, *RPCError){
		"gettransaction": func(params []any) (any, *RPCError) {
			return map[string]any{
				"txid":          "tx-a",
				"amount":        2.0,
				"confirmations": 1,
				"details": []map[string]any{
					{"address": "mwc1qalice", "category": "receive", "amount": 1.25},
					{"address": "mwc1qalice", "category": "receive", "amount": 0.75},
					{"address": "mwc1qother", "category": "send", "amount": 5},
				},
			}, nil
		},
	})
	defer srv.Close()

	client := newTestClient(srv.URL)
	tx, err := client.GetTransaction(context.Background(), "tx-a")
	require.NoError(t, err)
	assert.Equal(t, int64(1), tx.Confirmations)

	// Multiple receive outputs to one address sum; sends are ignored.
	got := tx.ReceivedAmount("mwc1qalice")
	assert.True(t, got.Equal(decimal.RequireFromString("2")), "got %s", got)
	assert.True(t, tx.ReceivedAmount("mwc1qnobody").IsZero())
}

func TestSendToAddress(t *testing.T) {
	srv, last := fakeDaemon(t, map[string]func([]any) (any, *RPCError){
		"sendtoaddress": func(params []any) (any, *RPCError) {
			return "tx-sent", nil
		},
	})
	defer srv.Close()

	client := newTestClient(srv.URL)
	txid, err := client.SendToAddress(context.Background(), "mwc1qdest", decimal.RequireFromString("0.12345678"))
	require.NoError(t, err)
	assert.Equal(t, "tx-sent", txid)

	// The amount must survive as an exact decimal, not a truncated float.
	require.Len(t, last.Params, 2)
	assert.Equal(t, 0.12345678, last.Params[1])
}

func TestValidateAddress(t *testing.T) {
	srv, _ := fakeDaemon(t, map[string]func([]any) (any, *RPCError){
		"validateaddress": func(params []any) (any, *RPCError) {
			return map[string]any{"isvalid": true, "ismine": true, "address": "mwc1qbotowned"}, nil
		},
	})
	defer srv.Close()

	client := newTestClient(srv.URL)
	info, err := client.ValidateAddress(context.Background(), "mwc1qbotowned")
	require.NoError(t, err)
	assert.True(t, info.IsValid)
	assert.True(t, info.IsMine)
}

func TestDaemonError(t *testing.T) {
	srv, _ := fakeDaemon(t, map[string]func([]any) (any, *RPCError){
		"settxfee": func(params []any) (any, *RPCError) {
			return nil, &RPCError{Code: -3, Message: "Invalid amount"}
		},
	})
	defer srv.Close()

	client := newTestClient(srv.URL)
	err := client.SetTxFee(context.Background(), decimal.RequireFromString("-1"))
	require.Error(t, err)

	var rpcErr *RPCError
	require.ErrorAs(t, err, &rpcErr)
	assert.Equal(t, -3, rpcErr.Code)
	assert.NotErrorIs(t, err, ErrRPCUnavailable)
}

func TestTransportFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close() // refuse all connections

	client := newTestClient(srv.URL)
	_, err := client.GetNewAddress(context.Background(), "1")
	assert.ErrorIs(t, err, ErrRPCUnavailable)
}

func TestHTTPErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	client := NewClient(srv.URL, "", "", 0, nil, testLogger())
	_, err := client.GetTransaction(context.Background(), "tx-a")
	assert.ErrorIs(t, err, ErrRPCUnavailable)
}
