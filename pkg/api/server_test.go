package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gorilla/websocket"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/require"

	"github.com/uhyunpark/hyperlend/params"
	"github.com/uhyunpark/hyperlend/pkg/abci"
	"github.com/uhyunpark/hyperlend/pkg/app/core/transaction"
	"github.com/uhyunpark/hyperlend/pkg/app/lending"
	"github.com/uhyunpark/hyperlend/pkg/crypto"
	"github.com/uhyunpark/hyperlend/pkg/events"
	"github.com/uhyunpark/hyperlend/pkg/fixed"
	"github.com/uhyunpark/hyperlend/pkg/ledger"
)

const testGenesis = `
chain_id = "api-test"
timestamp = 1700000000

[contracts]
registry       = "0x0000000000000000000000000000000000000f01"
reserve        = "0x0000000000000000000000000000000000000f02"
reserve_escrow = "0x0000000000000000000000000000000000000f03"
kernel         = "0x0000000000000000000000000000000000000f04"
kernel_escrow  = "0x0000000000000000000000000000000000000f05"
margin_kernel  = "0x0000000000000000000000000000000000000f06"
margin_escrow  = "0x0000000000000000000000000000000000000f07"
connector      = "0x0000000000000000000000000000000000000f08"

[access]
admins = ["0x00000000000000000000000000000000000000ad"]

[[balances]]
holder = "0x00000000000000000000000000000000000000b1"
asset  = "0x00000000000000000000000000000000000000a1"
value  = "12.5"

[[rates]]
connector = "0x0000000000000000000000000000000000000f08"
from      = "0x00000000000000000000000000000000000000a1"
to        = "0x00000000000000000000000000000000000000a2"
rate      = "0.5"
`

var (
	holder = common.HexToAddress("0x00000000000000000000000000000000000000b1")
	asset  = common.HexToAddress("0x00000000000000000000000000000000000000a1")
)

func newServer(t *testing.T) (*Server, *lending.App) {
	t.Helper()
	g, err := params.ParseGenesis(testGenesis)
	require.NoError(t, err)
	app, err := lending.NewApp(g.Contracts, ledger.NewState(), nil)
	require.NoError(t, err)
	_, err = app.InitChain(g)
	require.NoError(t, err)
	return NewServer(app, Options{AllowedOrigins: []string{"http://localhost:3000"}}), app
}

func get(t *testing.T, s *Server, path string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func TestHealth(t *testing.T) {
	s, _ := newServer(t)
	rec := get(t, s, "/health")
	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestSubmitTx(t *testing.T) {
	s, app := newServer(t)
	signer, err := crypto.GenerateKey()
	require.NoError(t, err)
	env, err := transaction.NewEnvelope(transaction.TxLoanProcess, signer.Address(), uint256.NewInt(1),
		transaction.LoanProcess{OrderHash: common.HexToHash("0x0a")})
	require.NoError(t, err)
	require.NoError(t, env.Sign(signer))
	body, err := env.Serialize()
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/tx", bytes.NewReader(body)))
	require.Equal(t, http.StatusAccepted, rec.Code)
	require.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var resp SubmitTxResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, "queued", resp.Status)
	require.Equal(t, env.Hash(), resp.TxHash)
	require.Equal(t, "closing", resp.Class)
	require.NotEmpty(t, resp.RequestID)
	require.Equal(t, 1, app.GetMempoolSize())

	rec = get(t, s, "/api/v1/chain/status")
	require.Equal(t, http.StatusOK, rec.Code)
	var st lending.ChainStatus
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &st))
	require.Equal(t, 1, st.MempoolSize)
}

func TestSubmitTxRejectsMalformed(t *testing.T) {
	s, app := newServer(t)
	for name, body := range map[string]string{
		"not json":     "hello",
		"unknown type": `{"type":"perp.order","sender":"0x00000000000000000000000000000000000000b1","nonce":"1","payload":{},"signature":"0x00"}`,
	} {
		t.Run(name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/tx", strings.NewReader(body)))
			require.Equal(t, http.StatusBadRequest, rec.Code)
		})
	}
	require.Equal(t, 0, app.GetMempoolSize())
}

func TestQueries(t *testing.T) {
	s, _ := newServer(t)

	rec := get(t, s, "/api/v1/balances/"+holder.Hex()+"/"+asset.Hex())
	require.Equal(t, http.StatusOK, rec.Code)
	var bal BalanceInfo
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &bal))
	require.Equal(t, "12.5", bal.Decimal)
	require.Equal(t, fixed.MustParse("12.5").Dec(), bal.Value)

	rec = get(t, s, "/api/v1/balances/"+holder.Hex())
	require.Equal(t, http.StatusOK, rec.Code)
	var all []BalanceInfo
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &all))
	require.Len(t, all, 1)

	rec = get(t, s, "/api/v1/rates/0x0000000000000000000000000000000000000f08/"+asset.Hex()+"/0x00000000000000000000000000000000000000a2")
	require.Equal(t, http.StatusOK, rec.Code)
	var rate RateInfo
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &rate))
	require.Equal(t, "0.5", rate.Decimal)

	rec = get(t, s, "/api/v1/chain/contracts")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), strings.ToLower("0x0000000000000000000000000000000000000f04"))
}

func TestQueryErrors(t *testing.T) {
	s, _ := newServer(t)
	cases := map[string]int{
		"/api/v1/balances/nothex":                       http.StatusBadRequest,
		"/api/v1/orders/loan/0x1234":                    http.StatusBadRequest,
		"/api/v1/orders/loan/" + common.Hash{1}.Hex():   http.StatusNotFound,
		"/api/v1/orders/margin/" + common.Hash{2}.Hex(): http.StatusNotFound,
		"/api/v1/accounts/" + holder.Hex():              http.StatusNotFound,
		"/api/v1/pools/" + asset.Hex():                  http.StatusNotFound,
	}
	for path, code := range cases {
		t.Run(path, func(t *testing.T) {
			require.Equal(t, code, get(t, s, path).Code)
		})
	}
}

func TestWebSocketReceivesEvents(t *testing.T) {
	s, _ := newServer(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.hub.Run(ctx)

	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/ws", nil)
	require.NoError(t, err)
	defer conn.Close()
	require.NoError(t, conn.WriteJSON(WSSubscribeRequest{Op: "subscribe", Channels: []string{ChannelEvents}}))

	require.Eventually(t, func() bool {
		s.hub.mu.RLock()
		defer s.hub.mu.RUnlock()
		for c := range s.hub.clients {
			if c.IsSubscribed(ChannelEvents) {
				return true
			}
		}
		return false
	}, 2*time.Second, 10*time.Millisecond)

	ev := events.NewErrorWithHint("Kernel::repay", common.HexToHash("0x0b"), events.ReasonOrderNotOpen)
	s.OnCommit(abci.ResponseFinalizeBlock{
		Height: 7,
		Receipts: []abci.Receipt{{
			TxHash: common.HexToHash("0x0c"),
			Status: abci.StatusRejected,
			Events: []events.Event{ev},
		}},
	})

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var got EventUpdate
	require.NoError(t, conn.ReadJSON(&got))
	require.Equal(t, "event", got.Type)
	require.Equal(t, int64(7), got.Height)
	require.Equal(t, abci.StatusRejected, got.Status)
	require.Equal(t, ev, got.Event)
}
