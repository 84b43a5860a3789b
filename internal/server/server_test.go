package server

import (
	"bytes"
	"context"
	"crypto/ecdsa"
	"encoding/json"
	"fmt"
	"math/big"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/suite"
	"go.uber.org/zap"

	"github.com/Aidin1998/relayex/internal/assets"
	"github.com/Aidin1998/relayex/internal/config"
	"github.com/Aidin1998/relayex/internal/ledger"
	"github.com/Aidin1998/relayex/internal/node"
	"github.com/Aidin1998/relayex/internal/order"
	"github.com/Aidin1998/relayex/pkg/units"
)

var (
	admin   = common.HexToAddress("0x0000000000000000000000000000000000000001")
	relayer = common.HexToAddress("0x0000000000000000000000000000000000000fee")
)

type ServerSuite struct {
	suite.Suite
	ctx    context.Context
	node   *node.Node
	router *gin.Engine
	items  *assets.Collection

	sellerKey *ecdsa.PrivateKey
	seller    common.Address
	buyer     common.Address
}

func TestServerSuite(t *testing.T) {
	gin.SetMode(gin.TestMode)
	suite.Run(t, new(ServerSuite))
}

func (s *ServerSuite) SetupTest() {
	s.ctx = context.Background()
	cfg := &config.Config{
		Environment: "test",
		Registry:    config.RegistryConfig{Owner: admin.Hex(), GrantDelay: time.Hour},
		Exchange:    config.ExchangeConfig{ProtocolFeeBps: 500, ProtocolFeeRecipient: admin.Hex()},
		Events:      config.EventsConfig{Buffer: 64},
	}
	clock := ledger.NewManualClock(time.Unix(1_700_000_000, 0))
	n, err := node.Start(s.ctx, cfg, node.Options{Clock: clock}, zap.NewNop())
	s.Require().NoError(err)
	s.T().Cleanup(func() { _ = n.Close() })
	s.node = n
	s.router = NewServer(zap.NewNop(), n.Ledger, n.Exchange, n.Registry, n.Recent).Router()

	s.sellerKey, err = crypto.GenerateKey()
	s.Require().NoError(err)
	s.seller = crypto.PubkeyToAddress(s.sellerKey.PublicKey)
	s.buyer = common.HexToAddress("0x00000000000000000000000000000000000b0b0b")

	s.items, err = assets.DeployCollection(s.ctx, n.Ledger, admin)
	s.Require().NoError(err)
}

func (s *ServerSuite) sellOrder() *order.Order {
	now := uint64(s.node.Ledger.Now().Unix())
	return &order.Order{
		Exchange:           s.node.Exchange.Address(),
		Maker:              s.seller,
		FeeRecipient:       relayer,
		Target:             s.items.Address(),
		MakerRelayerFee:    big.NewInt(250),
		BasePrice:          units.MustEther("1.7"),
		ListingTime:        now - 60,
		ExpirationTime:     now + 3600,
		Salt:               big.NewInt(7),
		Side:               order.Sell,
		Data:               assets.TransferFromCalldata(s.seller, common.Address{}, big.NewInt(1)),
		ReplacementPattern: assets.TransferFromPattern(1),
	}
}

func (s *ServerSuite) buyOrder(sell *order.Order) *order.Order {
	return &order.Order{
		Exchange:           sell.Exchange,
		Maker:              s.buyer,
		Target:             sell.Target,
		BasePrice:          units.MustEther("1.7"),
		ListingTime:        sell.ListingTime,
		ExpirationTime:     sell.ExpirationTime,
		Salt:               big.NewInt(8),
		Side:               order.Buy,
		Data:               assets.TransferFromCalldata(common.Address{}, s.buyer, big.NewInt(1)),
		ReplacementPattern: assets.TransferFromPattern(0),
	}
}

func (s *ServerSuite) do(method, path string, body any) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		s.Require().NoError(json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

func (s *ServerSuite) decode(w *httptest.ResponseRecorder, v any) {
	s.Require().NoError(json.Unmarshal(w.Body.Bytes(), v))
}

func (s *ServerSuite) TestHealthAndMetrics() {
	s.Equal(http.StatusOK, s.do(http.MethodGet, "/health", nil).Code)
	w := s.do(http.MethodGet, "/metrics", nil)
	s.Equal(http.StatusOK, w.Code)
	s.Contains(w.Body.String(), "relayex_ledger_units_total")
}

func (s *ServerSuite) TestExchangeInfo() {
	w := s.do(http.MethodGet, "/api/v1/exchange", nil)
	s.Require().Equal(http.StatusOK, w.Code)
	var info map[string]any
	s.decode(w, &info)
	s.Equal("relayex", info["name"])
	s.EqualValues(500, info["protocol_fee_bps"])
}

func (s *ServerSuite) TestInspectSignedOrder() {
	sell := s.sellOrder()
	sig, err := order.Sign(sell, s.sellerKey)
	s.Require().NoError(err)

	w := s.do(http.MethodPost, "/api/v1/orders/inspect", gin.H{"order": sell, "signature": hexutil.Bytes(sig)})
	s.Require().Equal(http.StatusOK, w.Code, w.Body.String())
	var report struct {
		Hash         common.Hash `json:"hash"`
		HashToSign   common.Hash `json:"hash_to_sign"`
		CurrentPrice string      `json:"current_price"`
		Valid        bool        `json:"valid"`
	}
	s.decode(w, &report)
	s.True(report.Valid)
	s.Equal(sell.Hash(), report.Hash)
	s.Equal(sell.HashToSign(), report.HashToSign)
	s.Equal(units.MustEther("1.7").String(), report.CurrentPrice)
}

func (s *ServerSuite) TestInspectReportsRejection() {
	sell := s.sellOrder()
	w := s.do(http.MethodPost, "/api/v1/orders/inspect", gin.H{"order": sell})
	s.Require().Equal(http.StatusOK, w.Code)
	var report struct {
		Valid   bool `json:"valid"`
		Problem struct {
			Type   string `json:"type"`
			Status int    `json:"status"`
		} `json:"problem"`
	}
	s.decode(w, &report)
	s.False(report.Valid)
	s.Equal(http.StatusUnauthorized, report.Problem.Status)
	s.Contains(report.Problem.Type, "authentication-failed")
}

func (s *ServerSuite) TestInspectRejectsMalformedBody() {
	w := s.do(http.MethodPost, "/api/v1/orders/inspect", gin.H{"order": gin.H{"basePrice": "lots"}})
	s.Equal(http.StatusBadRequest, w.Code)
	s.Equal("application/problem+json", w.Header().Get("Content-Type"))
}

func (s *ServerSuite) TestOrderStatusFollowsCancellation() {
	sell := s.sellOrder()
	path := "/api/v1/orders/" + sell.Hash().Hex()

	var st struct {
		State    string `json:"state"`
		Approved bool   `json:"approved"`
	}
	w := s.do(http.MethodGet, path, nil)
	s.Require().Equal(http.StatusOK, w.Code)
	s.decode(w, &st)
	s.Equal("open", st.State)

	_, err := s.node.Exchange.ApproveOrder(s.ctx, s.seller, sell)
	s.Require().NoError(err)
	_, err = s.node.Exchange.CancelOrder(s.ctx, s.seller, sell, order.Approval{})
	s.Require().NoError(err)

	s.decode(s.do(http.MethodGet, path, nil), &st)
	s.Equal("cancelled", st.State)
	s.True(st.Approved)

	w = s.do(http.MethodGet, "/api/v1/orders/"+sell.Hash().Hex()+"00", nil)
	s.Equal(http.StatusBadRequest, w.Code)
}

func (s *ServerSuite) TestPreviewMatch() {
	sell := s.sellOrder()
	buy := s.buyOrder(sell)

	w := s.do(http.MethodPost, "/api/v1/orders/match", gin.H{"buy": buy, "sell": sell})
	s.Require().Equal(http.StatusOK, w.Code, w.Body.String())
	var preview struct {
		CanMatch bool   `json:"can_match"`
		Price    string `json:"price"`
		Fees     struct {
			RelayerFee  *big.Int `json:"relayer_fee"`
			ProtocolFee *big.Int `json:"protocol_fee"`
		} `json:"fees"`
	}
	s.decode(w, &preview)
	s.True(preview.CanMatch)
	s.Equal(units.MustEther("1.7").String(), preview.Price)
	s.Equal(units.MustEther("0.0425").String(), preview.Fees.RelayerFee.String())
	s.Equal(units.MustEther("0.085").String(), preview.Fees.ProtocolFee.String())

	buy.BasePrice = units.MustEther("1.5")
	w = s.do(http.MethodPost, "/api/v1/orders/match", gin.H{"buy": buy, "sell": sell})
	var rejected struct {
		CanMatch bool `json:"can_match"`
		Problem  struct {
			Type string `json:"type"`
		} `json:"problem"`
	}
	s.decode(w, &rejected)
	s.False(rejected.CanMatch)
	s.Contains(rejected.Problem.Type, "orders-incompatible")
}

func (s *ServerSuite) TestProxyLookup() {
	w := s.do(http.MethodGet, "/api/v1/proxies/"+s.seller.Hex(), nil)
	s.Equal(http.StatusNotFound, w.Code)

	proxy, _, err := s.node.Registry.RegisterProxy(s.ctx, s.seller)
	s.Require().NoError(err)

	w = s.do(http.MethodGet, "/api/v1/proxies/"+s.seller.Hex(), nil)
	s.Require().Equal(http.StatusOK, w.Code)
	var info struct {
		Address  common.Address `json:"address"`
		User     common.Address `json:"user"`
		Registry common.Address `json:"registry"`
		Revoked  bool           `json:"revoked"`
	}
	s.decode(w, &info)
	s.Equal(proxy, info.Address)
	s.Equal(s.seller, info.User)
	s.Equal(s.node.Registry.Address(), info.Registry)
	s.False(info.Revoked)

	s.Equal(http.StatusBadRequest, s.do(http.MethodGet, "/api/v1/proxies/nobody", nil).Code)
}

func (s *ServerSuite) TestOperatorStatus() {
	w := s.do(http.MethodGet, "/api/v1/operators/"+s.node.Exchange.Address().Hex(), nil)
	s.Require().Equal(http.StatusOK, w.Code)
	var st struct {
		State string `json:"state"`
	}
	s.decode(w, &st)
	s.Equal("authorized", st.State)

	s.decode(s.do(http.MethodGet, "/api/v1/operators/"+s.buyer.Hex(), nil), &st)
	s.Equal("unauthorized", st.State)
}

func (s *ServerSuite) TestRecentEvents() {
	_, _, err := s.node.Registry.RegisterProxy(s.ctx, s.seller)
	s.Require().NoError(err)

	w := s.do(http.MethodGet, "/api/v1/events?limit=1&name=ProxyRegistered", nil)
	s.Require().Equal(http.StatusOK, w.Code)
	var body struct {
		Events []struct {
			Name     string         `json:"name"`
			Contract string         `json:"contract"`
			Event    map[string]any `json:"event"`
		} `json:"events"`
	}
	s.decode(w, &body)
	s.Require().Len(body.Events, 1)
	s.Equal("ProxyRegistered", body.Events[0].Name)
	s.Equal(s.node.Registry.Address().Hex(), body.Events[0].Contract)

	s.Equal(http.StatusBadRequest, s.do(http.MethodGet, "/api/v1/events?limit=0", nil).Code)
}

func (s *ServerSuite) TestStreamEvents() {
	srv := httptest.NewServer(s.router)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/v1/events/stream?name=ProxyRegistered"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	s.Require().NoError(err)
	defer conn.Close()

	_, err = s.node.Exchange.ApproveOrder(s.ctx, s.seller, s.sellOrder())
	s.Require().NoError(err)
	proxy, _, err := s.node.Registry.RegisterProxy(s.ctx, s.seller)
	s.Require().NoError(err)

	s.Require().NoError(conn.SetReadDeadline(time.Now().Add(5 * time.Second)))
	var m struct {
		Name  string         `json:"name"`
		Event map[string]any `json:"event"`
	}
	s.Require().NoError(conn.ReadJSON(&m))
	s.Equal("ProxyRegistered", m.Name)
	s.True(strings.EqualFold(proxy.Hex(), fmt.Sprint(m.Event["proxy"])))
}
