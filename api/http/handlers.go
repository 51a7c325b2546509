package http

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/openalpha/simulacrum/internal/engine"
	"github.com/openalpha/simulacrum/pkg/money"
	markettypes "github.com/openalpha/simulacrum/x/market/types"
	perpetualtypes "github.com/openalpha/simulacrum/x/perpetual/types"
)

// ---- markets ----

type createMarketSeedRequest struct {
	Outcome string  `json:"outcome"`
	Trader  string  `json:"trader"`
	Side    string  `json:"side"`
	Price   float64 `json:"price"`
	Qty     float64 `json:"qty"`
}

type createMarketRequest struct {
	Question       string                     `json:"question"`
	Creator        string                     `json:"creator"`
	EscrowAccount  string                     `json:"escrowAccount"`
	CloseTime      time.Time                  `json:"closeTime"`
	Outcomes       []string                   `json:"outcomes"`
	Regime         string                     `json:"regime"`
	InitialFunding int64                      `json:"initialFundingTinybar"`
	LMSRLiquidityB float64                    `json:"lmsrLiquidityB"`
	TakerFeeRate   float64                    `json:"takerFeeRate"`
	MakerFeeRate   float64                    `json:"makerFeeRate"`
	Seeds          []createMarketSeedRequest  `json:"seeds"`
}

func parseRegime(s string) markettypes.LiquidityRegime {
	if s == "LOW_LIQUIDITY" {
		return markettypes.LowLiquidity
	}
	return markettypes.HighLiquidity
}

func (s *Server) createMarket(w http.ResponseWriter, r *http.Request) {
	var req createMarketRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body: "+err.Error())
		return
	}

	seeds := make([]engine.SeedOrder, 0, len(req.Seeds))
	for _, sr := range req.Seeds {
		side, ok := parseOrderSide(sr.Side)
		if !ok {
			writeError(w, http.StatusBadRequest, "seed order side must be buy or sell, got "+sr.Side)
			return
		}
		seeds = append(seeds, engine.SeedOrder{
			Outcome: sr.Outcome,
			Trader:  sr.Trader,
			Side:    side,
			Price:   sr.Price,
			Qty:     sr.Qty,
		})
	}

	in := markettypes.CreateInput{
		Question:       req.Question,
		Creator:        req.Creator,
		EscrowAccount:  req.EscrowAccount,
		CloseTime:      req.CloseTime,
		Outcomes:       req.Outcomes,
		Regime:         parseRegime(req.Regime),
		InitialFunding: money.Tinybar(req.InitialFunding),
		LMSRLiquidityB: req.LMSRLiquidityB,
		TakerFeeRate:   req.TakerFeeRate,
		MakerFeeRate:   req.MakerFeeRate,
	}

	m, err := s.eng.CreateMarket(in, seeds)
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, m)
}

func (s *Server) listMarkets(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	var filter markettypes.Filter
	if v := q.Get("status"); v != "" {
		st := parseMarketStatus(v)
		filter.Status = &st
	}
	if v := q.Get("regime"); v != "" {
		regime := parseRegime(v)
		filter.Regime = &regime
	}
	filter.Creator = q.Get("creator")

	writeJSON(w, http.StatusOK, s.eng.Market.List(filter))
}

func parseMarketStatus(s string) markettypes.Status {
	switch s {
	case "OPEN":
		return markettypes.StatusOpen
	case "CLOSED":
		return markettypes.StatusClosed
	case "RESOLVED":
		return markettypes.StatusResolved
	case "DISPUTED":
		return markettypes.StatusDisputed
	case "SETTLED":
		return markettypes.StatusSettled
	default:
		return markettypes.StatusUnspecified
	}
}

func (s *Server) getMarket(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	m, err := s.eng.Market.Get(id)
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, m)
}

type transitionRequest struct {
	Status          string `json:"status"`
	ResolvedOutcome string `json:"resolvedOutcome"`
}

func (s *Server) transitionMarket(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	var req transitionRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body: "+err.Error())
		return
	}
	m, err := s.eng.Transition(id, parseMarketStatus(req.Status), req.ResolvedOutcome)
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, m)
}

// ---- LMSR bets ----

type buySharesRequest struct {
	Outcome         string `json:"outcome"`
	DeltaShares     float64 `json:"deltaShares"`
	MaxCostTinybar  int64   `json:"maxCostTinybar"`
	MaxPricePercent float64 `json:"maxPricePercent"`
}

type buySharesResponse struct {
	SharesAcquired float64       `json:"sharesAcquired"`
	CostTinybar    money.Tinybar `json:"costTinybar"`
	EffectivePrice float64       `json:"effectivePrice"`
}

func (s *Server) buyShares(w http.ResponseWriter, r *http.Request) {
	marketID := mux.Vars(r)["id"]
	var req buySharesRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body: "+err.Error())
		return
	}
	shares, cost, price, err := s.eng.BuyShares(marketID, req.Outcome, req.DeltaShares, money.Tinybar(req.MaxCostTinybar), req.MaxPricePercent)
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, buySharesResponse{SharesAcquired: shares, CostTinybar: cost, EffectivePrice: price})
}

// ---- orderbook ----

type submitOrderRequest struct {
	Trader string  `json:"trader"`
	Side   string  `json:"side"`
	Type   string  `json:"type"`
	Price  float64 `json:"price"`
	Qty    float64 `json:"qty"`
}

func (s *Server) submitOrder(w http.ResponseWriter, r *http.Request) {
	marketID := mux.Vars(r)["id"]
	var req submitOrderRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body: "+err.Error())
		return
	}
	if !s.limiter.AllowOrder(req.Trader) {
		writeError(w, http.StatusTooManyRequests, "order rate limit exceeded")
		return
	}
	side, ok := parseOrderSide(req.Side)
	if !ok {
		writeError(w, http.StatusBadRequest, "side must be buy or sell, got "+req.Side)
		return
	}
	orderType, ok := parseOrderType(req.Type)
	if !ok {
		writeError(w, http.StatusBadRequest, "type must be limit or market, got "+req.Type)
		return
	}

	result, err := s.eng.SubmitOrder(marketID, req.Trader, side, orderType, req.Price, req.Qty)
	if err != nil {
		writeAppError(w, err)
		return
	}
	s.metrics.RecordOrder(marketID, req.Side, req.Type, result.Order.Status.String())
	for _, t := range result.Trades {
		qty, _ := t.Qty.Float64()
		s.metrics.RecordTrade(marketID, qty)
	}
	writeJSON(w, http.StatusCreated, result)
}

func (s *Server) getOrderbook(w http.ResponseWriter, r *http.Request) {
	marketID := mux.Vars(r)["id"]
	depth := 10
	if v := r.URL.Query().Get("depth"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			depth = n
		}
	}
	snap, err := s.eng.Orderbook.Snapshot(marketID, depth)
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (s *Server) cancelOrder(w http.ResponseWriter, r *http.Request) {
	orderID := mux.Vars(r)["id"]
	marketID := r.URL.Query().Get("marketId")
	if marketID == "" {
		writeError(w, http.StatusBadRequest, "marketId query parameter is required")
		return
	}
	order, err := s.eng.CancelOrder(marketID, orderID)
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, order)
}

// ---- perpetual positions ----

type openPositionRequest struct {
	Trader   string  `json:"trader"`
	MarketID string  `json:"marketId"`
	Side     string  `json:"side"`
	Size     float64 `json:"size"`
	Price    float64 `json:"price"`
	Leverage float64 `json:"leverage"`
}

type positionResponse struct {
	*perpetualtypes.Position
	ID string `json:"id"`
}

func wrapPosition(p *perpetualtypes.Position) positionResponse {
	return positionResponse{Position: p, ID: positionID(p.Trader, p.MarketID)}
}

func (s *Server) openPosition(w http.ResponseWriter, r *http.Request) {
	var req openPositionRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body: "+err.Error())
		return
	}
	side, ok := parsePerpSide(req.Side)
	if !ok {
		writeError(w, http.StatusBadRequest, "side must be long or short, got "+req.Side)
		return
	}
	pos, err := s.eng.OpenPosition(req.Trader, req.MarketID, side, req.Size, req.Price, req.Leverage)
	if err != nil {
		writeAppError(w, err)
		return
	}
	s.metrics.Leverage.WithLabelValues(req.MarketID).Observe(req.Leverage)
	writeJSON(w, http.StatusCreated, wrapPosition(pos))
}

func (s *Server) listPositions(w http.ResponseWriter, r *http.Request) {
	accountID := r.URL.Query().Get("accountId")
	if accountID == "" {
		writeError(w, http.StatusBadRequest, "accountId query parameter is required")
		return
	}
	positions := s.eng.Perpetual.ByTrader(accountID)
	out := make([]positionResponse, 0, len(positions))
	for _, p := range positions {
		out = append(out, wrapPosition(p))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) closePosition(w http.ResponseWriter, r *http.Request) {
	trader, marketID, ok := splitPositionID(mux.Vars(r)["id"])
	if !ok {
		writeError(w, http.StatusBadRequest, "position id must be of the form trader:marketId")
		return
	}
	realized, err := s.eng.ClosePosition(trader, marketID)
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"realizedPnlTinybar": realized})
}

func (s *Server) liquidatePosition(w http.ResponseWriter, r *http.Request) {
	trader, marketID, ok := splitPositionID(mux.Vars(r)["id"])
	if !ok {
		writeError(w, http.StatusBadRequest, "position id must be of the form trader:marketId")
		return
	}
	events, err := s.eng.LiquidateNow(trader, marketID)
	if err != nil {
		writeAppError(w, err)
		return
	}
	for _, ev := range events {
		s.metrics.RecordLiquidation(marketID, ev.Tier.String(), ev.LossHbar.ToHbar())
	}
	writeJSON(w, http.StatusOK, events)
}

func (s *Server) listLiquidations(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit := 50
	if v := q.Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}
	events := s.eng.RecentLiquidations(q.Get("marketId"), q.Get("trader"), limit)
	writeJSON(w, http.StatusOK, events)
}
