// Package metrics exposes the engine's Prometheus metrics, trimmed from
// the teacher's metrics/prometheus.go Collector down to the subsystems
// this engine actually has: orders, trades, positions, liquidations, the
// insurance fund, funding, and the API/WS transport layers. The teacher's
// multi-exchange oracle metrics (OracleSourceCount, OracleDeviation) and
// chain metrics (BlockHeight, TxPoolSize, PeerCount) are dropped - there
// is one mark-price source per market here, not N exchange feeds to
// cross-check, and no consensus layer to report block height for.
package metrics

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector holds every metric this engine publishes.
type Collector struct {
	OrdersTotal   *prometheus.CounterVec
	OrdersActive  *prometheus.GaugeVec
	OrderLatency  *prometheus.HistogramVec

	MatchingLatency *prometheus.HistogramVec
	OrderbookDepth  *prometheus.GaugeVec

	TradesTotal *prometheus.CounterVec
	TradeVolume *prometheus.CounterVec

	PositionsOpen *prometheus.GaugeVec
	UnrealizedPnL *prometheus.GaugeVec
	Leverage      *prometheus.HistogramVec

	LiquidationsTotal *prometheus.CounterVec
	LiquidationValue  *prometheus.CounterVec

	InsuranceFundBalance *prometheus.GaugeVec
	InsuranceFundOutflow *prometheus.CounterVec

	ADLEventsTotal      *prometheus.CounterVec
	ADLValueDeleveraged *prometheus.CounterVec

	FundingRate     *prometheus.GaugeVec
	FundingPayments *prometheus.CounterVec

	MarkPrice *prometheus.GaugeVec

	WSConnectionsActive prometheus.Gauge
	WSMessagesTotal     *prometheus.CounterVec

	APIRequestsTotal  *prometheus.CounterVec
	APIRequestLatency *prometheus.HistogramVec
	APIErrorsTotal    *prometheus.CounterVec
}

var (
	collector     *Collector
	collectorOnce sync.Once
)

// GetCollector returns the process-wide metrics collector, constructing
// and registering it with the default Prometheus registry on first use.
func GetCollector() *Collector {
	collectorOnce.Do(func() {
		collector = newCollector()
	})
	return collector
}

func newCollector() *Collector {
	c := &Collector{
		OrdersTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "simulacrum", Subsystem: "orders", Name: "total",
			Help: "Total number of orders submitted, by market/side/type/status.",
		}, []string{"market_id", "side", "type", "status"}),
		OrdersActive: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "simulacrum", Subsystem: "orders", Name: "active",
			Help: "Currently resting orders per market.",
		}, []string{"market_id"}),
		OrderLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "simulacrum", Subsystem: "orders", Name: "latency_ms",
			Help: "SubmitOrder end-to-end latency in milliseconds.", Buckets: prometheus.DefBuckets,
		}, []string{"market_id", "type"}),

		MatchingLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "simulacrum", Subsystem: "matching", Name: "latency_ms",
			Help: "Time spent inside a single market's matching critical section.", Buckets: prometheus.DefBuckets,
		}, []string{"market_id"}),
		OrderbookDepth: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "simulacrum", Subsystem: "matching", Name: "depth",
			Help: "Resting quantity at the best price level.",
		}, []string{"market_id", "side"}),

		TradesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "simulacrum", Subsystem: "trades", Name: "total",
			Help: "Total number of trades executed.",
		}, []string{"market_id"}),
		TradeVolume: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "simulacrum", Subsystem: "trades", Name: "volume",
			Help: "Cumulative filled quantity.",
		}, []string{"market_id"}),

		PositionsOpen: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "simulacrum", Subsystem: "positions", Name: "open",
			Help: "Currently open perpetual positions.",
		}, []string{"market_id", "side"}),
		UnrealizedPnL: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "simulacrum", Subsystem: "positions", Name: "unrealized_pnl_hbar",
			Help: "Unrealized PnL of an open position in tinybar.",
		}, []string{"market_id", "trader"}),
		Leverage: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "simulacrum", Subsystem: "positions", Name: "leverage",
			Help: "Leverage chosen at position open.", Buckets: []float64{1, 2, 5, 10, 20, 50, 100},
		}, []string{"market_id"}),

		LiquidationsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "simulacrum", Subsystem: "liquidations", Name: "total",
			Help: "Liquidation cascade events, by tier.",
		}, []string{"market_id", "tier"}),
		LiquidationValue: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "simulacrum", Subsystem: "liquidations", Name: "loss_hbar",
			Help: "Cumulative realized loss absorbed by a liquidation tier, in HBAR.",
		}, []string{"market_id", "tier"}),

		InsuranceFundBalance: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "simulacrum", Subsystem: "insurance", Name: "balance_hbar",
			Help: "Current insurance fund balance per market, in tinybar.",
		}, []string{"market_id"}),
		InsuranceFundOutflow: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "simulacrum", Subsystem: "insurance", Name: "outflow_hbar",
			Help: "Cumulative amount absorbed from the insurance fund, in tinybar.",
		}, []string{"market_id"}),

		ADLEventsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "simulacrum", Subsystem: "adl", Name: "total",
			Help: "Auto-deleverage slices executed.",
		}, []string{"market_id"}),
		ADLValueDeleveraged: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "simulacrum", Subsystem: "adl", Name: "value_hbar",
			Help: "Cumulative notional auto-deleveraged, in tinybar.",
		}, []string{"market_id"}),

		FundingRate: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "simulacrum", Subsystem: "funding", Name: "rate",
			Help: "Most recent funding rate applied to a market.",
		}, []string{"market_id"}),
		FundingPayments: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "simulacrum", Subsystem: "funding", Name: "payments_hbar",
			Help: "Cumulative funding payments collected, in tinybar.",
		}, []string{"market_id"}),

		MarkPrice: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "simulacrum", Subsystem: "oracle", Name: "mark_price",
			Help: "Current mark price, by source (LMSR_CURVE/CLOB_MID/CLOB_LAST_FILL/INITIAL).",
		}, []string{"market_id", "source"}),

		WSConnectionsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "simulacrum", Subsystem: "ws", Name: "connections_active",
			Help: "Currently open WebSocket connections.",
		}),
		WSMessagesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "simulacrum", Subsystem: "ws", Name: "messages_total",
			Help: "WebSocket messages broadcast, by channel prefix.",
		}, []string{"channel"}),

		APIRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "simulacrum", Subsystem: "api", Name: "requests_total",
			Help: "HTTP requests handled, by method/path/status.",
		}, []string{"method", "path", "status"}),
		APIRequestLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "simulacrum", Subsystem: "api", Name: "request_latency_ms",
			Help: "HTTP request latency in milliseconds.", Buckets: prometheus.DefBuckets,
		}, []string{"method", "path"}),
		APIErrorsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "simulacrum", Subsystem: "api", Name: "errors_total",
			Help: "HTTP requests that returned a 4xx or 5xx status, by status code.",
		}, []string{"method", "path", "kind"}),
	}

	c.registerAll()
	return c
}

func (c *Collector) registerAll() {
	prometheus.MustRegister(
		c.OrdersTotal, c.OrdersActive, c.OrderLatency,
		c.MatchingLatency, c.OrderbookDepth,
		c.TradesTotal, c.TradeVolume,
		c.PositionsOpen, c.UnrealizedPnL, c.Leverage,
		c.LiquidationsTotal, c.LiquidationValue,
		c.InsuranceFundBalance, c.InsuranceFundOutflow,
		c.ADLEventsTotal, c.ADLValueDeleveraged,
		c.FundingRate, c.FundingPayments,
		c.MarkPrice,
		c.WSConnectionsActive, c.WSMessagesTotal,
		c.APIRequestsTotal, c.APIRequestLatency, c.APIErrorsTotal,
	)
}

// RecordOrder records an order's terminal or resting status.
func (c *Collector) RecordOrder(marketID, side, orderType, status string) {
	c.OrdersTotal.WithLabelValues(marketID, side, orderType, status).Inc()
}

// RecordTrade records one fill's volume.
func (c *Collector) RecordTrade(marketID string, qty float64) {
	c.TradesTotal.WithLabelValues(marketID).Inc()
	c.TradeVolume.WithLabelValues(marketID).Add(qty)
}

// RecordLiquidation records one cascade tier's outcome.
func (c *Collector) RecordLiquidation(marketID, tier string, lossHbar float64) {
	c.LiquidationsTotal.WithLabelValues(marketID, tier).Inc()
	c.LiquidationValue.WithLabelValues(marketID, tier).Add(lossHbar)
}

// RecordFundingRate records a market's most recent settled funding rate.
func (c *Collector) RecordFundingRate(marketID string, rate float64) {
	c.FundingRate.WithLabelValues(marketID).Set(rate)
}

// RecordMarkPrice records a market's current mark price and its source.
func (c *Collector) RecordMarkPrice(marketID, source string, price float64) {
	c.MarkPrice.WithLabelValues(marketID, source).Set(price)
}

// RecordAPIRequest records one completed HTTP request.
func (c *Collector) RecordAPIRequest(method, path, status string, latencyMs float64) {
	c.APIRequestsTotal.WithLabelValues(method, path, status).Inc()
	c.APIRequestLatency.WithLabelValues(method, path).Observe(latencyMs)
}

// RecordAPIError records one HTTP request that ended in an error status.
func (c *Collector) RecordAPIError(method, path, kind string) {
	c.APIErrorsTotal.WithLabelValues(method, path, kind).Inc()
}

// RecordWSConnection adjusts the active WebSocket connection gauge.
func (c *Collector) RecordWSConnection(delta float64) {
	c.WSConnectionsActive.Add(delta)
}

// RecordWSMessage records one message broadcast to a channel.
func (c *Collector) RecordWSMessage(channel string) {
	c.WSMessagesTotal.WithLabelValues(channel).Inc()
}

// Handler returns the HTTP handler that serves /metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}
