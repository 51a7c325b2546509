// Package http implements the engine's thin HTTP surface (spec section
// 6), adapted from the teacher's api/middleware rate-limiting idiom and
// wired directly to internal/engine instead of a Cosmos gRPC-gateway -
// this engine has no ABCI query path to front, so gorilla/mux plus
// rs/cors is the whole transport, same as the teacher's own REST layer
// uses for its non-chain endpoints.
package http

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"cosmossdk.io/log"
	"github.com/gorilla/mux"
	"github.com/rs/cors"
	"github.com/openalpha/simulacrum/internal/apperr"
	"github.com/openalpha/simulacrum/internal/config"
	"github.com/openalpha/simulacrum/internal/engine"
	"github.com/openalpha/simulacrum/metrics"
	orderbooktypes "github.com/openalpha/simulacrum/x/orderbook/types"
	perpetualtypes "github.com/openalpha/simulacrum/x/perpetual/types"
)

// Server is the engine's HTTP front door.
type Server struct {
	eng     *engine.Engine
	cfg     *config.Config
	logger  log.Logger
	limiter *RateLimiter
	metrics *metrics.Collector
	router  *mux.Router
}

// New builds a Server with every route from spec section 6 registered,
// plus the supplemented admin routes (market transition, manual
// liquidation trigger) internal/engine exposes.
func New(eng *engine.Engine, cfg *config.Config, logger log.Logger) *Server {
	s := &Server{
		eng:     eng,
		cfg:     cfg,
		logger:  logger.With("module", "api/http"),
		limiter: NewRateLimiter(50, 10),
		metrics: metrics.GetCollector(),
		router:  mux.NewRouter(),
	}
	s.routes()
	return s
}

// Handler returns the fully wrapped HTTP handler (CORS, rate limiting,
// metrics) ready to pass to http.Server.
func (s *Server) Handler() http.Handler {
	c := cors.New(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodDelete},
		AllowedHeaders: []string{"Content-Type", "X-Admin-Key"},
	})
	return c.Handler(s.limiter.Middleware(s.instrument(s.router)))
}

func (s *Server) instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		route := routeTemplate(r)
		s.metrics.RecordAPIRequest(r.Method, route, strconv.Itoa(rec.status), float64(time.Since(start).Milliseconds()))
		if rec.status >= 400 {
			s.metrics.RecordAPIError(r.Method, route, strconv.Itoa(rec.status))
		}
	})
}

func routeTemplate(r *http.Request) string {
	if route := mux.CurrentRoute(r); route != nil {
		if tmpl, err := route.GetPathTemplate(); err == nil {
			return tmpl
		}
	}
	return r.URL.Path
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func (s *Server) routes() {
	s.router.HandleFunc("/markets", s.requireAdmin(s.createMarket)).Methods(http.MethodPost)
	s.router.HandleFunc("/markets", s.listMarkets).Methods(http.MethodGet)
	s.router.HandleFunc("/markets/{id}", s.getMarket).Methods(http.MethodGet)
	s.router.HandleFunc("/markets/{id}/transition", s.requireAdmin(s.transitionMarket)).Methods(http.MethodPost)
	s.router.HandleFunc("/markets/{id}/bets", s.buyShares).Methods(http.MethodPost)
	s.router.HandleFunc("/markets/{id}/orders", s.submitOrder).Methods(http.MethodPost)
	s.router.HandleFunc("/markets/{id}/orderbook", s.getOrderbook).Methods(http.MethodGet)

	s.router.HandleFunc("/orders/{id}", s.cancelOrder).Methods(http.MethodDelete)

	s.router.HandleFunc("/derivatives/positions", s.openPosition).Methods(http.MethodPost)
	s.router.HandleFunc("/derivatives/positions", s.listPositions).Methods(http.MethodGet)
	s.router.HandleFunc("/derivatives/positions/{id}/close", s.closePosition).Methods(http.MethodPost)
	s.router.HandleFunc("/derivatives/positions/{id}/liquidate", s.requireAdmin(s.liquidatePosition)).Methods(http.MethodPost)
	s.router.HandleFunc("/derivatives/liquidations", s.listLiquidations).Methods(http.MethodGet)

	s.router.HandleFunc("/healthz", s.health).Methods(http.MethodGet)
	s.router.Handle("/metrics", metrics.Handler()).Methods(http.MethodGet)
}

// requireAdmin enforces spec section 6's admin-route contract: 503 when
// no admin key is configured at all, 403 when the caller's X-Admin-Key
// header doesn't match.
func (s *Server) requireAdmin(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !s.cfg.AdminConfigured() {
			writeError(w, http.StatusServiceUnavailable, "admin routes are disabled: ADMIN_KEY is not configured")
			return
		}
		if r.Header.Get("X-Admin-Key") != s.cfg.AdminKey {
			writeError(w, http.StatusForbidden, "invalid or missing X-Admin-Key")
			return
		}
		next(w, r)
	}
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// writeAppError maps an engine error to spec section 7's HTTP status
// table and writes {error: string}.
func writeAppError(w http.ResponseWriter, err error) {
	kind := apperr.KindOf(err)
	writeError(w, apperr.HTTPStatus(kind), err.Error())
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func decodeBody(r *http.Request, v interface{}) error {
	defer r.Body.Close()
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

// parseOrderSide/parseOrderType/parsePerpSide translate the HTTP layer's
// lowercase wire vocabulary into the engine's enums.
func parseOrderSide(s string) (orderbooktypes.Side, bool) {
	switch strings.ToLower(s) {
	case "buy":
		return orderbooktypes.SideBuy, true
	case "sell":
		return orderbooktypes.SideSell, true
	default:
		return orderbooktypes.SideUnspecified, false
	}
}

func parseOrderType(s string) (orderbooktypes.OrderType, bool) {
	switch strings.ToLower(s) {
	case "limit", "":
		return orderbooktypes.OrderTypeLimit, true
	case "market":
		return orderbooktypes.OrderTypeMarket, true
	default:
		return orderbooktypes.OrderTypeUnspecified, false
	}
}

func parsePerpSide(s string) (perpetualtypes.Side, bool) {
	switch strings.ToLower(s) {
	case "long":
		return perpetualtypes.SideLong, true
	case "short":
		return perpetualtypes.SideShort, true
	default:
		return perpetualtypes.SideUnspecified, false
	}
}

// positionID/splitPositionID encode the (trader, marketID) composite key
// a perpetual position is addressed by into the single :id path segment
// spec section 6's POST /derivatives/positions/:id/close names - there is
// no single-field position id in the domain model to use directly.
func positionID(trader, marketID string) string {
	return trader + ":" + marketID
}

func splitPositionID(id string) (trader, marketID string, ok bool) {
	idx := strings.LastIndex(id, ":")
	if idx <= 0 || idx == len(id)-1 {
		return "", "", false
	}
	return id[:idx], id[idx+1:], true
}
