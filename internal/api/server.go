// Package api exposes a read-only HTTP view of the client's state.
package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/apexwatch/client/internal/derive"
	"github.com/apexwatch/client/internal/metrics"
	"github.com/apexwatch/client/internal/store"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"
)

// StateSource is the read side of the client. *session.Supervisor satisfies it.
type StateSource interface {
	Snapshot() store.ClientState
	SessionID() string
	Restarts() int
}

// Server wraps an Echo HTTP server.
type Server struct {
	echo    *echo.Echo
	addr    string
	src     StateSource
	tracker *metrics.Tracker
	log     zerolog.Logger
}

// NewServer creates the status server. tracker may be nil, which disables
// /metrics and /api/metrics.
func NewServer(addr string, src StateSource, tracker *metrics.Tracker, logger zerolog.Logger) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	s := &Server{
		echo:    e,
		addr:    addr,
		src:     src,
		tracker: tracker,
		log:     logger,
	}

	e.Use(middleware.Recover())
	e.Use(requestLogging(logger))

	e.GET("/healthz", s.handleHealth)
	e.GET("/api/state", s.handleState)
	if tracker != nil {
		e.GET("/api/metrics", s.handleMetrics)
		e.GET("/metrics", echo.WrapHandler(tracker.Handler()))
	}

	return s
}

// Start serves in the background.
func (s *Server) Start() {
	go func() {
		s.log.Info().Str("addr", s.addr).Msg("api_listening")
		if err := s.echo.Start(s.addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Error().Err(err).Msg("api_server_error")
		}
	}()
}

// Stop gracefully shuts down the server.
func (s *Server) Stop(ctx context.Context) error {
	if err := s.echo.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutdown error: %w", err)
	}
	s.log.Info().Msg("api_stopped")
	return nil
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.echo
}

type healthResponse struct {
	Status     string                 `json:"status"`
	Connection store.ConnectionStatus `json:"connection"`
	Session    string                 `json:"session"`
	Restarts   int                    `json:"restarts"`
}

func (s *Server) handleHealth(c echo.Context) error {
	state := s.src.Snapshot()
	return c.JSON(http.StatusOK, healthResponse{
		Status:     "ok",
		Connection: state.ConnectionStatus,
		Session:    s.src.SessionID(),
		Restarts:   s.src.Restarts(),
	})
}

// signalView is a signal with its display values.
type signalView struct {
	store.Signal
	ShortAddress          string `json:"short_address"`
	PriceUSD              string `json:"price_usd"`
	ExpectedReturnPercent string `json:"expected_return_percent"`
	ConfidencePercent     string `json:"confidence_percent"`
	HighUrgency           bool   `json:"high_urgency"`
}

type derivedView struct {
	Status         string `json:"status"`
	WinRatePercent string `json:"win_rate_percent"`
	Balance        string `json:"balance"`
	PnL            string `json:"pnl"`
	ScanRate       string `json:"scan_rate"`
	SignalCount    int    `json:"signal_count"`
	Placeholder    string `json:"placeholder,omitempty"`
}

type stateResponse struct {
	Session          string                    `json:"session"`
	ConnectionStatus store.ConnectionStatus    `json:"connection_status"`
	Signals          []signalView              `json:"signals"`
	Performance      store.PerformanceSnapshot `json:"performance"`
	Derived          derivedView               `json:"derived"`
	UpdatedAt        *time.Time                `json:"updated_at,omitempty"`
	ProducerTime     *time.Time                `json:"producer_time,omitempty"`
}

func (s *Server) handleState(c echo.Context) error {
	return c.JSON(http.StatusOK, buildStateResponse(s.src.SessionID(), s.src.Snapshot()))
}

func buildStateResponse(session string, state store.ClientState) stateResponse {
	signals := make([]signalView, 0, len(state.Signals))
	for _, sig := range state.Signals {
		signals = append(signals, signalView{
			Signal:                sig,
			ShortAddress:          derive.ShortAddress(sig.Address),
			PriceUSD:              derive.PriceUSD(sig),
			ExpectedReturnPercent: derive.ExpectedReturnPercent(sig),
			ConfidencePercent:     derive.ConfidencePercent(sig),
			HighUrgency:           derive.IsHighUrgency(sig),
		})
	}

	resp := stateResponse{
		Session:          session,
		ConnectionStatus: state.ConnectionStatus,
		Signals:          signals,
		Performance:      state.Performance,
		Derived: derivedView{
			Status:         derive.StatusLabel(state),
			WinRatePercent: derive.WinRatePercent(state),
			Balance:        derive.BalanceUSD(state),
			PnL:            derive.PnLUSD(state),
			ScanRate:       derive.ScanRate(state),
			SignalCount:    derive.SignalCount(state),
			Placeholder:    derive.Placeholder(state),
		},
	}
	if !state.UpdatedAt.IsZero() {
		resp.UpdatedAt = &state.UpdatedAt
	}
	if !state.ProducerTime.IsZero() {
		resp.ProducerTime = &state.ProducerTime
	}
	return resp
}

func (s *Server) handleMetrics(c echo.Context) error {
	return c.JSON(http.StatusOK, s.tracker.Snapshot())
}
