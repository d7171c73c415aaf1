package api

import (
	"time"

	"MetaAgent/internal/domain/models"
	"MetaAgent/internal/services/risk"
	"MetaAgent/internal/usecase"
	xhttp "MetaAgent/pkg/http"
	xlogger "MetaAgent/pkg/logger"

	"github.com/labstack/echo/v4"
)

// ControlEchoHandler is the operator control plane: coordination
// strategy management and risk engine administration.
type ControlEchoHandler struct {
	logger      *xlogger.Logger
	coordinator *usecase.Coordinator
	overrides   *usecase.Overrides
	engine      *risk.Engine
}

func NewControlEchoHandler(logger *xlogger.Logger, coordinator *usecase.Coordinator, overrides *usecase.Overrides, engine *risk.Engine) *ControlEchoHandler {
	return &ControlEchoHandler{
		logger:      logger,
		coordinator: coordinator,
		overrides:   overrides,
		engine:      engine,
	}
}

func (h *ControlEchoHandler) RegisterRoutes(e *echo.Echo) {
	e.GET("/healthz", h.Health)
	e.GET("/status", h.Status)

	ctl := e.Group("/control")
	ctl.POST("/pause_strategy", h.PauseStrategy)
	ctl.POST("/resume_strategy", h.ResumeStrategy)
	ctl.POST("/emergency_stop", h.EmergencyStop)
	ctl.POST("/reset_emergency", h.ResetEmergency)
	ctl.POST("/set_voting_strategy", h.SetVotingStrategy)
	ctl.POST("/position_cap", h.SetPositionCap)

	rk := e.Group("/risk")
	rk.GET("/summary", h.RiskSummary)
	rk.POST("/limits", h.UpdateLimits)
	rk.POST("/block_symbol", h.BlockSymbol)
	rk.POST("/unblock_symbol", h.UnblockSymbol)
	rk.POST("/reset_daily", h.ResetDaily)
	rk.GET("/violations", h.Violations)
}

func (h *ControlEchoHandler) Health(c echo.Context) error {
	return xhttp.SuccessResponse(c, map[string]interface{}{
		"status":    "healthy",
		"service":   "meta-agent",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

func (h *ControlEchoHandler) Status(c echo.Context) error {
	return xhttp.SuccessResponse(c, h.coordinator.Status())
}

func (h *ControlEchoHandler) PauseStrategy(c echo.Context) error {
	req := &models.StrategyRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	h.overrides.PauseStrategy(req.StrategyID)
	h.logger.Info("strategy paused", xlogger.String("strategy_id", req.StrategyID))
	return xhttp.SuccessResponse(c, map[string]string{"status": "paused", "strategy_id": req.StrategyID})
}

func (h *ControlEchoHandler) ResumeStrategy(c echo.Context) error {
	req := &models.StrategyRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	h.overrides.ResumeStrategy(req.StrategyID)
	h.logger.Info("strategy resumed", xlogger.String("strategy_id", req.StrategyID))
	return xhttp.SuccessResponse(c, map[string]string{"status": "resumed", "strategy_id": req.StrategyID})
}

// EmergencyStop raises both the manual flag and the engine kill switch,
// so trading stays halted even if one of them is cleared in isolation.
func (h *ControlEchoHandler) EmergencyStop(c echo.Context) error {
	req := &models.EmergencyStopRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	h.overrides.SetEmergency(true)
	h.engine.EmergencyStop(req.Reason)
	h.logger.Warn("emergency stop activated", xlogger.String("reason", req.Reason))
	return xhttp.SuccessResponse(c, map[string]string{"status": "emergency_stop_activated"})
}

func (h *ControlEchoHandler) ResetEmergency(c echo.Context) error {
	h.overrides.SetEmergency(false)
	h.engine.ResetKillSwitch()
	h.logger.Warn("emergency stop reset")
	return xhttp.SuccessResponse(c, map[string]string{"status": "emergency_stop_reset"})
}

func (h *ControlEchoHandler) SetVotingStrategy(c echo.Context) error {
	req := &models.VotingStrategyRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	if err := h.overrides.SetVotingStrategy(models.VotingStrategy(req.Strategy)); err != nil {
		return xhttp.AppErrorResponse(c, xhttp.BadRequestError(err.Error()))
	}
	h.logger.Info("voting strategy changed", xlogger.String("strategy", req.Strategy))
	return xhttp.SuccessResponse(c, map[string]string{"status": "updated", "voting_strategy": req.Strategy})
}

func (h *ControlEchoHandler) SetPositionCap(c echo.Context) error {
	req := &models.PositionCapRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	h.overrides.SetCap(req.Symbol, req.MaxQuantity)
	h.logger.Info("position cap set",
		xlogger.String("symbol", req.Symbol),
		xlogger.Any("max_quantity", req.MaxQuantity))
	return xhttp.SuccessResponse(c, map[string]interface{}{
		"status":       "updated",
		"symbol":       req.Symbol,
		"max_quantity": req.MaxQuantity,
	})
}

func (h *ControlEchoHandler) RiskSummary(c echo.Context) error {
	return xhttp.SuccessResponse(c, h.engine.Summary())
}

func (h *ControlEchoHandler) UpdateLimits(c echo.Context) error {
	req := &models.RiskLimitsRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	limits, err := h.engine.UpdateLimits(*req)
	if err != nil {
		return xhttp.AppErrorResponse(c, xhttp.BadRequestError(err.Error()))
	}
	h.logger.Info("risk limits updated", xlogger.Any("limits", limits))
	return xhttp.SuccessResponse(c, map[string]interface{}{"status": "updated", "limits": limits})
}

func (h *ControlEchoHandler) BlockSymbol(c echo.Context) error {
	req := &models.SymbolRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	h.engine.BlockSymbol(req.Symbol)
	h.logger.Warn("symbol blocked", xlogger.String("symbol", req.Symbol))
	return xhttp.SuccessResponse(c, map[string]string{"status": "blocked", "symbol": req.Symbol})
}

func (h *ControlEchoHandler) UnblockSymbol(c echo.Context) error {
	req := &models.SymbolRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	h.engine.UnblockSymbol(req.Symbol)
	h.logger.Info("symbol unblocked", xlogger.String("symbol", req.Symbol))
	return xhttp.SuccessResponse(c, map[string]string{"status": "unblocked", "symbol": req.Symbol})
}

func (h *ControlEchoHandler) ResetDaily(c echo.Context) error {
	h.engine.ResetDailyCounters()
	h.logger.Info("daily risk counters reset")
	return xhttp.SuccessResponse(c, map[string]string{"status": "daily_counters_reset"})
}

func (h *ControlEchoHandler) Violations(c echo.Context) error {
	req := &models.ViolationsRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	violations := h.engine.Violations(req.Limit)
	if since, ok := xhttp.ParseTime(req.Since); ok {
		filtered := violations[:0]
		for _, v := range violations {
			if !v.Timestamp.Before(since) {
				filtered = append(filtered, v)
			}
		}
		violations = filtered
	}
	return xhttp.SuccessResponse(c, map[string]interface{}{
		"violations":  violations,
		"total_count": len(violations),
	})
}
