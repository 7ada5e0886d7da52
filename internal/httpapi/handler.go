package httpapi

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/fx"

	"commissionplane/pkg/config"
	"commissionplane/pkg/errutil"
	"commissionplane/pkg/health"
	"commissionplane/pkg/middleware"

	"commissionplane/services/fraud"
	"commissionplane/services/ledger"
	"commissionplane/services/promotion"
	"commissionplane/services/referral"
	"commissionplane/services/settlement"
)

var Module = fx.Module("httpapi",
	fx.Provide(NewHandler),
	fx.Provide(ProvideRouter),
)

// Handler is the synchronous operation surface for admin tooling and
// schedulers. Every response carries {code, message, data?} with code 0 on
// success; consistency no-ops report success so callers can retry blindly.
type Handler struct {
	settlements *settlement.Service
	promotions  *promotion.Service
	referrals   *referral.Service
	wallet      *ledger.Service
	fraud       *fraud.Service
}

type HandlerParams struct {
	fx.In
	Settlements *settlement.Service
	Promotions  *promotion.Service
	Referrals   *referral.Service
	Wallet      *ledger.Service
	Fraud       *fraud.Service
}

func NewHandler(p HandlerParams) *Handler {
	return &Handler{
		settlements: p.Settlements,
		promotions:  p.Promotions,
		referrals:   p.Referrals,
		wallet:      p.Wallet,
		fraud:       p.Fraud,
	}
}

func ProvideRouter(cfg *config.Config, h *Handler, checks health.HealthService) http.Handler {
	if cfg.AppEnv == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Recovery(), middleware.Error())

	router.GET("/healthz", checks.Liveness)
	router.GET("/readyz", checks.Readiness)

	v1 := router.Group("/v1")
	{
		v1.POST("/settlement/run", h.runSettlement)
		v1.GET("/settlement/stats", h.settlementStats)

		v1.POST("/orders", h.ingestOrder)
		v1.POST("/orders/:order_id/settle", h.settleOrder)
		v1.POST("/orders/:order_id/cancel", h.cancelOrder)

		v1.POST("/agents", h.registerAgent)
		v1.GET("/agents/:agent_id", h.getAgent)
		v1.POST("/agents/:agent_id/evaluate", h.evaluateAgent)
		v1.GET("/agents/:agent_id/wallet", h.getWallet)
		v1.GET("/agents/:agent_id/transactions", h.listTransactions)
		v1.GET("/agents/:agent_id/promotions", h.promotionHistory)
		v1.GET("/agents/:agent_id/flags", h.fraudFlags)
	}

	return router
}

func respond(c *gin.Context, data any) {
	c.JSON(http.StatusOK, gin.H{
		"code":    0,
		"message": "ok",
		"data":    data,
	})
}

func (h *Handler) runSettlement(c *gin.Context) {
	result, err := h.settlements.RunScheduledSettlement(c.Request.Context())
	if err != nil {
		c.Error(err)
		return
	}
	respond(c, result)
}

func (h *Handler) settlementStats(c *gin.Context) {
	stats, err := h.settlements.GetStats(c.Request.Context())
	if err != nil {
		c.Error(err)
		return
	}
	respond(c, stats)
}

func (h *Handler) ingestOrder(c *gin.Context) {
	var payload settlement.OrderCompletedPayload
	if err := c.ShouldBindJSON(&payload); err != nil {
		c.Error(errutil.BadRequest("invalid request body", err, errutil.WithErr(err)))
		return
	}

	rec, err := h.settlements.IngestOrderCompleted(c.Request.Context(), payload)
	if err != nil {
		c.Error(err)
		return
	}
	respond(c, rec)
}

func (h *Handler) settleOrder(c *gin.Context) {
	if err := h.settlements.SettleOrder(c.Request.Context(), c.Param("order_id")); err != nil {
		c.Error(err)
		return
	}
	respond(c, nil)
}

func (h *Handler) cancelOrder(c *gin.Context) {
	var body struct {
		RefundRatio float64 `json:"refund_ratio"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		c.Error(errutil.BadRequest("invalid request body", err, errutil.WithErr(err)))
		return
	}

	if err := h.settlements.CancelOrderRewards(c.Request.Context(), c.Param("order_id"), body.RefundRatio); err != nil {
		c.Error(err)
		return
	}
	respond(c, nil)
}

func (h *Handler) registerAgent(c *gin.Context) {
	var body struct {
		AgentID    string `json:"agent_id"`
		ReferrerID string `json:"referrer_id"`
		MentorID   string `json:"mentor_id"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		c.Error(errutil.BadRequest("invalid request body", err, errutil.WithErr(err)))
		return
	}

	agent, err := h.referrals.Register(c.Request.Context(), referral.RegisterParams{
		AgentID:        body.AgentID,
		ReferrerID:     body.ReferrerID,
		MentorID:       body.MentorID,
		RegistrationIP: c.ClientIP(),
	})
	if err != nil {
		c.Error(err)
		return
	}
	respond(c, agent)
}

func (h *Handler) getAgent(c *gin.Context) {
	agent, err := h.referrals.Get(c.Request.Context(), c.Param("agent_id"))
	if err != nil {
		c.Error(err)
		return
	}
	respond(c, agent)
}

func (h *Handler) evaluateAgent(c *gin.Context) {
	event, err := h.promotions.EvaluateAndPromote(c.Request.Context(), c.Param("agent_id"))
	if err != nil {
		c.Error(err)
		return
	}
	respond(c, gin.H{
		"promoted": event != nil,
		"event":    event,
	})
}

func (h *Handler) getWallet(c *gin.Context) {
	wallet, err := h.wallet.GetWallet(c.Request.Context(), c.Param("agent_id"))
	if err != nil {
		c.Error(err)
		return
	}
	respond(c, wallet)
}

func (h *Handler) listTransactions(c *gin.Context) {
	entries, err := h.wallet.ListTransactions(c.Request.Context(), c.Param("agent_id"))
	if err != nil {
		c.Error(err)
		return
	}
	respond(c, entries)
}

func (h *Handler) promotionHistory(c *gin.Context) {
	events, err := h.referrals.PromotionHistory(c.Request.Context(), c.Param("agent_id"))
	if err != nil {
		c.Error(err)
		return
	}
	respond(c, events)
}

func (h *Handler) fraudFlags(c *gin.Context) {
	flags, err := h.fraud.Flags(c.Request.Context(), c.Param("agent_id"))
	if err != nil {
		c.Error(err)
		return
	}
	respond(c, flags)
}
