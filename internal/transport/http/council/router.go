package councilhttp

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"parliament/internal/analysis/indicator"
	"parliament/internal/consensus"
	"parliament/internal/position"
	"parliament/internal/session"
	storemodel "parliament/internal/store/model"
	"parliament/internal/types"
)

// SessionInfo 会话状态查询的应答体。
type SessionInfo struct {
	ID           string                             `json:"id"`
	Phase        string                             `json:"phase"`
	Round        int                                `json:"round"`
	Participants map[string]types.ParticipantStatus `json:"participants"`
}

// ManualProposalRequest 手动提交稟议单。
type ManualProposalRequest struct {
	SubmittedBy string `json:"submitted_by" binding:"required"`
	Strategy    string `json:"strategy" binding:"required"`
	Pair        string `json:"pair" binding:"required"`
	EntryPrice  string `json:"entry_price" binding:"required"`
	TakeProfit  string `json:"take_profit"`
	StopLoss    string `json:"stop_loss"`
	Reasoning   string `json:"reasoning"`
}

// VoteRequest 手动记一票。
type VoteRequest struct {
	VoterID  string `json:"voter_id" binding:"required"`
	Decision string `json:"decision" binding:"required"`
	Reason   string `json:"reason" binding:"required"`
}

// FinalizeRequest 复核阶段的参数调整，空字段保持原值。
type FinalizeRequest struct {
	EntryPrice *string `json:"entry_price"`
	TakeProfit *string `json:"take_profit"`
	StopLoss   *string `json:"stop_loss"`
	Reasoning  *string `json:"reasoning"`
}

// ExecuteRequest 执行交易的资金规模。
type ExecuteRequest struct {
	AmountUSD float64 `json:"amount_usd" binding:"required"`
}

// StartDiscussionRequest 发起议事。Symbol 为空时先跑初筛选标的。
type StartDiscussionRequest struct {
	Symbol string `json:"symbol"`
}

// Service 汇聚议事、共识、执行与查询能力，由应用层实现。
type Service interface {
	Activate(ctx context.Context) map[string]types.ParticipantStatus
	StartDiscussion(ctx context.Context, symbol string) error
	StopDiscussion() error
	SubmitProposal(ctx context.Context, req ManualProposalRequest) (*consensus.Proposal, error)
	CastVote(ctx context.Context, req VoteRequest) (consensus.TallyResult, error)
	FinalizeProposal(ctx context.Context, req FinalizeRequest) (*consensus.Proposal, error)
	ExecuteTrade(ctx context.Context, amountUSD float64) (position.View, error)
	ManualClose(ctx context.Context) error
	ResetSession() error

	SessionInfo() SessionInfo
	CurrentProposal() *consensus.Proposal
	CurrentPosition() *position.View
	Screening(ctx context.Context) ([]*indicator.MultiTimeframe, error)
	RecentMessages(ctx context.Context, limit int) ([]types.Message, error)
	RecentEvents(ctx context.Context, limit int) ([]storemodel.EventLogModel, error)
	PositionHistory(ctx context.Context, limit int) ([]storemodel.PositionModel, error)
	ListReports(ctx context.Context, limit int) ([]storemodel.ReportModel, error)
	GetReport(ctx context.Context, id string) (*storemodel.ReportModel, error)
}

// Router 把议事命令与查询挂到 /api/council 下。
type Router struct {
	svc Service
}

func NewRouter(svc Service) *Router {
	return &Router{svc: svc}
}

// Register 注册全部路由。
func (r *Router) Register(group *gin.RouterGroup) {
	if group == nil {
		return
	}
	// 命令
	group.POST("/participants/activate", r.handleActivate)
	group.POST("/discussion/start", r.handleStartDiscussion)
	group.POST("/discussion/stop", r.handleStopDiscussion)
	group.POST("/proposals", r.handleSubmitProposal)
	group.POST("/proposals/votes", r.handleCastVote)
	group.POST("/proposals/finalize", r.handleFinalize)
	group.POST("/trade/execute", r.handleExecute)
	group.POST("/positions/close", r.handleManualClose)
	group.POST("/session/reset", r.handleReset)
	// 查询
	group.GET("/session", r.handleSession)
	group.GET("/proposals/current", r.handleCurrentProposal)
	group.GET("/positions/current", r.handleCurrentPosition)
	group.GET("/positions", r.handlePositionHistory)
	group.GET("/screening", r.handleScreening)
	group.GET("/messages", r.handleMessages)
	group.GET("/events", r.handleEvents)
	group.GET("/reports", r.handleReports)
	group.GET("/reports/:id", r.handleReportByID)
}

func (r *Router) handleActivate(c *gin.Context) {
	statuses := r.svc.Activate(c.Request.Context())
	c.JSON(http.StatusOK, gin.H{"participants": statuses})
}

func (r *Router) handleStartDiscussion(c *gin.Context) {
	var req StartDiscussionRequest
	_ = c.ShouldBindJSON(&req)
	if err := r.svc.StartDiscussion(c.Request.Context(), req.Symbol); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"status": "started"})
}

func (r *Router) handleStopDiscussion(c *gin.Context) {
	if err := r.svc.StopDiscussion(); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "stopping"})
}

func (r *Router) handleSubmitProposal(c *gin.Context) {
	var req ManualProposalRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	p, err := r.svc.SubmitProposal(c.Request.Context(), req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, p)
}

func (r *Router) handleCastVote(c *gin.Context) {
	var req VoteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	result, err := r.svc.CastVote(c.Request.Context(), req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"result": result})
}

func (r *Router) handleFinalize(c *gin.Context) {
	var req FinalizeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	p, err := r.svc.FinalizeProposal(c.Request.Context(), req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, p)
}

func (r *Router) handleExecute(c *gin.Context) {
	var req ExecuteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	view, err := r.svc.ExecuteTrade(c.Request.Context(), req.AmountUSD)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, view)
}

func (r *Router) handleManualClose(c *gin.Context) {
	if err := r.svc.ManualClose(c.Request.Context()); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "closed"})
}

func (r *Router) handleReset(c *gin.Context) {
	if err := r.svc.ResetSession(); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "reset"})
}

func (r *Router) handleSession(c *gin.Context) {
	c.JSON(http.StatusOK, r.svc.SessionInfo())
}

func (r *Router) handleCurrentProposal(c *gin.Context) {
	p := r.svc.CurrentProposal()
	if p == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "当前没有稟议单"})
		return
	}
	c.JSON(http.StatusOK, p)
}

func (r *Router) handleCurrentPosition(c *gin.Context) {
	v := r.svc.CurrentPosition()
	if v == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "当前没有仓位"})
		return
	}
	c.JSON(http.StatusOK, v)
}

func (r *Router) handleScreening(c *gin.Context) {
	results, err := r.svc.Screening(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"results": results})
}

func (r *Router) handleMessages(c *gin.Context) {
	limit := parseLimit(c, 50)
	msgs, err := r.svc.RecentMessages(c.Request.Context(), limit)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"messages": msgs})
}

func (r *Router) handleEvents(c *gin.Context) {
	limit := parseLimit(c, 50)
	events, err := r.svc.RecentEvents(c.Request.Context(), limit)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"events": events})
}

func (r *Router) handlePositionHistory(c *gin.Context) {
	limit := parseLimit(c, 20)
	positions, err := r.svc.PositionHistory(c.Request.Context(), limit)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"positions": positions})
}

func (r *Router) handleReports(c *gin.Context) {
	limit := parseLimit(c, 20)
	reports, err := r.svc.ListReports(c.Request.Context(), limit)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"reports": reports})
}

func (r *Router) handleReportByID(c *gin.Context) {
	rpt, err := r.svc.GetReport(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	if rpt == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "报告不存在"})
		return
	}
	c.JSON(http.StatusOK, rpt)
}

func parseLimit(c *gin.Context, fallback int) int {
	raw := c.Query("limit")
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return fallback
	}
	return n
}

// respondError 把领域错误映射到合适的状态码。
// 阶段冲突与状态机拒绝属于调用方问题，给 409。
func respondError(c *gin.Context, err error) {
	var phaseErr *session.ErrPhaseConflict
	switch {
	case errors.As(err, &phaseErr),
		errors.Is(err, consensus.ErrInvalidTransition),
		errors.Is(err, consensus.ErrAlreadyVoted),
		errors.Is(err, consensus.ErrConsensusDeadlock),
		errors.Is(err, position.ErrPositionActive):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.Is(err, consensus.ErrVoterNotEligible),
		errors.Is(err, consensus.ErrInvalidDecision),
		errors.Is(err, position.ErrAmountInvalid):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, position.ErrNoPosition):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}
