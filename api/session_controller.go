package api

import (
	"errors"
	"net/http"
	"strconv"

	"planning-poker-backend/model"
	"planning-poker-backend/service"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// ErrorResponse 错误响应
type ErrorResponse = model.ErrorResponse

// SessionController 处理会话相关API请求
type SessionController struct {
	sessions    *service.SessionService
	createLimit *RateLimiter
	voteLimit   *RateLimiter
	logger      *zap.Logger
}

// NewSessionController 创建会话控制器，限流器为nil时不限流
func NewSessionController(sessions *service.SessionService, createLimit, voteLimit *RateLimiter, logger *zap.Logger) *SessionController {
	return &SessionController{
		sessions:    sessions,
		createLimit: createLimit,
		voteLimit:   voteLimit,
		logger:      logger.With(zap.String("component", "session_controller")),
	}
}

// RegisterRoutes 注册API路由
func (c *SessionController) RegisterRoutes(api gin.IRouter) {
	sessions := api.Group("/sessions")
	{
		// 会话管理
		sessions.POST("", c.createLimit.Middleware(), c.CreateSession)
		sessions.GET("/:pin", c.GetSession)
		sessions.DELETE("/:pin", c.EndSession)
		sessions.POST("/:pin/close", c.CloseSession)

		// 参与者
		sessions.POST("/:pin/participants", c.JoinSession)
		sessions.DELETE("/:pin/participants/:participantId", c.LeaveSession)

		// 出牌与翻牌
		sessions.POST("/:pin/votes", c.voteLimit.Middleware(), c.SubmitVote)
		sessions.POST("/:pin/reveal", c.RevealVotes)
		sessions.POST("/:pin/reset", c.ResetSession)
		sessions.GET("/:pin/results", c.GetResults)
	}
}

// CreateSession 创建会话
// @Summary 创建新会话
// @Tags sessions
// @Accept json
// @Produce json
// @Param session body model.CreateSessionRequest true "会话信息"
// @Success 201 {object} model.Session
// @Failure 400 {object} ErrorResponse
// @Failure 503 {object} ErrorResponse
// @Router /api/sessions [post]
func (c *SessionController) CreateSession(ctx *gin.Context) {
	var req model.CreateSessionRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		ctx.JSON(http.StatusBadRequest, ErrorResponse{Error: "Invalid request: " + err.Error()})
		return
	}

	session, err := c.sessions.CreateSession(ctx, req.Name, req.HostName)
	if err != nil {
		c.fail(ctx, err)
		return
	}

	ctx.JSON(http.StatusCreated, session)
}

// GetSession 获取会话及参与者
// @Summary 获取会话详情
// @Tags sessions
// @Produce json
// @Param pin path string true "会话PIN"
// @Success 200 {object} model.SessionResponse
// @Failure 400 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Router /api/sessions/{pin} [get]
func (c *SessionController) GetSession(ctx *gin.Context) {
	snapshot, err := c.sessions.GetSession(ctx, ctx.Param("pin"))
	if err != nil {
		c.fail(ctx, err)
		return
	}

	participants := snapshot.Participants
	if participants == nil {
		participants = []model.Participant{}
	}
	ctx.JSON(http.StatusOK, model.SessionResponse{
		Session:      snapshot.Session,
		Participants: participants,
	})
}

// JoinSession 加入会话
func (c *SessionController) JoinSession(ctx *gin.Context) {
	var req model.JoinSessionRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		ctx.JSON(http.StatusBadRequest, ErrorResponse{Error: "Invalid request: " + err.Error()})
		return
	}

	participant, err := c.sessions.JoinSession(ctx, ctx.Param("pin"), req.Name)
	if err != nil {
		c.fail(ctx, err)
		return
	}

	ctx.JSON(http.StatusCreated, participant)
}

// LeaveSession 参与者离开
func (c *SessionController) LeaveSession(ctx *gin.Context) {
	participantID, err := strconv.ParseUint(ctx.Param("participantId"), 10, 32)
	if err != nil {
		ctx.JSON(http.StatusBadRequest, ErrorResponse{Error: "Invalid participant ID"})
		return
	}

	if err := c.sessions.LeaveSession(ctx, ctx.Param("pin"), uint(participantID)); err != nil {
		c.fail(ctx, err)
		return
	}

	ctx.JSON(http.StatusOK, model.MessageResponse{Message: "Participant left the session"})
}

// SubmitVote 出牌
// @Summary 提交或修改本轮的牌
// @Tags sessions
// @Accept json
// @Produce json
// @Param pin path string true "会话PIN"
// @Param vote body model.SubmitVoteRequest true "出牌信息"
// @Success 200 {object} model.MessageResponse
// @Failure 400 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Failure 429 {object} ErrorResponse
// @Router /api/sessions/{pin}/votes [post]
func (c *SessionController) SubmitVote(ctx *gin.Context) {
	var req model.SubmitVoteRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		ctx.JSON(http.StatusBadRequest, ErrorResponse{Error: "Invalid request: " + err.Error()})
		return
	}

	if err := c.sessions.SubmitVote(ctx, ctx.Param("pin"), req.ParticipantID, req.CardValue); err != nil {
		c.fail(ctx, err)
		return
	}

	ctx.JSON(http.StatusOK, model.MessageResponse{Message: "Vote submitted successfully"})
}

// RevealVotes 翻牌
func (c *SessionController) RevealVotes(ctx *gin.Context) {
	if err := c.sessions.RevealVotes(ctx, ctx.Param("pin")); err != nil {
		c.fail(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, model.MessageResponse{Message: "Votes revealed"})
}

// ResetSession 开始新一轮
func (c *SessionController) ResetSession(ctx *gin.Context) {
	if err := c.sessions.ResetSession(ctx, ctx.Param("pin")); err != nil {
		c.fail(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, model.MessageResponse{Message: "Session reset for new round"})
}

// CloseSession 关闭会话
func (c *SessionController) CloseSession(ctx *gin.Context) {
	if err := c.sessions.CloseSession(ctx, ctx.Param("pin")); err != nil {
		c.fail(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, model.MessageResponse{Message: "Session closed"})
}

// EndSession 结束并删除会话
func (c *SessionController) EndSession(ctx *gin.Context) {
	if err := c.sessions.EndSession(ctx, ctx.Param("pin")); err != nil {
		c.fail(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, model.MessageResponse{Message: "Session ended and deleted successfully"})
}

// GetResults 本轮结果与统计
// @Summary 获取本轮结果
// @Tags sessions
// @Produce json
// @Param pin path string true "会话PIN"
// @Success 200 {object} model.Results
// @Failure 400 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Router /api/sessions/{pin}/results [get]
func (c *SessionController) GetResults(ctx *gin.Context) {
	results, err := c.sessions.GetResults(ctx, ctx.Param("pin"))
	if err != nil {
		c.fail(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, results)
}

func (c *SessionController) fail(ctx *gin.Context, err error) {
	status, message := httpError(err)
	if status >= http.StatusInternalServerError {
		c.logger.Error("request failed",
			zap.String("path", ctx.FullPath()),
			zap.String("pin", ctx.Param("pin")),
			zap.String("correlation_id", CorrelationIDFrom(ctx)),
			zap.Error(err))
	}
	ctx.JSON(status, ErrorResponse{Error: message})
}

// httpError 业务错误到HTTP状态码和提示的映射
func httpError(err error) (int, string) {
	switch {
	case errors.Is(err, service.ErrInvalidPIN):
		return http.StatusBadRequest, "Invalid PIN format"
	case errors.Is(err, service.ErrSessionNotFound):
		return http.StatusNotFound, "Session not found"
	case errors.Is(err, service.ErrSessionNotActive):
		return http.StatusBadRequest, "Session is not active"
	case errors.Is(err, service.ErrParticipantNotFound):
		return http.StatusNotFound, "Participant not found"
	case errors.Is(err, service.ErrConnectionBound):
		return http.StatusBadRequest, "Connection already bound to another participant"
	case errors.Is(err, service.ErrAllocationExhausted):
		return http.StatusServiceUnavailable, "Unable to allocate a session PIN, please try again"
	default:
		return http.StatusInternalServerError, "Internal server error"
	}
}
