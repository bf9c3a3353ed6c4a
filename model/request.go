package model

// CreateSessionRequest 创建会话请求
type CreateSessionRequest struct {
	Name     string `json:"name" binding:"required,max=200"`
	HostName string `json:"hostName" binding:"omitempty,max=100"`
}

// JoinSessionRequest 加入会话请求
type JoinSessionRequest struct {
	Name string `json:"name" binding:"required,max=100"`
}

// SubmitVoteRequest 出牌请求
type SubmitVoteRequest struct {
	ParticipantID uint   `json:"participantId" binding:"required"`
	CardValue     string `json:"cardValue" binding:"required,max=10"`
}

// SessionResponse 会话详情
type SessionResponse struct {
	Session
	Participants []Participant `json:"participants"`
}

// MessageResponse 操作确认
type MessageResponse struct {
	Message string `json:"message"`
}

// ErrorResponse 错误响应
type ErrorResponse struct {
	Error string `json:"error"`
}
