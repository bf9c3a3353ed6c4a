package service

import (
	"errors"

	"planning-poker-backend/repository"
)

// 业务错误定义
var (
	ErrInvalidPIN          = errors.New("invalid PIN format")
	ErrSessionNotFound     = repository.ErrSessionNotFound
	ErrSessionNotActive    = errors.New("session is not active")
	ErrParticipantNotFound = repository.ErrParticipantNotFound
	ErrAllocationExhausted = errors.New("unable to generate unique PIN after multiple attempts")
	ErrConnectionBound     = errors.New("connection already bound to another participant")
)

// 错误码，实时通道上返回给客户端
const (
	CodeInvalidPIN          = "InvalidPin"
	CodeSessionNotFound     = "SessionNotFound"
	CodeSessionNotActive    = "SessionNotActive"
	CodeParticipantNotFound = "ParticipantNotFound"
	CodeAllocationExhausted = "AllocationExhausted"
	CodeConnectionBound     = "ConnectionBound"
	CodeInternal            = "Internal"
)

// ErrorCode 把业务错误映射为错误码
func ErrorCode(err error) string {
	switch {
	case errors.Is(err, ErrInvalidPIN):
		return CodeInvalidPIN
	case errors.Is(err, ErrSessionNotFound):
		return CodeSessionNotFound
	case errors.Is(err, ErrSessionNotActive):
		return CodeSessionNotActive
	case errors.Is(err, ErrParticipantNotFound):
		return CodeParticipantNotFound
	case errors.Is(err, ErrAllocationExhausted):
		return CodeAllocationExhausted
	case errors.Is(err, ErrConnectionBound):
		return CodeConnectionBound
	default:
		return CodeInternal
	}
}
