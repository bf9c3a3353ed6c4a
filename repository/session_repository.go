package repository

import (
	"context"
	"errors"
	"time"

	"planning-poker-backend/model"
)

var (
	ErrSessionNotFound     = errors.New("session not found")
	ErrParticipantNotFound = errors.New("participant not found")
	ErrDuplicatePIN        = errors.New("pin already in use")
)

// SessionRepository 定义会话数据访问接口
//
// 每个方法自身是原子的；跨方法的串行化由服务层的会话锁保证。
type SessionRepository interface {
	// 会话相关方法
	// host 非空时同一事务内写入主持人，任一步失败都不留下会话
	CreateSession(ctx context.Context, session *model.Session, host *model.Participant) error
	PINExists(ctx context.Context, pin string) (bool, error)
	GetSession(ctx context.Context, pin string) (*model.Session, error)
	GetSnapshot(ctx context.Context, pin string) (*model.SessionSnapshot, error)
	SetStatus(ctx context.Context, pin string, status model.SessionStatus) error
	SetRevealed(ctx context.Context, pin string, revealed bool) error
	DeleteSession(ctx context.Context, pin string) error
	ListExpired(ctx context.Context, before time.Time) ([]string, error)

	// 参与者相关方法
	AddParticipant(ctx context.Context, pin string, participant *model.Participant) error
	GetParticipant(ctx context.Context, pin string, participantID uint) (*model.Participant, error)
	RemoveParticipant(ctx context.Context, pin string, participantID uint) (*model.Participant, error)

	// 投票相关方法
	ReplaceVote(ctx context.Context, pin string, vote *model.Vote) error
	ResetRound(ctx context.Context, pin string) error

	Ping(ctx context.Context) error
}
