package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"planning-poker-backend/model"
	"planning-poker-backend/repository"

	"go.uber.org/zap"
)

// 并发创建撞上同一个PIN时最多重新分配的次数
const maxCreateAttempts = 3

// Broadcaster 向某个PIN分组内的所有连接推送事件
type Broadcaster interface {
	Broadcast(ctx context.Context, pin, event string, payload interface{}) error
}

// SessionService 会话状态机
//
// 同一PIN上的所有修改都在该PIN的锁内完成，事件也在锁内发出，
// 因此分组内每个连接看到的事件顺序与修改顺序一致。
type SessionService struct {
	repo        repository.SessionRepository
	pins        *PinAllocator
	locker      Locker
	broadcaster Broadcaster
	logger      *zap.Logger
	now         func() time.Time
}

// Option 服务可选配置
type Option func(*SessionService)

// WithLocker 替换默认的进程内锁，例如分布式锁
func WithLocker(locker Locker) Option {
	return func(s *SessionService) { s.locker = locker }
}

// WithClock 替换时钟
func WithClock(now func() time.Time) Option {
	return func(s *SessionService) { s.now = now }
}

// WithPinAllocator 替换PIN分配器
func WithPinAllocator(pins *PinAllocator) Option {
	return func(s *SessionService) { s.pins = pins }
}

// NewSessionService 创建会话服务
func NewSessionService(repo repository.SessionRepository, broadcaster Broadcaster, logger *zap.Logger, opts ...Option) *SessionService {
	s := &SessionService{
		repo:        repo,
		pins:        NewPinAllocator(repo),
		locker:      NewLocalLocker(),
		broadcaster: broadcaster,
		logger:      logger.With(zap.String("component", "session_service")),
		now:         func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// CreateSession 创建会话，hostName 非空时同时创建主持人
func (s *SessionService) CreateSession(ctx context.Context, name, hostName string) (*model.Session, error) {
	for attempt := 0; attempt < maxCreateAttempts; attempt++ {
		pin, err := s.pins.Generate(ctx)
		if err != nil {
			return nil, err
		}

		session := &model.Session{
			PIN:       pin,
			Name:      name,
			CreatedAt: s.now(),
			Status:    model.SessionStatusActive,
		}
		var host *model.Participant
		if hostName != "" {
			host = &model.Participant{Name: hostName, JoinedAt: session.CreatedAt}
		}
		err = s.withLock(ctx, pin, func() error {
			return s.repo.CreateSession(ctx, session, host)
		})
		if errors.Is(err, repository.ErrDuplicatePIN) {
			continue
		}
		if err != nil {
			return nil, err
		}

		s.logger.Info("session created", zap.String("pin", pin), zap.Uint("id", session.ID))
		return session, nil
	}
	return nil, ErrAllocationExhausted
}

// GetSession 获取会话及参与者
func (s *SessionService) GetSession(ctx context.Context, pin string) (*model.SessionSnapshot, error) {
	if !IsValidPIN(pin) {
		return nil, ErrInvalidPIN
	}
	return s.repo.GetSnapshot(ctx, pin)
}

// JoinSession 加入会话
func (s *SessionService) JoinSession(ctx context.Context, pin, name string) (*model.Participant, error) {
	var joined *model.Participant
	err := s.withLock(ctx, pin, func() error {
		session, err := s.repo.GetSession(ctx, pin)
		if err != nil {
			return err
		}
		if !session.IsActive() {
			return ErrSessionNotActive
		}

		p := &model.Participant{Name: name, JoinedAt: s.now()}
		if err := s.repo.AddParticipant(ctx, pin, p); err != nil {
			return err
		}
		joined = p

		s.broadcast(ctx, pin, model.EventParticipantJoined, model.NewParticipantEvent(*p))
		return nil
	})
	if err != nil {
		return nil, err
	}
	return joined, nil
}

// LeaveSession 参与者主动离开
func (s *SessionService) LeaveSession(ctx context.Context, pin string, participantID uint) error {
	return s.withLock(ctx, pin, func() error {
		removed, err := s.repo.RemoveParticipant(ctx, pin, participantID)
		if err != nil {
			return err
		}
		s.broadcast(ctx, pin, model.EventParticipantLeft, model.NewParticipantEvent(*removed))
		return nil
	})
}

// SubmitVote 出牌，覆盖该参与者之前的牌；翻牌后仍允许改牌
func (s *SessionService) SubmitVote(ctx context.Context, pin string, participantID uint, cardValue string) error {
	return s.withLock(ctx, pin, func() error {
		participant, err := s.repo.GetParticipant(ctx, pin, participantID)
		if err != nil {
			return err
		}

		vote := &model.Vote{
			ParticipantID: participantID,
			CardValue:     cardValue,
			VotedAt:       s.now(),
		}
		if err := s.repo.ReplaceVote(ctx, pin, vote); err != nil {
			return err
		}

		s.broadcast(ctx, pin, model.EventVoteSubmitted, model.VoteSubmittedEvent{
			ParticipantID:   participantID,
			ParticipantName: participant.Name,
			CardValue:       cardValue,
		})
		return nil
	})
}

// RevealVotes 翻牌并持久化 revealed 标记
func (s *SessionService) RevealVotes(ctx context.Context, pin string) error {
	return s.withLock(ctx, pin, func() error {
		if err := s.repo.SetRevealed(ctx, pin, true); err != nil {
			return err
		}
		s.broadcast(ctx, pin, model.EventVotesRevealed, model.SessionEvent{PIN: pin})
		return nil
	})
}

// ResetSession 清空投票开始新一轮，参与者保留
func (s *SessionService) ResetSession(ctx context.Context, pin string) error {
	return s.withLock(ctx, pin, func() error {
		if err := s.repo.ResetRound(ctx, pin); err != nil {
			return err
		}
		s.broadcast(ctx, pin, model.EventNewRoundStarted, model.SessionEvent{PIN: pin})
		return nil
	})
}

// CloseSession 关闭会话但保留数据，之后不能再加入
func (s *SessionService) CloseSession(ctx context.Context, pin string) error {
	return s.withLock(ctx, pin, func() error {
		if err := s.repo.SetStatus(ctx, pin, model.SessionStatusCompleted); err != nil {
			return err
		}
		s.broadcast(ctx, pin, model.EventSessionClosed, model.SessionEvent{PIN: pin})
		return nil
	})
}

// EndSession 先通知再删除会话
func (s *SessionService) EndSession(ctx context.Context, pin string) error {
	return s.withLock(ctx, pin, func() error {
		if _, err := s.repo.GetSession(ctx, pin); err != nil {
			return err
		}
		s.broadcast(ctx, pin, model.EventSessionEnded, model.SessionEvent{PIN: pin})
		if err := s.repo.DeleteSession(ctx, pin); err != nil {
			return err
		}
		s.logger.Info("session ended", zap.String("pin", pin))
		return nil
	})
}

// ExpireSession 过期清理用：通知失败时不删除，留给下一轮
func (s *SessionService) ExpireSession(ctx context.Context, pin string) error {
	return s.withLock(ctx, pin, func() error {
		if _, err := s.repo.GetSession(ctx, pin); err != nil {
			if errors.Is(err, ErrSessionNotFound) {
				return nil
			}
			return err
		}
		if err := s.broadcaster.Broadcast(ctx, pin, model.EventSessionEnded, model.SessionEvent{PIN: pin}); err != nil {
			return fmt.Errorf("notify session end: %w", err)
		}
		return s.repo.DeleteSession(ctx, pin)
	})
}

// ExpiredSessions 创建时间早于 before 的会话PIN
func (s *SessionService) ExpiredSessions(ctx context.Context, before time.Time) ([]string, error) {
	return s.repo.ListExpired(ctx, before)
}

// GetResults 计算当前一轮的结果
func (s *SessionService) GetResults(ctx context.Context, pin string) (*model.Results, error) {
	snapshot, err := s.GetSession(ctx, pin)
	if err != nil {
		return nil, err
	}
	return ComputeResults(snapshot), nil
}

// AttachConnection 在会话锁内确认参与者存在后执行 attach
func (s *SessionService) AttachConnection(ctx context.Context, pin string, participantID uint, attach func() error) error {
	return s.withLock(ctx, pin, func() error {
		if _, err := s.repo.GetParticipant(ctx, pin, participantID); err != nil {
			return err
		}
		return attach()
	})
}

// WatchSession 在会话锁内确认会话存在后执行 attach
func (s *SessionService) WatchSession(ctx context.Context, pin string, attach func() error) error {
	return s.withLock(ctx, pin, func() error {
		if _, err := s.repo.GetSession(ctx, pin); err != nil {
			return err
		}
		return attach()
	})
}

// ReleaseParticipant 参与者已无任何连接时移除并通知
//
// stillConnected 在会话锁内调用，返回true时保留参与者。
// 参与者或会话已不存在时返回 (false, nil)。
func (s *SessionService) ReleaseParticipant(ctx context.Context, pin string, participantID uint, stillConnected func() bool) (bool, error) {
	var removed bool
	err := s.withLock(ctx, pin, func() error {
		if stillConnected() {
			return nil
		}
		p, err := s.repo.RemoveParticipant(ctx, pin, participantID)
		if errors.Is(err, ErrParticipantNotFound) || errors.Is(err, ErrSessionNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		removed = true
		s.broadcast(ctx, pin, model.EventParticipantLeft, model.NewParticipantEvent(*p))
		return nil
	})
	return removed, err
}

func (s *SessionService) withLock(ctx context.Context, pin string, fn func() error) error {
	if !IsValidPIN(pin) {
		return ErrInvalidPIN
	}
	unlock, err := s.locker.Lock(ctx, pin)
	if err != nil {
		return fmt.Errorf("lock session %s: %w", pin, err)
	}
	defer unlock()
	return fn()
}

// broadcast 推送失败只记录日志，不影响请求结果
func (s *SessionService) broadcast(ctx context.Context, pin, event string, payload interface{}) {
	if err := s.broadcaster.Broadcast(ctx, pin, event, payload); err != nil {
		s.logger.Warn("broadcast failed",
			zap.String("pin", pin),
			zap.String("event", event),
			zap.Error(err))
	}
}
