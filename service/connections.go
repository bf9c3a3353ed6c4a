package service

import (
	"context"
	"sync"

	"go.uber.org/zap"
)

// GroupManager 维护连接所属的PIN分组
type GroupManager interface {
	AddToGroup(connID, pin string) error
	RemoveFromGroup(connID, pin string)
}

// Binding 一个连接代表的参与者
type Binding struct {
	ConnectionID  string
	PIN           string
	ParticipantID uint
	Name          string
}

// ConnectionRegistry 连接到参与者的映射，驱动断线移除
//
// 加锁顺序：会话锁 -> r.mu -> 分组锁。
type ConnectionRegistry struct {
	mu       sync.Mutex
	bindings map[string]Binding

	sessions *SessionService
	groups   GroupManager
	logger   *zap.Logger
}

// NewConnectionRegistry 创建连接注册表
func NewConnectionRegistry(sessions *SessionService, groups GroupManager, logger *zap.Logger) *ConnectionRegistry {
	return &ConnectionRegistry{
		bindings: make(map[string]Binding),
		sessions: sessions,
		groups:   groups,
		logger:   logger.With(zap.String("component", "connection_registry")),
	}
}

// JoinGroup 把连接绑定到参与者并加入分组
func (r *ConnectionRegistry) JoinGroup(ctx context.Context, connID, pin string, participantID uint, name string) error {
	err := r.sessions.AttachConnection(ctx, pin, participantID, func() error {
		r.mu.Lock()
		defer r.mu.Unlock()

		if b, ok := r.bindings[connID]; ok && (b.PIN != pin || b.ParticipantID != participantID) {
			return ErrConnectionBound
		}
		if err := r.groups.AddToGroup(connID, pin); err != nil {
			return err
		}
		r.bindings[connID] = Binding{
			ConnectionID:  connID,
			PIN:           pin,
			ParticipantID: participantID,
			Name:          name,
		}
		return nil
	})
	if err != nil {
		return err
	}

	r.logger.Debug("connection joined group",
		zap.String("conn", connID),
		zap.String("pin", pin),
		zap.Uint("participant", participantID))
	return nil
}

// WatchGroup 只接收事件，不代表任何参与者
func (r *ConnectionRegistry) WatchGroup(ctx context.Context, connID, pin string) error {
	return r.sessions.WatchSession(ctx, pin, func() error {
		return r.groups.AddToGroup(connID, pin)
	})
}

// LeaveGroup 离开分组，若连接代表的参与者再无其他连接则移除参与者
func (r *ConnectionRegistry) LeaveGroup(ctx context.Context, connID, pin string) error {
	if !IsValidPIN(pin) {
		return ErrInvalidPIN
	}

	r.mu.Lock()
	b, bound := r.bindings[connID]
	if bound && b.PIN == pin {
		delete(r.bindings, connID)
	} else {
		bound = false
	}
	r.mu.Unlock()

	r.groups.RemoveFromGroup(connID, pin)
	if bound {
		r.release(ctx, b)
	}
	return nil
}

// Disconnect 连接断开
func (r *ConnectionRegistry) Disconnect(ctx context.Context, connID string) {
	r.mu.Lock()
	b, ok := r.bindings[connID]
	delete(r.bindings, connID)
	r.mu.Unlock()

	if ok {
		r.release(ctx, b)
	}
}

// Connections 某个参与者当前的连接数
func (r *ConnectionRegistry) Connections(pin string, participantID uint) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.countLocked(pin, participantID)
}

// Count 已绑定参与者的连接总数
func (r *ConnectionRegistry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.bindings)
}

// release 在会话锁内扫描剩余连接，扫描与绑定共用 r.mu
func (r *ConnectionRegistry) release(ctx context.Context, b Binding) {
	left, err := r.sessions.ReleaseParticipant(ctx, b.PIN, b.ParticipantID, func() bool {
		r.mu.Lock()
		defer r.mu.Unlock()
		return r.countLocked(b.PIN, b.ParticipantID) > 0
	})
	if err != nil {
		r.logger.Error("release participant failed",
			zap.String("pin", b.PIN),
			zap.Uint("participant", b.ParticipantID),
			zap.Error(err))
		return
	}
	if left {
		r.logger.Info("participant left after last connection closed",
			zap.String("pin", b.PIN),
			zap.Uint("participant", b.ParticipantID),
			zap.String("name", b.Name))
	}
}

func (r *ConnectionRegistry) countLocked(pin string, participantID uint) int {
	n := 0
	for _, b := range r.bindings {
		if b.PIN == pin && b.ParticipantID == participantID {
			n++
		}
	}
	return n
}
