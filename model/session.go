package model

import (
	"encoding/json"
	"time"
)

// SessionStatus 会话状态
type SessionStatus string

const (
	SessionStatusActive    SessionStatus = "Active"    // 进行中
	SessionStatusCompleted SessionStatus = "Completed" // 已关闭
)

// Session 估算会话
type Session struct {
	ID                uint          `json:"id"`
	PIN               string        `json:"pin"`
	Name              string        `json:"name"`
	CreatedAt         time.Time     `json:"createdAt"`
	Status            SessionStatus `json:"status"`
	Revealed          bool          `json:"revealed"`
	HostParticipantID *uint         `json:"hostParticipantId,omitempty"`
}

// IsActive 会话是否仍接受加入
func (s *Session) IsActive() bool {
	return s.Status == SessionStatusActive
}

// Participant 会话参与者
type Participant struct {
	ID       uint      `json:"participantId"`
	Name     string    `json:"name"`
	JoinedAt time.Time `json:"joinedAt"`
}

// Vote 投票记录，同一参与者只有最新一条有效
type Vote struct {
	ID            uint      `json:"id"`
	ParticipantID uint      `json:"participantId"`
	CardValue     string    `json:"cardValue"`
	VotedAt       time.Time `json:"votedAt"`
}

// SessionSnapshot 某一时刻会话、参与者和投票的一致视图
type SessionSnapshot struct {
	Session      Session
	Participants []Participant
	Votes        []Vote
}

// Participant 按ID查找参与者
func (s *SessionSnapshot) Participant(id uint) (Participant, bool) {
	for _, p := range s.Participants {
		if p.ID == id {
			return p, true
		}
	}
	return Participant{}, false
}

// VoteResult 单个参与者的当前投票
type VoteResult struct {
	ParticipantID   uint      `json:"participantId"`
	ParticipantName string    `json:"participantName"`
	CardValue       string    `json:"cardValue"`
	VotedAt         time.Time `json:"votedAt"`
}

// Statistics 数字牌的统计结果
type Statistics struct {
	Average float64 `json:"average"`
	Min     int     `json:"min"`
	Max     int     `json:"max"`
}

// Results 投票结果，没有数字牌时 Statistics 为 null
type Results struct {
	Votes      []VoteResult `json:"votes"`
	Statistics *Statistics  `json:"statistics"`
}

// Message 推送给客户端的消息格式
type Message struct {
	Type    string      `json:"type"`    // 消息类型
	PIN     string      `json:"pin"`     // 会话PIN
	Payload interface{} `json:"payload"` // 消息内容
}

// ToJSON 将消息转换为JSON字节数组
func (m *Message) ToJSON() ([]byte, error) {
	return json.Marshal(m)
}
