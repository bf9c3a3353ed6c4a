package model

import "time"

// 会话事件类型
const (
	EventParticipantJoined = "ParticipantJoined"
	EventParticipantLeft   = "ParticipantLeft"
	EventVoteSubmitted     = "VoteSubmitted"
	EventVotesRevealed     = "VotesRevealed"
	EventNewRoundStarted   = "NewRoundStarted"
	EventSessionEnded      = "SessionEnded"
	EventSessionClosed     = "SessionClosed"
)

// ParticipantEvent 参与者加入或离开
type ParticipantEvent struct {
	ParticipantID uint      `json:"participantId"`
	Name          string    `json:"name"`
	JoinedAt      time.Time `json:"joinedAt"`
}

// NewParticipantEvent 由参与者构造事件载荷
func NewParticipantEvent(p Participant) ParticipantEvent {
	return ParticipantEvent{ParticipantID: p.ID, Name: p.Name, JoinedAt: p.JoinedAt}
}

// VoteSubmittedEvent 有人出牌
type VoteSubmittedEvent struct {
	ParticipantID   uint   `json:"participantId"`
	ParticipantName string `json:"participantName"`
	CardValue       string `json:"cardValue"`
}

// SessionEvent 只携带PIN的会话级事件
type SessionEvent struct {
	PIN string `json:"pin"`
}
