package models

import (
	"time"
)

// Session 会话表，删除时级联删除参与者和投票
type Session struct {
	ID                uint          `gorm:"primaryKey"`
	PIN               string        `gorm:"column:pin;size:6;not null;uniqueIndex"`
	Name              string        `gorm:"size:200;not null"`
	CreatedAt         time.Time     `gorm:"not null;index"`
	Status            string        `gorm:"size:16;not null;default:Active"`
	Revealed          bool          `gorm:"not null;default:false"`
	HostParticipantID *uint         // 不建外键，避免与参与者表循环依赖
	Participants      []Participant `gorm:"foreignKey:SessionID;constraint:OnDelete:CASCADE"`
	Votes             []Vote        `gorm:"foreignKey:SessionID;constraint:OnDelete:CASCADE"`
}

// Participant 参与者表
type Participant struct {
	ID        uint      `gorm:"primaryKey"`
	SessionID uint      `gorm:"not null;index"`
	Name      string    `gorm:"size:100;not null"`
	JoinedAt  time.Time `gorm:"not null"`
	Votes     []Vote    `gorm:"foreignKey:ParticipantID;constraint:OnDelete:CASCADE"`
}

// Vote 投票表，(session_id, participant_id) 唯一，换牌时先删后插
type Vote struct {
	ID            uint      `gorm:"primaryKey"`
	SessionID     uint      `gorm:"not null;uniqueIndex:idx_votes_session_participant,priority:1"`
	ParticipantID uint      `gorm:"not null;uniqueIndex:idx_votes_session_participant,priority:2"`
	CardValue     string    `gorm:"size:10;not null"`
	VotedAt       time.Time `gorm:"not null"`
}

// All 需要自动迁移的模型
func All() []interface{} {
	return []interface{}{&Session{}, &Participant{}, &Vote{}}
}
