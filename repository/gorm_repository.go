package repository

import (
	"context"
	"errors"
	"time"

	"planning-poker-backend/model"
	"planning-poker-backend/models"

	"gorm.io/gorm"
)

// GormSessionRepository 基于GORM的会话仓库，支持SQLite和MySQL
type GormSessionRepository struct {
	db *gorm.DB
}

// NewGormSessionRepository 创建GORM仓库
func NewGormSessionRepository(db *gorm.DB) *GormSessionRepository {
	return &GormSessionRepository{db: db}
}

// CreateSession 在一个事务内写入会话和可选的主持人
func (r *GormSessionRepository) CreateSession(ctx context.Context, session *model.Session, host *model.Participant) error {
	rec := models.Session{
		PIN:       session.PIN,
		Name:      session.Name,
		CreatedAt: session.CreatedAt,
		Status:    string(session.Status),
		Revealed:  session.Revealed,
	}
	var hostRec *models.Participant
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&rec).Error; err != nil {
			if errors.Is(err, gorm.ErrDuplicatedKey) {
				return ErrDuplicatePIN
			}
			return err
		}
		if host == nil {
			return nil
		}
		p := models.Participant{
			SessionID: rec.ID,
			Name:      host.Name,
			JoinedAt:  host.JoinedAt,
		}
		if err := tx.Create(&p).Error; err != nil {
			return err
		}
		hostRec = &p
		return tx.Model(&models.Session{}).Where("id = ?", rec.ID).
			Update("host_participant_id", p.ID).Error
	})
	if err != nil {
		return err
	}
	session.ID = rec.ID
	if hostRec != nil {
		host.ID = hostRec.ID
		session.HostParticipantID = &host.ID
	}
	return nil
}

func (r *GormSessionRepository) PINExists(ctx context.Context, pin string) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&models.Session{}).Where("pin = ?", pin).Count(&count).Error
	return count > 0, err
}

func (r *GormSessionRepository) GetSession(ctx context.Context, pin string) (*model.Session, error) {
	rec, err := findSession(r.db.WithContext(ctx), pin)
	if err != nil {
		return nil, err
	}
	s := toSession(rec)
	return &s, nil
}

// GetSnapshot 在一个事务内读取会话、参与者和投票
func (r *GormSessionRepository) GetSnapshot(ctx context.Context, pin string) (*model.SessionSnapshot, error) {
	var snapshot *model.SessionSnapshot
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		rec, err := findSession(tx, pin)
		if err != nil {
			return err
		}

		var participants []models.Participant
		if err := tx.Where("session_id = ?", rec.ID).Order("id").Find(&participants).Error; err != nil {
			return err
		}
		var votes []models.Vote
		if err := tx.Where("session_id = ?", rec.ID).Order("id").Find(&votes).Error; err != nil {
			return err
		}

		snapshot = &model.SessionSnapshot{
			Session:      toSession(rec),
			Participants: make([]model.Participant, 0, len(participants)),
			Votes:        make([]model.Vote, 0, len(votes)),
		}
		for _, p := range participants {
			snapshot.Participants = append(snapshot.Participants, toParticipant(p))
		}
		for _, v := range votes {
			snapshot.Votes = append(snapshot.Votes, model.Vote{
				ID:            v.ID,
				ParticipantID: v.ParticipantID,
				CardValue:     v.CardValue,
				VotedAt:       v.VotedAt,
			})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return snapshot, nil
}

func (r *GormSessionRepository) SetStatus(ctx context.Context, pin string, status model.SessionStatus) error {
	return r.updateSession(ctx, pin, "status", string(status))
}

func (r *GormSessionRepository) SetRevealed(ctx context.Context, pin string, revealed bool) error {
	return r.updateSession(ctx, pin, "revealed", revealed)
}

// DeleteSession 删除会话及其参与者和投票
func (r *GormSessionRepository) DeleteSession(ctx context.Context, pin string) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		rec, err := findSession(tx, pin)
		if err != nil {
			return err
		}
		// 显式删除子表，不依赖SQLite是否开启外键
		if err := tx.Where("session_id = ?", rec.ID).Delete(&models.Vote{}).Error; err != nil {
			return err
		}
		if err := tx.Where("session_id = ?", rec.ID).Delete(&models.Participant{}).Error; err != nil {
			return err
		}
		return tx.Delete(&models.Session{}, rec.ID).Error
	})
}

func (r *GormSessionRepository) ListExpired(ctx context.Context, before time.Time) ([]string, error) {
	var pins []string
	err := r.db.WithContext(ctx).Model(&models.Session{}).
		Where("created_at < ?", before).
		Order("pin").
		Pluck("pin", &pins).Error
	return pins, err
}

func (r *GormSessionRepository) AddParticipant(ctx context.Context, pin string, participant *model.Participant) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		rec, err := findSession(tx, pin)
		if err != nil {
			return err
		}
		p := models.Participant{
			SessionID: rec.ID,
			Name:      participant.Name,
			JoinedAt:  participant.JoinedAt,
		}
		if err := tx.Create(&p).Error; err != nil {
			return err
		}
		participant.ID = p.ID
		return nil
	})
}

func (r *GormSessionRepository) GetParticipant(ctx context.Context, pin string, participantID uint) (*model.Participant, error) {
	db := r.db.WithContext(ctx)
	rec, err := findSession(db, pin)
	if err != nil {
		return nil, err
	}
	p, err := findParticipant(db, rec.ID, participantID)
	if err != nil {
		return nil, err
	}
	out := toParticipant(*p)
	return &out, nil
}

func (r *GormSessionRepository) RemoveParticipant(ctx context.Context, pin string, participantID uint) (*model.Participant, error) {
	var removed model.Participant
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		rec, err := findSession(tx, pin)
		if err != nil {
			return err
		}
		p, err := findParticipant(tx, rec.ID, participantID)
		if err != nil {
			return err
		}
		if err := tx.Where("participant_id = ?", p.ID).Delete(&models.Vote{}).Error; err != nil {
			return err
		}
		if err := tx.Delete(&models.Participant{}, p.ID).Error; err != nil {
			return err
		}
		if rec.HostParticipantID != nil && *rec.HostParticipantID == p.ID {
			if err := tx.Model(&models.Session{}).Where("id = ?", rec.ID).
				Update("host_participant_id", nil).Error; err != nil {
				return err
			}
		}
		removed = toParticipant(*p)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &removed, nil
}

// ReplaceVote 在一个事务内删除旧票并插入新票
func (r *GormSessionRepository) ReplaceVote(ctx context.Context, pin string, vote *model.Vote) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		rec, err := findSession(tx, pin)
		if err != nil {
			return err
		}
		if _, err := findParticipant(tx, rec.ID, vote.ParticipantID); err != nil {
			return err
		}
		if err := tx.Where("session_id = ? AND participant_id = ?", rec.ID, vote.ParticipantID).
			Delete(&models.Vote{}).Error; err != nil {
			return err
		}
		v := models.Vote{
			SessionID:     rec.ID,
			ParticipantID: vote.ParticipantID,
			CardValue:     vote.CardValue,
			VotedAt:       vote.VotedAt,
		}
		if err := tx.Create(&v).Error; err != nil {
			return err
		}
		vote.ID = v.ID
		return nil
	})
}

func (r *GormSessionRepository) ResetRound(ctx context.Context, pin string) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		rec, err := findSession(tx, pin)
		if err != nil {
			return err
		}
		if err := tx.Where("session_id = ?", rec.ID).Delete(&models.Vote{}).Error; err != nil {
			return err
		}
		return tx.Model(&models.Session{}).Where("id = ?", rec.ID).Update("revealed", false).Error
	})
}

func (r *GormSessionRepository) Ping(ctx context.Context) error {
	sqlDB, err := r.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

func (r *GormSessionRepository) updateSession(ctx context.Context, pin, column string, value interface{}) error {
	res := r.db.WithContext(ctx).Model(&models.Session{}).Where("pin = ?", pin).Update(column, value)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		// MySQL 在值未变化时也返回0行，需要再确认会话是否存在
		exists, err := r.PINExists(ctx, pin)
		if err != nil {
			return err
		}
		if !exists {
			return ErrSessionNotFound
		}
	}
	return nil
}

func findSession(db *gorm.DB, pin string) (*models.Session, error) {
	var rec models.Session
	if err := db.Where("pin = ?", pin).First(&rec).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrSessionNotFound
		}
		return nil, err
	}
	return &rec, nil
}

func findParticipant(db *gorm.DB, sessionID, participantID uint) (*models.Participant, error) {
	var p models.Participant
	if err := db.Where("id = ? AND session_id = ?", participantID, sessionID).First(&p).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrParticipantNotFound
		}
		return nil, err
	}
	return &p, nil
}

func toSession(rec *models.Session) model.Session {
	return model.Session{
		ID:                rec.ID,
		PIN:               rec.PIN,
		Name:              rec.Name,
		CreatedAt:         rec.CreatedAt,
		Status:            model.SessionStatus(rec.Status),
		Revealed:          rec.Revealed,
		HostParticipantID: rec.HostParticipantID,
	}
}

func toParticipant(p models.Participant) model.Participant {
	return model.Participant{ID: p.ID, Name: p.Name, JoinedAt: p.JoinedAt}
}
