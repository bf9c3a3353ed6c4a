package migrations

import (
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// DedupeVotes 删除同一参与者的旧投票，只保留最新一条
//
// 旧版本的votes表没有 (session_id, participant_id) 唯一索引，
// 必须在AutoMigrate建索引之前执行。
func DedupeVotes(db *gorm.DB, log *zap.Logger) error {
	// 新库还没有votes表
	if !db.Migrator().HasTable(&Vote{}) {
		return nil
	}
	if db.Migrator().HasIndex(&Vote{}, "idx_votes_session_participant") {
		log.Debug("migration skipped: votes already unique per participant")
		return nil
	}

	res := db.Exec(`DELETE FROM votes WHERE id NOT IN (
		SELECT id FROM (
			SELECT MAX(id) AS id FROM votes GROUP BY session_id, participant_id
		) AS latest
	)`)
	if res.Error != nil {
		log.Error("migration failed: dedupe votes", zap.Error(res.Error))
		return res.Error
	}

	log.Info("migration applied: dedupe votes", zap.Int64("removed", res.RowsAffected))
	return nil
}

// Vote 仅用于检查表和索引
type Vote struct{}

// 确保Vote结构体实现了gorm.Tabler接口
func (Vote) TableName() string {
	return "votes"
}
