package store

import (
	"context"
	"time"

	"gorm.io/gorm"

	"reconcileServer/backend/internal/resolution"
)

// ResolutionRecord 每次冲突解决落一行，用于审计
type ResolutionRecord struct {
	ID            uint64    `gorm:"primaryKey;autoIncrement"`
	DocumentID    string    `gorm:"size:64;not null;index:idx_doc_entry,priority:1"`
	EntryID       string    `gorm:"size:64;not null;index:idx_doc_entry,priority:2"`
	SectionID     string    `gorm:"size:191;not null"`
	Choice        string    `gorm:"size:16;not null"`
	Replacement   string    `gorm:"type:longtext"`
	RangeFrom     int       `gorm:"not null"`
	RangeTo       int       `gorm:"not null"`
	TriggeredAtMs *int64    `gorm:"default:null"`
	ResolvedBy    uint64    `gorm:"not null"`
	Revision      uint64    `gorm:"not null"`
	CreatedAt     time.Time `gorm:"autoCreateTime"`
}

func (ResolutionRecord) TableName() string {
	return "reconcile_resolutions"
}

type ResolutionStore struct{ db *gorm.DB }

func NewResolutionStore(db *gorm.DB) *ResolutionStore {
	return &ResolutionStore{db: db}
}

func (s *ResolutionStore) SaveResolution(ctx context.Context, docID string, res resolution.Resolution, resolvedBy uint64, revision uint64) error {
	rec := ResolutionRecord{
		DocumentID:    docID,
		EntryID:       res.ID,
		SectionID:     res.SectionID,
		Choice:        string(res.Choice),
		Replacement:   res.Replacement,
		RangeFrom:     res.From,
		RangeTo:       res.To,
		TriggeredAtMs: res.TriggeredAtMs,
		ResolvedBy:    resolvedBy,
		Revision:      revision,
	}
	return s.db.WithContext(ctx).Create(&rec).Error
}

// ListResolutions 按时间倒序返回某文档最近的解决记录
func (s *ResolutionStore) ListResolutions(ctx context.Context, docID string, limit int) ([]ResolutionRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	var out []ResolutionRecord
	err := s.db.WithContext(ctx).
		Where("document_id = ?", docID).
		Order("id DESC").
		Limit(limit).
		Find(&out).Error
	return out, err
}
