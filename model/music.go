package model

import (
	"fmt"
	"time"
)

// MusicPiece 曲目（乐谱 + 若干乐章 + 若干声部录音）
type MusicPiece struct {
	ID         int64     `json:"id" gorm:"primaryKey"`
	Title      string    `json:"title" gorm:"size:200;not null;uniqueIndex:uq_piece_title_composer,priority:1"`
	Composer   string    `json:"composer" gorm:"size:100;not null;default:'';uniqueIndex:uq_piece_title_composer,priority:2"`
	SheetMusic string    `json:"sheetMusic,omitempty" gorm:"size:255"` // 存储键，空表示没有乐谱
	DateAdded  time.Time `json:"dateAdded" gorm:"autoCreateTime;<-:create"`

	Movements  []Movement  `json:"-" gorm:"foreignKey:MusicPieceID;constraint:OnDelete:CASCADE;"`
	Recordings []Recording `json:"-" gorm:"foreignKey:MusicPieceID;constraint:OnDelete:CASCADE;"`
}

// TableName 指定表名
func (MusicPiece) TableName() string {
	return "music_pieces"
}

// String renders "Title (Composer)", or just the title when the composer is unknown.
func (p *MusicPiece) String() string {
	if p.Composer != "" {
		return fmt.Sprintf("%s (%s)", p.Title, p.Composer)
	}
	return p.Title
}

// Movement 乐章，按 Order 升序展示
type Movement struct {
	ID           int64  `json:"id" gorm:"primaryKey"`
	MusicPieceID int64  `json:"musicPieceId" gorm:"not null;index"`
	Title        string `json:"title" gorm:"size:200;not null"`
	Order        int    `json:"order" gorm:"column:sort_order;not null;default:1"`
	Notes        string `json:"notes,omitempty" gorm:"type:text"`

	Recordings []Recording `json:"-" gorm:"foreignKey:MovementID;constraint:OnDelete:CASCADE;"`
}

func (Movement) TableName() string {
	return "movements"
}

// Recording 声部录音。MovementID 为空表示整曲录音。
// RecordingFile 与 RecordingURL 只应有一个有值。
type Recording struct {
	ID            int64     `json:"id" gorm:"primaryKey"`
	MusicPieceID  int64     `json:"musicPieceId" gorm:"not null;index"`
	MovementID    *int64    `json:"movementId,omitempty" gorm:"index"`
	Part          string    `json:"part" gorm:"size:50;not null;default:''"`
	RecordingFile string    `json:"recordingFile,omitempty" gorm:"size:255"`
	RecordingURL  string    `json:"recordingUrl,omitempty" gorm:"size:500"`
	DateUploaded  time.Time `json:"dateUploaded" gorm:"autoCreateTime;<-:create"`
}

func (Recording) TableName() string {
	return "recordings"
}

// IsFullPiece reports whether the recording covers the whole piece rather than one movement.
func (r *Recording) IsFullPiece() bool {
	return r.MovementID == nil
}

// HasFile reports whether the recording points at an uploaded file rather than an external link.
func (r *Recording) HasFile() bool {
	return r.RecordingFile != ""
}

// DisplayName renders "Piece – Movement".
func (m *Movement) DisplayName(pieceTitle string) string {
	return fmt.Sprintf("%s – %s", pieceTitle, m.Title)
}

// DisplayName renders "Piece – Movement (Part)" for movement recordings and
// "Piece (Part)" for whole-piece ones.
func (r *Recording) DisplayName(pieceTitle, movementTitle string) string {
	if r.MovementID != nil && movementTitle != "" {
		return fmt.Sprintf("%s – %s (%s)", pieceTitle, movementTitle, r.Part)
	}
	return fmt.Sprintf("%s (%s)", pieceTitle, r.Part)
}
