package repository

import (
	"context"
	"fmt"
	"strings"

	"Choirbook/model"

	"gorm.io/gorm"
)

// PieceFilter narrows ListPieces. Empty fields are ignored; both filters compose with AND.
type PieceFilter struct {
	Search      string // 标题或作曲家包含（不区分大小写）
	StartLetter string // 标题前缀（不区分大小写）
}

// MusicRepository 曲库数据访问接口
type MusicRepository interface {
	ListPieces(ctx context.Context, filter PieceFilter) ([]*model.MusicPiece, error)
	GetPiece(ctx context.Context, id int64) (*model.MusicPiece, error)
	ListMovements(ctx context.Context, pieceID int64) ([]*model.Movement, error)
	ListRecordings(ctx context.Context, pieceIDs ...int64) ([]*model.Recording, error)

	// 以下写操作仅供管理命令使用
	CreatePiece(ctx context.Context, piece *model.MusicPiece) error
	CreateMovement(ctx context.Context, movement *model.Movement) error
	CreateRecording(ctx context.Context, recording *model.Recording) error
	DeletePiece(ctx context.Context, id int64) error
	DeleteMovement(ctx context.Context, id int64) error
}

// gormMusicRepository GORM 实现
type gormMusicRepository struct {
	db *gorm.DB
}

// NewGormMusicRepository 创建 GORM 曲库仓库
func NewGormMusicRepository(db *gorm.DB) MusicRepository {
	return &gormMusicRepository{db: db}
}

// likeEscaper escapes LIKE wildcards; '!' is used as the escape char since it
// needs no quoting in either MySQL or SQLite.
var likeEscaper = strings.NewReplacer("!", "!!", "%", "!%", "_", "!_")

// likePatterns returns the LIKE pattern lowercased and as typed. SQLite's LOWER
// only folds ASCII, so the as-typed pattern keeps non-ASCII titles reachable
// with their own casing; MySQL's _ci collations fold both.
func likePatterns(s, prefix, suffix string) (lower, asTyped string) {
	e := likeEscaper.Replace(s)
	return prefix + strings.ToLower(e) + suffix, prefix + e + suffix
}

// likeClause matches column against both patterns from likePatterns.
func likeClause(column string) string {
	return fmt.Sprintf("(LOWER(%[1]s) LIKE ? ESCAPE '!' OR %[1]s LIKE ? ESCAPE '!')", column)
}

// ========== 查询 ==========

// ListPieces 按标题（忽略大小写）升序列出曲目
func (r *gormMusicRepository) ListPieces(ctx context.Context, filter PieceFilter) ([]*model.MusicPiece, error) {
	q := r.db.WithContext(ctx).Model(&model.MusicPiece{})

	if filter.Search != "" {
		lower, asTyped := likePatterns(filter.Search, "%", "%")
		q = q.Where("("+likeClause("title")+" OR "+likeClause("composer")+")", lower, asTyped, lower, asTyped)
	}
	if filter.StartLetter != "" {
		lower, asTyped := likePatterns(filter.StartLetter, "", "%")
		q = q.Where(likeClause("title"), lower, asTyped)
	}

	var pieces []*model.MusicPiece
	if err := q.Order("LOWER(title) ASC").Order("id ASC").Find(&pieces).Error; err != nil {
		return nil, fmt.Errorf("failed to list music pieces: %w", err)
	}
	return pieces, nil
}

// GetPiece 根据ID获取曲目
func (r *gormMusicRepository) GetPiece(ctx context.Context, id int64) (*model.MusicPiece, error) {
	var piece model.MusicPiece
	if err := r.db.WithContext(ctx).First(&piece, id).Error; err != nil {
		return nil, notFound(err)
	}
	return &piece, nil
}

// ListMovements 获取曲目的乐章，按 order 升序
func (r *gormMusicRepository) ListMovements(ctx context.Context, pieceID int64) ([]*model.Movement, error) {
	var movements []*model.Movement
	err := r.db.WithContext(ctx).
		Where("music_piece_id = ?", pieceID).
		Order("sort_order ASC").Order("id ASC").
		Find(&movements).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list movements for piece %d: %w", pieceID, err)
	}
	return movements, nil
}

// ListRecordings returns every recording of the given pieces, whole-piece and
// movement-scoped together, in upload order.
func (r *gormMusicRepository) ListRecordings(ctx context.Context, pieceIDs ...int64) ([]*model.Recording, error) {
	if len(pieceIDs) == 0 {
		return nil, nil
	}
	var recordings []*model.Recording
	err := r.db.WithContext(ctx).
		Where("music_piece_id IN ?", pieceIDs).
		Order("id ASC").
		Find(&recordings).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list recordings: %w", err)
	}
	return recordings, nil
}

// ========== 管理写操作 ==========

// CreatePiece 创建曲目，(title, composer) 重复时返回 ErrDuplicatePiece
func (r *gormMusicRepository) CreatePiece(ctx context.Context, piece *model.MusicPiece) error {
	piece.Title = strings.TrimSpace(piece.Title)
	piece.Composer = strings.TrimSpace(piece.Composer)
	if piece.Title == "" {
		return fmt.Errorf("piece title is required")
	}
	if err := r.db.WithContext(ctx).Create(piece).Error; err != nil {
		if isDuplicateKey(err) {
			return ErrDuplicatePiece
		}
		return fmt.Errorf("failed to create music piece: %w", err)
	}
	return nil
}

// CreateMovement 创建乐章，order 缺省为 1
func (r *gormMusicRepository) CreateMovement(ctx context.Context, movement *model.Movement) error {
	if movement.Order < 1 {
		movement.Order = 1
	}
	if _, err := r.GetPiece(ctx, movement.MusicPieceID); err != nil {
		return fmt.Errorf("piece %d: %w", movement.MusicPieceID, err)
	}
	if err := r.db.WithContext(ctx).Create(movement).Error; err != nil {
		return fmt.Errorf("failed to create movement: %w", err)
	}
	return nil
}

// CreateRecording 创建录音，文件与链接必须二选一，乐章必须属于同一曲目
func (r *gormMusicRepository) CreateRecording(ctx context.Context, recording *model.Recording) error {
	recording.Part = strings.TrimSpace(recording.Part)
	hasFile := recording.RecordingFile != ""
	hasURL := recording.RecordingURL != ""
	if hasFile == hasURL {
		return fmt.Errorf("%w: exactly one of file or url must be set", ErrInvalidRecording)
	}

	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var piece model.MusicPiece
		if err := tx.First(&piece, recording.MusicPieceID).Error; err != nil {
			return fmt.Errorf("piece %d: %w", recording.MusicPieceID, notFound(err))
		}
		if recording.MovementID != nil {
			var movement model.Movement
			if err := tx.First(&movement, *recording.MovementID).Error; err != nil {
				return fmt.Errorf("movement %d: %w", *recording.MovementID, notFound(err))
			}
			if movement.MusicPieceID != recording.MusicPieceID {
				return fmt.Errorf("%w: movement %d belongs to piece %d", ErrInvalidRecording, movement.ID, movement.MusicPieceID)
			}
		}
		if err := tx.Create(recording).Error; err != nil {
			return fmt.Errorf("failed to create recording: %w", err)
		}
		return nil
	})
}

// DeletePiece 级联删除曲目及其乐章、录音
func (r *gormMusicRepository) DeletePiece(ctx context.Context, id int64) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("music_piece_id = ?", id).Delete(&model.Recording{}).Error; err != nil {
			return fmt.Errorf("failed to delete recordings of piece %d: %w", id, err)
		}
		if err := tx.Where("music_piece_id = ?", id).Delete(&model.Movement{}).Error; err != nil {
			return fmt.Errorf("failed to delete movements of piece %d: %w", id, err)
		}
		res := tx.Delete(&model.MusicPiece{}, id)
		if res.Error != nil {
			return fmt.Errorf("failed to delete piece %d: %w", id, res.Error)
		}
		if res.RowsAffected == 0 {
			return ErrNotFound
		}
		return nil
	})
}

// DeleteMovement 删除乐章及其录音，整曲录音不受影响
func (r *gormMusicRepository) DeleteMovement(ctx context.Context, id int64) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("movement_id = ?", id).Delete(&model.Recording{}).Error; err != nil {
			return fmt.Errorf("failed to delete recordings of movement %d: %w", id, err)
		}
		res := tx.Delete(&model.Movement{}, id)
		if res.Error != nil {
			return fmt.Errorf("failed to delete movement %d: %w", id, res.Error)
		}
		if res.RowsAffected == 0 {
			return ErrNotFound
		}
		return nil
	})
}
