package catalog

import (
	"context"
	"fmt"
	"strings"

	"Choirbook/core/parts"
	"Choirbook/logger"
	"Choirbook/model"
	"Choirbook/repository"
)

// URLResolver turns a stored-file key into a URL a browser can fetch.
type URLResolver interface {
	URL(ctx context.Context, key string) (string, error)
}

// Query holds the optional listing filters. Blank values are ignored.
type Query struct {
	Search string
	Letter string
}

// Normalized trims both filters.
func (q Query) Normalized() Query {
	return Query{Search: strings.TrimSpace(q.Search), Letter: strings.TrimSpace(q.Letter)}
}

// PieceSummary 列表页的一行：曲目 + 去重后的声部标签
type PieceSummary struct {
	Piece      *model.MusicPiece
	PartLabels []string
}

// RecordingView is a recording ready for playback.
type RecordingView struct {
	Recording   *model.Recording
	Label       string
	PlaybackURL string
	External    bool // 外部链接而非上传文件
}

// MovementDetail 乐章及其录音
type MovementDetail struct {
	Movement   *model.Movement
	Recordings []RecordingView
}

// PieceDetail 详情页数据
type PieceDetail struct {
	Piece             *model.MusicPiece
	SheetMusicURL     string
	Movements         []MovementDetail
	FullRecordings    []RecordingView
	HasFullRecordings bool
}

// Service 曲库查询服务，只读
type Service struct {
	repo  repository.MusicRepository
	files URLResolver
}

// NewService 创建曲库查询服务
func NewService(repo repository.MusicRepository, files URLResolver) *Service {
	return &Service{repo: repo, files: files}
}

// Letters is the index offered above the listing.
func Letters() []string {
	letters := make([]string, 0, 26)
	for c := 'A'; c <= 'Z'; c++ {
		letters = append(letters, string(c))
	}
	return letters
}

// ListPieces returns the filtered pieces ordered by title (case-insensitive),
// each with the labels of every part recorded for it.
func (s *Service) ListPieces(ctx context.Context, q Query) ([]PieceSummary, error) {
	q = q.Normalized()
	pieces, err := s.repo.ListPieces(ctx, repository.PieceFilter{Search: q.Search, StartLetter: q.Letter})
	if err != nil {
		return nil, err
	}
	if len(pieces) == 0 {
		return []PieceSummary{}, nil
	}

	ids := make([]int64, len(pieces))
	for i, p := range pieces {
		ids[i] = p.ID
	}
	recordings, err := s.repo.ListRecordings(ctx, ids...)
	if err != nil {
		return nil, err
	}

	partsByPiece := make(map[int64][]string, len(pieces))
	for _, rec := range recordings {
		partsByPiece[rec.MusicPieceID] = append(partsByPiece[rec.MusicPieceID], rec.Part)
	}

	out := make([]PieceSummary, len(pieces))
	for i, p := range pieces {
		out[i] = PieceSummary{Piece: p, PartLabels: parts.Labels(partsByPiece[p.ID])}
	}

	logger.Debug("[Catalog] 曲目列表",
		logger.String("q", q.Search), logger.String("letter", q.Letter), logger.Int("count", len(out)))
	return out, nil
}

// GetPieceDetail returns a piece with its movements in display order and its
// whole-piece recordings. Unknown ids yield repository.ErrNotFound.
func (s *Service) GetPieceDetail(ctx context.Context, id int64) (*PieceDetail, error) {
	piece, err := s.repo.GetPiece(ctx, id)
	if err != nil {
		return nil, err
	}
	movements, err := s.repo.ListMovements(ctx, id)
	if err != nil {
		return nil, err
	}
	recordings, err := s.repo.ListRecordings(ctx, id)
	if err != nil {
		return nil, err
	}

	detail := &PieceDetail{Piece: piece}
	if piece.SheetMusic != "" {
		if detail.SheetMusicURL, err = s.files.URL(ctx, piece.SheetMusic); err != nil {
			return nil, fmt.Errorf("failed to resolve sheet music for piece %d: %w", id, err)
		}
	}

	byMovement := make(map[int64][]RecordingView)
	for _, rec := range recordings {
		view, err := s.view(ctx, rec)
		if err != nil {
			return nil, err
		}
		if rec.IsFullPiece() {
			detail.FullRecordings = append(detail.FullRecordings, view)
			continue
		}
		byMovement[*rec.MovementID] = append(byMovement[*rec.MovementID], view)
	}

	detail.Movements = make([]MovementDetail, len(movements))
	for i, m := range movements {
		detail.Movements[i] = MovementDetail{Movement: m, Recordings: byMovement[m.ID]}
	}
	detail.HasFullRecordings = len(detail.FullRecordings) > 0
	return detail, nil
}

func (s *Service) view(ctx context.Context, rec *model.Recording) (RecordingView, error) {
	v := RecordingView{Recording: rec, Label: parts.Classify(rec.Part)}
	if rec.HasFile() {
		u, err := s.files.URL(ctx, rec.RecordingFile)
		if err != nil {
			return v, fmt.Errorf("failed to resolve recording %d: %w", rec.ID, err)
		}
		v.PlaybackURL = u
		return v, nil
	}
	v.PlaybackURL = rec.RecordingURL
	v.External = true
	return v, nil
}
