package cmd

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"time"

	"Choirbook/db"
	"Choirbook/logger"
	"Choirbook/model"
	"Choirbook/repository"
	"Choirbook/storage"

	"github.com/spf13/cobra"
)

// catalogFiles 上传用的文件存储，写库失败时需要删掉刚上传的对象
type catalogFiles interface {
	storage.FileStorage
	Remove(ctx context.Context, key string) error
}

// catalogAdmin 曲库维护：曲目、乐章、录音的录入和删除
type catalogAdmin struct {
	music repository.MusicRepository
	files catalogFiles // 仅上传时需要
	out   io.Writer
}

// upload 将本地文件上传到 prefix 下，返回存储键
func (a *catalogAdmin) upload(ctx context.Context, prefix, localPath string) (string, error) {
	if a.files == nil {
		return "", fmt.Errorf("file storage is not configured")
	}
	f, err := os.Open(localPath)
	if err != nil {
		return "", err
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		return "", err
	}
	if info.IsDir() {
		return "", fmt.Errorf("%s is a directory", localPath)
	}

	key := storage.ObjectKey(prefix, filepath.Base(localPath))
	if err := a.files.Put(ctx, key, f, info.Size(), storage.ContentType(key)); err != nil {
		return "", fmt.Errorf("failed to upload %s: %w", localPath, err)
	}
	logger.Info("[Catalog] 文件已上传", logger.String("file", localPath), logger.String("key", key))
	return key, nil
}

// discard removes an object uploaded for a record that was then rejected.
func (a *catalogAdmin) discard(ctx context.Context, key string) {
	if err := a.files.Remove(ctx, key); err != nil {
		logger.Warn("[Catalog] 清理已上传文件失败", logger.String("key", key), logger.ErrorField(err))
		return
	}
	logger.Info("[Catalog] 已清理未入库的文件", logger.String("key", key))
}

func (a *catalogAdmin) addPiece(ctx context.Context, title, composer, sheetPath string) (*model.MusicPiece, error) {
	piece := &model.MusicPiece{Title: title, Composer: composer}
	if sheetPath != "" {
		key, err := a.upload(ctx, storage.SheetMusicPrefix, sheetPath)
		if err != nil {
			return nil, err
		}
		piece.SheetMusic = key
	}
	if err := a.music.CreatePiece(ctx, piece); err != nil {
		if piece.SheetMusic != "" {
			a.discard(ctx, piece.SheetMusic)
		}
		return nil, err
	}
	return piece, nil
}

func (a *catalogAdmin) addMovement(ctx context.Context, pieceID int64, title string, order int, notes string) (*model.Movement, error) {
	movement := &model.Movement{MusicPieceID: pieceID, Title: title, Order: order, Notes: notes}
	if err := a.music.CreateMovement(ctx, movement); err != nil {
		return nil, err
	}
	return movement, nil
}

// recordingInput is one add-recording invocation. Exactly one of FilePath and URL is set.
type recordingInput struct {
	PieceID    int64
	MovementID int64 // 0 表示整曲录音
	Part       string
	FilePath   string
	URL        string
}

// addRecording stores a recording and returns it with its display name.
func (a *catalogAdmin) addRecording(ctx context.Context, in recordingInput) (*model.Recording, string, error) {
	if (in.FilePath == "") == (in.URL == "") {
		return nil, "", fmt.Errorf("%w: pass exactly one of --file or --url", repository.ErrInvalidRecording)
	}
	piece, err := a.music.GetPiece(ctx, in.PieceID)
	if err != nil {
		return nil, "", fmt.Errorf("piece %d: %w", in.PieceID, err)
	}

	rec := &model.Recording{MusicPieceID: piece.ID, Part: in.Part, RecordingURL: in.URL}
	var movementName string
	if in.MovementID != 0 {
		id := in.MovementID
		rec.MovementID = &id
		movements, err := a.music.ListMovements(ctx, piece.ID)
		if err != nil {
			return nil, "", err
		}
		found := false
		for _, m := range movements {
			if m.ID == id {
				movementName, found = m.Title, true
			}
		}
		if !found {
			return nil, "", fmt.Errorf("%w: movement %d does not belong to piece %d", repository.ErrInvalidRecording, id, piece.ID)
		}
	}

	if in.FilePath != "" {
		key, err := a.upload(ctx, storage.RecordingsPrefix, in.FilePath)
		if err != nil {
			return nil, "", err
		}
		rec.RecordingFile = key
	}
	if err := a.music.CreateRecording(ctx, rec); err != nil {
		if rec.RecordingFile != "" {
			a.discard(ctx, rec.RecordingFile)
		}
		return nil, "", err
	}
	return rec, rec.DisplayName(piece.Title, movementName), nil
}

func (a *catalogAdmin) list(ctx context.Context, search string) error {
	pieces, err := a.music.ListPieces(ctx, repository.PieceFilter{Search: search})
	if err != nil {
		return err
	}
	for _, p := range pieces {
		fmt.Fprintf(a.out, "%-6d %s\n", p.ID, p.String())
	}
	fmt.Fprintf(a.out, "共 %d 首\n", len(pieces))
	return nil
}

// newCatalogAdmin 连接数据库；需要上传时再连接 MinIO
func newCatalogAdmin(withFiles bool) *catalogAdmin {
	cfg := loadConfig()
	admin := &catalogAdmin{
		music: repository.NewGormMusicRepository(mustOpenDB(cfg)),
		out:   os.Stdout,
	}
	if withFiles {
		files, err := storage.NewMinioStorage(cfg)
		if err != nil {
			log.Fatalf("无法连接到MinIO: %v", err)
		}
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := files.EnsureBucket(ctx); err != nil {
			log.Fatalf("MinIO 存储桶不可用: %v", err)
		}
		admin.files = files
	}
	return admin
}

func cmdContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), 10*time.Minute)
}

var (
	pieceTitle    string
	pieceComposer string
	pieceSheet    string
	catalogSearch string

	movementPiece int64
	movementTitle string
	movementOrder int
	movementNotes string

	recording recordingInput
)

var catalogCmd = &cobra.Command{
	Use:   "catalog",
	Short: "曲库维护",
	Long:  `录入曲目、乐章和录音（上传到MinIO或填写外部链接），以及删除曲目和乐章。`,
}

var catalogListCmd = &cobra.Command{
	Use:   "list",
	Short: "列出曲目",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		admin := newCatalogAdmin(false)
		defer db.CloseGormDB()
		ctx, cancel := cmdContext()
		defer cancel()
		if err := admin.list(ctx, catalogSearch); err != nil {
			log.Fatalf("列出曲目失败: %v", err)
		}
	},
}

var addPieceCmd = &cobra.Command{
	Use:   "add-piece",
	Short: "添加曲目，可附带乐谱 PDF",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		admin := newCatalogAdmin(pieceSheet != "")
		defer db.CloseGormDB()
		ctx, cancel := cmdContext()
		defer cancel()
		piece, err := admin.addPiece(ctx, pieceTitle, pieceComposer, pieceSheet)
		if err != nil {
			log.Fatalf("添加曲目失败: %v", err)
		}
		fmt.Printf("曲目已添加: %s (ID: %d)\n", piece.String(), piece.ID)
	},
}

var addMovementCmd = &cobra.Command{
	Use:   "add-movement",
	Short: "为曲目添加乐章",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		admin := newCatalogAdmin(false)
		defer db.CloseGormDB()
		ctx, cancel := cmdContext()
		defer cancel()
		m, err := admin.addMovement(ctx, movementPiece, movementTitle, movementOrder, movementNotes)
		if err != nil {
			log.Fatalf("添加乐章失败: %v", err)
		}
		fmt.Printf("乐章已添加: %d. %s (ID: %d)\n", m.Order, m.Title, m.ID)
	},
}

var addRecordingCmd = &cobra.Command{
	Use:   "add-recording",
	Short: "添加录音：上传本地文件或填写外部链接",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		admin := newCatalogAdmin(recording.FilePath != "")
		defer db.CloseGormDB()
		ctx, cancel := cmdContext()
		defer cancel()
		rec, name, err := admin.addRecording(ctx, recording)
		if err != nil {
			log.Fatalf("添加录音失败: %v", err)
		}
		fmt.Printf("录音已添加: %s (ID: %d)\n", name, rec.ID)
	},
}

var deletePieceCmd = &cobra.Command{
	Use:   "delete-piece <id>",
	Short: "删除曲目及其全部乐章和录音",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		id, err := parseID(args[0])
		if err != nil {
			log.Fatal(err)
		}
		admin := newCatalogAdmin(false)
		defer db.CloseGormDB()
		ctx, cancel := cmdContext()
		defer cancel()
		if err := admin.music.DeletePiece(ctx, id); err != nil {
			log.Fatalf("删除曲目失败: %v", err)
		}
		fmt.Printf("曲目 %d 已删除\n", id)
	},
}

var deleteMovementCmd = &cobra.Command{
	Use:   "delete-movement <id>",
	Short: "删除乐章及其录音",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		id, err := parseID(args[0])
		if err != nil {
			log.Fatal(err)
		}
		admin := newCatalogAdmin(false)
		defer db.CloseGormDB()
		ctx, cancel := cmdContext()
		defer cancel()
		if err := admin.music.DeleteMovement(ctx, id); err != nil {
			log.Fatalf("删除乐章失败: %v", err)
		}
		fmt.Printf("乐章 %d 已删除\n", id)
	},
}

func init() {
	rootCmd.AddCommand(catalogCmd)
	catalogCmd.AddCommand(catalogListCmd, addPieceCmd, addMovementCmd, addRecordingCmd, deletePieceCmd, deleteMovementCmd)

	catalogListCmd.Flags().StringVarP(&catalogSearch, "search", "q", "", "按标题或作曲家过滤")

	addPieceCmd.Flags().StringVar(&pieceTitle, "title", "", "曲目标题")
	addPieceCmd.Flags().StringVar(&pieceComposer, "composer", "", "作曲家")
	addPieceCmd.Flags().StringVar(&pieceSheet, "sheet", "", "乐谱文件路径（可选）")
	_ = addPieceCmd.MarkFlagRequired("title")

	addMovementCmd.Flags().Int64Var(&movementPiece, "piece", 0, "曲目 ID")
	addMovementCmd.Flags().StringVar(&movementTitle, "title", "", "乐章标题")
	addMovementCmd.Flags().IntVar(&movementOrder, "order", 1, "乐章顺序")
	addMovementCmd.Flags().StringVar(&movementNotes, "notes", "", "备注")
	_ = addMovementCmd.MarkFlagRequired("piece")
	_ = addMovementCmd.MarkFlagRequired("title")

	addRecordingCmd.Flags().Int64Var(&recording.PieceID, "piece", 0, "曲目 ID")
	addRecordingCmd.Flags().Int64Var(&recording.MovementID, "movement", 0, "乐章 ID，省略表示整曲录音")
	addRecordingCmd.Flags().StringVar(&recording.Part, "part", "", "声部，如 Soprano、Tenor/Bass")
	addRecordingCmd.Flags().StringVar(&recording.FilePath, "file", "", "上传的录音文件路径")
	addRecordingCmd.Flags().StringVar(&recording.URL, "url", "", "外部录音链接")
	_ = addRecordingCmd.MarkFlagRequired("piece")
	addRecordingCmd.MarkFlagsMutuallyExclusive("file", "url")
	addRecordingCmd.MarkFlagsOneRequired("file", "url")

	addRecordingCmd.Example = `  # 上传整曲录音
  choirbook catalog add-recording --piece 3 --part Choir --file ./full.mp3

  # 为乐章添加外部链接
  choirbook catalog add-recording --piece 3 --movement 7 --part "Tenor/Bass" --url https://example.com/tb.mp3`
}
