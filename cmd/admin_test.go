package cmd

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"Choirbook/cache"
	"Choirbook/db"
	"Choirbook/model"
	"Choirbook/repository"
	"Choirbook/storage"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	gdb, err := gorm.Open(sqlite.Open(fmt.Sprintf("file:%s?mode=memory&cache=shared&_foreign_keys=on", name)), db.GormConfig(false))
	require.NoError(t, err)
	sqlDB, err := gdb.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { sqlDB.Close() })
	require.NoError(t, db.AutoMigrateModels(gdb))
	return gdb
}

type memFiles struct {
	objects map[string][]byte
	types   map[string]string
}

func newMemFiles() *memFiles {
	return &memFiles{objects: map[string][]byte{}, types: map[string]string{}}
}

func (m *memFiles) URL(_ context.Context, key string) (string, error) {
	return storage.MediaURL(key), nil
}

func (m *memFiles) Open(_ context.Context, key string) (*storage.Object, error) {
	b, ok := m.objects[key]
	if !ok {
		return nil, storage.ErrObjectNotFound
	}
	return &storage.Object{Body: io.NopCloser(bytes.NewReader(b)), Size: int64(len(b))}, nil
}

func (m *memFiles) Put(_ context.Context, key string, r io.Reader, size int64, contentType string) error {
	b, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	if int64(len(b)) != size {
		return fmt.Errorf("size mismatch: %d != %d", len(b), size)
	}
	m.objects[key] = b
	m.types[key] = contentType
	return nil
}

func (m *memFiles) Remove(_ context.Context, key string) error {
	delete(m.objects, key)
	delete(m.types, key)
	return nil
}

// rejectingMusic fails every recording insert after validation has passed.
type rejectingMusic struct {
	repository.MusicRepository
}

func (rejectingMusic) CreateRecording(context.Context, *model.Recording) error {
	return errors.New("insert failed")
}

func writeTempFile(t *testing.T, name, content string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(p, []byte(content), 0o644))
	return p
}

func TestUserAdminApproveAndDeactivate(t *testing.T) {
	ctx := context.Background()
	users := repository.NewGormUserRepository(openTestDB(t))
	sessions := cache.NewMemorySessionStore(time.Hour)
	var out bytes.Buffer
	admin := &userAdmin{users: users, sessions: sessions, out: &out}

	pending := &model.User{Username: "carol", Email: "carol@example.com", PasswordHash: "x"}
	require.NoError(t, users.CreateUser(ctx, pending))
	require.NoError(t, users.CreateUser(ctx, &model.User{Username: "alice", Email: "alice@example.com", PasswordHash: "x", IsActive: true}))

	require.NoError(t, admin.list(ctx, repository.PendingUsers))
	assert.Contains(t, out.String(), "carol")
	assert.NotContains(t, out.String(), "alice")
	assert.Contains(t, out.String(), "pending")

	u, err := admin.setActive(ctx, "carol", true)
	require.NoError(t, err)
	assert.True(t, u.IsActive)
	stored, err := users.GetUserByID(ctx, pending.ID)
	require.NoError(t, err)
	assert.True(t, stored.IsActive)

	_, err = sessions.Create(ctx, pending.ID)
	require.NoError(t, err)
	_, err = sessions.Create(ctx, pending.ID)
	require.NoError(t, err)
	require.Equal(t, 2, sessions.Len())

	u, err = admin.setActive(ctx, "carol", false)
	require.NoError(t, err)
	assert.False(t, u.IsActive)
	assert.Equal(t, 0, sessions.Len())

	out.Reset()
	require.NoError(t, admin.list(ctx, repository.PendingUsers))
	assert.Contains(t, out.String(), "carol")
}

func TestUserAdminUnknownUser(t *testing.T) {
	admin := &userAdmin{users: repository.NewGormUserRepository(openTestDB(t)), out: io.Discard}
	_, err := admin.setActive(context.Background(), "ghost", true)
	assert.ErrorIs(t, err, repository.ErrNotFound)
}

func TestUserAdminEmptyList(t *testing.T) {
	var out bytes.Buffer
	admin := &userAdmin{users: repository.NewGormUserRepository(openTestDB(t)), out: &out}
	require.NoError(t, admin.list(context.Background(), repository.AllUsers))
	assert.Contains(t, out.String(), "没有符合条件的用户")
}

func TestCatalogAdminAddPieceWithSheet(t *testing.T) {
	ctx := context.Background()
	files := newMemFiles()
	admin := &catalogAdmin{music: repository.NewGormMusicRepository(openTestDB(t)), files: files, out: io.Discard}

	piece, err := admin.addPiece(ctx, " Jesu, Joy ", "J. S. Bach", writeTempFile(t, "BWV147.PDF", "%PDF-1.4"))
	require.NoError(t, err)
	assert.Equal(t, "Jesu, Joy", piece.Title)
	assert.True(t, strings.HasPrefix(piece.SheetMusic, storage.SheetMusicPrefix+"/"))
	assert.True(t, strings.HasSuffix(piece.SheetMusic, ".pdf"))
	assert.Equal(t, "%PDF-1.4", string(files.objects[piece.SheetMusic]))
	assert.Equal(t, "application/pdf", files.types[piece.SheetMusic])

	_, err = admin.addPiece(ctx, "Jesu, Joy", "J. S. Bach", "")
	assert.ErrorIs(t, err, repository.ErrDuplicatePiece)

	// 重复曲目被拒时刚上传的乐谱要删掉
	_, err = admin.addPiece(ctx, "Jesu, Joy", "J. S. Bach", writeTempFile(t, "copy.pdf", "%PDF-1.5"))
	assert.ErrorIs(t, err, repository.ErrDuplicatePiece)
	assert.Len(t, files.objects, 1)
	assert.Contains(t, files.objects, piece.SheetMusic)
}

func TestCatalogAdminRecordingFailureRemovesUpload(t *testing.T) {
	ctx := context.Background()
	files := newMemFiles()
	music := repository.NewGormMusicRepository(openTestDB(t))
	piece := &model.MusicPiece{Title: "Ave Verum", Composer: "Mozart"}
	require.NoError(t, music.CreatePiece(ctx, piece))

	admin := &catalogAdmin{music: rejectingMusic{music}, files: files, out: io.Discard}
	_, _, err := admin.addRecording(ctx, recordingInput{PieceID: piece.ID, Part: "Alto", FilePath: writeTempFile(t, "alto.mp3", "ID3")})
	require.Error(t, err)
	assert.Empty(t, files.objects)
}

func TestCatalogAdminUploadNeedsStorage(t *testing.T) {
	admin := &catalogAdmin{music: repository.NewGormMusicRepository(openTestDB(t)), out: io.Discard}
	_, err := admin.addPiece(context.Background(), "Ave", "", writeTempFile(t, "ave.pdf", "x"))
	assert.Error(t, err)

	_, err = admin.upload(context.Background(), storage.RecordingsPrefix, t.TempDir())
	assert.Error(t, err)
}

func TestCatalogAdminRecordings(t *testing.T) {
	ctx := context.Background()
	files := newMemFiles()
	music := repository.NewGormMusicRepository(openTestDB(t))
	admin := &catalogAdmin{music: music, files: files, out: io.Discard}

	mass, err := admin.addPiece(ctx, "Mass in C", "Mozart", "")
	require.NoError(t, err)
	other, err := admin.addPiece(ctx, "Requiem", "Fauré", "")
	require.NoError(t, err)
	kyrie, err := admin.addMovement(ctx, mass.ID, "Kyrie", 0, "")
	require.NoError(t, err)
	assert.Equal(t, 1, kyrie.Order)

	rec, name, err := admin.addRecording(ctx, recordingInput{
		PieceID: mass.ID, MovementID: kyrie.ID, Part: "Tenor/Bass", FilePath: writeTempFile(t, "tb.mp3", "ID3"),
	})
	require.NoError(t, err)
	assert.Equal(t, "Mass in C – Kyrie (Tenor/Bass)", name)
	assert.Equal(t, "audio/mpeg", files.types[rec.RecordingFile])
	assert.True(t, strings.HasPrefix(rec.RecordingFile, storage.RecordingsPrefix+"/"))

	_, name, err = admin.addRecording(ctx, recordingInput{PieceID: mass.ID, Part: "Choir", URL: "https://example.com/full"})
	require.NoError(t, err)
	assert.Equal(t, "Mass in C (Choir)", name)

	_, _, err = admin.addRecording(ctx, recordingInput{PieceID: other.ID, MovementID: kyrie.ID, Part: "S", URL: "https://example.com/s"})
	assert.ErrorIs(t, err, repository.ErrInvalidRecording)

	_, _, err = admin.addRecording(ctx, recordingInput{PieceID: mass.ID, Part: "S"})
	assert.ErrorIs(t, err, repository.ErrInvalidRecording)

	_, _, err = admin.addRecording(ctx, recordingInput{PieceID: 999, Part: "S", URL: "https://example.com/s"})
	assert.ErrorIs(t, err, repository.ErrNotFound)

	recs, err := music.ListRecordings(ctx, mass.ID)
	require.NoError(t, err)
	assert.Len(t, recs, 2)
	assert.Len(t, files.objects, 1)
}

func TestCatalogAdminList(t *testing.T) {
	ctx := context.Background()
	var out bytes.Buffer
	admin := &catalogAdmin{music: repository.NewGormMusicRepository(openTestDB(t)), out: &out}
	_, err := admin.addPiece(ctx, "Ave Verum", "Mozart", "")
	require.NoError(t, err)
	_, err = admin.addPiece(ctx, "Locus iste", "Bruckner", "")
	require.NoError(t, err)

	require.NoError(t, admin.list(ctx, "mozart"))
	assert.Contains(t, out.String(), "Ave Verum (Mozart)")
	assert.NotContains(t, out.String(), "Locus iste")
	assert.Contains(t, out.String(), "共 1 首")
}

func TestParseID(t *testing.T) {
	id, err := parseID("42")
	require.NoError(t, err)
	assert.Equal(t, int64(42), id)

	for _, bad := range []string{"", "0", "-3", "abc"} {
		_, err := parseID(bad)
		assert.Error(t, err, bad)
	}
}

func TestCommandTree(t *testing.T) {
	for _, path := range [][]string{
		{"server"}, {"migrate"}, {"redis"}, {"minio"},
		{"user", "list"}, {"user", "approve"}, {"user", "deactivate"},
		{"catalog", "add-piece"}, {"catalog", "add-movement"}, {"catalog", "add-recording"},
		{"catalog", "delete-piece"}, {"catalog", "delete-movement"},
	} {
		c, _, err := rootCmd.Find(path)
		require.NoError(t, err, path)
		assert.Equal(t, path[len(path)-1], c.Name())
	}
}
