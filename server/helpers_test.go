package server

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"Choirbook/cache"
	"Choirbook/config"
	"Choirbook/core/auth"
	"Choirbook/core/mail"
	"Choirbook/db"
	"Choirbook/model"
	"Choirbook/repository"
	"Choirbook/storage"
	"Choirbook/web"

	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

type fakeMailer struct {
	mu   sync.Mutex
	sent []mail.Message
	err  error
}

func (m *fakeMailer) Send(_ context.Context, msg mail.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.sent = append(m.sent, msg)
	return nil
}

func (m *fakeMailer) messages() []mail.Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]mail.Message(nil), m.sent...)
}

// seekBody is a seekable object body, like minio.Object.
type seekBody struct {
	*strings.Reader
}

func (seekBody) Close() error { return nil }

type fakeFiles struct {
	objects  map[string]string
	seekable bool
}

func (f *fakeFiles) URL(_ context.Context, key string) (string, error) {
	return storage.MediaURL(key), nil
}

func (f *fakeFiles) Open(_ context.Context, key string) (*storage.Object, error) {
	data, ok := f.objects[key]
	if !ok {
		return nil, fmt.Errorf("%q: %w", key, storage.ErrObjectNotFound)
	}
	var body io.ReadCloser = io.NopCloser(strings.NewReader(data))
	if f.seekable {
		body = seekBody{strings.NewReader(data)}
	}
	return &storage.Object{Body: body, Size: int64(len(data)), ModTime: time.Unix(1700000000, 0)}, nil
}

func (f *fakeFiles) Put(_ context.Context, key string, r io.Reader, _ int64, _ string) error {
	b, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	f.objects[key] = string(b)
	return nil
}

type testEnv struct {
	t        *testing.T
	cfg      *config.Config
	router   http.Handler
	users    repository.UserRepository
	music    repository.MusicRepository
	sessions *cache.MemorySessionStore
	mailer   *fakeMailer
	files    *fakeFiles
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	gdb, err := gorm.Open(sqlite.Open(fmt.Sprintf("file:%s?mode=memory&cache=shared&_foreign_keys=on", name)), db.GormConfig(false))
	require.NoError(t, err)
	sqlDB, err := gdb.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { sqlDB.Close() })
	require.NoError(t, db.AutoMigrateModels(gdb))

	cfg := &config.Config{
		SessionTTL:       time.Hour,
		ContactRecipient: "director@example.com",
		AdminEmail:       "admin@example.com",
	}
	tokens, err := auth.NewTokenSigner("test-secret-0123456789", cfg.SessionTTL)
	require.NoError(t, err)
	renderer, err := NewRenderer(web.Templates())
	require.NoError(t, err)

	env := &testEnv{
		t:        t,
		cfg:      cfg,
		users:    repository.NewGormUserRepository(gdb),
		music:    repository.NewGormMusicRepository(gdb),
		sessions: cache.NewMemorySessionStore(cfg.SessionTTL),
		mailer:   &fakeMailer{},
		files:    &fakeFiles{objects: map[string]string{}},
	}
	env.router = NewRouter(Deps{
		Config:   cfg,
		Users:    env.users,
		Music:    env.music,
		Sessions: env.sessions,
		Tokens:   tokens,
		Files:    env.files,
		Mailer:   env.mailer,
		Renderer: renderer,
	})
	return env
}

func (e *testEnv) do(method, target string, form url.Values, cookie *http.Cookie) *httptest.ResponseRecorder {
	e.t.Helper()
	var body io.Reader
	if form != nil {
		body = strings.NewReader(form.Encode())
	}
	req := httptest.NewRequest(method, target, body)
	if form != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}
	if cookie != nil {
		req.AddCookie(cookie)
	}
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

func (e *testEnv) get(target string, cookie *http.Cookie) *httptest.ResponseRecorder {
	return e.do(http.MethodGet, target, nil, cookie)
}

func (e *testEnv) post(target string, form url.Values, cookie *http.Cookie) *httptest.ResponseRecorder {
	if form == nil {
		form = url.Values{}
	}
	return e.do(http.MethodPost, target, form, cookie)
}

func (e *testEnv) createUser(username, email, password string, active bool) *model.User {
	e.t.Helper()
	hash, err := auth.HashPassword(password)
	require.NoError(e.t, err)
	u := &model.User{Username: username, Email: email, PasswordHash: hash, IsActive: active}
	require.NoError(e.t, e.users.CreateUser(context.Background(), u))
	return u
}

// login posts credentials and returns the session cookie.
func (e *testEnv) login(identifier, password string) *http.Cookie {
	e.t.Helper()
	rec := e.post("/login", url.Values{"username": {identifier}, "password": {password}}, nil)
	require.Equal(e.t, http.StatusSeeOther, rec.Code, rec.Body.String())
	c := findCookie(rec)
	require.NotNil(e.t, c, "no session cookie set")
	return c
}

func findCookie(rec *httptest.ResponseRecorder) *http.Cookie {
	for _, c := range rec.Result().Cookies() {
		if c.Name == SessionCookie {
			return c
		}
	}
	return nil
}

type seededCatalog struct {
	bach, mass *model.MusicPiece
	kyrie      *model.Movement
	gloria     *model.Movement
}

func (e *testEnv) seedCatalog() seededCatalog {
	e.t.Helper()
	ctx := context.Background()
	var s seededCatalog

	s.bach = &model.MusicPiece{Title: "Bach Cantata", Composer: "J. S. Bach", SheetMusic: "sheet_music/bwv147.pdf"}
	s.mass = &model.MusicPiece{Title: "Mass in C", Composer: "Mozart"}
	grace := &model.MusicPiece{Title: "amazing grace", Composer: "Traditional"}
	for _, p := range []*model.MusicPiece{s.bach, s.mass, grace} {
		require.NoError(e.t, e.music.CreatePiece(ctx, p))
	}

	s.gloria = &model.Movement{MusicPieceID: s.mass.ID, Title: "Gloria", Order: 2}
	s.kyrie = &model.Movement{MusicPieceID: s.mass.ID, Title: "Kyrie", Order: 1}
	require.NoError(e.t, e.music.CreateMovement(ctx, s.gloria))
	require.NoError(e.t, e.music.CreateMovement(ctx, s.kyrie))

	for _, r := range []*model.Recording{
		{MusicPieceID: s.bach.ID, Part: "Soprano", RecordingFile: "recordings/s.mp3"},
		{MusicPieceID: s.bach.ID, Part: "Alto/Soprano", RecordingURL: "https://example.com/sa"},
		{MusicPieceID: s.mass.ID, MovementID: &s.kyrie.ID, Part: "Tenor/Bass", RecordingURL: "https://example.com/tb"},
		{MusicPieceID: s.mass.ID, Part: "Choir", RecordingFile: "recordings/full.mp3"},
	} {
		require.NoError(e.t, e.music.CreateRecording(ctx, r))
	}
	return s
}
