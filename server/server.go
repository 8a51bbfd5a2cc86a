package server

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"Choirbook/cache"
	"Choirbook/config"
	"Choirbook/core/auth"
	"Choirbook/core/gate"
	"Choirbook/core/mail"
	"Choirbook/db"
	"Choirbook/logger"
	"Choirbook/repository"
	"Choirbook/storage"
	"Choirbook/web"
)

// InitLogging configures the global logger from cfg.
func InitLogging(cfg *config.Config) {
	logger.InitLogger(logger.Config{
		Level:      logger.ParseLevel(cfg.LogLevel),
		OutputPath: cfg.LogFile,
		MaxSize:    cfg.LogMaxSize,
		MaxBackups: cfg.LogMaxBackups,
		MaxAge:     cfg.LogMaxAge,
		Compress:   cfg.LogCompress,
	})
}

// NewSessionStore picks the session backend named by SESSION_BACKEND.
func NewSessionStore(cfg *config.Config) (gate.SessionStore, error) {
	switch cfg.SessionBackend {
	case "memory":
		logger.Warn("使用内存会话存储，重启后会话失效且不支持多实例")
		return cache.NewMemorySessionStore(cfg.SessionTTL), nil
	case "redis", "":
		client, err := db.ConnectRedis(cfg)
		if err != nil {
			return nil, err
		}
		logger.Info("Successfully connected to Redis", logger.String("addr", cfg.RedisAddr()))
		return cache.NewSessionStore(client, cfg.SessionTTL), nil
	default:
		return nil, fmt.Errorf("unknown session backend %q", cfg.SessionBackend)
	}
}

// NewTemplateRenderer loads templates from TEMPLATE_DIR when set, otherwise the embedded copy.
func NewTemplateRenderer(cfg *config.Config) (*Renderer, error) {
	var fsys fs.FS = web.Templates()
	if cfg.TemplateDir != "" {
		fsys = os.DirFS(cfg.TemplateDir)
	}
	return NewRenderer(fsys)
}

// Start initializes and starts the HTTP server.
func Start() {
	cfg := config.Load()
	InitLogging(cfg)
	defer logger.Sync()

	// Connect to the database
	gdb, err := db.ConnectGormDB(cfg)
	if err != nil {
		logger.Fatal("Failed to connect to database", logger.ErrorField(err))
	}
	defer db.CloseGormDB()

	sessions, err := NewSessionStore(cfg)
	if err != nil {
		logger.Fatal("Failed to initialize session store", logger.ErrorField(err))
	}
	defer db.CloseRedis()

	tokens, err := auth.NewTokenSigner(cfg.SessionSecret, cfg.SessionTTL)
	if err != nil {
		logger.Fatal("SESSION_SECRET is missing or too short", logger.ErrorField(err))
	}

	// 初始化 MinIO 客户端
	files, err := storage.NewMinioStorage(cfg)
	if err != nil {
		logger.Fatal("Failed to initialize MinIO", logger.ErrorField(err))
	}
	bucketCtx, bucketCancel := context.WithTimeout(context.Background(), 10*time.Second)
	if err := files.EnsureBucket(bucketCtx); err != nil {
		logger.Warn("MinIO 存储桶不可用，文件访问将失败", logger.ErrorField(err))
	}
	bucketCancel()

	renderer, err := NewTemplateRenderer(cfg)
	if err != nil {
		logger.Fatal("Failed to load templates", logger.ErrorField(err))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if cfg.TemplateDir != "" && cfg.TemplateReload {
		if err := renderer.Watch(ctx, cfg.TemplateDir); err != nil {
			logger.Warn("模板热加载未启用", logger.ErrorField(err))
		}
	}

	mailer := mail.NewSMTPMailer(mail.SMTPConfig{
		Host:     cfg.SMTPHost,
		Port:     cfg.SMTPPort,
		Username: cfg.SMTPUsername,
		Password: cfg.SMTPPassword,
		From:     cfg.MailFrom,
	})

	router := NewRouter(Deps{
		Config:   cfg,
		Users:    repository.NewGormUserRepository(gdb),
		Music:    repository.NewGormMusicRepository(gdb),
		Sessions: sessions,
		Tokens:   tokens,
		Files:    files,
		Mailer:   mailer,
		Renderer: renderer,
	})

	// 设置服务器超时
	server := &http.Server{
		Addr:         cfg.ServerAddr,
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	// 创建一个通道来接收操作系统信号
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	// 在goroutine中启动服务器
	go func() {
		logger.Info("Server starting", logger.String("addr", cfg.ServerAddr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("Failed to start server", logger.ErrorField(err))
		}
	}()

	// 等待中断信号
	<-stop
	logger.Info("Shutting down server...")

	// 创建一个5秒超时的上下文
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	// 优雅关闭服务器
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server forced to shutdown", logger.ErrorField(err))
	}
	logger.Info("Server stopped")
}
