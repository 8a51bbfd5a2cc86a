package cmd

import (
	"fmt"
	"log"
	"strconv"

	"Choirbook/config"
	"Choirbook/db"
	"Choirbook/server"

	"gorm.io/gorm"
)

// loadConfig 加载配置并初始化日志，管理命令共用
func loadConfig() *config.Config {
	cfg := config.Load()
	server.InitLogging(cfg)
	return cfg
}

// mustOpenDB 连接数据库，失败直接退出
func mustOpenDB(cfg *config.Config) *gorm.DB {
	gdb, err := db.ConnectGormDB(cfg)
	if err != nil {
		log.Fatalf("无法连接到数据库: %v", err)
	}
	return gdb
}

func parseID(arg string) (int64, error) {
	id, err := strconv.ParseInt(arg, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid id %q", arg)
	}
	return id, nil
}
