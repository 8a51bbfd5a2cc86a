package cmd

import (
	"context"
	"fmt"
	"log"
	"time"

	"Choirbook/db"
	"Choirbook/repository"

	"github.com/spf13/cobra"
)

var (
	migrateSkipAdmin bool
	adminUsername    string
	adminEmail       string
	adminPassword    string
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "数据库迁移并创建初始管理员",
	Long:  `自动迁移用户、曲目、乐章和录音表，并按 ADMIN_USERNAME / ADMIN_EMAIL / ADMIN_PASSWORD 创建初始管理员（已存在则跳过）。`,
	Run: func(cmd *cobra.Command, args []string) {
		cfg := loadConfig()
		gdb := mustOpenDB(cfg)
		defer db.CloseGormDB()

		fmt.Println("开始迁移数据库...")
		if err := db.AutoMigrateModels(gdb); err != nil {
			log.Fatalf("数据库迁移失败: %v", err)
		}
		fmt.Println("数据库迁移完成！")

		if migrateSkipAdmin {
			return
		}
		seed := db.SeedAdmin{
			Username: firstNonEmpty(adminUsername, cfg.AdminUsername),
			Email:    firstNonEmpty(adminEmail, cfg.AdminEmail),
			Password: firstNonEmpty(adminPassword, cfg.AdminPassword),
		}
		if seed.Username == "" {
			fmt.Println("未配置 ADMIN_USERNAME，跳过创建管理员。")
			return
		}

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		admin, created, err := db.EnsureAdminUser(ctx, repository.NewGormUserRepository(gdb), seed)
		if err != nil {
			log.Fatalf("创建管理员失败: %v", err)
		}
		if created {
			fmt.Printf("管理员 %s 已创建 (ID: %d)\n", admin.Username, admin.ID)
		} else {
			fmt.Printf("管理员 %s 已存在，未做修改。\n", admin.Username)
		}
	},
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func init() {
	rootCmd.AddCommand(migrateCmd)

	migrateCmd.Flags().BoolVar(&migrateSkipAdmin, "skip-admin", false, "只迁移表结构，不创建管理员")
	migrateCmd.Flags().StringVar(&adminUsername, "admin-username", "", "覆盖 ADMIN_USERNAME")
	migrateCmd.Flags().StringVar(&adminEmail, "admin-email", "", "覆盖 ADMIN_EMAIL")
	migrateCmd.Flags().StringVar(&adminPassword, "admin-password", "", "覆盖 ADMIN_PASSWORD")
}
