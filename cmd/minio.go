package cmd

import (
	"context"
	"fmt"
	"log"
	"time"

	"Choirbook/storage"

	"github.com/spf13/cobra"
)

var (
	minioPrefix string
	minioStats  bool
)

var minioCmd = &cobra.Command{
	Use:   "minio",
	Short: "MinIO存储桶管理",
	Long:  `查看乐谱和录音所在的MinIO存储桶，支持按前缀列出文件和查看统计信息。`,
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println("开始连接MinIO服务器...")

		cfg := loadConfig()
		fmt.Printf("MinIO配置: %s, Bucket: %s\n", cfg.MinioEndpoint, cfg.MinioBucket)

		files, err := storage.NewMinioStorage(cfg)
		if err != nil {
			log.Fatalf("无法连接到MinIO: %v", err)
		}

		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		defer cancel()
		objects, stats, err := files.ListObjects(ctx, minioPrefix)
		if err != nil {
			log.Fatalf("列出文件失败: %v", err)
		}

		if !minioStats {
			fmt.Printf("\n存储桶中的文件 (前缀: %q):\n", minioPrefix)
			for _, o := range objects {
				fmt.Printf("  %-60s %10d  %s  %s\n",
					o.Key, o.Size, o.LastModified.Format("2006-01-02 15:04:05"), o.ContentType)
			}
		}

		fmt.Println("\n存储桶统计信息:")
		fmt.Printf("  文件总数: %d\n", stats.TotalObjects)
		fmt.Printf("  总大小: %.2f MB\n", stats.SizeMB())
		if !stats.LastModified.IsZero() {
			fmt.Printf("  最后修改: %s\n", stats.LastModified.Format("2006-01-02 15:04:05"))
		}
	},
}

func init() {
	rootCmd.AddCommand(minioCmd)

	minioCmd.Flags().StringVarP(&minioPrefix, "prefix", "p", "", "按前缀过滤文件，如 recordings/ 或 sheet_music/")
	minioCmd.Flags().BoolVarP(&minioStats, "stats", "s", false, "只显示统计信息")

	minioCmd.Example = `  # 列出所有文件
  choirbook minio

  # 只看录音
  choirbook minio -p "recordings/"

  # 显示存储桶统计信息
  choirbook minio -s`
}
