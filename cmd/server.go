package cmd

import (
	"Choirbook/server"

	"github.com/spf13/cobra"
)

var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "启动Choirbook服务器",
	Long:  `启动Choirbook的HTTP服务器，提供登录、注册、曲库浏览和联系表单页面`,
	Run: func(cmd *cobra.Command, args []string) {
		server.Start()
	},
}

func init() {
	rootCmd.AddCommand(serverCmd)
}
