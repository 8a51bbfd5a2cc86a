package cmd

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"time"

	"Choirbook/db"
	"Choirbook/logger"
	"Choirbook/model"
	"Choirbook/repository"
	"Choirbook/server"

	"github.com/spf13/cobra"
)

// sessionRevoker 停用账号时清理其全部会话
type sessionRevoker interface {
	DeleteUserSessions(ctx context.Context, userID int64) error
}

// userAdmin 账号审批：管理员在这里切换 is_active
type userAdmin struct {
	users    repository.UserRepository
	sessions sessionRevoker // 可为 nil
	out      io.Writer
}

func (a *userAdmin) list(ctx context.Context, filter repository.UserListFilter) error {
	users, err := a.users.ListUsers(ctx, filter)
	if err != nil {
		return err
	}
	if len(users) == 0 {
		fmt.Fprintln(a.out, "没有符合条件的用户")
		return nil
	}
	fmt.Fprintf(a.out, "%-6s %-24s %-32s %-8s %s\n", "ID", "USERNAME", "EMAIL", "STATUS", "JOINED")
	for _, u := range users {
		fmt.Fprintf(a.out, "%-6d %-24s %-32s %-8s %s\n",
			u.ID, u.Username, u.Email, userStatus(u), u.DateJoined.Format("2006-01-02"))
	}
	return nil
}

func userStatus(u *model.User) string {
	switch {
	case u.IsStaff && u.IsActive:
		return "staff"
	case u.IsActive:
		return "active"
	default:
		return "pending"
	}
}

// setActive approves or deactivates an account. Deactivation also ends all of
// the user's sessions; a failure there is only logged because the gate
// re-reads is_active on every request anyway.
func (a *userAdmin) setActive(ctx context.Context, username string, active bool) (*model.User, error) {
	u, err := a.users.GetUserByUsername(ctx, username)
	if err != nil {
		return nil, fmt.Errorf("user %q: %w", username, err)
	}
	if u.IsActive == active {
		return u, nil
	}
	if err := a.users.SetActive(ctx, u.ID, active); err != nil {
		return nil, err
	}
	u.IsActive = active

	if !active && a.sessions != nil {
		if err := a.sessions.DeleteUserSessions(ctx, u.ID); err != nil {
			logger.Warn("[User] 清理会话失败", logger.Int64("userID", u.ID), logger.ErrorField(err))
		}
	}
	logger.Info("[User] 账号状态已更新", logger.String("username", u.Username), logger.Bool("active", active))
	return u, nil
}

// newUserAdmin 连接数据库，停用时尽量连接会话存储
func newUserAdmin(withSessions bool) *userAdmin {
	cfg := loadConfig()
	admin := &userAdmin{
		users: repository.NewGormUserRepository(mustOpenDB(cfg)),
		out:   os.Stdout,
	}
	if withSessions {
		sessions, err := server.NewSessionStore(cfg)
		if err != nil {
			log.Printf("会话存储不可用，跳过清理会话: %v", err)
		} else {
			admin.sessions = sessions
		}
	}
	return admin
}

var userPending bool

var userCmd = &cobra.Command{
	Use:   "user",
	Short: "用户审批管理",
	Long:  `列出注册用户，审批（激活）或停用账号。新注册的账号在审批前无法进入曲库。`,
}

var userListCmd = &cobra.Command{
	Use:   "list",
	Short: "列出用户",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		admin := newUserAdmin(false)
		defer db.CloseGormDB()

		filter := repository.AllUsers
		if userPending {
			filter = repository.PendingUsers
		}
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := admin.list(ctx, filter); err != nil {
			log.Fatalf("列出用户失败: %v", err)
		}
	},
}

var userApproveCmd = &cobra.Command{
	Use:   "approve <username>",
	Short: "审批（激活）账号",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		admin := newUserAdmin(false)
		defer db.CloseGormDB()

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		u, err := admin.setActive(ctx, args[0], true)
		if err != nil {
			log.Fatalf("审批失败: %v", err)
		}
		fmt.Printf("用户 %s 已激活\n", u.Username)
	},
}

var userDeactivateCmd = &cobra.Command{
	Use:   "deactivate <username>",
	Short: "停用账号并结束其全部会话",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		admin := newUserAdmin(true)
		defer db.CloseGormDB()
		defer db.CloseRedis()

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		u, err := admin.setActive(ctx, args[0], false)
		if err != nil {
			log.Fatalf("停用失败: %v", err)
		}
		fmt.Printf("用户 %s 已停用\n", u.Username)
	},
}

func init() {
	rootCmd.AddCommand(userCmd)
	userCmd.AddCommand(userListCmd, userApproveCmd, userDeactivateCmd)

	userListCmd.Flags().BoolVar(&userPending, "pending", false, "只列出待审批的用户")
}
