package repository

import (
	"errors"

	"github.com/go-sql-driver/mysql"
	"gorm.io/gorm"
)

var (
	// ErrNotFound is returned when a lookup by id or unique key matches no row.
	ErrNotFound = errors.New("record not found")
	// ErrDuplicateUser 用户名或邮箱已存在
	ErrDuplicateUser = errors.New("username or email already exists")
	// ErrDuplicatePiece 同名同作曲家的曲目已存在
	ErrDuplicatePiece = errors.New("a piece with this title and composer already exists")
	// ErrInvalidRecording rejects recordings without exactly one source or with a foreign movement.
	ErrInvalidRecording = errors.New("invalid recording")
)

// mysqlDuplicateEntry is ER_DUP_ENTRY.
const mysqlDuplicateEntry = 1062

// isDuplicateKey 判断是否为唯一约束冲突（gorm TranslateError 或原始 MySQL 错误）
func isDuplicateKey(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	var mysqlErr *mysql.MySQLError
	return errors.As(err, &mysqlErr) && mysqlErr.Number == mysqlDuplicateEntry
}

// notFound maps gorm's sentinel onto ErrNotFound and leaves other errors untouched.
func notFound(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNotFound
	}
	return err
}
