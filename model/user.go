package model

import "time"

// User represents a library member. New accounts stay inactive until an administrator approves them.
type User struct {
	ID           int64      `json:"id" gorm:"primaryKey"`
	Username     string     `json:"username" gorm:"size:150;not null;uniqueIndex"`
	Email        string     `json:"email" gorm:"size:254;not null;uniqueIndex"`
	PasswordHash string     `json:"-" gorm:"size:255;not null"` // Not exposed in responses
	IsActive     bool       `json:"isActive" gorm:"not null"`
	IsStaff      bool       `json:"isStaff" gorm:"not null"`
	IsSuperuser  bool       `json:"isSuperuser" gorm:"not null"`
	DateJoined   time.Time  `json:"dateJoined" gorm:"autoCreateTime;<-:create"`
	LastLogin    *time.Time `json:"lastLogin,omitempty"`
}

// TableName 指定表名
func (User) TableName() string {
	return "users"
}
