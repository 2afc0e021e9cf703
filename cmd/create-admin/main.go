package main

import (
	"fmt"
	"os"
	"time"

	"viralindex/backend/internal/auth"
	"viralindex/backend/internal/config"
	"viralindex/backend/internal/domain"
	"viralindex/backend/internal/storage/memory"
	"viralindex/backend/internal/storage/postgres"

	"github.com/google/uuid"
)

func main() {
	if len(os.Args) < 4 {
		fmt.Println("Usage: create-admin <email> <password> <username> [super|admin]")
		os.Exit(1)
	}

	email := os.Args[1]
	password := os.Args[2]
	username := os.Args[3]
	roleStr := "admin"
	if len(os.Args) >= 5 {
		roleStr = os.Args[4]
	}

	var role domain.UserRole
	if roleStr == "super" {
		role = domain.RoleSuper
	} else {
		role = domain.RoleAdmin
	}

	// 加载配置
	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}

	// 创建存储，配置了数据库时直接写库
	var store interface {
		CreateUser(user *domain.User) error
	}
	persistent := false

	if cfg.Database.Type != "" && cfg.Database.DSN != "" {
		var dbStore *postgres.Store
		switch cfg.Database.Type {
		case "mysql":
			dbStore, err = postgres.NewMySQLStore(cfg.Database.DSN)
		default:
			dbStore, err = postgres.NewStore(cfg.Database.DSN)
		}
		if err != nil {
			fmt.Printf("Failed to connect to database: %v\n", err)
			os.Exit(1)
		}
		defer dbStore.Close()
		store = dbStore
		persistent = true
	} else {
		store = memory.NewStore()
	}

	// 验证邮箱
	if !domain.ValidateEmail(email) {
		fmt.Println("Invalid email format")
		os.Exit(1)
	}

	// 验证密码
	if err := auth.ValidatePassword(password); err != nil {
		fmt.Printf("Invalid password: %v\n", err)
		os.Exit(1)
	}

	// 哈希密码
	hashedPassword, err := auth.HashPassword(password)
	if err != nil {
		fmt.Printf("Failed to hash password: %v\n", err)
		os.Exit(1)
	}

	// 创建管理员用户
	now := time.Now().UTC()
	user := &domain.User{
		ID:              uuid.New().String(),
		Email:           email,
		Username:        username,
		PasswordHash:    hashedPassword,
		Role:            role,
		Tier:            domain.TierFree,
		IsActive:        true,
		IsEmailVerified: true,
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	if err := store.CreateUser(user); err != nil {
		fmt.Printf("Failed to create user: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("Admin user created successfully!\n")
	fmt.Printf("  ID:       %s\n", user.ID)
	fmt.Printf("  Email:    %s\n", user.Email)
	fmt.Printf("  Username: %s\n", user.Username)
	fmt.Printf("  Role:     %s\n", user.Role)

	if !persistent {
		fmt.Println("\nNote: no database configured, this user exists only in memory.")
		fmt.Println("Set VIRALINDEX_DATABASE_TYPE and VIRALINDEX_DATABASE_DSN to write to a real database.")
	}
}
