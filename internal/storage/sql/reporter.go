package sql

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/go-sql-driver/mysql" // MySQL driver
	_ "github.com/lib/pq"              // PostgreSQL driver

	"viralindex/backend/internal/domain"
)

// Reporter 只读报表查询实现（支持 MySQL 5.7+ 和 PostgreSQL）。
//
// 导出类查询需要逐行流式读取，不适合走 ORM，这里直接用
// database/sql 并独立于主存储的连接池。
type Reporter struct {
	db         *sql.DB
	driverName string // "mysql" or "postgres"
}

// NewReporter 创建报表查询实例
func NewReporter(
	driverName string,
	dsn string,
	maxOpenConns int,
	maxIdleConns int,
	connMaxLifetime time.Duration,
) (*Reporter, error) {
	// 验证驱动类型
	if driverName != "mysql" && driverName != "postgres" {
		return nil, fmt.Errorf("unsupported database driver: %s (supported: mysql, postgres)", driverName)
	}

	// 打开数据库连接
	db, err := sql.Open(driverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// 设置连接池参数
	db.SetMaxOpenConns(maxOpenConns)
	db.SetMaxIdleConns(maxIdleConns)
	db.SetConnMaxLifetime(connMaxLifetime)

	// 测试连接
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &Reporter{
		db:         db,
		driverName: driverName,
	}, nil
}

// Close 关闭数据库连接
func (r *Reporter) Close() error {
	if r.db != nil {
		return r.db.Close()
	}
	return nil
}

// Health 检查数据库健康状态
func (r *Reporter) Health() error {
	if r.db == nil {
		return fmt.Errorf("database connection is nil")
	}
	return r.db.Ping()
}

// placeholder 根据数据库类型返回占位符
func (r *Reporter) placeholder(n int) string {
	if r.driverName == "postgres" {
		return fmt.Sprintf("$%d", n)
	}
	return "?"
}

// StreamScores 按日期范围流式读取分数行，逐行调用 fn。
//
// from/to 为空表示不限；只包含上架模型。fn 返回错误时中止。
func (r *Reporter) StreamScores(from, to string, fn func(domain.ScoreExportRow) error) error {
	// 构建查询条件
	where := "WHERE m.is_active = TRUE"
	args := []interface{}{}
	argn := 0

	if from != "" {
		argn++
		where += " AND s.date >= " + r.placeholder(argn)
		args = append(args, from)
	}
	if to != "" {
		argn++
		where += " AND s.date <= " + r.placeholder(argn)
		args = append(args, to)
	}

	query := `
		SELECT m.slug, m.name, s.date, s.score, s.components, s.rank
		FROM daily_scores s
		INNER JOIN models m ON m.id = s.model_id
	` + where + `
		ORDER BY s.date, m.slug
	`

	rows, err := r.db.Query(query, args...)
	if err != nil {
		return fmt.Errorf("failed to query scores: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var row domain.ScoreExportRow
		var components sql.NullString

		if err := rows.Scan(
			&row.Slug,
			&row.Name,
			&row.Date,
			&row.Score,
			&components,
			&row.Rank,
		); err != nil {
			return err
		}

		if components.Valid && components.String != "" {
			// 分量列是 JSON 文本，解析失败时保留零值继续导出
			_ = json.Unmarshal([]byte(components.String), &row.Components)
		}

		if err := fn(row); err != nil {
			return err
		}
	}

	return rows.Err()
}

// CountScores 统计日期范围内可导出的分数行数
func (r *Reporter) CountScores(from, to string) (int, error) {
	where := "WHERE m.is_active = TRUE"
	args := []interface{}{}
	argn := 0

	if from != "" {
		argn++
		where += " AND s.date >= " + r.placeholder(argn)
		args = append(args, from)
	}
	if to != "" {
		argn++
		where += " AND s.date <= " + r.placeholder(argn)
		args = append(args, to)
	}

	query := `
		SELECT COUNT(*)
		FROM daily_scores s
		INNER JOIN models m ON m.id = s.model_id
	` + where

	var total int
	if err := r.db.QueryRow(query, args...).Scan(&total); err != nil {
		return 0, err
	}
	return total, nil
}
