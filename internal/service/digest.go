package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"viralindex/backend/internal/storage"
)

const (
	// digestTopN 摘要里展示的榜单条数
	digestTopN = 10
	// digestSendConcurrency 并发发送上限
	digestSendConcurrency = 4
)

// Mailer 出站邮件发送接口
type Mailer interface {
	Send(to, subject, body string) error
}

// DigestService 每日摘要服务
//
// 把最新榜单和信号汇总成纯文本邮件，发给订阅的活跃用户。
type DigestService struct {
	store  storage.Store
	mailer Mailer
}

// NewDigestService 创建每日摘要服务
func NewDigestService(store storage.Store, mailer Mailer) *DigestService {
	return &DigestService{
		store:  store,
		mailer: mailer,
	}
}

// BuildDigest 组装某日的摘要邮件
//
// 返回值:
//   - string: 邮件主题
//   - string: 纯文本正文
//   - error: 错误信息
func (s *DigestService) BuildDigest(date string) (string, string, error) {
	entries, err := s.store.GetLeaderboard(date, digestTopN)
	if err != nil {
		return "", "", err
	}

	signals, err := s.store.ListSignalsByDate(date, "")
	if err != nil {
		return "", "", err
	}

	// 信号只带 modelID，补上 slug
	models, err := s.store.ListModels(false)
	if err != nil {
		return "", "", err
	}
	slugByID := make(map[string]string, len(models))
	for _, m := range models {
		slugByID[m.ID] = m.Slug
	}

	subject := fmt.Sprintf("Viral Index Daily Digest - %s", date)

	var b strings.Builder
	fmt.Fprintf(&b, "Viral Index Daily Digest\n%s\n\n", date)

	if len(entries) == 0 {
		b.WriteString("No scores were published for this date.\n")
	} else {
		b.WriteString("Top models by viral index:\n\n")
		for i, entry := range entries {
			fmt.Fprintf(&b, "%3d. %-24s %6.1f\n", i+1, entry.Model.Name, entry.Score.Score)
		}
	}

	if len(signals) > 0 {
		b.WriteString("\nSignals:\n\n")
		for _, sig := range signals {
			slug := slugByID[sig.ModelID]
			if slug == "" {
				slug = sig.ModelID
			}
			line := fmt.Sprintf("  - %s: %s", slug, sig.Type)
			if sig.Direction != "" {
				line += " " + sig.Direction
			}
			if sig.Summary != "" {
				line += " - " + sig.Summary
			}
			b.WriteString(line + "\n")
		}
	}

	b.WriteString("\n--\nYou are receiving this email because you opted in to the daily digest.\n")

	return subject, b.String(), nil
}

// SendDaily 给所有订阅用户发送最新一日的摘要
//
// 单个收件人失败不影响其他人，最后汇总失败数量返回。
func (s *DigestService) SendDaily(ctx context.Context) error {
	date, err := s.store.LatestScoreDate()
	if err != nil {
		if errors.Is(err, storage.ErrScoreNotFound) {
			// 还没有任何分数，无内容可发
			return nil
		}
		return err
	}

	recipients, err := s.store.ListDigestRecipients()
	if err != nil {
		return err
	}
	if len(recipients) == 0 {
		return nil
	}

	subject, body, err := s.BuildDigest(date)
	if err != nil {
		return err
	}

	var failed atomic.Int64

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(digestSendConcurrency)
	for _, user := range recipients {
		g.Go(func() error {
			select {
			case <-ctx.Done():
				return ctx.Err()
			default:
			}
			if err := s.mailer.Send(user.Email, subject, body); err != nil {
				failed.Add(1)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	if n := failed.Load(); n > 0 {
		return fmt.Errorf("daily digest: %d of %d sends failed", n, len(recipients))
	}
	return nil
}
