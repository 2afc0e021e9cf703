package smtp

import (
	"fmt"
	"mime"
	"strings"
	"time"

	"github.com/emersion/go-sasl"
	gosmtp "github.com/emersion/go-smtp"

	"viralindex/backend/internal/config"
)

// Mailer 出站邮件客户端
//
// 通过运营方的 SMTP 中继发送摘要邮件，587 端口走 STARTTLS。
type Mailer struct {
	addr     string
	username string
	password string
	from     string
}

// NewMailer 创建出站邮件客户端
func NewMailer(cfg *config.DigestConfig) *Mailer {
	port := cfg.Port
	if port == 0 {
		port = 587
	}

	return &Mailer{
		addr:     fmt.Sprintf("%s:%d", cfg.Host, port),
		username: cfg.Username,
		password: cfg.Password,
		from:     cfg.From,
	}
}

// Send 发送一封纯文本邮件
func (m *Mailer) Send(to, subject, body string) error {
	var auth sasl.Client
	if m.username != "" {
		auth = sasl.NewPlainClient("", m.username, m.password)
	}

	msg := m.buildMessage(to, subject, body)
	if err := gosmtp.SendMail(m.addr, auth, m.from, []string{to}, strings.NewReader(msg)); err != nil {
		return fmt.Errorf("send mail to %s: %w", to, err)
	}
	return nil
}

// buildMessage 组装 RFC 5322 报文
func (m *Mailer) buildMessage(to, subject, body string) string {
	var b strings.Builder
	b.WriteString("From: " + m.from + "\r\n")
	b.WriteString("To: " + to + "\r\n")
	b.WriteString("Subject: " + mime.QEncoding.Encode("utf-8", subject) + "\r\n")
	b.WriteString("Date: " + time.Now().UTC().Format(time.RFC1123Z) + "\r\n")
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/plain; charset=UTF-8\r\n")
	b.WriteString("\r\n")
	b.WriteString(strings.ReplaceAll(body, "\n", "\r\n"))
	return b.String()
}
