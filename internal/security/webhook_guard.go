// Package security 出站投递目标的安全检查
package security

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"strings"
)

// ErrForbiddenTarget 目标地址指向回环或内网
var ErrForbiddenTarget = errors.New("target host is loopback or private")

// WebhookTargetPolicy 告警投递地址策略
//
// 投递地址由订阅方自行填写，默认拒绝回环与内网目标，
// 避免网关被当作内网探测的跳板。
type WebhookTargetPolicy struct {
	// AllowPrivate 放行回环与内网地址，仅限本地联调
	AllowPrivate bool
}

// Check 校验投递地址
//
// 地址必须是 http(s) 绝对地址。策略未放行内网时，主机名为
// 回环、内网、链路本地地址或本地域名一律拒绝。
func (p WebhookTargetPolicy) Check(raw string) error {
	u, err := url.Parse(raw)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("target URL must be absolute http(s)")
	}

	if p.AllowPrivate {
		return nil
	}

	host := strings.ToLower(u.Hostname())
	if host == "localhost" || strings.HasSuffix(host, ".localhost") || strings.HasSuffix(host, ".internal") {
		return ErrForbiddenTarget
	}

	if ip := net.ParseIP(host); ip != nil && privateIP(ip) {
		return ErrForbiddenTarget
	}

	return nil
}

// privateIP 判断IP是否不应作为公网投递目标
func privateIP(ip net.IP) bool {
	return ip.IsLoopback() ||
		ip.IsPrivate() ||
		ip.IsLinkLocalUnicast() ||
		ip.IsLinkLocalMulticast() ||
		ip.IsUnspecified()
}
