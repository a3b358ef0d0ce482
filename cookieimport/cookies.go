// Package cookieimport 从本机已安装浏览器的 cookie 存储中提取 grok.com
// 的 SSO token，供管理接口一键导入 token 池。
package cookieimport

import (
	"context"
	"strings"

	"github.com/browserutils/kooky"
	_ "github.com/browserutils/kooky/browser/all" // 注册所有已知浏览器的 cookie 存储
	"github.com/samber/lo"
	"github.com/sirupsen/logrus"
)

const (
	ssoCookieName = "sso"
	grokDomain    = "grok.com"
)

// CollectSSOTokens 扫描本机浏览器，收集 grok.com 域下未过期的 sso cookie 值，
// 返回去重后的 token 列表。单个浏览器读取失败（文件被锁、密钥不可用等）
// 由 kooky 内部跳过，不影响其它浏览器。
func CollectSSOTokens(ctx context.Context, log *logrus.Logger) []string {
	cookies, _ := kooky.ReadCookies(ctx, kooky.Valid, kooky.Name(ssoCookieName), kooky.DomainHasSuffix(grokDomain))
	tokens := dedupeValues(cookies)
	log.Infof("浏览器 cookie 扫描完成: 命中 %d 条，去重后 %d 个", len(cookies), len(tokens))
	return tokens
}

// dedupeValues 提取 cookie 值，剔除空白并去重，保持首次出现的顺序。
func dedupeValues(cookies []*kooky.Cookie) []string {
	values := make([]string, 0, len(cookies))
	for _, cookie := range cookies {
		value := strings.TrimSpace(cookie.Value)
		if value == "" {
			continue
		}
		values = append(values, value)
	}
	return lo.Uniq(values)
}
