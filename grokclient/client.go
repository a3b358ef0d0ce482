// Package grokclient 封装对 grok.com 非公开接口的探测调用。
// 仅包含额度探测和订阅档位探测两个只读端点，对话代理不在此包职责内。
package grokclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

const (
	// 探测端点路径（挂在 GrokBaseURL 下）。
	rateLimitsPath    = "/rest/rate-limits"
	subscriptionsPath = "/rest/subscriptions"

	// 额度探测固定以基础模型 grok-3 为准。
	probeModelName   = "grok-3"
	probeRequestKind = "DEFAULT"

	// 模拟 Chrome 的 User-Agent，grok.com 会拒绝明显的非浏览器客户端。
	browserUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"
)

// 账号类型取值。订阅探测失败时保持 "unknown"。
const (
	AccountTypeUnknown = "unknown"
	AccountTypeFree    = "free"
	AccountTypeSuper   = "super"
)

// QuotaResult 额度探测结果。
// RemainingQueries 为 -1 表示未知（非 200 响应或网络失败时无法得知真实额度）。
type QuotaResult struct {
	Success          bool   // 探测是否成功拿到额度
	RemainingQueries int    // 剩余查询额度；401 时为 0，其余失败为 -1
	Error            string // 失败原因描述，成功时为空
}

// Client 对 grok.com 的探测客户端。
type Client struct {
	httpClient *http.Client
	baseURL    string
	log        *logrus.Logger
}

// New 创建探测客户端。proxyURL 为空时直连；timeout 约束单次探测请求。
func New(baseURL, proxyURL string, timeout time.Duration, log *logrus.Logger) (*Client, error) {
	transport := &http.Transport{
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 20,
		IdleConnTimeout:     90 * time.Second,
	}
	if proxyURL != "" {
		parsed, err := url.Parse(proxyURL)
		if err != nil {
			return nil, fmt.Errorf("解析代理地址失败: %w", err)
		}
		transport.Proxy = http.ProxyURL(parsed)
		log.Infof("探测客户端将通过代理访问 grok.com: %s", parsed.Redacted())
	}

	return &Client{
		httpClient: &http.Client{
			Timeout:   timeout,
			Transport: transport,
		},
		baseURL: strings.TrimRight(baseURL, "/"),
		log:     log,
	}, nil
}

// SSOCookie 规范化 Cookie 头的值：没有 sso= 前缀时补上。
func SSOCookie(token string) string {
	if strings.HasPrefix(token, "sso=") {
		return token
	}
	return "sso=" + token
}

// CheckQuota 调用 rate-limits 端点探测指定 token 的 Chat 剩余额度。
// 状态码语义: 200 成功读取 remainingTokens；401 token 失效（额度记 0）；
// 429 被限流；其余状态码与网络错误一律视为探测失败，额度未知。
func (c *Client) CheckQuota(ctx context.Context, token string) QuotaResult {
	payload := map[string]string{
		"requestKind": probeRequestKind,
		"modelName":   probeModelName,
	}
	body, _ := json.Marshal(payload)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+rateLimitsPath, bytes.NewReader(body))
	if err != nil {
		return QuotaResult{Success: false, RemainingQueries: -1, Error: err.Error()}
	}
	c.setBrowserHeaders(req, token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.log.Debugf("额度探测请求失败: %v", err)
		return QuotaResult{Success: false, RemainingQueries: -1, Error: err.Error()}
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		var data struct {
			RemainingTokens *int `json:"remainingTokens"`
		}
		raw, err := io.ReadAll(resp.Body)
		if err != nil {
			return QuotaResult{Success: false, RemainingQueries: -1, Error: err.Error()}
		}
		if err := json.Unmarshal(raw, &data); err != nil {
			return QuotaResult{Success: false, RemainingQueries: -1, Error: "解析额度响应失败: " + err.Error()}
		}
		remaining := -1
		if data.RemainingTokens != nil {
			remaining = *data.RemainingTokens
		}
		c.log.Infof("Chat 额度: %d", remaining)
		return QuotaResult{Success: true, RemainingQueries: remaining}
	case http.StatusUnauthorized:
		c.log.Warn("Token 无效: 401")
		drainBody(resp.Body)
		return QuotaResult{Success: false, RemainingQueries: 0, Error: "Token 无效或已过期"}
	case http.StatusTooManyRequests:
		c.log.Warn("请求限流: 429")
		drainBody(resp.Body)
		return QuotaResult{Success: false, RemainingQueries: -1, Error: "请求被限流"}
	default:
		c.log.Warnf("额度探测返回非预期状态: %d", resp.StatusCode)
		drainBody(resp.Body)
		return QuotaResult{Success: false, RemainingQueries: -1, Error: fmt.Sprintf("非预期状态码: %d", resp.StatusCode)}
	}
}

// CheckSubscription 调用 subscriptions 端点判断账号档位。
// 存在任一 SUBSCRIPTION_STATUS_ACTIVE 订阅即为 super；有记录但均不活跃或
// 无记录视为 free；请求失败返回 unknown。
func (c *Client) CheckSubscription(ctx context.Context, token string) string {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+subscriptionsPath, nil)
	if err != nil {
		return AccountTypeUnknown
	}
	c.setBrowserHeaders(req, token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.log.Debugf("订阅探测请求失败: %v", err)
		return AccountTypeUnknown
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		c.log.Debugf("订阅探测返回状态: %d", resp.StatusCode)
		drainBody(resp.Body)
		return AccountTypeUnknown
	}

	var data struct {
		Subscriptions []struct {
			Status string `json:"status"`
			Tier   string `json:"tier"`
		} `json:"subscriptions"`
	}
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return AccountTypeUnknown
	}
	if err := json.Unmarshal(raw, &data); err != nil {
		c.log.Debugf("解析订阅响应失败: %v", err)
		return AccountTypeUnknown
	}

	if len(data.Subscriptions) == 0 {
		return AccountTypeFree
	}
	for _, sub := range data.Subscriptions {
		if sub.Status == "SUBSCRIPTION_STATUS_ACTIVE" {
			c.log.Infof("账号类型: Super (%s)", sub.Tier)
			return AccountTypeSuper
		}
	}
	// 有订阅记录但都不活跃
	return AccountTypeFree
}

// setBrowserHeaders 设置模拟浏览器的公共请求头和 sso Cookie。
func (c *Client) setBrowserHeaders(req *http.Request, token string) {
	req.Header.Set("User-Agent", browserUserAgent)
	req.Header.Set("Accept", "*/*")
	req.Header.Set("Accept-Language", "en-US,en;q=0.9")
	req.Header.Set("Origin", c.baseURL)
	req.Header.Set("Referer", c.baseURL+"/")
	req.Header.Set("Cookie", SSOCookie(token))
}

// drainBody 读完并丢弃响应体，让连接可以被复用。
func drainBody(body io.Reader) {
	_, _ = io.Copy(io.Discard, body)
}
