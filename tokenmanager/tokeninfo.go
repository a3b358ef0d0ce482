package tokenmanager

import "time"

// 账号类型取值见 grokclient（unknown / free / super），此处不做枚举约束，
// 探测结果原样记录。

// TokenInfo 在内存中描述单个 SSO token 的运行时状态。
// Token 字段是池内唯一且不可变的身份标识，其余字段随使用情况更新。
type TokenInfo struct {
	Token   string // 凭证本体（裸 token，不带 sso= 前缀）
	Name    string // 展示名称
	Enabled bool   // 是否启用；false 为终态，仅显式更新可恢复

	CreatedAt    time.Time // 注册时间，轮询顺序的排序依据
	LastUsed     time.Time // 最近一次被选中的时间
	RequestCount int       // 被选中次数
	FailureCount int       // 累计失败次数

	// 冷却相关
	CooldownUntil       time.Time // 冷却截止时间；零值表示未冷却
	CooldownReason      string    // 冷却原因
	ConsecutiveFailures int       // 连续失败次数，成功后归零

	// 额度相关
	RemainingQueries  int       // 剩余 Chat 查询额度；-1 表示未知
	LastCheck         time.Time // 最近一次额度探测成功的时间
	LastFailureReason string    // 最近一次失败的错误类型

	// 账号类型
	AccountType string // unknown / free / super（仅展示，不参与选取）
}

// InCooldown 判断 token 在指定时刻是否处于冷却中。
func (t *TokenInfo) InCooldown(now time.Time) bool {
	return t.CooldownUntil.After(now)
}

// CooldownRemaining 返回指定时刻的剩余冷却秒数，未冷却时为 0。
func (t *TokenInfo) CooldownRemaining(now time.Time) int {
	if !t.InCooldown(now) {
		return 0
	}
	return int(t.CooldownUntil.Sub(now).Seconds())
}

// Selectable 判断 token 是否可被轮询选中：启用且不在冷却中。
// 额度与账号类型只是参考信息，从不参与此判断。
func (t *TokenInfo) Selectable(now time.Time) bool {
	return t.Enabled && !t.InCooldown(now)
}

// clone 返回 TokenInfo 的值副本，供对外暴露时与内部状态隔离。
func (t *TokenInfo) clone() TokenInfo {
	return *t
}

// tokenRecord 是 TokenInfo 的持久化形态。
// 字段名与时间编码（Unix 秒的浮点数）兼容旧版 tokens.json，
// 因此已有部署的快照无需转换即可读入。
type tokenRecord struct {
	Token               string  `json:"token"`
	Name                string  `json:"name"`
	Enabled             bool    `json:"enabled"`
	CreatedAt           float64 `json:"created_at"`
	LastUsed            float64 `json:"last_used"`
	RequestCount        int     `json:"request_count"`
	FailureCount        int     `json:"failure_count"`
	CooldownUntil       float64 `json:"cooldown_until"`
	CooldownReason      string  `json:"cooldown_reason"`
	ConsecutiveFailures int     `json:"consecutive_failures"`
	RemainingQueries    int     `json:"remaining_queries"`
	LastCheck           float64 `json:"last_check"`
	LastFailureReason   string  `json:"last_failure_reason"`
	AccountType         string  `json:"account_type"`
}

// toRecord 转换为持久化形态。
func (t *TokenInfo) toRecord() tokenRecord {
	return tokenRecord{
		Token:               t.Token,
		Name:                t.Name,
		Enabled:             t.Enabled,
		CreatedAt:           timeToUnix(t.CreatedAt),
		LastUsed:            timeToUnix(t.LastUsed),
		RequestCount:        t.RequestCount,
		FailureCount:        t.FailureCount,
		CooldownUntil:       timeToUnix(t.CooldownUntil),
		CooldownReason:      t.CooldownReason,
		ConsecutiveFailures: t.ConsecutiveFailures,
		RemainingQueries:    t.RemainingQueries,
		LastCheck:           timeToUnix(t.LastCheck),
		LastFailureReason:   t.LastFailureReason,
		AccountType:         t.AccountType,
	}
}

// fromRecord 从持久化形态还原。
func fromRecord(rec tokenRecord) *TokenInfo {
	return &TokenInfo{
		Token:               rec.Token,
		Name:                rec.Name,
		Enabled:             rec.Enabled,
		CreatedAt:           unixToTime(rec.CreatedAt),
		LastUsed:            unixToTime(rec.LastUsed),
		RequestCount:        rec.RequestCount,
		FailureCount:        rec.FailureCount,
		CooldownUntil:       unixToTime(rec.CooldownUntil),
		CooldownReason:      rec.CooldownReason,
		ConsecutiveFailures: rec.ConsecutiveFailures,
		RemainingQueries:    rec.RemainingQueries,
		LastCheck:           unixToTime(rec.LastCheck),
		LastFailureReason:   rec.LastFailureReason,
		AccountType:         rec.AccountType,
	}
}

// timeToUnix 把时间编码为 Unix 秒的浮点数，零值时间编码为 0。
func timeToUnix(t time.Time) float64 {
	if t.IsZero() {
		return 0
	}
	return float64(t.UnixNano()) / 1e9
}

// unixToTime 把 Unix 秒的浮点数解码为时间，0 及负数解码为零值时间。
func unixToTime(f float64) time.Time {
	if f <= 0 {
		return time.Time{}
	}
	sec := int64(f)
	nsec := int64((f - float64(sec)) * 1e9)
	return time.Unix(sec, nsec)
}

// TokenView 是面向管理接口的 token 视图：完整状态字段加上
// 根据当前时刻计算出的冷却信息。时间字段沿用 Unix 秒编码，
// 与旧版管理接口的返回格式一致。
type TokenView struct {
	Token               string  `json:"token"`
	Name                string  `json:"name"`
	Enabled             bool    `json:"enabled"`
	CreatedAt           float64 `json:"created_at"`
	LastUsed            float64 `json:"last_used"`
	RequestCount        int     `json:"request_count"`
	FailureCount        int     `json:"failure_count"`
	CooldownUntil       float64 `json:"cooldown_until"`
	CooldownReason      string  `json:"cooldown_reason"`
	ConsecutiveFailures int     `json:"consecutive_failures"`
	RemainingQueries    int     `json:"remaining_queries"`
	LastCheck           float64 `json:"last_check"`
	LastFailureReason   string  `json:"last_failure_reason"`
	AccountType         string  `json:"account_type"`
	InCooldown          bool    `json:"in_cooldown"`
	CooldownRemaining   int     `json:"cooldown_remaining"`
}

// toView 生成管理接口视图。
func (t *TokenInfo) toView(now time.Time) TokenView {
	rec := t.toRecord()
	return TokenView{
		Token:               rec.Token,
		Name:                rec.Name,
		Enabled:             rec.Enabled,
		CreatedAt:           rec.CreatedAt,
		LastUsed:            rec.LastUsed,
		RequestCount:        rec.RequestCount,
		FailureCount:        rec.FailureCount,
		CooldownUntil:       rec.CooldownUntil,
		CooldownReason:      rec.CooldownReason,
		ConsecutiveFailures: rec.ConsecutiveFailures,
		RemainingQueries:    rec.RemainingQueries,
		LastCheck:           rec.LastCheck,
		LastFailureReason:   rec.LastFailureReason,
		AccountType:         rec.AccountType,
		InCooldown:          t.InCooldown(now),
		CooldownRemaining:   t.CooldownRemaining(now),
	}
}
