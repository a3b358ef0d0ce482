// Package tokenmanager 维护 grok.com SSO token 池：注册、轮询选取、
// 失败分级冷却与额度探测。池的全部状态常驻内存，任何变更后整体
// 快照到持久化网关；网络探测一律在池锁之外进行。
package tokenmanager

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/XingLingQAQ/grok2api-new/grokclient"
	"github.com/XingLingQAQ/grok2api-new/storage"
	"github.com/XingLingQAQ/grok2api-new/utils"

	"github.com/samber/lo"
	"github.com/sirupsen/logrus"
)

// 冷却时间配置。
const (
	cooldownNormalError  = time.Hour      // 普通错误连续失败达到阈值：1小时
	cooldown429WithQuota = 5 * time.Hour  // 429限流+有额度：5小时
	cooldown429NoQuota   = 10 * time.Hour // 429限流+无额度：10小时

	// 连续失败达到该次数后普通错误才触发冷却。
	cooldownFailureThreshold = 5

	// 批量刷新时并发探测的 token 数上限。
	bulkRefreshConcurrency = 5
)

// FailureKind 失败分类，决定冷却策略。
type FailureKind string

const (
	FailureNormal FailureKind = "normal" // 普通错误（网络、5xx 等）
	Failure429    FailureKind = "429"    // 上游限流
	FailureAuth   FailureKind = "auth"   // 认证失败，token 已失效
)

// ProbeClient 额度与订阅探测的抽象，生产环境由 *grokclient.Client 实现，
// 测试中用假实现替换。
type ProbeClient interface {
	CheckQuota(ctx context.Context, token string) grokclient.QuotaResult
	CheckSubscription(ctx context.Context, token string) string
}

// BatchAddResult 结构体用于报告批量添加操作的结果。
type BatchAddResult struct {
	Added      int `json:"added"`      // 新增数量
	Duplicates int `json:"duplicates"` // 批次内或与池内重复的数量
	Empty      int `json:"empty"`      // 规范化后为空被忽略的数量
}

// Stats 池的统计信息，字段名与旧版管理接口保持一致。
type Stats struct {
	TotalTokens   int `json:"total_tokens"`
	EnabledTokens int `json:"enabled_tokens"`
	ExpiredTokens int `json:"expired_tokens"` // 已禁用的 token 数
	InCooldown    int `json:"in_cooldown"`
	ChatRemaining int `json:"chat_remaining"` // 启用 token 的正额度之和
	TotalRequests int `json:"total_requests"`
	TotalFailures int `json:"total_failures"`
}

// TestResult 单个 token 诊断探测的结果，token 字段已脱敏。
type TestResult struct {
	Success           bool   `json:"success"`
	Token             string `json:"token"`
	Name              string `json:"name"`
	Enabled           bool   `json:"enabled"`
	InCooldown        bool   `json:"in_cooldown"`
	CooldownRemaining int    `json:"cooldown_remaining"`
	RemainingQueries  int    `json:"remaining_queries"`
	AccountType       string `json:"account_type"`
	Error             string `json:"error,omitempty"`
}

// Manager 结构体负责管理 SSO token 池的全部状态。
// 所有实例由调用方构造并注入依赖，包内不持有全局单例。
type Manager struct {
	mu      sync.Mutex
	tokens  map[string]*TokenInfo
	rrIndex int // 轮询游标，作用于按创建时间排序后的可用子集

	// 批量刷新进度（同样受 mu 保护）
	refreshInProgress bool
	refreshRunID      string
	refreshTotal      int
	refreshCompleted  int
	refreshResults    []RefreshResult

	// saveMu 串行化快照写入。持有 saveMu 后才取池快照，
	// 保证后写入存储的一定是更新的状态。
	saveMu sync.Mutex

	store storage.Store
	probe ProbeClient
	log   *logrus.Logger
	now   func() time.Time

	// 后台额度刷新
	refreshQueue chan string
	inFlight     map[string]struct{} // 正在探测的 token，防止重复入队
	workers      int
	bulkLimit    int

	runCtx  context.Context // Start 注入的生命周期上下文
	wg      sync.WaitGroup
	started bool
}

// NewManager 创建并返回一个新的 Manager 实例。
// refreshWorkers/refreshQueueSize 控制后台额度刷新的并发与积压上限。
func NewManager(store storage.Store, probe ProbeClient, logger *logrus.Logger, refreshWorkers, refreshQueueSize int) *Manager {
	if refreshWorkers < 1 {
		refreshWorkers = 1
	}
	if refreshQueueSize < 1 {
		refreshQueueSize = 16
	}
	return &Manager{
		tokens:       make(map[string]*TokenInfo),
		store:        store,
		probe:        probe,
		log:          logger,
		now:          time.Now,
		refreshQueue: make(chan string, refreshQueueSize),
		inFlight:     make(map[string]struct{}),
		workers:      refreshWorkers,
		bulkLimit:    bulkRefreshConcurrency,
	}
}

// normalizeToken 标准化 Token：去除空白和 sso= 前缀，统一存储裸 token。
func normalizeToken(token string) string {
	token = strings.TrimSpace(token)
	token = strings.TrimPrefix(token, "sso=")
	return strings.TrimSpace(token)
}

// Load 从持久化网关读入池快照。快照不存在时以空池启动；
// 快照损坏或版本不被支持时返回错误，调用方应中止启动，
// 避免后续保存覆盖无法理解的数据。
func (m *Manager) Load(ctx context.Context) error {
	var raw json.RawMessage
	found, err := m.store.LoadJSON(ctx, SnapshotName, &raw)
	if err != nil {
		return fmt.Errorf("读取 Token 快照失败: %w", err)
	}
	if !found {
		m.log.Info("未找到 Token 快照，以空池启动。")
		return nil
	}

	tokens, err := decodeSnapshot(raw)
	if err != nil {
		return err
	}

	m.mu.Lock()
	m.tokens = tokens
	m.mu.Unlock()

	m.log.Infof("已加载 %d 个 Token", len(tokens))
	return nil
}

// persist 把当前池状态整体快照写入持久化网关。
// 写入失败只记录日志，内存状态继续作为事实来源（可用性优先于持久性）。
// 不接收请求上下文：状态已在内存中生效，写入不应随客户端断开而取消。
func (m *Manager) persist() {
	m.saveMu.Lock()
	defer m.saveMu.Unlock()

	m.mu.Lock()
	doc := encodeSnapshot(m.tokens)
	m.mu.Unlock()

	if err := m.store.SaveJSON(context.Background(), SnapshotName, doc); err != nil {
		m.log.Errorf("保存 Token 快照失败: %v", err)
	}
}

// AddToken 向池中添加单个 token。
// 空 token 与已存在的 token 是记入日志的空操作，返回 false 而非错误。
func (m *Manager) AddToken(token, name string) bool {
	token = normalizeToken(token)

	m.mu.Lock()
	if token == "" {
		m.mu.Unlock()
		m.log.Warn("Token 为空，已忽略")
		return false
	}
	if _, exists := m.tokens[token]; exists {
		m.mu.Unlock()
		m.log.Warnf("Token 已存在: %s", utils.RedactToken(token))
		return false
	}

	if name == "" {
		name = fmt.Sprintf("token-%d", len(m.tokens)+1)
	}
	m.tokens[token] = &TokenInfo{
		Token:            token,
		Name:             name,
		Enabled:          true,
		CreatedAt:        m.now(),
		RemainingQueries: -1,
		AccountType:      grokclient.AccountTypeUnknown,
	}
	m.mu.Unlock()

	m.log.Infof("添加 Token: %s", name)
	m.persist()
	return true
}

// AddTokensBatch 批量添加 token（批次内去重 + 与池内去重 + 单次保存）。
// namePrefix 为空时按池大小自动命名 token-N；批次包含多个条目时
// 按 prefix-序号 编号；单条目批次直接使用 prefix 本身。
func (m *Manager) AddTokensBatch(rawTokens []string, namePrefix string, enabled bool) BatchAddResult {
	var result BatchAddResult
	seenInBatch := make(map[string]struct{})

	m.mu.Lock()
	now := m.now()
	for _, raw := range rawTokens {
		normalized := normalizeToken(raw)
		if normalized == "" {
			result.Empty++
			continue
		}

		if _, dupInBatch := seenInBatch[normalized]; dupInBatch {
			result.Duplicates++
			continue
		}
		if _, exists := m.tokens[normalized]; exists {
			result.Duplicates++
			continue
		}
		seenInBatch[normalized] = struct{}{}

		tokenName := namePrefix
		if tokenName == "" {
			tokenName = fmt.Sprintf("token-%d", len(m.tokens)+1)
		} else if len(rawTokens) > 1 {
			tokenName = fmt.Sprintf("%s-%d", namePrefix, result.Added+1)
		}

		m.tokens[normalized] = &TokenInfo{
			Token:            normalized,
			Name:             tokenName,
			Enabled:          enabled,
			CreatedAt:        now,
			RemainingQueries: -1,
			AccountType:      grokclient.AccountTypeUnknown,
		}
		result.Added++
	}
	m.mu.Unlock()

	if result.Added > 0 {
		m.persist()
		m.log.Infof("批量添加 %d 个 Token（重复 %d，空 %d）", result.Added, result.Duplicates, result.Empty)
	}
	return result
}

// UpdateToken 更新 token 元数据（名称/启用状态）。
// 指针参数区分 "未提供" 和 "设置为零值"；token 不存在时返回 false。
// 重新启用被认证失败禁用的 token 也走这里（enabled=true）。
func (m *Manager) UpdateToken(token string, name *string, enabled *bool) bool {
	token = strings.TrimSpace(token)
	if token == "" {
		return false
	}

	m.mu.Lock()
	info, ok := m.tokens[token]
	if !ok {
		m.mu.Unlock()
		return false
	}
	if name != nil {
		info.Name = *name
	}
	if enabled != nil {
		info.Enabled = *enabled
	}
	m.mu.Unlock()

	m.persist()
	return true
}

// DeleteToken 从池中删除 token，不存在时返回 false。
func (m *Manager) DeleteToken(token string) bool {
	token = strings.TrimSpace(token)
	if token == "" {
		return false
	}

	m.mu.Lock()
	info, ok := m.tokens[token]
	if !ok {
		m.mu.Unlock()
		return false
	}
	delete(m.tokens, token)
	name := info.Name
	m.mu.Unlock()

	m.log.Infof("已删除 Token: %s", name)
	m.persist()
	return true
}

// DeleteTokensBatch 批量删除 token，返回实际删除数量，最多保存一次。
func (m *Manager) DeleteTokensBatch(tokens []string) int {
	deleted := 0

	m.mu.Lock()
	for _, raw := range tokens {
		token := strings.TrimSpace(raw)
		if token == "" {
			continue
		}
		if _, ok := m.tokens[token]; ok {
			delete(m.tokens, token)
			deleted++
		}
	}
	m.mu.Unlock()

	if deleted > 0 {
		m.persist()
		m.log.Infof("批量删除 %d 个 Token", deleted)
	}
	return deleted
}

// ListTokens 列出所有 Token 的副本（按创建时间排序，同刻按 token 字典序）。
func (m *Manager) ListTokens() []TokenInfo {
	m.mu.Lock()
	infos := make([]TokenInfo, 0, len(m.tokens))
	for _, info := range m.tokens {
		infos = append(infos, info.clone())
	}
	m.mu.Unlock()

	sort.Slice(infos, func(i, j int) bool {
		if infos[i].CreatedAt.Equal(infos[j].CreatedAt) {
			return infos[i].Token < infos[j].Token
		}
		return infos[i].CreatedAt.Before(infos[j].CreatedAt)
	})
	return infos
}

// TokenViews 生成管理接口的 token 视图列表（排序同 ListTokens）。
func (m *Manager) TokenViews() []TokenView {
	now := m.now()
	infos := m.ListTokens()
	return lo.Map(infos, func(info TokenInfo, _ int) TokenView {
		return info.toView(now)
	})
}

// GetNextToken 轮询选取一个可用的 token（启用、未冷却、未被排除）。
// exclude 用于重试场景下避开本次请求已失败过的 token。
// 选不出时返回 *UnavailableError，区分 "全部冷却中" 与 "池已耗尽"。
func (m *Manager) GetNextToken(exclude map[string]struct{}) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()

	eligible := make([]*TokenInfo, 0, len(m.tokens))
	for _, info := range m.tokens {
		if _, excluded := exclude[info.Token]; excluded {
			continue
		}
		if info.Selectable(now) {
			eligible = append(eligible, info)
		}
	}

	if len(eligible) == 0 {
		return "", m.diagnoseUnavailableLocked(now, exclude)
	}

	// 按创建时间排序，保证轮询顺序稳定，不依赖 map 的遍历顺序。
	sort.Slice(eligible, func(i, j int) bool {
		if eligible[i].CreatedAt.Equal(eligible[j].CreatedAt) {
			return eligible[i].Token < eligible[j].Token
		}
		return eligible[i].CreatedAt.Before(eligible[j].CreatedAt)
	})

	// 游标对当前可用子集取模：子集缩放时轮询依旧公平推进。
	m.rrIndex = m.rrIndex % len(eligible)
	info := eligible[m.rrIndex]
	m.rrIndex++

	info.LastUsed = now
	info.RequestCount++

	m.log.Infof("轮询选择 Token: %s", info.Name)
	return info.Token, nil
}

// diagnoseUnavailableLocked 在选不出 token 时给出结构化原因。调用方需持有 m.mu。
func (m *Manager) diagnoseUnavailableLocked(now time.Time, exclude map[string]struct{}) error {
	var soonest time.Time
	haveEnabled := false
	for _, info := range m.tokens {
		if !info.Enabled {
			continue
		}
		if _, excluded := exclude[info.Token]; excluded {
			continue
		}
		if !haveEnabled || info.CooldownUntil.Before(soonest) {
			soonest = info.CooldownUntil
		}
		haveEnabled = true
	}

	if haveEnabled {
		wait := soonest.Sub(now)
		if wait < 0 {
			wait = 0
		}
		m.log.Warnf("所有 Token 都在冷却中，最快 %d秒 后解除", int(wait.Seconds()))
		return &UnavailableError{AllCooling: true, RetryAfter: wait, Excluded: len(exclude)}
	}
	if len(exclude) > 0 {
		m.log.Warnf("没有更多可用的 Token（已排除 %d 个）", len(exclude))
		return &UnavailableError{Excluded: len(exclude)}
	}
	m.log.Error("没有可用的 Token")
	return &UnavailableError{}
}

// RecordSuccess 记录一次成功使用：连续失败计数归零，并触发一次
// 非阻塞的后台额度刷新。本调用自身不进行任何网络或存储 I/O。
func (m *Manager) RecordSuccess(token string) {
	m.mu.Lock()
	info, ok := m.tokens[token]
	if !ok {
		m.mu.Unlock()
		return
	}
	info.ConsecutiveFailures = 0
	m.mu.Unlock()

	m.enqueueRefresh(token)
}

// RecordFailure 记录失败并按错误类型施加冷却。
//
//	auth          认证失败，禁用 token（终态，仅显式更新可恢复）
//	429+有额度     冷却 5 小时
//	429+无额度     冷却 10 小时，剩余额度记 0
//	normal        连续失败达到阈值后冷却 1 小时
//
// 冷却只延长不缩短：并发的较弱失败不会压缩已生效的较长冷却。
// 未知 token 为空操作。
func (m *Manager) RecordFailure(token string, kind FailureKind, hasQuota bool) {
	m.mu.Lock()
	info, ok := m.tokens[token]
	if !ok {
		m.mu.Unlock()
		return
	}

	info.FailureCount++
	info.ConsecutiveFailures++
	info.LastFailureReason = string(kind)

	now := m.now()
	switch kind {
	case Failure429:
		if hasQuota {
			m.applyCooldownLocked(info, now.Add(cooldown429WithQuota), "429限流（有额度）")
			m.log.Warnf("Token %s 触发 429，冷却5小时", info.Name)
		} else {
			m.applyCooldownLocked(info, now.Add(cooldown429NoQuota), "429限流（无额度）")
			info.RemainingQueries = 0
			m.log.Warnf("Token %s 触发 429（无额度），冷却10小时", info.Name)
		}
	case FailureAuth:
		info.Enabled = false
		info.CooldownReason = "认证失败"
		m.log.Warnf("Token %s 认证失败，已禁用", info.Name)
	default:
		if info.ConsecutiveFailures >= cooldownFailureThreshold {
			reason := fmt.Sprintf("连续失败%d次", info.ConsecutiveFailures)
			m.applyCooldownLocked(info, now.Add(cooldownNormalError), reason)
			m.log.Warnf("Token %s %s，冷却1小时", info.Name, reason)
		}
	}
	m.mu.Unlock()

	m.persist()
}

// applyCooldownLocked 施加冷却截止时间，只延长不缩短。
// 提议的截止时间早于已生效的冷却时整体忽略（原因一并保留）。
func (m *Manager) applyCooldownLocked(info *TokenInfo, until time.Time, reason string) {
	if until.Before(info.CooldownUntil) {
		return
	}
	info.CooldownUntil = until
	info.CooldownReason = reason
}

// ClearCooldown 清除冷却状态（截止时间、原因、连续失败计数）。
// 不触碰 Enabled：被认证失败禁用的 token 需走 UpdateToken 恢复。
func (m *Manager) ClearCooldown(token string) bool {
	m.mu.Lock()
	info, ok := m.tokens[token]
	if !ok {
		m.mu.Unlock()
		return false
	}
	info.CooldownUntil = time.Time{}
	info.CooldownReason = ""
	info.ConsecutiveFailures = 0
	m.mu.Unlock()

	m.persist()
	return true
}

// Stats 获取池的统计信息。
func (m *Manager) Stats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	infos := lo.Values(m.tokens)

	enabled := lo.CountBy(infos, func(t *TokenInfo) bool { return t.Enabled })
	return Stats{
		TotalTokens:   len(infos),
		EnabledTokens: enabled,
		ExpiredTokens: len(infos) - enabled,
		InCooldown:    lo.CountBy(infos, func(t *TokenInfo) bool { return t.InCooldown(now) }),
		ChatRemaining: lo.SumBy(infos, func(t *TokenInfo) int {
			if t.Enabled && t.RemainingQueries > 0 {
				return t.RemainingQueries
			}
			return 0
		}),
		TotalRequests: lo.SumBy(infos, func(t *TokenInfo) int { return t.RequestCount }),
		TotalFailures: lo.SumBy(infos, func(t *TokenInfo) int { return t.FailureCount }),
	}
}

// TestToken 同步探测单个 token 的可用性与剩余额度。
// 账号类型总是更新；额度仅在探测成功时更新并保存。
// token 不在池中时返回 ErrTokenNotFound。
func (m *Manager) TestToken(ctx context.Context, token string) (TestResult, error) {
	token = strings.TrimSpace(token)

	m.mu.Lock()
	if _, ok := m.tokens[token]; !ok {
		m.mu.Unlock()
		return TestResult{}, ErrTokenNotFound
	}
	m.mu.Unlock()

	// 探测在池锁外进行。
	quota := m.probe.CheckQuota(ctx, token)
	accountType := m.probe.CheckSubscription(ctx, token)

	m.mu.Lock()
	info, ok := m.tokens[token]
	if !ok {
		// 探测期间被并发删除。
		m.mu.Unlock()
		return TestResult{}, ErrTokenNotFound
	}

	info.AccountType = accountType
	persistNeeded := false
	if quota.Success {
		info.RemainingQueries = quota.RemainingQueries
		info.LastCheck = m.now()
		persistNeeded = true
	}

	now := m.now()
	result := TestResult{
		Success:           quota.Success,
		Token:             utils.RedactToken(token),
		Name:              info.Name,
		Enabled:           info.Enabled,
		InCooldown:        info.InCooldown(now),
		CooldownRemaining: info.CooldownRemaining(now),
		RemainingQueries:  quota.RemainingQueries,
		AccountType:       accountType,
		Error:             quota.Error,
	}
	m.mu.Unlock()

	if persistNeeded {
		m.persist()
	}
	return result, nil
}

// TotalTokens 返回池中当前的 token 总数。
func (m *Manager) TotalTokens() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.tokens)
}

// Shutdown 等待后台 worker 退出并写出最终快照。
// 调用方应先取消 Start 时传入的上下文，再调用本方法。
func (m *Manager) Shutdown() {
	m.mu.Lock()
	started := m.started
	m.mu.Unlock()

	if started {
		m.wg.Wait()
	}
	m.persist()
	m.log.Info("Token 管理器已关闭")
}
