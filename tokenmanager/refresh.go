package tokenmanager

import (
	"context"
	"sync"

	"github.com/XingLingQAQ/grok2api-new/grokclient"
	"github.com/XingLingQAQ/grok2api-new/utils"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

// RefreshResult 批量刷新中单个 token 的结果，token 字段已脱敏。
// Remaining 仅在实际探测过时出现（跳过的条目没有该字段）。
type RefreshResult struct {
	Token       string `json:"token"`
	Name        string `json:"name"`
	Status      string `json:"status"` // 成功 / 失败 / 跳过
	Reason      string `json:"reason,omitempty"`
	Remaining   *int   `json:"remaining,omitempty"`
	AccountType string `json:"account_type,omitempty"`
	Error       string `json:"error,omitempty"`
}

// RefreshSummary 一次批量刷新的完整结果。
type RefreshSummary struct {
	Success   bool            `json:"success"`
	Total     int             `json:"total"`
	Completed int             `json:"completed"`
	Results   []RefreshResult `json:"results"`
}

// RefreshProgress 正在进行（或上一次）批量刷新的进度快照。
type RefreshProgress struct {
	InProgress bool            `json:"in_progress"`
	RunID      string          `json:"run_id,omitempty"`
	Total      int             `json:"total"`
	Completed  int             `json:"completed"`
	Results    []RefreshResult `json:"results"` // 最近 10 条
}

// progressResultWindow 进度接口最多回显的结果条数。
const progressResultWindow = 10

// Start 启动后台额度刷新 worker。ctx 取消后所有 worker 退出；
// 重复调用为空操作。必须在接受流量前调用，否则成功回报只会被丢弃。
func (m *Manager) Start(ctx context.Context) {
	m.mu.Lock()
	if m.started {
		m.mu.Unlock()
		return
	}
	m.started = true
	m.runCtx = ctx
	m.mu.Unlock()

	for i := 0; i < m.workers; i++ {
		m.wg.Add(1)
		go m.refreshWorker(ctx)
	}
	m.log.Infof("后台额度刷新已启动（%d 个 worker，队列容量 %d）", m.workers, cap(m.refreshQueue))
}

func (m *Manager) refreshWorker(ctx context.Context) {
	defer m.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case token := <-m.refreshQueue:
			m.refreshTokenQuota(ctx, token)
		}
	}
}

// enqueueRefresh 请求一次机会性的后台额度刷新，绝不阻塞调用方。
// 同一 token 已在探测中、队列已满或 worker 未启动时直接丢弃，
// 下一次成功使用会再次触发。
func (m *Manager) enqueueRefresh(token string) {
	m.mu.Lock()
	if !m.started {
		m.mu.Unlock()
		return
	}
	if _, busy := m.inFlight[token]; busy {
		m.mu.Unlock()
		return
	}
	m.inFlight[token] = struct{}{}
	m.mu.Unlock()

	select {
	case m.refreshQueue <- token:
	default:
		m.mu.Lock()
		delete(m.inFlight, token)
		m.mu.Unlock()
		m.log.Debugf("额度刷新队列已满，丢弃 Token %s 的刷新请求", utils.RedactToken(token))
	}
}

// refreshTokenQuota 后台刷新单个 token 的剩余额度。
// 失败只记 debug 日志；额度值没有变化时不落盘。
func (m *Manager) refreshTokenQuota(ctx context.Context, token string) {
	defer func() {
		m.mu.Lock()
		delete(m.inFlight, token)
		m.mu.Unlock()
	}()

	m.mu.Lock()
	info, ok := m.tokens[token]
	if !ok || !info.Enabled {
		m.mu.Unlock()
		return
	}
	m.mu.Unlock()

	result := m.probe.CheckQuota(ctx, token)
	if !result.Success {
		m.log.Debugf("后台额度检查失败: %s", result.Error)
		return
	}

	changed := false
	name := ""
	oldRemaining := 0
	m.mu.Lock()
	if info, ok := m.tokens[token]; ok {
		name = info.Name
		oldRemaining = info.RemainingQueries
		changed = info.RemainingQueries != result.RemainingQueries
		info.RemainingQueries = result.RemainingQueries
		info.LastCheck = m.now()
	}
	m.mu.Unlock()

	if changed {
		m.log.Infof("后台额度更新: %s %d -> %d", name, oldRemaining, result.RemainingQueries)
		m.persist()
	}
}

// RefreshAll 同步刷新池中所有 token 的额度与账号类型。
// 同一时间只允许一次批量刷新（重入返回 ErrRefreshInProgress）。
// 已禁用的 token 跳过网络探测但计入完成度；启用的 token 按
// bulkLimit 限制并发，每个 token 的额度与订阅两个探测并发执行。
// 全部完成后统一保存一次。
func (m *Manager) RefreshAll() (RefreshSummary, error) {
	m.mu.Lock()
	if m.refreshInProgress {
		m.mu.Unlock()
		return RefreshSummary{}, ErrRefreshInProgress
	}
	m.refreshInProgress = true
	m.refreshRunID = uuid.NewString()
	m.refreshTotal = len(m.tokens)
	m.refreshCompleted = 0
	m.refreshResults = make([]RefreshResult, 0, len(m.tokens))

	var pending []string
	for token, info := range m.tokens {
		if !info.Enabled {
			m.refreshCompleted++
			m.refreshResults = append(m.refreshResults, RefreshResult{
				Token:  utils.RedactToken(token),
				Name:   info.Name,
				Status: "跳过",
				Reason: "已禁用",
			})
			continue
		}
		pending = append(pending, token)
	}

	ctx := m.runCtx
	if ctx == nil {
		ctx = context.Background()
	}
	total := m.refreshTotal
	m.mu.Unlock()

	defer func() {
		m.mu.Lock()
		m.refreshInProgress = false
		m.mu.Unlock()
	}()

	m.log.Infof("开始批量刷新 %d 个 Token 的额度", total)

	g := new(errgroup.Group)
	g.SetLimit(m.bulkLimit)
	for _, token := range pending {
		g.Go(func() error {
			m.bulkProbeOne(ctx, token)
			return nil
		})
	}
	_ = g.Wait()

	m.persist()

	m.mu.Lock()
	summary := RefreshSummary{
		Success:   true,
		Total:     m.refreshTotal,
		Completed: m.refreshCompleted,
		Results:   append([]RefreshResult(nil), m.refreshResults...),
	}
	m.mu.Unlock()

	m.log.Infof("批量刷新完成: %d/%d", summary.Completed, summary.Total)
	return summary, nil
}

// bulkProbeOne 批量刷新中探测单个 token：额度与订阅并发，
// 结果在池锁内落账。账号类型总是更新，额度仅在成功时更新。
func (m *Manager) bulkProbeOne(ctx context.Context, token string) {
	var (
		quota       grokclient.QuotaResult
		accountType string
		wg          sync.WaitGroup
	)
	wg.Add(2)
	go func() {
		defer wg.Done()
		quota = m.probe.CheckQuota(ctx, token)
	}()
	go func() {
		defer wg.Done()
		accountType = m.probe.CheckSubscription(ctx, token)
	}()
	wg.Wait()

	m.mu.Lock()
	defer m.mu.Unlock()

	m.refreshCompleted++

	info, ok := m.tokens[token]
	if !ok {
		// 刷新期间被并发删除。
		m.refreshResults = append(m.refreshResults, RefreshResult{
			Token:  utils.RedactToken(token),
			Status: "失败",
			Error:  "Token 已被删除",
		})
		return
	}

	info.AccountType = accountType
	if quota.Success {
		info.RemainingQueries = quota.RemainingQueries
		info.LastCheck = m.now()
	}

	status := "失败"
	if quota.Success {
		status = "成功"
	}
	remaining := quota.RemainingQueries
	m.refreshResults = append(m.refreshResults, RefreshResult{
		Token:       utils.RedactToken(token),
		Name:        info.Name,
		Status:      status,
		Remaining:   &remaining,
		AccountType: accountType,
		Error:       quota.Error,
	})
}

// Progress 返回批量刷新的当前进度（结果只保留最近 10 条）。
func (m *Manager) Progress() RefreshProgress {
	m.mu.Lock()
	defer m.mu.Unlock()

	results := m.refreshResults
	if len(results) > progressResultWindow {
		results = results[len(results)-progressResultWindow:]
	}
	return RefreshProgress{
		InProgress: m.refreshInProgress,
		RunID:      m.refreshRunID,
		Total:      m.refreshTotal,
		Completed:  m.refreshCompleted,
		Results:    append([]RefreshResult(nil), results...),
	}
}
