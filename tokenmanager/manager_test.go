package tokenmanager

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/XingLingQAQ/grok2api-new/grokclient"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// memStore 内存版持久化网关，记录保存次数供断言。
type memStore struct {
	mu    sync.Mutex
	docs  map[string]string
	saves int
}

func newMemStore() *memStore {
	return &memStore{docs: make(map[string]string)}
}

func (s *memStore) LoadJSON(_ context.Context, name string, out any) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	raw, ok := s.docs[name]
	if !ok {
		return false, nil
	}
	return true, json.Unmarshal([]byte(raw), out)
}

func (s *memStore) SaveJSON(_ context.Context, name string, doc any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	payload, err := json.Marshal(doc)
	if err != nil {
		return err
	}
	s.docs[name] = string(payload)
	s.saves++
	return nil
}

func (s *memStore) Close() error { return nil }

func (s *memStore) saveCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saves
}

func (s *memStore) document(name string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	raw, ok := s.docs[name]
	return raw, ok
}

// fakeProbe 可配置的探测假实现，记录调用并支持阻塞以测试并发行为。
type fakeProbe struct {
	mu           sync.Mutex
	quota        map[string]grokclient.QuotaResult
	subscription map[string]string
	quotaCalls   []string

	entered chan string   // 非 nil 时 CheckQuota 进入即发信号
	gate    chan struct{} // 非 nil 时 CheckQuota 阻塞到通道关闭

	cur int32
	max int32
}

func newFakeProbe() *fakeProbe {
	return &fakeProbe{
		quota:        make(map[string]grokclient.QuotaResult),
		subscription: make(map[string]string),
	}
}

func (f *fakeProbe) CheckQuota(_ context.Context, token string) grokclient.QuotaResult {
	f.mu.Lock()
	f.quotaCalls = append(f.quotaCalls, token)
	result, ok := f.quota[token]
	entered := f.entered
	gate := f.gate
	f.cur++
	if f.cur > f.max {
		f.max = f.cur
	}
	f.mu.Unlock()

	defer func() {
		f.mu.Lock()
		f.cur--
		f.mu.Unlock()
	}()

	if entered != nil {
		entered <- token
	}
	if gate != nil {
		<-gate
	}
	if !ok {
		return grokclient.QuotaResult{Success: false, RemainingQueries: -1, Error: "探测未配置"}
	}
	return result
}

func (f *fakeProbe) CheckSubscription(_ context.Context, token string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if accountType, ok := f.subscription[token]; ok {
		return accountType
	}
	return grokclient.AccountTypeUnknown
}

func (f *fakeProbe) quotaCallCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.quotaCalls)
}

func (f *fakeProbe) maxConcurrent() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return int(f.max)
}

var testBase = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func newTestManager(t *testing.T) (*Manager, *memStore, *fakeProbe) {
	t.Helper()
	store := newMemStore()
	probe := newFakeProbe()
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	m := NewManager(store, probe, logger, 2, 8)
	m.now = func() time.Time { return testBase }
	return m, store, probe
}

func TestAddToken(t *testing.T) {
	m, store, _ := newTestManager(t)

	require.True(t, m.AddToken("  sso=token-aaa  ", ""))

	infos := m.ListTokens()
	require.Len(t, infos, 1)
	assert.Equal(t, "token-aaa", infos[0].Token) // sso= 前缀与空白已剥离
	assert.Equal(t, "token-1", infos[0].Name)
	assert.True(t, infos[0].Enabled)
	assert.Equal(t, -1, infos[0].RemainingQueries)
	assert.Equal(t, grokclient.AccountTypeUnknown, infos[0].AccountType)
	assert.Equal(t, testBase, infos[0].CreatedAt)

	// 重复与空 token 不生效、不保存。
	saves := store.saveCount()
	assert.False(t, m.AddToken("token-aaa", "again"))
	assert.False(t, m.AddToken("sso=token-aaa", "prefixed-dup"))
	assert.False(t, m.AddToken("   ", ""))
	assert.Equal(t, saves, store.saveCount())
}

func TestAddTokensBatch_AutoNames(t *testing.T) {
	m, store, _ := newTestManager(t)
	require.True(t, m.AddToken("token-existing", "seed"))

	result := m.AddTokensBatch([]string{"token-aaa", "token-bbb"}, "", true)
	assert.Equal(t, BatchAddResult{Added: 2}, result)

	names := map[string]string{}
	for _, info := range m.ListTokens() {
		names[info.Token] = info.Name
	}
	// 无前缀时按池大小顺延命名。
	assert.Equal(t, "token-2", names["token-aaa"])
	assert.Equal(t, "token-3", names["token-bbb"])
	assert.GreaterOrEqual(t, store.saveCount(), 2)
}

func TestAddTokensBatch_PrefixNames(t *testing.T) {
	m, _, _ := newTestManager(t)

	result := m.AddTokensBatch([]string{"token-aaa", "token-bbb", "token-aaa", "  "}, "工作号", false)
	assert.Equal(t, BatchAddResult{Added: 2, Duplicates: 1, Empty: 1}, result)

	names := map[string]string{}
	for _, info := range m.ListTokens() {
		names[info.Token] = info.Name
		assert.False(t, info.Enabled)
	}
	assert.Equal(t, "工作号-1", names["token-aaa"])
	assert.Equal(t, "工作号-2", names["token-bbb"])
}

func TestAddTokensBatch_SingleEntryUsesBarePrefix(t *testing.T) {
	m, _, _ := newTestManager(t)

	result := m.AddTokensBatch([]string{"token-aaa"}, "独号", true)
	assert.Equal(t, BatchAddResult{Added: 1}, result)
	assert.Equal(t, "独号", m.ListTokens()[0].Name)
}

func TestAddTokensBatch_NothingAddedSkipsSave(t *testing.T) {
	m, store, _ := newTestManager(t)
	require.True(t, m.AddToken("token-aaa", ""))

	saves := store.saveCount()
	result := m.AddTokensBatch([]string{"token-aaa", ""}, "", true)
	assert.Equal(t, BatchAddResult{Duplicates: 1, Empty: 1}, result)
	assert.Equal(t, saves, store.saveCount())
}

func TestGetNextToken_RoundRobin(t *testing.T) {
	m, _, _ := newTestManager(t)
	require.True(t, m.AddToken("token-aaa", "a"))
	require.True(t, m.AddToken("token-bbb", "b"))

	var picked []string
	for i := 0; i < 4; i++ {
		token, err := m.GetNextToken(nil)
		require.NoError(t, err)
		picked = append(picked, token)
	}
	// 创建时间相同则按 token 字典序轮询。
	assert.Equal(t, []string{"token-aaa", "token-bbb", "token-aaa", "token-bbb"}, picked)

	for _, info := range m.ListTokens() {
		assert.Equal(t, 2, info.RequestCount)
		assert.Equal(t, testBase, info.LastUsed)
	}
}

func TestGetNextToken_SkipsDisabled(t *testing.T) {
	m, _, _ := newTestManager(t)
	require.True(t, m.AddToken("token-aaa", "a"))
	require.True(t, m.AddToken("token-bbb", "b"))

	m.RecordFailure("token-aaa", FailureAuth, false)

	for i := 0; i < 2; i++ {
		token, err := m.GetNextToken(nil)
		require.NoError(t, err)
		assert.Equal(t, "token-bbb", token)
	}
}

func TestGetNextToken_Exclude(t *testing.T) {
	m, _, _ := newTestManager(t)
	require.True(t, m.AddToken("token-aaa", "a"))
	require.True(t, m.AddToken("token-bbb", "b"))

	token, err := m.GetNextToken(map[string]struct{}{"token-aaa": {}})
	require.NoError(t, err)
	assert.Equal(t, "token-bbb", token)

	_, err = m.GetNextToken(map[string]struct{}{"token-aaa": {}, "token-bbb": {}})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNoTokenAvailable)

	var unavailable *UnavailableError
	require.ErrorAs(t, err, &unavailable)
	assert.False(t, unavailable.AllCooling)
	assert.Equal(t, 2, unavailable.Excluded)
}

func TestGetNextToken_AllCooling(t *testing.T) {
	m, _, _ := newTestManager(t)
	require.True(t, m.AddToken("token-aaa", "a"))
	require.True(t, m.AddToken("token-bbb", "b"))

	m.RecordFailure("token-aaa", Failure429, true)  // 5小时
	m.RecordFailure("token-bbb", Failure429, false) // 10小时

	_, err := m.GetNextToken(nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNoTokenAvailable)

	var unavailable *UnavailableError
	require.ErrorAs(t, err, &unavailable)
	assert.True(t, unavailable.AllCooling)
	// 最早解除的是 5 小时那一个。
	assert.Equal(t, cooldown429WithQuota, unavailable.RetryAfter)
}

func TestGetNextToken_EmptyPool(t *testing.T) {
	m, _, _ := newTestManager(t)

	_, err := m.GetNextToken(nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNoTokenAvailable)

	var unavailable *UnavailableError
	require.ErrorAs(t, err, &unavailable)
	assert.False(t, unavailable.AllCooling)
	assert.Zero(t, unavailable.Excluded)
}

func TestGetNextToken_CooldownExpiryRestores(t *testing.T) {
	m, _, _ := newTestManager(t)
	require.True(t, m.AddToken("token-aaa", "a"))
	m.RecordFailure("token-aaa", Failure429, true)

	_, err := m.GetNextToken(nil)
	require.Error(t, err)

	// 冷却期满后无需任何写操作即恢复可用。
	m.now = func() time.Time { return testBase.Add(cooldown429WithQuota + time.Second) }
	token, err := m.GetNextToken(nil)
	require.NoError(t, err)
	assert.Equal(t, "token-aaa", token)
}

func TestRecordFailure_429Tiers(t *testing.T) {
	m, _, _ := newTestManager(t)
	require.True(t, m.AddToken("token-aaa", "a"))
	require.True(t, m.AddToken("token-bbb", "b"))

	m.RecordFailure("token-aaa", Failure429, true)
	m.RecordFailure("token-bbb", Failure429, false)

	infos := map[string]TokenInfo{}
	for _, info := range m.ListTokens() {
		infos[info.Token] = info
	}

	withQuota := infos["token-aaa"]
	assert.Equal(t, testBase.Add(cooldown429WithQuota), withQuota.CooldownUntil)
	assert.Equal(t, "429限流（有额度）", withQuota.CooldownReason)
	assert.Equal(t, -1, withQuota.RemainingQueries)
	assert.True(t, withQuota.Enabled)

	noQuota := infos["token-bbb"]
	assert.Equal(t, testBase.Add(cooldown429NoQuota), noQuota.CooldownUntil)
	assert.Equal(t, "429限流（无额度）", noQuota.CooldownReason)
	assert.Equal(t, 0, noQuota.RemainingQueries)
	assert.True(t, noQuota.Enabled)
}

func TestRecordFailure_AuthDisables(t *testing.T) {
	m, _, _ := newTestManager(t)
	require.True(t, m.AddToken("token-aaa", "a"))

	m.RecordFailure("token-aaa", FailureAuth, false)

	info := m.ListTokens()[0]
	assert.False(t, info.Enabled)
	assert.Equal(t, "认证失败", info.CooldownReason)
	assert.True(t, info.CooldownUntil.IsZero())
	assert.Equal(t, 1, info.FailureCount)
	assert.Equal(t, string(FailureAuth), info.LastFailureReason)
}

func TestRecordFailure_NormalThreshold(t *testing.T) {
	m, _, _ := newTestManager(t)
	require.True(t, m.AddToken("token-aaa", "a"))

	// 阈值之前普通错误不触发冷却。
	for i := 0; i < cooldownFailureThreshold-1; i++ {
		m.RecordFailure("token-aaa", FailureNormal, false)
	}
	info := m.ListTokens()[0]
	assert.True(t, info.CooldownUntil.IsZero())
	assert.Equal(t, cooldownFailureThreshold-1, info.ConsecutiveFailures)

	m.RecordFailure("token-aaa", FailureNormal, false)
	info = m.ListTokens()[0]
	assert.Equal(t, testBase.Add(cooldownNormalError), info.CooldownUntil)
	assert.Equal(t, "连续失败5次", info.CooldownReason)
	assert.Equal(t, cooldownFailureThreshold, info.FailureCount)
}

func TestRecordFailure_CooldownNeverShortens(t *testing.T) {
	m, _, _ := newTestManager(t)
	require.True(t, m.AddToken("token-aaa", "a"))

	// 先进入 10 小时冷却，再来一个 5 小时级别的失败：截止时间与原因都不变。
	m.RecordFailure("token-aaa", Failure429, false)
	m.RecordFailure("token-aaa", Failure429, true)

	info := m.ListTokens()[0]
	assert.Equal(t, testBase.Add(cooldown429NoQuota), info.CooldownUntil)
	assert.Equal(t, "429限流（无额度）", info.CooldownReason)
}

func TestRecordFailure_CooldownEscalates(t *testing.T) {
	m, _, _ := newTestManager(t)
	require.True(t, m.AddToken("token-aaa", "a"))

	m.RecordFailure("token-aaa", Failure429, true)
	m.RecordFailure("token-aaa", Failure429, false)

	info := m.ListTokens()[0]
	assert.Equal(t, testBase.Add(cooldown429NoQuota), info.CooldownUntil)
	assert.Equal(t, "429限流（无额度）", info.CooldownReason)
}

func TestRecordFailure_UnknownTokenNoop(t *testing.T) {
	m, store, _ := newTestManager(t)
	saves := store.saveCount()
	m.RecordFailure("token-missing", Failure429, true)
	assert.Equal(t, saves, store.saveCount())
}

func TestRecordSuccess_ResetsConsecutiveFailures(t *testing.T) {
	m, _, _ := newTestManager(t)
	require.True(t, m.AddToken("token-aaa", "a"))

	m.RecordFailure("token-aaa", FailureNormal, false)
	m.RecordFailure("token-aaa", FailureNormal, false)
	m.RecordSuccess("token-aaa")

	info := m.ListTokens()[0]
	assert.Zero(t, info.ConsecutiveFailures)
	// 历史失败总数保留。
	assert.Equal(t, 2, info.FailureCount)
}

func TestClearCooldown(t *testing.T) {
	m, _, _ := newTestManager(t)
	require.True(t, m.AddToken("token-aaa", "a"))

	m.RecordFailure("token-aaa", Failure429, false)
	require.True(t, m.ClearCooldown("token-aaa"))

	info := m.ListTokens()[0]
	assert.True(t, info.CooldownUntil.IsZero())
	assert.Empty(t, info.CooldownReason)
	assert.Zero(t, info.ConsecutiveFailures)

	assert.False(t, m.ClearCooldown("token-missing"))
}

func TestClearCooldown_KeepsDisabled(t *testing.T) {
	m, _, _ := newTestManager(t)
	require.True(t, m.AddToken("token-aaa", "a"))

	m.RecordFailure("token-aaa", FailureAuth, false)
	require.True(t, m.ClearCooldown("token-aaa"))

	// 认证失败导致的禁用必须显式更新才能恢复。
	info := m.ListTokens()[0]
	assert.False(t, info.Enabled)
}

func TestUpdateToken(t *testing.T) {
	m, _, _ := newTestManager(t)
	require.True(t, m.AddToken("token-aaa", "a"))

	newName := "改名"
	require.True(t, m.UpdateToken("token-aaa", &newName, nil))
	info := m.ListTokens()[0]
	assert.Equal(t, "改名", info.Name)
	assert.True(t, info.Enabled)

	disabled := false
	require.True(t, m.UpdateToken("token-aaa", nil, &disabled))
	info = m.ListTokens()[0]
	assert.Equal(t, "改名", info.Name)
	assert.False(t, info.Enabled)

	enabled := true
	require.True(t, m.UpdateToken("token-aaa", nil, &enabled))
	assert.True(t, m.ListTokens()[0].Enabled)

	assert.False(t, m.UpdateToken("token-missing", &newName, nil))
}

func TestDeleteToken(t *testing.T) {
	m, _, _ := newTestManager(t)
	require.True(t, m.AddToken("token-aaa", "a"))

	require.True(t, m.DeleteToken(" token-aaa "))
	assert.Empty(t, m.ListTokens())
	assert.False(t, m.DeleteToken("token-aaa"))
}

func TestDeleteTokensBatch(t *testing.T) {
	m, store, _ := newTestManager(t)
	require.True(t, m.AddToken("token-aaa", "a"))
	require.True(t, m.AddToken("token-bbb", "b"))

	deleted := m.DeleteTokensBatch([]string{"token-aaa", "token-missing", " token-bbb ", ""})
	assert.Equal(t, 2, deleted)
	assert.Empty(t, m.ListTokens())

	// 没有实际删除时不保存。
	saves := store.saveCount()
	assert.Zero(t, m.DeleteTokensBatch([]string{"token-aaa"}))
	assert.Equal(t, saves, store.saveCount())
}

func TestStats(t *testing.T) {
	m, _, _ := newTestManager(t)
	require.True(t, m.AddToken("token-aaa", "a"))
	require.True(t, m.AddToken("token-bbb", "b"))
	require.True(t, m.AddToken("token-ccc", "c"))

	// a：正常使用过，有额度；b：冷却中；c：已禁用。
	_, err := m.GetNextToken(nil)
	require.NoError(t, err)
	m.mu.Lock()
	m.tokens["token-aaa"].RemainingQueries = 30
	m.tokens["token-bbb"].RemainingQueries = 10
	m.mu.Unlock()
	m.RecordFailure("token-bbb", Failure429, true)
	m.RecordFailure("token-ccc", FailureAuth, false)

	stats := m.Stats()
	assert.Equal(t, 3, stats.TotalTokens)
	assert.Equal(t, 2, stats.EnabledTokens)
	assert.Equal(t, 1, stats.ExpiredTokens)
	assert.Equal(t, 1, stats.InCooldown)
	// 冷却中的 b 仍计入额度（启用即累加），禁用的 c 不计。
	assert.Equal(t, 40, stats.ChatRemaining)
	assert.Equal(t, 1, stats.TotalRequests)
	assert.Equal(t, 2, stats.TotalFailures)
}

func TestTestToken_Success(t *testing.T) {
	m, store, probe := newTestManager(t)
	require.True(t, m.AddToken("token-aaa", "a"))
	probe.quota["token-aaa"] = grokclient.QuotaResult{Success: true, RemainingQueries: 42}
	probe.subscription["token-aaa"] = grokclient.AccountTypeSuper

	saves := store.saveCount()
	result, err := m.TestToken(context.Background(), "token-aaa")
	require.NoError(t, err)

	assert.True(t, result.Success)
	assert.Equal(t, "token-aaa...", result.Token) // 已脱敏
	assert.Equal(t, "a", result.Name)
	assert.Equal(t, 42, result.RemainingQueries)
	assert.Equal(t, grokclient.AccountTypeSuper, result.AccountType)
	assert.Empty(t, result.Error)

	info := m.ListTokens()[0]
	assert.Equal(t, 42, info.RemainingQueries)
	assert.Equal(t, testBase, info.LastCheck)
	assert.Equal(t, grokclient.AccountTypeSuper, info.AccountType)
	assert.Greater(t, store.saveCount(), saves)
}

func TestTestToken_FailureUpdatesAccountTypeOnly(t *testing.T) {
	m, store, probe := newTestManager(t)
	require.True(t, m.AddToken("token-aaa", "a"))
	probe.quota["token-aaa"] = grokclient.QuotaResult{Success: false, RemainingQueries: -1, Error: "请求被限流"}
	probe.subscription["token-aaa"] = grokclient.AccountTypeFree

	saves := store.saveCount()
	result, err := m.TestToken(context.Background(), "token-aaa")
	require.NoError(t, err)

	assert.False(t, result.Success)
	assert.Equal(t, -1, result.RemainingQueries)
	assert.Equal(t, "请求被限流", result.Error)

	info := m.ListTokens()[0]
	assert.Equal(t, -1, info.RemainingQueries)
	assert.True(t, info.LastCheck.IsZero())
	assert.Equal(t, grokclient.AccountTypeFree, info.AccountType)
	// 探测失败不落盘。
	assert.Equal(t, saves, store.saveCount())
}

func TestTestToken_Unknown(t *testing.T) {
	m, _, _ := newTestManager(t)
	_, err := m.TestToken(context.Background(), "token-missing")
	assert.ErrorIs(t, err, ErrTokenNotFound)
}

func TestPersistAndLoad_RoundTrip(t *testing.T) {
	m, store, _ := newTestManager(t)
	require.True(t, m.AddToken("token-aaa", "a"))
	require.True(t, m.AddToken("token-bbb", "b"))
	m.RecordFailure("token-aaa", Failure429, false)
	_, err := m.GetNextToken(nil)
	require.NoError(t, err)

	restored := NewManager(store, newFakeProbe(), m.log, 1, 4)
	require.NoError(t, restored.Load(context.Background()))

	want := m.ListTokens()
	got := restored.ListTokens()
	require.Len(t, got, len(want))
	for i := range want {
		assert.Equal(t, want[i].Token, got[i].Token)
		assert.Equal(t, want[i].Name, got[i].Name)
		assert.Equal(t, want[i].Enabled, got[i].Enabled)
		assert.Equal(t, want[i].RequestCount, got[i].RequestCount)
		assert.Equal(t, want[i].FailureCount, got[i].FailureCount)
		assert.Equal(t, want[i].CooldownReason, got[i].CooldownReason)
		assert.Equal(t, want[i].RemainingQueries, got[i].RemainingQueries)
		assert.Equal(t, want[i].AccountType, got[i].AccountType)
		// 时间经由 unix 秒浮点数往返，允许微秒级误差。
		assert.WithinDuration(t, want[i].CreatedAt, got[i].CreatedAt, time.Microsecond)
		assert.WithinDuration(t, want[i].CooldownUntil, got[i].CooldownUntil, time.Microsecond)
	}
}

func TestLoad_MissingSnapshotStartsEmpty(t *testing.T) {
	m, _, _ := newTestManager(t)
	require.NoError(t, m.Load(context.Background()))
	assert.Empty(t, m.ListTokens())
}

func TestLoad_UnknownVersionFails(t *testing.T) {
	m, store, _ := newTestManager(t)
	require.NoError(t, store.SaveJSON(context.Background(), SnapshotName,
		json.RawMessage(`{"version": 2, "tokens": {}}`)))

	err := m.Load(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrUnknownSnapshotVer))
}

func TestLoad_LegacyBareMap(t *testing.T) {
	m, store, _ := newTestManager(t)
	legacy := `{
		"token-legacy": {
			"token": "token-legacy",
			"name": "老号",
			"enabled": true,
			"created_at": 1714000000.5,
			"last_used": 0,
			"request_count": 7,
			"failure_count": 2,
			"cooldown_until": 0,
			"cooldown_reason": "",
			"consecutive_failures": 0,
			"remaining_image_queries": 3
		},
		"token-bare": {
			"name": "无token字段",
			"enabled": false,
			"created_at": 1714000001.0
		}
	}`
	require.NoError(t, store.SaveJSON(context.Background(), SnapshotName, json.RawMessage(legacy)))
	require.NoError(t, m.Load(context.Background()))

	infos := map[string]TokenInfo{}
	for _, info := range m.ListTokens() {
		infos[info.Token] = info
	}
	require.Len(t, infos, 2)

	migrated := infos["token-legacy"]
	assert.Equal(t, "老号", migrated.Name)
	assert.Equal(t, 7, migrated.RequestCount)
	// 旧快照缺失的字段补默认值。
	assert.Equal(t, -1, migrated.RemainingQueries)
	assert.Equal(t, grokclient.AccountTypeUnknown, migrated.AccountType)
	assert.True(t, migrated.CooldownUntil.IsZero())
	assert.True(t, migrated.LastCheck.IsZero())

	// token 字段缺失时由 map 键回填。
	bare := infos["token-bare"]
	assert.Equal(t, "token-bare", bare.Token)
	assert.False(t, bare.Enabled)
}

func TestPersistedDocumentIsVersioned(t *testing.T) {
	m, store, _ := newTestManager(t)
	require.True(t, m.AddToken("token-aaa", "a"))

	raw, ok := store.document(SnapshotName)
	require.True(t, ok)

	var doc struct {
		Version int                        `json:"version"`
		Tokens  map[string]json.RawMessage `json:"tokens"`
	}
	require.NoError(t, json.Unmarshal([]byte(raw), &doc))
	assert.Equal(t, 1, doc.Version)
	assert.Contains(t, doc.Tokens, "token-aaa")
}
