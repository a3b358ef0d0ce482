package tokenmanager

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUnixTimeConversion(t *testing.T) {
	// 零值时间与 0 互为映射，区分 "从未发生" 和 epoch。
	assert.Zero(t, timeToUnix(time.Time{}))
	assert.True(t, unixToTime(0).IsZero())
	assert.True(t, unixToTime(-1).IsZero())

	// 亚秒部分经浮点往返保留到微秒级。
	at := time.Date(2024, 5, 1, 12, 0, 0, 250_000_000, time.UTC)
	restored := unixToTime(timeToUnix(at))
	assert.WithinDuration(t, at, restored, time.Microsecond)
}

func TestDecodeSnapshot_EmptyInputs(t *testing.T) {
	tokens, err := decodeSnapshot(nil)
	require.NoError(t, err)
	assert.Empty(t, tokens)

	// 旧格式的空文档是一个裸 JSON 对象。
	tokens, err = decodeSnapshot([]byte(`{}`))
	require.NoError(t, err)
	assert.Empty(t, tokens)
}

func TestTokenView_ComputedFields(t *testing.T) {
	base := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	info := &TokenInfo{
		Token:         "token-aaa",
		Name:          "a",
		Enabled:       true,
		CreatedAt:     base,
		CooldownUntil: base.Add(90 * time.Second),
	}

	view := info.toView(base)
	assert.True(t, view.InCooldown)
	assert.Equal(t, 90, view.CooldownRemaining)

	view = info.toView(base.Add(2 * time.Minute))
	assert.False(t, view.InCooldown)
	assert.Zero(t, view.CooldownRemaining)
}

func TestSelectable(t *testing.T) {
	base := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	info := &TokenInfo{Token: "token-aaa", Enabled: true}

	assert.True(t, info.Selectable(base))

	info.CooldownUntil = base.Add(time.Minute)
	assert.False(t, info.Selectable(base))
	assert.True(t, info.Selectable(base.Add(2*time.Minute)))

	// 额度耗尽只是参考信息，不影响可选性。
	info.CooldownUntil = time.Time{}
	info.RemainingQueries = 0
	assert.True(t, info.Selectable(base))

	info.Enabled = false
	assert.False(t, info.Selectable(base))
}
