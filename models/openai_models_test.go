package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLookupModel_StandardID(t *testing.T) {
	spec, ok := LookupModel("grok-4.2")

	require.True(t, ok)
	assert.Equal(t, "grok-420", spec.GrokModel)
	assert.Equal(t, "MODEL_MODE_GROK_420", spec.ModelMode)
}

func TestLookupModel_AliasResolvesToCanonicalEntry(t *testing.T) {
	spec, ok := LookupModel("grok-420")

	require.True(t, ok)
	assert.Equal(t, "grok-4.2", spec.ID)
}

func TestLookupModel_DanglingAliasMisses(t *testing.T) {
	// 别名表中的 grok-4-mini 没有对应的注册条目，查找应落空而不是崩溃。
	_, ok := LookupModel("grok-4-mini-thinking-tahoe")

	assert.False(t, ok)
}

func TestLookupModel_Unknown(t *testing.T) {
	_, ok := LookupModel("gpt-99")

	assert.False(t, ok)
}

func TestModelRegistry_IDsAreUnique(t *testing.T) {
	seen := make(map[string]bool, len(ModelRegistry))
	for _, spec := range ModelRegistry {
		assert.Falsef(t, seen[spec.ID], "模型 ID %s 重复注册", spec.ID)
		seen[spec.ID] = true
	}
}
