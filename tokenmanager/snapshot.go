package tokenmanager

import (
	"encoding/json"
	"fmt"
)

// SnapshotName 池状态在持久化网关中的文档名，沿用旧版部署的名称，
// 让升级后的程序直接读到旧数据。
const SnapshotName = "tokens.json"

// snapshotVersion 当前快照模式版本。
const snapshotVersion = 1

// snapshotDocument 版本化的池快照：{"version": 1, "tokens": {token: {...}}}。
type snapshotDocument struct {
	Version int                    `json:"version"`
	Tokens  map[string]tokenRecord `json:"tokens"`
}

// legacyTokenRecord 旧版（无版本号时期）的 token 记录。
// 早期数据可能缺失后来新增的字段，用指针区分缺失与零值，
// 迁移时填入默认值；已废弃的 remaining_image_queries 字段在解码时自然丢弃。
type legacyTokenRecord struct {
	Token               string   `json:"token"`
	Name                string   `json:"name"`
	Enabled             bool     `json:"enabled"`
	CreatedAt           float64  `json:"created_at"`
	LastUsed            float64  `json:"last_used"`
	RequestCount        int      `json:"request_count"`
	FailureCount        int      `json:"failure_count"`
	CooldownUntil       *float64 `json:"cooldown_until"`
	CooldownReason      *string  `json:"cooldown_reason"`
	ConsecutiveFailures *int     `json:"consecutive_failures"`
	RemainingQueries    *int     `json:"remaining_queries"`
	LastCheck           *float64 `json:"last_check"`
	LastFailureReason   *string  `json:"last_failure_reason"`
	AccountType         *string  `json:"account_type"`
}

// migrate 把旧版记录补全为当前模式的记录。
func (l legacyTokenRecord) migrate() tokenRecord {
	rec := tokenRecord{
		Token:            l.Token,
		Name:             l.Name,
		Enabled:          l.Enabled,
		CreatedAt:        l.CreatedAt,
		LastUsed:         l.LastUsed,
		RequestCount:     l.RequestCount,
		FailureCount:     l.FailureCount,
		RemainingQueries: -1,
		AccountType:      "unknown",
	}
	if l.CooldownUntil != nil {
		rec.CooldownUntil = *l.CooldownUntil
	}
	if l.CooldownReason != nil {
		rec.CooldownReason = *l.CooldownReason
	}
	if l.ConsecutiveFailures != nil {
		rec.ConsecutiveFailures = *l.ConsecutiveFailures
	}
	if l.RemainingQueries != nil {
		rec.RemainingQueries = *l.RemainingQueries
	}
	if l.LastCheck != nil {
		rec.LastCheck = *l.LastCheck
	}
	if l.LastFailureReason != nil {
		rec.LastFailureReason = *l.LastFailureReason
	}
	if l.AccountType != nil && *l.AccountType != "" {
		rec.AccountType = *l.AccountType
	}
	return rec
}

// decodeSnapshot 解析快照文档。
// 带 "version" 键的按版本化模式解析；没有的视为旧版裸 map
// （token → 记录）并执行迁移。版本号高于当前支持范围时报错，
// 避免把新版数据按旧理解改写回去。
func decodeSnapshot(raw json.RawMessage) (map[string]*TokenInfo, error) {
	if len(raw) == 0 {
		return map[string]*TokenInfo{}, nil
	}

	var probe map[string]json.RawMessage
	if err := json.Unmarshal(raw, &probe); err != nil {
		return nil, fmt.Errorf("解析快照文档失败: %w", err)
	}

	tokens := make(map[string]*TokenInfo)

	if versionRaw, ok := probe["version"]; ok {
		var version int
		if err := json.Unmarshal(versionRaw, &version); err != nil {
			return nil, fmt.Errorf("解析快照版本号失败: %w", err)
		}
		if version > snapshotVersion {
			return nil, fmt.Errorf("%w: %d", ErrUnknownSnapshotVer, version)
		}

		var doc snapshotDocument
		if err := json.Unmarshal(raw, &doc); err != nil {
			return nil, fmt.Errorf("解析版本化快照失败: %w", err)
		}
		for tokenStr, rec := range doc.Tokens {
			tokens[tokenStr] = fromRecord(rec)
		}
		return tokens, nil
	}

	// 旧版裸 map：逐条迁移。
	for tokenStr, recRaw := range probe {
		var legacy legacyTokenRecord
		if err := json.Unmarshal(recRaw, &legacy); err != nil {
			return nil, fmt.Errorf("迁移旧版 token 记录失败: %w", err)
		}
		if legacy.Token == "" {
			// 极旧的数据可能没有冗余的 token 字段，用 map 键补上。
			legacy.Token = tokenStr
		}
		tokens[tokenStr] = fromRecord(legacy.migrate())
	}
	return tokens, nil
}

// encodeSnapshot 组装当前池状态的版本化快照文档。
func encodeSnapshot(tokens map[string]*TokenInfo) snapshotDocument {
	records := make(map[string]tokenRecord, len(tokens))
	for tokenStr, info := range tokens {
		records[tokenStr] = info.toRecord()
	}
	return snapshotDocument{
		Version: snapshotVersion,
		Tokens:  records,
	}
}
