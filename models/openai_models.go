// models/openai_models.go
package models

// --- OpenAI 兼容的 /v1/models 响应模型 ---

// ModelPermission 模型权限对象，遵循 OpenAI 规范（内容固定，仅为兼容客户端）。
type ModelPermission struct {
	ID                 string  `json:"id"`
	Object             string  `json:"object"`
	Created            int64   `json:"created"`
	AllowCreateEngine  bool    `json:"allow_create_engine"`
	AllowSampling      bool    `json:"allow_sampling"`
	AllowLogprobs      bool    `json:"allow_logprobs"`
	AllowSearchIndices bool    `json:"allow_search_indices"`
	AllowView          bool    `json:"allow_view"`
	AllowFineTuning    bool    `json:"allow_fine_tuning"`
	Organization       string  `json:"organization"`
	Group              *string `json:"group,omitempty"`
	IsBlocking         bool    `json:"is_blocking"`
}

// ModelData /v1/models 列表中的单个模型对象。
type ModelData struct {
	ID          string            `json:"id"`
	Object      string            `json:"object"` // 固定为 "model"
	Created     int64             `json:"created"`
	OwnedBy     string            `json:"owned_by"` // 固定为 "xai"
	Permissions []ModelPermission `json:"permission"`
	Root        string            `json:"root"`
	Parent      *string           `json:"parent,omitempty"`
}

// ListModelsResponse /v1/models 的顶层响应结构。
type ListModelsResponse struct {
	Object string      `json:"object"` // 固定为 "list"
	Data   []ModelData `json:"data"`
}

// --- Grok 模型映射表 ---

// GrokModelSpec 描述公开模型 ID 到 Grok 上游参数的映射。
// 上游对话接口按 (GrokModel, ModelMode) 二元组区分实际模型。
type GrokModelSpec struct {
	ID          string // 对外公开的模型 ID
	GrokModel   string // 上游 modelName 参数
	ModelMode   string // 上游 modelMode 参数
	DisplayName string // 展示名称
	Description string // 模型描述
}

// ModelRegistry 公开模型表，按固定顺序排列（/v1/models 的返回顺序）。
var ModelRegistry = []GrokModelSpec{
	{ID: "grok-3", GrokModel: "grok-3", ModelMode: "MODEL_MODE_GROK_3", DisplayName: "Grok 3", Description: "Standard Grok 3 model"},
	{ID: "grok-3-mini", GrokModel: "grok-3", ModelMode: "MODEL_MODE_GROK_3_MINI_THINKING", DisplayName: "Grok 3 Mini", Description: "Grok 3 with mini thinking"},
	{ID: "grok-4.1-thinking", GrokModel: "grok-4-1-thinking-1129", ModelMode: "MODEL_MODE_GROK_4_1_THINKING", DisplayName: "Grok", Description: "Grok"},
	{ID: "grok-4.2-fast", GrokModel: "grok-420", ModelMode: "MODEL_MODE_FAST", DisplayName: "Grok", Description: "Grok"},
	{ID: "grok-4.2", GrokModel: "grok-420", ModelMode: "MODEL_MODE_GROK_420", DisplayName: "Grok 4.2", Description: "Standard Grok 4.2 model"},
	{ID: "grok-expert", GrokModel: "grok-420", ModelMode: "MODEL_MODE_EXPERT", DisplayName: "Grok 4.2 Thinking", Description: "Grok 4.2 Thinking"},
}

// ModelAliases 别名表：兼容客户端直接传上游内部模型名。
var ModelAliases = map[string]string{
	"grok-420":                   "grok-4.2",
	"grok-4-1-thinking-1129":     "grok-4.1-thinking",
	"grok-4-mini-thinking-tahoe": "grok-4-mini",
}

// registryIndex 按 ID 建立的查找索引，init 时从 ModelRegistry 构建。
var registryIndex = func() map[string]GrokModelSpec {
	idx := make(map[string]GrokModelSpec, len(ModelRegistry))
	for _, spec := range ModelRegistry {
		idx[spec.ID] = spec
	}
	return idx
}()

// LookupModel 按公开 ID 或别名查找模型映射。
// 返回映射项和是否命中（别名命中时返回别名指向的标准项）。
func LookupModel(modelID string) (GrokModelSpec, bool) {
	if spec, ok := registryIndex[modelID]; ok {
		return spec, true
	}
	if alias, ok := ModelAliases[modelID]; ok {
		if spec, ok := registryIndex[alias]; ok {
			return spec, true
		}
	}
	return GrokModelSpec{}, false
}
