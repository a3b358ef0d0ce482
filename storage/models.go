package storage

import "time"

// JSONDocument 定义了存储在数据库中的 JSON 文档行。
// 每个逻辑文档（如 token 池快照）占一行，内容整篇替换，
// 行级字段不参与业务语义。
type JSONDocument struct {
	ID        uint      `gorm:"primarykey"` // gorm 默认的自增主键
	CreatedAt time.Time // 记录创建时间
	UpdatedAt time.Time // 记录最后更新时间

	Name    string `gorm:"type:varchar(255);uniqueIndex;not null"` // 文档逻辑名称，例如 "tokens.json"
	Content string `gorm:"type:longtext"`                          // 文档 JSON 内容
}

// TableName 自定义 JSONDocument 模型的表名
func (JSONDocument) TableName() string {
	return "json_documents"
}
