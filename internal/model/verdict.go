package model

import (
	"database/sql/driver"

	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/schema"
)

// VerdictLevel 表示一条校验信息的严重程度。
type VerdictLevel string

const (
	VerdictLevelInfo    VerdictLevel = "info"
	VerdictLevelWarning VerdictLevel = "warning"
	VerdictLevelError   VerdictLevel = "error"
)

// Verdict 是附加在别名或测序文件关联上的一条诊断信息。
type Verdict struct {
	Verdict string       `json:"verdict"`
	Level   VerdictLevel `json:"level"`
}

// VerdictLog 是只追加、可整体清空的诊断信息列表，以 JSON 列的形式随所属记录一起保存。
// 只能通过 Append 和 Reset 修改。
type VerdictLog []Verdict

// Append 追加一条诊断信息。
func (l *VerdictLog) Append(message string, level VerdictLevel) {
	*l = append(*l, Verdict{Verdict: message, Level: level})
}

// Reset 清空全部诊断信息。
func (l *VerdictLog) Reset() {
	*l = VerdictLog{}
}

// Empty 判断列表是否为空。
func (l VerdictLog) Empty() bool {
	return len(l) == 0
}

// HasLevel 判断列表中是否存在指定级别的信息。
func (l VerdictLog) HasLevel(level VerdictLevel) bool {
	for _, v := range l {
		if v.Level == level {
			return true
		}
	}
	return false
}

// Value 实现 driver.Valuer，空列表保存为 "[]" 而不是 null。
func (l VerdictLog) Value() (driver.Value, error) {
	if l == nil {
		l = VerdictLog{}
	}
	return datatypes.JSONSlice[Verdict](l).Value()
}

// Scan 实现 sql.Scanner。
func (l *VerdictLog) Scan(value interface{}) error {
	if value == nil {
		*l = VerdictLog{}
		return nil
	}
	return (*datatypes.JSONSlice[Verdict])(l).Scan(value)
}

// GormDataType 声明通用的数据类型。
func (VerdictLog) GormDataType() string {
	return "json"
}

// GormDBDataType 按方言返回具体的列类型（PostgreSQL 使用 JSONB）。
func (VerdictLog) GormDBDataType(db *gorm.DB, field *schema.Field) string {
	return datatypes.JSONSlice[Verdict](nil).GormDBDataType(db, field)
}
