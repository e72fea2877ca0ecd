package model

// MICTest 对应于数据库中的 'mic_tests' 表（最低抑菌浓度测试）。
// SampleID 与所属别名的 SampleID 保持一致，删除样本时保留测试。
type MICTest struct {
	ID            uint     `gorm:"primaryKey;autoIncrement" json:"id"`
	PackageID     uint     `gorm:"not null;index" json:"packageId"`
	SampleAliasID uint     `gorm:"not null;index" json:"sampleAliasId"`
	SampleID      *uint    `gorm:"index" json:"sampleId"`
	DrugID        uint     `gorm:"not null" json:"drugId"`
	Plate         string   `gorm:"type:varchar(1024);not null" json:"plate"`
	RangeLower    *float64 `json:"rangeLower"`
	RangeUpper    *float64 `json:"rangeUpper"`
	// Staging 为 true 表示测试尚未通过审核
	Staging bool `gorm:"not null;default:true" json:"staging"`
}

// TableName 指定了此模型在数据库中对应的表名。
func (MICTest) TableName() string {
	return "mic_tests"
}

// PDSTest 对应于数据库中的 'pds_tests' 表（表型药敏测试）。
type PDSTest struct {
	ID            uint     `gorm:"primaryKey;autoIncrement" json:"id"`
	PackageID     uint     `gorm:"not null;index" json:"packageId"`
	SampleAliasID uint     `gorm:"not null;index" json:"sampleAliasId"`
	SampleID      *uint    `gorm:"index" json:"sampleId"`
	DrugID        *uint    `json:"drugId"`
	Concentration *float64 `json:"concentration"`
	// TestResult 取值 S、R、I
	TestResult *string `gorm:"type:varchar(1)" json:"testResult"`
	Staging    bool    `gorm:"not null;default:true" json:"staging"`
}

// TableName 指定了此模型在数据库中对应的表名。
func (PDSTest) TableName() string {
	return "pds_tests"
}
