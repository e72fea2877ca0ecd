package model

import "time"

// 样本来源
const (
	SampleOriginNCBI = "NCBI"
	SampleOriginTBKB = "TbKb"
)

// Sample 对应于数据库中的 'samples' 表，是规范化的生物样本。
// 一个样本可以在多个包中拥有别名，别名关联 MIC/PDS 测试，样本关联测序数据。
type Sample struct {
	ID             uint       `gorm:"primaryKey;autoIncrement" json:"id"`
	BiosampleID    *int64     `gorm:"uniqueIndex" json:"biosampleId"`
	NCBITaxonID    int64      `gorm:"column:ncbi_taxon_id;not null" json:"ncbiTaxonId"`
	Country        *string    `gorm:"type:varchar(3)" json:"country"`
	SamplingDate   DateRange  `gorm:"embedded;embeddedPrefix:sampling_date_" json:"samplingDate"`
	SubmissionDate *time.Time `json:"submissionDate"`
	// PackageID 记录样本是在哪个包的匹配过程中创建的。
	PackageID *uint     `gorm:"index" json:"packageId"`
	Origin    *string   `gorm:"type:varchar(128)" json:"origin"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"createdAt"`
}

// TableName 指定了此模型在数据库中对应的表名。
func (Sample) TableName() string {
	return "samples"
}
