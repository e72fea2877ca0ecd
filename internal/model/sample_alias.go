package model

import "time"

// MatchSource 记录别名是通过哪一条规则匹配到样本的。
type MatchSource string

const (
	// MatchSourceNoMatch 别名没有匹配到样本。
	MatchSourceNoMatch MatchSource = "NO_MATCH"
	// MatchSourceFastqUploaded 通过上传的 FASTQ 文件名前缀匹配到已有样本。
	MatchSourceFastqUploaded MatchSource = "FASTQ_UPLOADED"
	// MatchSourceFastqUploadedNewSample 通过上传的 FASTQ 文件名前缀匹配，并新建了样本。
	MatchSourceFastqUploadedNewSample MatchSource = "FASTQ_UPLOADED_NEW_SAMPLE"
	// MatchSourceFastqExisting 别名与已有 FASTQ 文件的 library_name 匹配。
	MatchSourceFastqExisting MatchSource = "FASTQ_EXISTING"
	// MatchSourceNCBI 别名与 NCBI 数据中的名称匹配。
	MatchSourceNCBI MatchSource = "NCBI"
	// MatchSourceNCBIFastq 上传的 FASTQ 文件与 NCBI 已有的测序数据是同一份文件。
	MatchSourceNCBIFastq MatchSource = "NCBI_FASTQ"
	// MatchSourceUserAlias 别名与同一用户之前提交并已通过审核的别名匹配。
	MatchSourceUserAlias MatchSource = "USER_ALIAS"
)

// 别名来源，BioSample 和 SRS 由外部同步流水线写入。
const (
	AliasOriginTBKB      = "TBKB"
	AliasOriginBioSample = "BioSample"
	AliasOriginSRS       = "SRS"
)

// SampleAlias 对应于数据库中的 'sample_aliases' 表。
// 别名随 MIC/PDS 测试一起导入，在匹配阶段关联到样本。
type SampleAlias struct {
	ID        uint `gorm:"primaryKey;autoIncrement" json:"id"`
	PackageID uint `gorm:"not null;uniqueIndex:uc_samplealias_package_name,priority:1;uniqueIndex:uc_samplealias_package_fastq_prefix,priority:1" json:"packageId"`
	Name      string `gorm:"type:varchar(255);not null;index;uniqueIndex:uc_samplealias_package_name,priority:2" json:"name"`
	// FastqPrefix 用于按上传文件名匹配测序数据，可以为空，但在包内不能重复。
	FastqPrefix *string      `gorm:"type:varchar(255);uniqueIndex:uc_samplealias_package_fastq_prefix,priority:2" json:"fastqPrefix"`
	MatchSource *MatchSource `gorm:"type:varchar(64)" json:"matchSource"`
	Verdicts    VerdictLog   `json:"verdicts"`
	// SampleID 可以为空，创建时不关联样本，在匹配阶段关联。
	SampleID *uint `gorm:"index" json:"sampleId"`

	// 导入时采集的附加信息，新建样本时写入样本
	Country      *string   `gorm:"type:varchar(3)" json:"country"`
	SamplingDate DateRange `gorm:"embedded;embeddedPrefix:sampling_date_" json:"samplingDate"`

	// 外部同步相关字段，Origin 表示别名的来源，OriginLabel 为自由描述
	Origin      string    `gorm:"type:varchar(128);not null;default:TBKB;index" json:"origin"`
	OriginLabel string    `gorm:"type:varchar(1024)" json:"originLabel"`
	CreatedAt   time.Time `gorm:"autoCreateTime;index" json:"createdAt"`
}

// TableName 指定了此模型在数据库中对应的表名。
func (SampleAlias) TableName() string {
	return "sample_aliases"
}

// IsResolved 判断别名在本轮匹配中是否已经有了结论（包括 NO_MATCH）。
func (a *SampleAlias) IsResolved() bool {
	return a.MatchSource != nil
}

// HasPrefix 判断别名是否提供了 FASTQ 前缀。
func (a *SampleAlias) HasPrefix() bool {
	return a.FastqPrefix != nil && *a.FastqPrefix != ""
}

// ResetMatch 清除上一次匹配的结果。
func (a *SampleAlias) ResetMatch() {
	a.SampleID = nil
	a.MatchSource = nil
	a.Verdicts.Reset()
}
