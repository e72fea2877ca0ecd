// Package model 定义了与数据库表对应的 Go 结构体。
package model

import (
	"time"

	"gorm.io/datatypes"
)

// PackageState 是提交包的生命周期状态。
type PackageState string

const (
	PackageStateDraft    PackageState = "DRAFT"
	PackageStatePending  PackageState = "PENDING"
	PackageStateAccepted PackageState = "ACCEPTED"
	PackageStateRejected PackageState = "REJECTED"
)

// MatchingState 表示包当前的数据是否已经完成匹配。
type MatchingState string

const (
	// MatchingStateNeverMatched 包从未被匹配过。
	MatchingStateNeverMatched MatchingState = "NEVER_MATCHED"
	// MatchingStateMatched 包已匹配，且之后没有变化。
	MatchingStateMatched MatchingState = "MATCHED"
	// MatchingStateChanged 包匹配之后数据发生了变化。
	MatchingStateChanged MatchingState = "CHANGED"
)

// 包的来源，NCBI/SRA 来源的包由外部同步创建。
const (
	PackageOriginTBKB = "TBKB"
	PackageOriginNCBI = "NCBI"
	PackageOriginSRA  = "SRA"
)

// EditableStates 是允许修改包内容和执行匹配的状态。
var EditableStates = []PackageState{PackageStateDraft, PackageStateRejected}

// Package 对应于数据库中的 'packages' 表，是一次数据提交的批次。
type Package struct {
	ID          uint    `gorm:"primaryKey;autoIncrement" json:"id"`
	Name        string  `gorm:"type:varchar(1024);not null" json:"name"`
	Description *string `gorm:"type:varchar(8192)" json:"description"`
	// Origin 记录是谁创建了这个包，用于按来源匹配别名。
	Origin       string `gorm:"type:varchar(255);not null;default:TBKB;index" json:"origin"`
	BioprojectID *int64 `json:"bioprojectId"`
	// NCBITaxonID 是在该包中新建样本时使用的物种，为空时使用配置中的默认值。
	NCBITaxonID *int64 `gorm:"column:ncbi_taxon_id" json:"ncbiTaxonId"`
	// OwnerID 可以为空，系统同步创建的包没有所有者。
	OwnerID         *uint         `gorm:"index" json:"ownerId"`
	State           PackageState  `gorm:"type:varchar(16);not null;default:DRAFT;index" json:"state"`
	MatchingState   MatchingState `gorm:"type:varchar(32);not null;default:NEVER_MATCHED" json:"matchingState"`
	RejectionReason string        `gorm:"type:text" json:"rejectionReason"`
	SubmittedOn     time.Time     `gorm:"autoCreateTime" json:"submittedOn"`
	StateChangedOn  time.Time     `json:"stateChangedOn"`
}

// TableName 指定了此模型在数据库中对应的表名。
func (Package) TableName() string {
	return "packages"
}

// IsEditable 判断包的内容当前是否允许修改。
func (p *Package) IsEditable() bool {
	for _, s := range EditableStates {
		if p.State == s {
			return true
		}
	}
	return false
}

// CanGoPending 包自上次匹配以来没有变化时才能提交审核。
func (p *Package) CanGoPending() bool {
	return p.MatchingState == MatchingStateMatched
}

// IsOwnedBy 判断包是否属于指定用户。
func (p *Package) IsOwnedBy(userID uint) bool {
	return p.OwnerID != nil && *p.OwnerID == userID
}

// PackageStats 对应于数据库中的 'package_stats' 表，每次包发生变化时重新计算。
type PackageStats struct {
	PackageID               uint                      `gorm:"primaryKey;autoIncrement:false" json:"packageId"`
	CntMICTests             int64                     `gorm:"column:cnt_mic_tests;not null;default:0" json:"cntMicTests"`
	CntPDSTests             int64                     `gorm:"column:cnt_pds_tests;not null;default:0" json:"cntPdsTests"`
	CntPDSDrugConcentration int64                     `gorm:"column:cnt_pds_drug_concentration;not null;default:0" json:"cntPdsDrugConcentration"`
	CntSampleAliases        int64                     `gorm:"not null;default:0" json:"cntSampleAliases"`
	CntSamplesMatched       int64                     `gorm:"not null;default:0" json:"cntSamplesMatched"`
	CntSamplesCreated       int64                     `gorm:"not null;default:0" json:"cntSamplesCreated"`
	CntSequencingData       int64                     `gorm:"not null;default:0" json:"cntSequencingData"`
	ListMICDrugs            datatypes.JSONSlice[uint] `gorm:"column:list_mic_drugs" json:"listMicDrugs"`
	ListPDSDrugs            datatypes.JSONSlice[uint] `gorm:"column:list_pds_drugs" json:"listPdsDrugs"`
	UpdatedAt               time.Time                 `gorm:"autoUpdateTime" json:"updatedAt"`
}

// TableName 指定了此模型在数据库中对应的表名。
func (PackageStats) TableName() string {
	return "package_stats"
}
