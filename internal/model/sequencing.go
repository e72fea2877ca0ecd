package model

import "time"

// 测序数据的存放位置
const (
	DataLocationNCBI = "NCBI"
	DataLocationTBKB = "TB-Kb"
)

// SequencingFile 对应于数据库中的 'sequencing_files' 表。
// 它记录了一个测序数据文件，文件本身保存在对象存储中。
type SequencingFile struct {
	ID uint `gorm:"primaryKey;autoIncrement" json:"id"`
	// LibraryName 可能就是样本名，用于按名称匹配
	LibraryName string `gorm:"type:varchar(1024);index" json:"libraryName"`
	// FilePath 是对象存储中的路径（不含 bucket）
	FilePath     *string   `gorm:"type:varchar(1024);uniqueIndex" json:"filePath"`
	FileSize     *int64    `json:"fileSize"`
	DataLocation string    `gorm:"type:varchar(32);not null" json:"dataLocation"`
	SampleID     *uint     `gorm:"index" json:"sampleId"`
	CreatedAt    time.Time `gorm:"autoCreateTime" json:"createdAt"`
}

// TableName 指定了此模型在数据库中对应的表名。
func (SequencingFile) TableName() string {
	return "sequencing_files"
}

// IsFromNCBI 判断文件是否来自 NCBI 同步。
func (f *SequencingFile) IsFromNCBI() bool {
	return f.DataLocation == DataLocationNCBI
}

// SequencingFileHash 对应于数据库中的 'sequencing_file_hashes' 表。
// NCBI 文件每个文件有两条哈希，用户上传的文件每个文件一条。
type SequencingFileHash struct {
	ID               uint   `gorm:"primaryKey;autoIncrement" json:"id"`
	SequencingFileID uint   `gorm:"not null;uniqueIndex:uc_seqhash_file_algorithm_value,priority:1" json:"sequencingFileId"`
	Algorithm        string `gorm:"type:varchar(32);not null;uniqueIndex:uc_seqhash_file_algorithm_value,priority:2" json:"algorithm"`
	Value            string `gorm:"type:varchar(128);not null;index;uniqueIndex:uc_seqhash_file_algorithm_value,priority:3" json:"value"`
}

// TableName 指定了此模型在数据库中对应的表名。
func (SequencingFileHash) TableName() string {
	return "sequencing_file_hashes"
}

// SequencingFileLink 对应于数据库中的 'package_sequencing_files' 表。
// 它记录了一个包中上传的文件，Filename 是上传时的原始文件名，用于按前缀匹配。
type SequencingFileLink struct {
	ID                   uint       `gorm:"primaryKey;autoIncrement" json:"id"`
	PackageID            uint       `gorm:"not null;uniqueIndex:uc_pkgseq_package_file_hash,priority:1" json:"packageId"`
	SequencingFileID     uint       `gorm:"not null;uniqueIndex:uc_pkgseq_package_file_hash,priority:2" json:"sequencingFileId"`
	SequencingFileHashID uint       `gorm:"not null;uniqueIndex:uc_pkgseq_package_file_hash,priority:3" json:"sequencingFileHashId"`
	Filename             string     `gorm:"type:varchar(1024);not null" json:"filename"`
	Verdicts             VerdictLog `json:"verdicts"`
	CreatedAt            time.Time  `gorm:"autoCreateTime" json:"createdAt"`

	SequencingFile *SequencingFile `gorm:"foreignKey:SequencingFileID" json:"sequencingFile,omitempty"`
}

// TableName 指定了此模型在数据库中对应的表名。
func (SequencingFileLink) TableName() string {
	return "package_sequencing_files"
}
