package repository

import (
	"gorm.io/gorm"
	"tbkb-submission-go/internal/model"
)

// SampleAliasRepository 接口定义了样本别名的持久化操作。
type SampleAliasRepository interface {
	Create(alias *model.SampleAlias) error
	FindByID(packageID, aliasID uint) (*model.SampleAlias, error)
	// FindByPackage 按创建顺序返回包内全部别名。
	FindByPackage(packageID uint) ([]*model.SampleAlias, error)
	CountByPackage(packageID uint) (int64, error)
	// NameTaken 判断包内除 excludeID 外是否已有同名别名（不区分大小写），excludeID 为 0 表示不排除。
	NameTaken(packageID uint, name string, excludeID uint) (bool, error)
	// PrefixTaken 判断包内除 excludeID 外是否已有相同的 FASTQ 前缀（不区分大小写）。
	PrefixTaken(packageID uint, prefix string, excludeID uint) (bool, error)
	Rename(alias *model.SampleAlias) error
	// SaveMatch 保存一次匹配写入的字段：样本、匹配来源和诊断信息。
	SaveMatch(alias *model.SampleAlias) error
	ResetMatchByPackage(packageID uint) error
}

type sampleAliasRepository struct {
	db *gorm.DB
}

// NewSampleAliasRepository 创建一个新的 SampleAliasRepository 实例。
func NewSampleAliasRepository(db *gorm.DB) SampleAliasRepository {
	return &sampleAliasRepository{db: db}
}

func (r *sampleAliasRepository) Create(alias *model.SampleAlias) error {
	if alias.Origin == "" {
		alias.Origin = model.AliasOriginTBKB
	}
	if alias.Verdicts == nil {
		alias.Verdicts = model.VerdictLog{}
	}
	return r.db.Create(alias).Error
}

func (r *sampleAliasRepository) FindByID(packageID, aliasID uint) (*model.SampleAlias, error) {
	var alias model.SampleAlias
	if err := r.db.Where("id = ? AND package_id = ?", aliasID, packageID).First(&alias).Error; err != nil {
		return nil, err
	}
	return &alias, nil
}

func (r *sampleAliasRepository) FindByPackage(packageID uint) ([]*model.SampleAlias, error) {
	var aliases []*model.SampleAlias
	err := r.db.Where("package_id = ?", packageID).Order("created_at, id").Find(&aliases).Error
	return aliases, err
}

func (r *sampleAliasRepository) CountByPackage(packageID uint) (int64, error) {
	var cnt int64
	err := r.db.Model(&model.SampleAlias{}).Where("package_id = ?", packageID).Count(&cnt).Error
	return cnt, err
}

// Rename 修改别名名称，同时清空它的诊断信息。
func (r *sampleAliasRepository) Rename(alias *model.SampleAlias) error {
	alias.Verdicts.Reset()
	return r.db.Model(&model.SampleAlias{}).Where("id = ?", alias.ID).Updates(map[string]interface{}{
		"name":     alias.Name,
		"verdicts": alias.Verdicts,
	}).Error
}

func (r *sampleAliasRepository) NameTaken(packageID uint, name string, excludeID uint) (bool, error) {
	return r.taken(packageID, "name", name, excludeID)
}

func (r *sampleAliasRepository) PrefixTaken(packageID uint, prefix string, excludeID uint) (bool, error) {
	return r.taken(packageID, "fastq_prefix", prefix, excludeID)
}

func (r *sampleAliasRepository) taken(packageID uint, column, value string, excludeID uint) (bool, error) {
	var count int64
	err := r.db.Model(&model.SampleAlias{}).
		Where("package_id = ? AND id <> ?", packageID, excludeID).
		Where("LOWER("+column+") = LOWER(?)", value).
		Count(&count).Error
	return count > 0, err
}

func (r *sampleAliasRepository) SaveMatch(alias *model.SampleAlias) error {
	return r.db.Model(&model.SampleAlias{}).Where("id = ?", alias.ID).Updates(map[string]interface{}{
		"sample_id":    alias.SampleID,
		"match_source": alias.MatchSource,
		"verdicts":     alias.Verdicts,
	}).Error
}

func (r *sampleAliasRepository) ResetMatchByPackage(packageID uint) error {
	return r.db.Model(&model.SampleAlias{}).Where("package_id = ?", packageID).Updates(map[string]interface{}{
		"sample_id":    nil,
		"match_source": nil,
		"verdicts":     model.VerdictLog{},
	}).Error
}
