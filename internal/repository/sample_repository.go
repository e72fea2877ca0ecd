package repository

import (
	"gorm.io/gorm"
	"tbkb-submission-go/internal/model"
)

// SampleRepository 接口定义了样本的持久化和匹配查询操作。
// 所有 FindLatest* 方法在没有候选时返回 (nil, nil)，多个候选按创建时间和 ID 倒序取第一个。
type SampleRepository interface {
	Create(sample *model.Sample) error
	FindByID(id uint) (*model.Sample, error)
	FindByIDs(ids []uint) ([]model.Sample, error)
	// DeleteByPackage 删除在指定包的匹配过程中创建的样本，并清除所有指向它们的引用。
	DeleteByPackage(packageID uint) ([]uint, error)
	FindLatestByAliasOrigin(origin, name string) (*model.Sample, error)
	FindLatestByLibraryName(name string) (*model.Sample, error)
	FindLatestByPackageOrigin(origins []string, name string) (*model.Sample, error)
	FindLatestByOwnerAccepted(ownerID uint, name string) (*model.Sample, error)
}

type sampleRepository struct {
	db *gorm.DB
}

// NewSampleRepository 创建一个新的 SampleRepository 实例。
func NewSampleRepository(db *gorm.DB) SampleRepository {
	return &sampleRepository{db: db}
}

func (r *sampleRepository) Create(sample *model.Sample) error {
	return r.db.Create(sample).Error
}

func (r *sampleRepository) FindByID(id uint) (*model.Sample, error) {
	var sample model.Sample
	if err := r.db.First(&sample, id).Error; err != nil {
		return nil, err
	}
	return &sample, nil
}

func (r *sampleRepository) FindByIDs(ids []uint) ([]model.Sample, error) {
	var samples []model.Sample
	if len(ids) == 0 {
		return samples, nil
	}
	err := r.db.Where("id IN ?", ids).Order("id").Find(&samples).Error
	return samples, err
}

func (r *sampleRepository) DeleteByPackage(packageID uint) ([]uint, error) {
	var ids []uint
	if err := r.db.Model(&model.Sample{}).Where("package_id = ?", packageID).Pluck("id", &ids).Error; err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return ids, nil
	}
	// 样本被删除时保留引用它的记录，只清空外键
	for _, m := range []interface{}{&model.SequencingFile{}, &model.SampleAlias{}, &model.MICTest{}, &model.PDSTest{}} {
		if err := r.db.Model(m).Where("sample_id IN ?", ids).Update("sample_id", nil).Error; err != nil {
			return nil, err
		}
	}
	if err := r.db.Where("id IN ?", ids).Delete(&model.Sample{}).Error; err != nil {
		return nil, err
	}
	return ids, nil
}

// FindLatestByAliasOrigin 查找通过指定来源的别名（BioSample、SRS）关联的样本。
func (r *sampleRepository) FindLatestByAliasOrigin(origin, name string) (*model.Sample, error) {
	return r.first(r.db.Model(&model.Sample{}).
		Joins("JOIN sample_aliases ON sample_aliases.sample_id = samples.id").
		Where("sample_aliases.origin = ? AND LOWER(sample_aliases.name) = LOWER(?)", origin, name).
		Order("sample_aliases.created_at DESC, sample_aliases.id DESC"))
}

// FindLatestByLibraryName 查找通过测序文件 library_name 关联的样本。
func (r *sampleRepository) FindLatestByLibraryName(name string) (*model.Sample, error) {
	return r.first(r.db.Model(&model.Sample{}).
		Joins("JOIN sequencing_files ON sequencing_files.sample_id = samples.id").
		Where("LOWER(sequencing_files.library_name) = LOWER(?)", name).
		Order("sequencing_files.created_at DESC, sequencing_files.id DESC"))
}

// FindLatestByPackageOrigin 查找通过指定来源的包（NCBI、SRA）中的别名关联的样本，来源不区分大小写。
func (r *sampleRepository) FindLatestByPackageOrigin(origins []string, name string) (*model.Sample, error) {
	return r.first(r.db.Model(&model.Sample{}).
		Joins("JOIN sample_aliases ON sample_aliases.sample_id = samples.id").
		Joins("JOIN packages ON packages.id = sample_aliases.package_id").
		Where("UPPER(packages.origin) IN ? AND LOWER(sample_aliases.name) = LOWER(?)", origins, name).
		Order("sample_aliases.created_at DESC, sample_aliases.id DESC"))
}

// FindLatestByOwnerAccepted 查找同一用户在已通过审核的包中上传的同名别名关联的样本。
func (r *sampleRepository) FindLatestByOwnerAccepted(ownerID uint, name string) (*model.Sample, error) {
	return r.first(r.db.Model(&model.Sample{}).
		Joins("JOIN sample_aliases ON sample_aliases.sample_id = samples.id").
		Joins("JOIN packages ON packages.id = sample_aliases.package_id").
		Where("packages.owner_id = ? AND packages.state = ?", ownerID, model.PackageStateAccepted).
		Where("LOWER(sample_aliases.name) = LOWER(?)", name).
		Order("sample_aliases.created_at DESC, sample_aliases.id DESC"))
}

func (r *sampleRepository) first(query *gorm.DB) (*model.Sample, error) {
	var samples []model.Sample
	if err := query.Select("samples.*").Limit(1).Find(&samples).Error; err != nil {
		return nil, err
	}
	if len(samples) == 0 {
		return nil, nil
	}
	return &samples[0], nil
}
