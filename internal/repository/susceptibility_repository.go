package repository

import (
	"gorm.io/gorm"
	"tbkb-submission-go/internal/model"
)

// SusceptibilityRepository 接口定义了 MIC/PDS 药敏测试的持久化操作。
type SusceptibilityRepository interface {
	CreateMIC(test *model.MICTest) error
	CreatePDS(test *model.PDSTest) error
	// AssignSample 把别名关联的样本同步到该别名下的全部测试。
	AssignSample(aliasID uint, sampleID *uint) error
	ResetSampleByPackage(packageID uint) error
	// UnstageResolved 把包内已关联样本的测试标记为正式数据，返回受影响的行数。
	UnstageResolved(packageID uint) (int64, error)
	FindMICByPackage(packageID uint) ([]model.MICTest, error)
	FindPDSByPackage(packageID uint) ([]model.PDSTest, error)
}

type susceptibilityRepository struct {
	db *gorm.DB
}

// NewSusceptibilityRepository 创建一个新的 SusceptibilityRepository 实例。
func NewSusceptibilityRepository(db *gorm.DB) SusceptibilityRepository {
	return &susceptibilityRepository{db: db}
}

func (r *susceptibilityRepository) CreateMIC(test *model.MICTest) error {
	test.Staging = true
	return r.db.Create(test).Error
}

func (r *susceptibilityRepository) CreatePDS(test *model.PDSTest) error {
	test.Staging = true
	return r.db.Create(test).Error
}

func (r *susceptibilityRepository) AssignSample(aliasID uint, sampleID *uint) error {
	if err := r.db.Model(&model.MICTest{}).Where("sample_alias_id = ?", aliasID).Update("sample_id", sampleID).Error; err != nil {
		return err
	}
	return r.db.Model(&model.PDSTest{}).Where("sample_alias_id = ?", aliasID).Update("sample_id", sampleID).Error
}

func (r *susceptibilityRepository) ResetSampleByPackage(packageID uint) error {
	if err := r.db.Model(&model.MICTest{}).Where("package_id = ?", packageID).Update("sample_id", nil).Error; err != nil {
		return err
	}
	return r.db.Model(&model.PDSTest{}).Where("package_id = ?", packageID).Update("sample_id", nil).Error
}

func (r *susceptibilityRepository) UnstageResolved(packageID uint) (int64, error) {
	mic := r.db.Model(&model.MICTest{}).
		Where("package_id = ? AND sample_id IS NOT NULL", packageID).
		Update("staging", false)
	if mic.Error != nil {
		return 0, mic.Error
	}
	pds := r.db.Model(&model.PDSTest{}).
		Where("package_id = ? AND sample_id IS NOT NULL", packageID).
		Update("staging", false)
	if pds.Error != nil {
		return 0, pds.Error
	}
	return mic.RowsAffected + pds.RowsAffected, nil
}

func (r *susceptibilityRepository) FindMICByPackage(packageID uint) ([]model.MICTest, error) {
	var tests []model.MICTest
	err := r.db.Where("package_id = ?", packageID).Order("id").Find(&tests).Error
	return tests, err
}

func (r *susceptibilityRepository) FindPDSByPackage(packageID uint) ([]model.PDSTest, error) {
	var tests []model.PDSTest
	err := r.db.Where("package_id = ?", packageID).Order("id").Find(&tests).Error
	return tests, err
}
