package repository

import (
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"tbkb-submission-go/internal/model"
)

// StatsRepository 接口定义了包统计数据的计算与读取。
type StatsRepository interface {
	Recompute(packageID uint) (*model.PackageStats, error)
	FindByPackage(packageID uint) (*model.PackageStats, error)
}

type statsRepository struct {
	db *gorm.DB
}

// NewStatsRepository 创建一个新的 StatsRepository 实例。
func NewStatsRepository(db *gorm.DB) StatsRepository {
	return &statsRepository{db: db}
}

// Recompute 根据包当前的数据重新计算全部计数并保存。
func (r *statsRepository) Recompute(packageID uint) (*model.PackageStats, error) {
	stats := model.PackageStats{PackageID: packageID}

	counters := []struct {
		dst   *int64
		query *gorm.DB
	}{
		{&stats.CntMICTests, r.db.Model(&model.MICTest{}).Where("package_id = ?", packageID)},
		{&stats.CntPDSTests, r.db.Model(&model.PDSTest{}).Where("package_id = ?", packageID)},
		{&stats.CntSampleAliases, r.db.Model(&model.SampleAlias{}).Where("package_id = ?", packageID)},
		{&stats.CntSamplesMatched, r.db.Model(&model.SampleAlias{}).Where("package_id = ? AND sample_id IS NOT NULL", packageID)},
		{&stats.CntSamplesCreated, r.db.Model(&model.Sample{}).Where("package_id = ?", packageID)},
		{&stats.CntSequencingData, r.db.Model(&model.SequencingFileLink{}).Where("package_id = ?", packageID)},
		{&stats.CntPDSDrugConcentration, r.db.Table("(?) AS combos",
			r.db.Model(&model.PDSTest{}).Distinct("drug_id", "concentration").Where("package_id = ?", packageID))},
	}
	for _, c := range counters {
		if err := c.query.Count(c.dst).Error; err != nil {
			return nil, err
		}
	}

	micDrugs, err := r.distinctDrugs(&model.MICTest{}, packageID)
	if err != nil {
		return nil, err
	}
	pdsDrugs, err := r.distinctDrugs(&model.PDSTest{}, packageID)
	if err != nil {
		return nil, err
	}
	stats.ListMICDrugs = micDrugs
	stats.ListPDSDrugs = pdsDrugs

	if err := r.db.Clauses(clause.OnConflict{UpdateAll: true}).Create(&stats).Error; err != nil {
		return nil, err
	}
	return &stats, nil
}

func (r *statsRepository) distinctDrugs(m interface{}, packageID uint) (datatypes.JSONSlice[uint], error) {
	var ids []uint
	err := r.db.Model(m).
		Where("package_id = ? AND drug_id IS NOT NULL", packageID).
		Distinct().
		Order("drug_id").
		Pluck("drug_id", &ids).Error
	if err != nil {
		return nil, err
	}
	if ids == nil {
		ids = []uint{}
	}
	return datatypes.JSONSlice[uint](ids), nil
}

func (r *statsRepository) FindByPackage(packageID uint) (*model.PackageStats, error) {
	var stats model.PackageStats
	if err := r.db.Where("package_id = ?", packageID).First(&stats).Error; err != nil {
		return nil, err
	}
	return &stats, nil
}
