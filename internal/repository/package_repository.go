// Package repository 定义了与数据库进行数据交换的接口和实现。
package repository

import (
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"tbkb-submission-go/internal/model"
)

// PackageRepository 接口定义了提交包的持久化操作。
type PackageRepository interface {
	Create(pkg *model.Package) error
	FindByID(id uint) (*model.Package, error)
	// LockEditable 以不等待的行级排他锁读取一个处于可编辑状态的包。
	LockEditable(id uint) (*model.Package, error)
	UpdateState(pkg *model.Package) error
	// SwapState 仅当包仍处于 expected 的生命周期状态和匹配状态时保存 pkg 的状态字段。
	SwapState(pkg *model.Package, expected model.PackageState, expectedMatching model.MatchingState) (bool, error)
	UpdateMatchingState(id uint, state model.MatchingState) error
	FindEditableByOwner(ownerID uint, excludeID uint) ([]model.Package, error)
}

type packageRepository struct {
	db *gorm.DB
}

// NewPackageRepository 创建一个新的 PackageRepository 实例。
func NewPackageRepository(db *gorm.DB) PackageRepository {
	return &packageRepository{db: db}
}

// Create 创建一个新的包，并同时创建对应的统计记录。
func (r *packageRepository) Create(pkg *model.Package) error {
	return r.db.Transaction(func(tx *gorm.DB) error {
		if pkg.StateChangedOn.IsZero() {
			pkg.StateChangedOn = time.Now()
		}
		if err := tx.Create(pkg).Error; err != nil {
			return err
		}
		return tx.Create(&model.PackageStats{PackageID: pkg.ID}).Error
	})
}

// FindByID 根据 ID 查找包，不存在时返回 gorm.ErrRecordNotFound。
func (r *packageRepository) FindByID(id uint) (*model.Package, error) {
	var pkg model.Package
	if err := r.db.First(&pkg, id).Error; err != nil {
		return nil, err
	}
	return &pkg, nil
}

// LockEditable 使用 SELECT ... FOR UPDATE NOWAIT 锁定包。
// SQLite 不支持行锁，此时只做普通读取，互斥由上层的进程内锁保证。
func (r *packageRepository) LockEditable(id uint) (*model.Package, error) {
	query := r.db.Where("id = ? AND state IN ?", id, model.EditableStates)
	if r.db.Dialector.Name() != "sqlite" {
		query = query.Clauses(clause.Locking{Strength: "UPDATE", Options: "NOWAIT"})
	}
	var pkg model.Package
	if err := query.First(&pkg).Error; err != nil {
		return nil, err
	}
	return &pkg, nil
}

// UpdateState 保存包的生命周期相关字段。
func (r *packageRepository) UpdateState(pkg *model.Package) error {
	return r.db.Model(&model.Package{}).Where("id = ?", pkg.ID).Updates(map[string]interface{}{
		"state":            pkg.State,
		"matching_state":   pkg.MatchingState,
		"rejection_reason": pkg.RejectionReason,
		"state_changed_on": pkg.StateChangedOn,
	}).Error
}

func (r *packageRepository) SwapState(pkg *model.Package, expected model.PackageState, expectedMatching model.MatchingState) (bool, error) {
	res := r.db.Model(&model.Package{}).
		Where("id = ? AND state = ? AND matching_state = ?", pkg.ID, expected, expectedMatching).
		Updates(map[string]interface{}{
			"state":            pkg.State,
			"matching_state":   pkg.MatchingState,
			"rejection_reason": pkg.RejectionReason,
			"state_changed_on": pkg.StateChangedOn,
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

// UpdateMatchingState 只更新包的匹配状态。
func (r *packageRepository) UpdateMatchingState(id uint, state model.MatchingState) error {
	return r.db.Model(&model.Package{}).Where("id = ?", id).Update("matching_state", state).Error
}

// FindEditableByOwner 查找指定用户名下其它处于可编辑状态的包。
func (r *packageRepository) FindEditableByOwner(ownerID uint, excludeID uint) ([]model.Package, error) {
	var pkgs []model.Package
	err := r.db.Where("owner_id = ? AND id <> ? AND state IN ?", ownerID, excludeID, model.EditableStates).
		Order("id").
		Find(&pkgs).Error
	return pkgs, err
}
