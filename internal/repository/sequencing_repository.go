package repository

import (
	"errors"

	"gorm.io/gorm"
	"tbkb-submission-go/internal/model"
)

// SequencingRepository 接口定义了测序文件、文件哈希以及包内文件关联的持久化操作。
type SequencingRepository interface {
	FindHash(algorithm, value string) (*model.SequencingFileHash, error)
	// CreateFile 同时保存文件和它的第一条哈希。
	CreateFile(file *model.SequencingFile, hash *model.SequencingFileHash) error
	FindFileByID(id uint) (*model.SequencingFile, error)
	// AttachSample 只在文件尚未关联样本时写入样本，返回是否写入成功。
	AttachSample(fileID, sampleID uint) (bool, error)

	CreateLink(link *model.SequencingFileLink) error
	FindLink(packageID, linkID uint) (*model.SequencingFileLink, error)
	DeleteLink(link *model.SequencingFileLink) error
	LinkExists(packageID, fileID, hashID uint) (bool, error)
	// FindLinksByPackage 按创建顺序返回包内全部文件关联，并预加载文件。
	FindLinksByPackage(packageID uint) ([]*model.SequencingFileLink, error)
	CountLinksByPackage(packageID uint) (int64, error)
	SaveLinkVerdicts(link *model.SequencingFileLink) error
	ResetLinkVerdictsByPackage(packageID uint) error
}

type sequencingRepository struct {
	db *gorm.DB
}

// NewSequencingRepository 创建一个新的 SequencingRepository 实例。
func NewSequencingRepository(db *gorm.DB) SequencingRepository {
	return &sequencingRepository{db: db}
}

// FindHash 按算法和值查找已登记的文件哈希，没有时返回 (nil, nil)。
func (r *sequencingRepository) FindHash(algorithm, value string) (*model.SequencingFileHash, error) {
	var hash model.SequencingFileHash
	err := r.db.Where("algorithm = ? AND value = ?", algorithm, value).Order("id").First(&hash).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &hash, nil
}

func (r *sequencingRepository) CreateFile(file *model.SequencingFile, hash *model.SequencingFileHash) error {
	return r.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(file).Error; err != nil {
			return err
		}
		hash.SequencingFileID = file.ID
		return tx.Create(hash).Error
	})
}

func (r *sequencingRepository) FindFileByID(id uint) (*model.SequencingFile, error) {
	var file model.SequencingFile
	if err := r.db.First(&file, id).Error; err != nil {
		return nil, err
	}
	return &file, nil
}

func (r *sequencingRepository) AttachSample(fileID, sampleID uint) (bool, error) {
	res := r.db.Model(&model.SequencingFile{}).
		Where("id = ? AND sample_id IS NULL", fileID).
		Update("sample_id", sampleID)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *sequencingRepository) CreateLink(link *model.SequencingFileLink) error {
	if link.Verdicts == nil {
		link.Verdicts = model.VerdictLog{}
	}
	return r.db.Omit("SequencingFile").Create(link).Error
}

func (r *sequencingRepository) FindLink(packageID, linkID uint) (*model.SequencingFileLink, error) {
	var link model.SequencingFileLink
	err := r.db.Preload("SequencingFile").
		Where("id = ? AND package_id = ?", linkID, packageID).
		First(&link).Error
	if err != nil {
		return nil, err
	}
	return &link, nil
}

func (r *sequencingRepository) DeleteLink(link *model.SequencingFileLink) error {
	return r.db.Delete(&model.SequencingFileLink{}, link.ID).Error
}

func (r *sequencingRepository) LinkExists(packageID, fileID, hashID uint) (bool, error) {
	var cnt int64
	err := r.db.Model(&model.SequencingFileLink{}).
		Where("package_id = ? AND sequencing_file_id = ? AND sequencing_file_hash_id = ?", packageID, fileID, hashID).
		Count(&cnt).Error
	return cnt > 0, err
}

func (r *sequencingRepository) FindLinksByPackage(packageID uint) ([]*model.SequencingFileLink, error) {
	var links []*model.SequencingFileLink
	err := r.db.Preload("SequencingFile").
		Where("package_id = ?", packageID).
		Order("created_at, id").
		Find(&links).Error
	return links, err
}

func (r *sequencingRepository) CountLinksByPackage(packageID uint) (int64, error) {
	var cnt int64
	err := r.db.Model(&model.SequencingFileLink{}).Where("package_id = ?", packageID).Count(&cnt).Error
	return cnt, err
}

func (r *sequencingRepository) SaveLinkVerdicts(link *model.SequencingFileLink) error {
	return r.db.Model(&model.SequencingFileLink{}).Where("id = ?", link.ID).Update("verdicts", link.Verdicts).Error
}

func (r *sequencingRepository) ResetLinkVerdictsByPackage(packageID uint) error {
	return r.db.Model(&model.SequencingFileLink{}).Where("package_id = ?", packageID).Update("verdicts", model.VerdictLog{}).Error
}
