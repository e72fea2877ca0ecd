package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"
	"tbkb-submission-go/internal/model"
	"tbkb-submission-go/internal/repository"
	"tbkb-submission-go/pkg/events"
	"tbkb-submission-go/pkg/log"
)

// DefaultHashAlgorithm 是上传文件默认使用的校验算法。
const DefaultHashAlgorithm = "md5"

// ObjectStore 是对象存储中测序文件的读取接口，由 MinIO 实现。
type ObjectStore interface {
	// Stat 返回对象大小，对象不存在时 exists 为 false。
	Stat(ctx context.Context, objectName string) (size int64, exists bool, err error)
	PresignedGetURL(ctx context.Context, objectName, downloadName string, expiry time.Duration) (string, error)
}

// AddAliasRequest 是登记样本别名的参数，日期为 YYYY-MM-DD 格式。
type AddAliasRequest struct {
	Name             string  `json:"name" binding:"required"`
	FastqPrefix      *string `json:"fastqPrefix"`
	Country          *string `json:"country"`
	SamplingDateFrom string  `json:"samplingDateFrom"`
	SamplingDateTo   string  `json:"samplingDateTo"`
}

// AddMICTestRequest 是登记 MIC 测试的参数。
type AddMICTestRequest struct {
	DrugID     uint     `json:"drugId" binding:"required"`
	Plate      string   `json:"plate" binding:"required"`
	RangeLower *float64 `json:"rangeLower"`
	RangeUpper *float64 `json:"rangeUpper"`
}

// AddPDSTestRequest 是登记 PDS 测试的参数。
type AddPDSTestRequest struct {
	DrugID        *uint    `json:"drugId"`
	Concentration *float64 `json:"concentration"`
	TestResult    *string  `json:"testResult"`
}

// AttachFileRequest 描述一个已经上传到对象存储的测序文件。
type AttachFileRequest struct {
	ObjectName string `json:"objectName" binding:"required"`
	Filename   string `json:"filename" binding:"required"`
	Algorithm  string `json:"algorithm"`
	Hash       string `json:"hash" binding:"required"`
}

// IntakeService 接口定义了包内容的录入操作，每次修改后都会触发 mark_changed。
type IntakeService interface {
	AddAlias(ctx context.Context, user *model.User, packageID uint, req AddAliasRequest) (*model.SampleAlias, error)
	RenameAlias(ctx context.Context, user *model.User, packageID, aliasID uint, name string) (*model.SampleAlias, error)
	AddMICTest(ctx context.Context, user *model.User, packageID, aliasID uint, req AddMICTestRequest) (*model.MICTest, error)
	AddPDSTest(ctx context.Context, user *model.User, packageID, aliasID uint, req AddPDSTestRequest) (*model.PDSTest, error)
	AttachSequencingFile(ctx context.Context, user *model.User, packageID uint, req AttachFileRequest) (*model.SequencingFileLink, error)
	DetachSequencingFile(ctx context.Context, user *model.User, packageID, linkID uint) error
	DownloadURL(ctx context.Context, user *model.User, packageID, linkID uint) (string, error)
}

type intakeService struct {
	db        *gorm.DB
	store     ObjectStore
	publisher EventPublisher
	expiry    time.Duration
}

// NewIntakeService 创建一个新的 IntakeService 实例。
func NewIntakeService(db *gorm.DB, store ObjectStore, publisher EventPublisher, presignExpiry time.Duration) IntakeService {
	return &intakeService{
		db:        db,
		store:     store,
		publisher: publisher,
		expiry:    presignExpiry,
	}
}

func (s *intakeService) AddAlias(ctx context.Context, user *model.User, packageID uint, req AddAliasRequest) (*model.SampleAlias, error) {
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return nil, fmt.Errorf("%w: alias name is required", ErrInvalidInput)
	}
	dates, err := model.NewDateRange(req.SamplingDateFrom, req.SamplingDateTo)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	alias := &model.SampleAlias{
		PackageID:    packageID,
		Name:         name,
		Origin:       model.AliasOriginTBKB,
		Verdicts:     model.VerdictLog{},
		SamplingDate: dates,
	}
	if req.FastqPrefix != nil {
		if prefix := strings.TrimSpace(*req.FastqPrefix); prefix != "" {
			alias.FastqPrefix = &prefix
		}
	}
	if req.Country != nil {
		country := strings.ToUpper(strings.TrimSpace(*req.Country))
		if len(country) != 3 {
			return nil, fmt.Errorf("%w: country must be an ISO 3166 alpha-3 code", ErrInvalidInput)
		}
		alias.Country = &country
	}

	err = s.edit(ctx, user, packageID, func(tx *gorm.DB, pkg *model.Package) error {
		aliases := repository.NewSampleAliasRepository(tx)
		if err := checkAliasUnique(aliases, packageID, 0, alias.Name, alias.FastqPrefix); err != nil {
			return err
		}
		return aliases.Create(alias)
	})
	if err != nil {
		return nil, err
	}
	log.Infof("[AddAlias] 包 %d 新增别名 %s", packageID, alias.Name)
	return alias, nil
}

func (s *intakeService) RenameAlias(ctx context.Context, user *model.User, packageID, aliasID uint, name string) (*model.SampleAlias, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, fmt.Errorf("%w: alias name is required", ErrInvalidInput)
	}
	var alias *model.SampleAlias
	err := s.edit(ctx, user, packageID, func(tx *gorm.DB, pkg *model.Package) error {
		aliases := repository.NewSampleAliasRepository(tx)
		var err error
		if alias, err = findAlias(aliases, packageID, aliasID); err != nil {
			return err
		}
		if err := checkAliasUnique(aliases, packageID, alias.ID, name, nil); err != nil {
			return err
		}
		alias.Name = name
		return aliases.Rename(alias)
	})
	if err != nil {
		return nil, err
	}
	return alias, nil
}

// checkAliasUnique 校验包内别名名称和 FASTQ 前缀不区分大小写唯一，excludeID 为被修改的别名本身。
func checkAliasUnique(aliases repository.SampleAliasRepository, packageID, excludeID uint, name string, prefix *string) error {
	taken, err := aliases.NameTaken(packageID, name, excludeID)
	if err != nil {
		return err
	}
	if taken {
		return fmt.Errorf("%w: name %q", ErrDuplicateAlias, name)
	}
	if prefix == nil {
		return nil
	}
	if taken, err = aliases.PrefixTaken(packageID, *prefix, excludeID); err != nil {
		return err
	}
	if taken {
		return fmt.Errorf("%w: fastq prefix %q", ErrDuplicateAlias, *prefix)
	}
	return nil
}

func (s *intakeService) AddMICTest(ctx context.Context, user *model.User, packageID, aliasID uint, req AddMICTestRequest) (*model.MICTest, error) {
	if req.RangeLower != nil && req.RangeUpper != nil && *req.RangeUpper < *req.RangeLower {
		return nil, fmt.Errorf("%w: MIC range upper bound is below lower bound", ErrInvalidInput)
	}
	test := &model.MICTest{
		PackageID:     packageID,
		SampleAliasID: aliasID,
		DrugID:        req.DrugID,
		Plate:         strings.TrimSpace(req.Plate),
		RangeLower:    req.RangeLower,
		RangeUpper:    req.RangeUpper,
	}
	err := s.edit(ctx, user, packageID, func(tx *gorm.DB, pkg *model.Package) error {
		alias, err := findAlias(repository.NewSampleAliasRepository(tx), packageID, aliasID)
		if err != nil {
			return err
		}
		test.SampleID = alias.SampleID
		return repository.NewSusceptibilityRepository(tx).CreateMIC(test)
	})
	if err != nil {
		return nil, err
	}
	return test, nil
}

func (s *intakeService) AddPDSTest(ctx context.Context, user *model.User, packageID, aliasID uint, req AddPDSTestRequest) (*model.PDSTest, error) {
	if req.TestResult != nil {
		switch strings.ToUpper(*req.TestResult) {
		case "S", "R", "I":
			result := strings.ToUpper(*req.TestResult)
			req.TestResult = &result
		default:
			return nil, fmt.Errorf("%w: PDS test result must be one of S, R, I", ErrInvalidInput)
		}
	}
	test := &model.PDSTest{
		PackageID:     packageID,
		SampleAliasID: aliasID,
		DrugID:        req.DrugID,
		Concentration: req.Concentration,
		TestResult:    req.TestResult,
	}
	err := s.edit(ctx, user, packageID, func(tx *gorm.DB, pkg *model.Package) error {
		alias, err := findAlias(repository.NewSampleAliasRepository(tx), packageID, aliasID)
		if err != nil {
			return err
		}
		test.SampleID = alias.SampleID
		return repository.NewSusceptibilityRepository(tx).CreatePDS(test)
	})
	if err != nil {
		return nil, err
	}
	return test, nil
}

// AttachSequencingFile 把一个上传的文件关联到包。哈希已登记的文件直接复用，
// 否则确认对象存储中存在该对象后登记为新文件。
func (s *intakeService) AttachSequencingFile(ctx context.Context, user *model.User, packageID uint, req AttachFileRequest) (*model.SequencingFileLink, error) {
	algorithm := strings.ToLower(strings.TrimSpace(req.Algorithm))
	if algorithm == "" {
		algorithm = DefaultHashAlgorithm
	}
	value := strings.ToLower(strings.TrimSpace(req.Hash))
	filename := strings.TrimSpace(req.Filename)
	if value == "" || filename == "" {
		return nil, fmt.Errorf("%w: filename and hash are required", ErrInvalidInput)
	}

	var link *model.SequencingFileLink
	err := s.edit(ctx, user, packageID, func(tx *gorm.DB, pkg *model.Package) error {
		files := repository.NewSequencingRepository(tx)
		hash, err := files.FindHash(algorithm, value)
		if err != nil {
			return err
		}
		if hash == nil {
			size, exists, err := s.store.Stat(ctx, req.ObjectName)
			if err != nil {
				return err
			}
			if !exists {
				return ErrObjectMissing
			}
			path := req.ObjectName
			file := &model.SequencingFile{
				FilePath:     &path,
				FileSize:     &size,
				DataLocation: model.DataLocationTBKB,
			}
			hash = &model.SequencingFileHash{Algorithm: algorithm, Value: value}
			if err := files.CreateFile(file, hash); err != nil {
				return err
			}
			log.Infof("[AttachSequencingFile] 登记新测序文件: id=%d, path=%s", file.ID, path)
		} else {
			log.Infof("[AttachSequencingFile] 哈希 %s:%s 已登记，复用文件 %d", algorithm, value, hash.SequencingFileID)
		}

		exists, err := files.LinkExists(packageID, hash.SequencingFileID, hash.ID)
		if err != nil {
			return err
		}
		if exists {
			return ErrFileAlreadyAttached
		}
		link = &model.SequencingFileLink{
			PackageID:            packageID,
			SequencingFileID:     hash.SequencingFileID,
			SequencingFileHashID: hash.ID,
			Filename:             filename,
			Verdicts:             model.VerdictLog{},
		}
		return files.CreateLink(link)
	})
	if err != nil {
		return nil, err
	}
	return link, nil
}

func (s *intakeService) DetachSequencingFile(ctx context.Context, user *model.User, packageID, linkID uint) error {
	return s.edit(ctx, user, packageID, func(tx *gorm.DB, pkg *model.Package) error {
		files := repository.NewSequencingRepository(tx)
		link, err := findLink(files, packageID, linkID)
		if err != nil {
			return err
		}
		return files.DeleteLink(link)
	})
}

// DownloadURL 为包内的测序文件生成一个临时下载地址。
func (s *intakeService) DownloadURL(ctx context.Context, user *model.User, packageID, linkID uint) (string, error) {
	db := s.db.WithContext(ctx)
	pkg, err := findPackage(db, packageID)
	if err != nil {
		return "", err
	}
	if !canView(user, pkg) {
		return "", ErrForbidden
	}
	link, err := findLink(repository.NewSequencingRepository(db), packageID, linkID)
	if err != nil {
		return "", err
	}
	if link.SequencingFile == nil || link.SequencingFile.FilePath == nil || link.SequencingFile.IsFromNCBI() {
		return "", ErrFileNotStored
	}
	return s.store.PresignedGetURL(ctx, *link.SequencingFile.FilePath, link.Filename, s.expiry)
}

// edit 在事务中修改一个可编辑的包，随后执行 mark_changed，事件在提交后发布。
func (s *intakeService) edit(ctx context.Context, user *model.User, packageID uint, fn func(tx *gorm.DB, pkg *model.Package) error) error {
	var event *events.PackageEvent
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		pkg, err := findPackage(tx, packageID)
		if err != nil {
			return err
		}
		if !canEdit(user, pkg) {
			return ErrForbidden
		}
		if !pkg.IsEditable() {
			return ErrPackageNotEditable
		}
		if err := fn(tx, pkg); err != nil {
			return err
		}
		event, err = markChanged(tx, pkg, time.Now())
		return err
	})
	if err != nil {
		return err
	}
	if event != nil {
		publish(ctx, s.publisher, *event)
	}
	return nil
}

func findAlias(aliases repository.SampleAliasRepository, packageID, aliasID uint) (*model.SampleAlias, error) {
	alias, err := aliases.FindByID(packageID, aliasID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrAliasNotFound
	}
	return alias, err
}

func findLink(files repository.SequencingRepository, packageID, linkID uint) (*model.SequencingFileLink, error) {
	link, err := files.FindLink(packageID, linkID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrLinkNotFound
	}
	return link, err
}
