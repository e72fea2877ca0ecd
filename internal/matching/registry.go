package matching

import (
	"tbkb-submission-go/internal/model"
	"tbkb-submission-go/internal/repository"
	"tbkb-submission-go/pkg/log"
)

// SampleRegistry 负责在匹配过程中创建样本，并把样本关联到别名和测序文件。
type SampleRegistry struct {
	defaultTaxonID int64
}

// NewSampleRegistry 创建一个 SampleRegistry，defaultTaxonID 用于未指定物种的包。
func NewSampleRegistry(defaultTaxonID int64) *SampleRegistry {
	return &SampleRegistry{defaultTaxonID: defaultTaxonID}
}

// CreateFromAlias 使用别名采集的国家和采样日期新建一个样本，样本归属于当前包。
func (r *SampleRegistry) CreateFromAlias(samples repository.SampleRepository, pkg *model.Package, alias *model.SampleAlias) (*model.Sample, error) {
	taxonID := r.defaultTaxonID
	if pkg.NCBITaxonID != nil {
		taxonID = *pkg.NCBITaxonID
	}
	packageID := pkg.ID
	sample := &model.Sample{
		NCBITaxonID:  taxonID,
		Country:      alias.Country,
		SamplingDate: alias.SamplingDate,
		PackageID:    &packageID,
	}
	if err := samples.Create(sample); err != nil {
		return nil, err
	}
	return sample, nil
}

// AttachAlias 把样本关联到别名，重复关联同一个样本没有副作用。
func (r *SampleRegistry) AttachAlias(alias *model.SampleAlias, sampleID uint, source model.MatchSource) {
	alias.SampleID = &sampleID
	alias.MatchSource = &source
}

// AttachFile 只在文件还没有样本时关联样本，已有样本的文件保持不变。
// 返回文件最终是否指向 sampleID。
func (r *SampleRegistry) AttachFile(files repository.SequencingRepository, file *model.SequencingFile, sampleID uint) (bool, error) {
	if file.SampleID != nil {
		return *file.SampleID == sampleID, nil
	}
	ok, err := files.AttachSample(file.ID, sampleID)
	if err != nil {
		return false, err
	}
	if ok {
		file.SampleID = &sampleID
		return true, nil
	}
	// 文件已被其它包的匹配抢先关联
	current, err := files.FindFileByID(file.ID)
	if err != nil {
		return false, err
	}
	file.SampleID = current.SampleID
	log.Warnw("sequencing file already claimed by another sample",
		"fileId", file.ID, "sampleId", sampleID, "currentSampleId", current.SampleID)
	return current.SampleID != nil && *current.SampleID == sampleID, nil
}
