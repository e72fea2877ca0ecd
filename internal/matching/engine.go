// Package matching 实现了包的匹配引擎：把包内的样本别名和上传的测序文件关联到规范化的样本。
package matching

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"gorm.io/gorm"
	"tbkb-submission-go/internal/model"
	"tbkb-submission-go/internal/repository"
	"tbkb-submission-go/pkg/log"
)

// ErrNoData 表示包内既没有别名也没有测序文件，匹配不会执行。
var ErrNoData = errors.New("package has no data")

// AliasResult 是单个别名在一次匹配后的状态。
type AliasResult struct {
	AliasID     uint              `json:"aliasId"`
	Name        string            `json:"name"`
	SampleID    *uint             `json:"sampleId"`
	MatchSource model.MatchSource `json:"matchSource"`
	Verdicts    model.VerdictLog  `json:"verdicts"`
}

// RecordError 是一次匹配中产生的 ERROR 级别诊断信息。
type RecordError struct {
	// Record 取值 alias 或 file
	Record  string `json:"record"`
	ID      uint   `json:"id"`
	Name    string `json:"name"`
	Message string `json:"message"`
}

// Report 汇总一次匹配的结果，记录级别的问题都以诊断信息的形式出现在这里。
type Report struct {
	PackageID      uint          `json:"packageId"`
	Resolved       []AliasResult `json:"resolved"`
	Unresolved     []AliasResult `json:"unresolved"`
	Errors         []RecordError `json:"errors"`
	SamplesCreated []uint        `json:"samplesCreated"`
	SamplesDeleted []uint        `json:"samplesDeleted"`
}

// Engine 按固定的阶段顺序对一个包执行匹配。
type Engine struct {
	registry *SampleRegistry
	stages   []Stage
}

// NewEngine 创建一个使用默认阶段的匹配引擎。
func NewEngine(registry *SampleRegistry) *Engine {
	return &Engine{registry: registry, stages: DefaultStages()}
}

// run 保存一次匹配过程中的全部状态，所有修改在结束时统一写回。
type run struct {
	pkg      *model.Package
	tx       *gorm.DB
	samples  repository.SampleRepository
	files    repository.SequencingRepository
	registry *SampleRegistry
	aliases  []*model.SampleAlias
	links    []*model.SequencingFileLink
	report   *Report
}

// Match 在给定的事务中对包执行一次完整的匹配：清除上次结果、依次执行各阶段、
// 把剩余的别名标记为 NO_MATCH，最后写回别名、文件关联和药敏测试。
// 调用方负责加锁和提交事务。
func (e *Engine) Match(tx *gorm.DB, pkg *model.Package) (report *Report, err error) {
	start := time.Now()
	defer func() {
		result := "ok"
		switch {
		case errors.Is(err, ErrNoData):
			result = "no_data"
		case err != nil:
			result = "error"
		}
		matchRunsTotal.WithLabelValues(result).Inc()
		matchRunDuration.Observe(time.Since(start).Seconds())
	}()

	aliasRepo := repository.NewSampleAliasRepository(tx)
	seqRepo := repository.NewSequencingRepository(tx)
	r := &run{
		pkg:      pkg,
		tx:       tx,
		samples:  repository.NewSampleRepository(tx),
		files:    seqRepo,
		registry: e.registry,
		report:   &Report{PackageID: pkg.ID},
	}

	aliasCnt, err := aliasRepo.CountByPackage(pkg.ID)
	if err != nil {
		return nil, err
	}
	linkCnt, err := seqRepo.CountLinksByPackage(pkg.ID)
	if err != nil {
		return nil, err
	}
	if aliasCnt == 0 && linkCnt == 0 {
		return nil, ErrNoData
	}

	if err := r.reset(); err != nil {
		return nil, fmt.Errorf("reset previous match: %w", err)
	}

	if r.aliases, err = aliasRepo.FindByPackage(pkg.ID); err != nil {
		return nil, err
	}
	if r.links, err = seqRepo.FindLinksByPackage(pkg.ID); err != nil {
		return nil, err
	}
	r.shareFiles()

	ordered := canonicalOrder(r.aliases)
	for _, stage := range e.stages {
		for _, alias := range ordered {
			if !stage.Applies(alias) {
				continue
			}
			out, err := stage.Resolve(r, alias)
			if err != nil {
				return nil, fmt.Errorf("stage %s, alias %d: %w", stage.Name, alias.ID, err)
			}
			if err := r.apply(alias, out); err != nil {
				return nil, fmt.Errorf("stage %s, alias %d: %w", stage.Name, alias.ID, err)
			}
		}
	}

	r.sweep()
	if err := r.flush(aliasRepo); err != nil {
		return nil, err
	}
	r.summarize()

	log.Infof("[Match] 包 %d 匹配完成: 已匹配 %d, 未匹配 %d, 错误 %d, 新建样本 %d",
		pkg.ID, len(r.report.Resolved), len(r.report.Unresolved), len(r.report.Errors), len(r.report.SamplesCreated))
	return r.report, nil
}

// reset 清除上一次匹配产生的全部结果。从未匹配过的包没有需要清除的数据。
func (r *run) reset() error {
	if r.pkg.MatchingState == model.MatchingStateNeverMatched {
		return nil
	}
	if err := repository.NewSampleAliasRepository(r.tx).ResetMatchByPackage(r.pkg.ID); err != nil {
		return err
	}
	if err := repository.NewSusceptibilityRepository(r.tx).ResetSampleByPackage(r.pkg.ID); err != nil {
		return err
	}
	if err := r.files.ResetLinkVerdictsByPackage(r.pkg.ID); err != nil {
		return err
	}
	deleted, err := r.samples.DeleteByPackage(r.pkg.ID)
	if err != nil {
		return err
	}
	if len(deleted) > 0 {
		log.Warnw("deleted samples created by previous match", "packageId", r.pkg.ID, "sampleIds", deleted)
	}
	r.report.SamplesDeleted = deleted
	return nil
}

// canonicalOrder 返回阶段内处理别名的固定顺序：有效前缀（FASTQ 前缀，没有时为名称）较长的先处理，
// 长度相同时按不区分大小写的名称排序。前缀组互相包含时，较具体的前缀先建立样本，
// 较短前缀的别名随后复用该样本，结果与别名的创建顺序无关。
func canonicalOrder(aliases []*model.SampleAlias) []*model.SampleAlias {
	ordered := make([]*model.SampleAlias, len(aliases))
	copy(ordered, aliases)
	sort.SliceStable(ordered, func(i, j int) bool {
		pi, pj := effectivePrefix(ordered[i]), effectivePrefix(ordered[j])
		if len(pi) != len(pj) {
			return len(pi) > len(pj)
		}
		ni, nj := strings.ToLower(ordered[i].Name), strings.ToLower(ordered[j].Name)
		if ni != nj {
			return ni < nj
		}
		return ordered[i].Name < ordered[j].Name
	})
	return ordered
}

func effectivePrefix(alias *model.SampleAlias) string {
	if alias.HasPrefix() {
		return *alias.FastqPrefix
	}
	return alias.Name
}

// shareFiles 让指向同一个测序文件的多个关联共用同一个文件对象，
// 这样一个组里写入的样本对其它组立即可见。
func (r *run) shareFiles() {
	files := make(map[uint]*model.SequencingFile)
	for _, link := range r.links {
		if link.SequencingFile == nil {
			link.SequencingFile = &model.SequencingFile{ID: link.SequencingFileID}
		}
		if shared, ok := files[link.SequencingFileID]; ok {
			link.SequencingFile = shared
			continue
		}
		files[link.SequencingFileID] = link.SequencingFile
	}
}

// apply 把一个阶段的结论落到别名、文件和样本上。
func (r *run) apply(alias *model.SampleAlias, out Outcome) error {
	for _, v := range out.AliasVerdicts {
		alias.Verdicts.Append(v.Verdict, v.Level)
	}

	switch out.Kind {
	case Rejected:
		noMatch := model.MatchSourceNoMatch
		alias.SampleID = nil
		alias.MatchSource = &noMatch
	case Resolved:
		sampleID := out.SampleID
		if out.CreateSample {
			sample, err := r.registry.CreateFromAlias(r.samples, r.pkg, alias)
			if err != nil {
				return err
			}
			sampleID = sample.ID
			r.report.SamplesCreated = append(r.report.SamplesCreated, sample.ID)
		}
		for _, link := range out.Group {
			if _, err := r.registry.AttachFile(r.files, link.SequencingFile, sampleID); err != nil {
				return err
			}
		}
		r.registry.AttachAlias(alias, sampleID, out.Source)
	}

	if out.GroupVerdict != nil {
		for _, link := range out.Group {
			link.Verdicts.Append(out.GroupVerdict.Verdict, out.GroupVerdict.Level)
		}
	}
	return nil
}

// sweep 把所有阶段都没有结论的别名标记为 NO_MATCH，并提示没有参与匹配的文件。
func (r *run) sweep() {
	for _, alias := range r.aliases {
		if !alias.IsResolved() {
			noMatch := model.MatchSourceNoMatch
			alias.MatchSource = &noMatch
		}
	}
	for _, link := range r.links {
		if link.Verdicts.Empty() {
			link.Verdicts.Append(msgNotUsedInMatching, model.VerdictLevelWarning)
		}
	}
}

// flush 写回别名和文件关联，并把别名的样本同步到它的 MIC/PDS 测试。
func (r *run) flush(aliasRepo repository.SampleAliasRepository) error {
	tests := repository.NewSusceptibilityRepository(r.tx)
	for _, alias := range r.aliases {
		if err := aliasRepo.SaveMatch(alias); err != nil {
			return err
		}
		if alias.SampleID != nil {
			if err := tests.AssignSample(alias.ID, alias.SampleID); err != nil {
				return err
			}
		}
	}
	for _, link := range r.links {
		if err := r.files.SaveLinkVerdicts(link); err != nil {
			return err
		}
	}
	return nil
}

func (r *run) summarize() {
	for _, alias := range r.aliases {
		res := AliasResult{
			AliasID:     alias.ID,
			Name:        alias.Name,
			SampleID:    alias.SampleID,
			MatchSource: *alias.MatchSource,
			Verdicts:    alias.Verdicts,
		}
		aliasOutcomesTotal.WithLabelValues(string(res.MatchSource)).Inc()
		if alias.SampleID != nil {
			r.report.Resolved = append(r.report.Resolved, res)
		} else {
			r.report.Unresolved = append(r.report.Unresolved, res)
		}
		for _, v := range alias.Verdicts {
			if v.Level == model.VerdictLevelError {
				r.report.Errors = append(r.report.Errors, RecordError{Record: "alias", ID: alias.ID, Name: alias.Name, Message: v.Verdict})
			}
		}
	}
	for _, link := range r.links {
		for _, v := range link.Verdicts {
			if v.Level == model.VerdictLevelError {
				r.report.Errors = append(r.report.Errors, RecordError{Record: "file", ID: link.ID, Name: link.Filename, Message: v.Verdict})
			}
		}
	}
}
