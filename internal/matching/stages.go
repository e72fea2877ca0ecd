package matching

import (
	"fmt"
	"regexp"
	"strings"

	"tbkb-submission-go/internal/model"
)

// PrefixDelimiter 分隔上传文件名中的前缀部分。
const PrefixDelimiter = "_"

// 诊断信息文本
const (
	msgExternalIDNotAvailable = "Detected NCBI ID is not yet available, re-match later"
	msgNoFilesForPrefix       = "No FASTQ files with such prefix provided"
	msgWrongFileCount         = "Wrong FASTQ files count for a prefix: %d"
	msgAliasDifferentSamples  = "Some of FASTQ files with such prefix point to different samples"
	msgFilesDifferentSamples  = "Some of files with same prefix point to different samples"
	msgUsedInMatching         = "was used in matching"
	msgNotUsedInMatching      = "was not used in matching"
)

// groupSizes 是一个前缀组允许的文件数量。
var groupSizes = map[int]bool{2: true, 4: true, 6: true}

// externalPackageOrigins 是外部同步创建的包的来源（比较时统一转为大写）。
var externalPackageOrigins = []string{model.PackageOriginNCBI, model.PackageOriginSRA}

var (
	biosamplePattern   = regexp.MustCompile(`(?i)^SAM(N|EA)\d+$`)
	srsPattern         = regexp.MustCompile(`(?i)^[ES]RS\d+$`)
	libraryNamePattern = regexp.MustCompile(`(?i)^[SED]RR\d+$`)
)

// Stage 是匹配流水线中的一个阶段。
// Applies 决定别名是否进入本阶段，Resolve 只做查询并给出结论，不修改任何数据。
type Stage struct {
	Name    string
	Applies func(alias *model.SampleAlias) bool
	Resolve func(r *run, alias *model.SampleAlias) (Outcome, error)
}

// DefaultStages 返回按固定顺序执行的匹配阶段。
func DefaultStages() []Stage {
	return []Stage{
		{Name: "pattern", Applies: unresolved, Resolve: resolveByPattern},
		{Name: "name", Applies: unresolved, Resolve: resolveByName},
		{
			Name:    "prefix",
			Applies: func(a *model.SampleAlias) bool { return unresolved(a) && a.HasPrefix() },
			Resolve: func(r *run, a *model.SampleAlias) (Outcome, error) { return resolveByPrefix(r, a, *a.FastqPrefix) },
		},
		{
			Name:    "prefix_fallback",
			Applies: func(a *model.SampleAlias) bool { return unresolved(a) && !a.HasPrefix() },
			Resolve: func(r *run, a *model.SampleAlias) (Outcome, error) { return resolveByPrefix(r, a, a.Name) },
		},
	}
}

func unresolved(alias *model.SampleAlias) bool {
	return !alias.IsResolved()
}

// resolveByPattern 处理名称符合外部数据库编号格式的别名。
// 格式匹配但还没有对应样本时直接标记为 NO_MATCH。
func resolveByPattern(r *run, alias *model.SampleAlias) (Outcome, error) {
	patterns := []struct {
		pattern *regexp.Regexp
		lookup  func(name string) (*model.Sample, error)
	}{
		{biosamplePattern, func(name string) (*model.Sample, error) {
			return r.samples.FindLatestByAliasOrigin(model.AliasOriginBioSample, name)
		}},
		{srsPattern, func(name string) (*model.Sample, error) {
			return r.samples.FindLatestByAliasOrigin(model.AliasOriginSRS, name)
		}},
		{libraryNamePattern, r.samples.FindLatestByLibraryName},
	}

	for _, p := range patterns {
		if !p.pattern.MatchString(alias.Name) {
			continue
		}
		sample, err := p.lookup(alias.Name)
		if err != nil {
			return Outcome{}, err
		}
		if sample == nil {
			return rejected(verdict(msgExternalIDNotAvailable, model.VerdictLevelError)), nil
		}
		return resolved(sample.ID, model.MatchSourceNCBI), nil
	}
	return deferred(), nil
}

// resolveByName 按名称依次在外部同步的别名、测序文件 library_name、
// 同一用户已通过审核的别名中查找样本，第一个有结果的来源生效。
func resolveByName(r *run, alias *model.SampleAlias) (Outcome, error) {
	lookups := []struct {
		source model.MatchSource
		lookup func() (*model.Sample, error)
	}{
		{model.MatchSourceNCBI, func() (*model.Sample, error) {
			return r.samples.FindLatestByPackageOrigin(externalPackageOrigins, alias.Name)
		}},
		{model.MatchSourceFastqExisting, func() (*model.Sample, error) {
			return r.samples.FindLatestByLibraryName(alias.Name)
		}},
		{model.MatchSourceUserAlias, func() (*model.Sample, error) {
			if r.pkg.OwnerID == nil {
				return nil, nil
			}
			return r.samples.FindLatestByOwnerAccepted(*r.pkg.OwnerID, alias.Name)
		}},
	}

	for _, l := range lookups {
		sample, err := l.lookup()
		if err != nil {
			return Outcome{}, err
		}
		if sample != nil {
			return resolved(sample.ID, l.source), nil
		}
	}
	return deferred(), nil
}

// resolveByPrefix 按上传文件名前缀查找文件组，并校验组内文件数量和样本一致性。
func resolveByPrefix(r *run, alias *model.SampleAlias, prefix string) (Outcome, error) {
	group := r.group(prefix)
	if len(group) == 0 {
		return deferred(verdict(msgNoFilesForPrefix, model.VerdictLevelWarning)), nil
	}

	if !groupSizes[len(group)] {
		msg := fmt.Sprintf(msgWrongFileCount, len(group))
		return deferred(verdict(msg, model.VerdictLevelError)).
			withGroup(group, verdict(msg, model.VerdictLevelError)), nil
	}

	if len(distinctSamples(group)) > 1 {
		return rejected(verdict(msgAliasDifferentSamples, model.VerdictLevelError)).
			withGroup(group, verdict(msgFilesDifferentSamples, model.VerdictLevelError)), nil
	}

	used := verdict(msgUsedInMatching, model.VerdictLevelInfo)
	for _, link := range group {
		file := link.SequencingFile
		if file.SampleID == nil {
			continue
		}
		source := model.MatchSourceFastqUploaded
		if file.IsFromNCBI() {
			source = model.MatchSourceNCBIFastq
		}
		return resolved(*file.SampleID, source).withGroup(group, used), nil
	}

	out := Outcome{Kind: Resolved, CreateSample: true, Source: model.MatchSourceFastqUploadedNewSample}
	return out.withGroup(group, used), nil
}

// group 返回包内上传文件名以 prefix + 分隔符开头（不区分大小写）的文件关联，保持创建顺序。
func (r *run) group(prefix string) []*model.SequencingFileLink {
	needle := strings.ToLower(prefix + PrefixDelimiter)
	var group []*model.SequencingFileLink
	for _, link := range r.links {
		if strings.HasPrefix(strings.ToLower(link.Filename), needle) {
			group = append(group, link)
		}
	}
	return group
}

// distinctSamples 返回组内文件已关联的不同样本，没有样本的文件不计入。
func distinctSamples(group []*model.SequencingFileLink) []uint {
	seen := make(map[uint]bool)
	var ids []uint
	for _, link := range group {
		if id := link.SequencingFile.SampleID; id != nil && !seen[*id] {
			seen[*id] = true
			ids = append(ids, *id)
		}
	}
	return ids
}
