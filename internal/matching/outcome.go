package matching

import "tbkb-submission-go/internal/model"

// Kind 是一个阶段对单个别名给出的结论类型。
type Kind int

const (
	// Deferred 本阶段没有结论，别名留给后续阶段处理。
	Deferred Kind = iota
	// Resolved 别名匹配到了样本。
	Resolved
	// Rejected 别名被明确标记为 NO_MATCH，后续阶段不再处理。
	Rejected
)

func (k Kind) String() string {
	switch k {
	case Resolved:
		return "resolved"
	case Rejected:
		return "rejected"
	default:
		return "deferred"
	}
}

// Outcome 描述一个阶段对单个别名的处理结果，由引擎统一落地。
type Outcome struct {
	Kind Kind
	// SampleID 是匹配到的已有样本，CreateSample 为 true 时忽略。
	SampleID     uint
	CreateSample bool
	Source       model.MatchSource
	// AliasVerdicts 追加到别名上的诊断信息，任何 Kind 都可以带。
	AliasVerdicts []model.Verdict
	// Group 是本次处理涉及的文件前缀组，GroupVerdict 会追加到组内每个文件上。
	Group        []*model.SequencingFileLink
	GroupVerdict *model.Verdict
}

func deferred(verdicts ...model.Verdict) Outcome {
	return Outcome{Kind: Deferred, AliasVerdicts: verdicts}
}

func resolved(sampleID uint, source model.MatchSource) Outcome {
	return Outcome{Kind: Resolved, SampleID: sampleID, Source: source}
}

func rejected(verdicts ...model.Verdict) Outcome {
	return Outcome{Kind: Rejected, AliasVerdicts: verdicts}
}

func verdict(message string, level model.VerdictLevel) model.Verdict {
	return model.Verdict{Verdict: message, Level: level}
}

// withGroup 给结论附加一个文件组和组内统一的诊断信息。
func (o Outcome) withGroup(group []*model.SequencingFileLink, v model.Verdict) Outcome {
	o.Group = group
	o.GroupVerdict = &v
	return o
}
