package service

import (
	"fmt"
	"time"

	"tbkb-submission-go/internal/model"
)

// Transition 是包生命周期上的一个操作。
type Transition string

const (
	TransitionSubmit      Transition = "submit"
	TransitionApprove     Transition = "approve"
	TransitionReject      Transition = "reject"
	TransitionMarkChanged Transition = "mark_changed"
)

// 生命周期错误码
const (
	CodeInvalidTransition = "INVALID_TRANSITION"
	CodeNotMatched        = "NOT_MATCHED"
)

// TransitionError 表示在当前状态下不允许执行某个生命周期操作。
type TransitionError struct {
	Code       string             `json:"code"`
	Transition Transition         `json:"transition"`
	From       model.PackageState `json:"from"`
	To         model.PackageState `json:"to,omitempty"`
	Message    string             `json:"message"`
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("%s: %s", e.Transition, e.Message)
}

// rule 描述一个操作允许的源状态和目标状态。from 为空表示任意状态。
type rule struct {
	from  []model.PackageState
	to    func(pkg *model.Package) model.PackageState
	guard func(pkg *model.Package) *TransitionError
}

func fixed(state model.PackageState) func(*model.Package) model.PackageState {
	return func(*model.Package) model.PackageState { return state }
}

var lifecycleRules = map[Transition]rule{
	TransitionSubmit: {
		from: model.EditableStates,
		to:   fixed(model.PackageStatePending),
		guard: func(pkg *model.Package) *TransitionError {
			if pkg.CanGoPending() {
				return nil
			}
			return &TransitionError{
				Code:       CodeNotMatched,
				Transition: TransitionSubmit,
				From:       pkg.State,
				Message:    fmt.Sprintf("package must be matched before submission, matching state is %s", pkg.MatchingState),
			}
		},
	},
	TransitionApprove: {
		from: []model.PackageState{model.PackageStatePending},
		to:   fixed(model.PackageStateAccepted),
	},
	TransitionReject: {
		from: []model.PackageState{model.PackageStatePending},
		to:   fixed(model.PackageStateRejected),
	},
	TransitionMarkChanged: {
		to: func(pkg *model.Package) model.PackageState {
			if pkg.State == model.PackageStateRejected {
				return model.PackageStateDraft
			}
			return pkg.State
		},
	},
}

// planTransition 在 pkg 上应用一次生命周期操作，返回应用前的状态。
// 状态真正发生变化时更新 StateChangedOn。pkg 只在内存中修改。
func planTransition(t Transition, pkg *model.Package, now time.Time) (model.PackageState, error) {
	r, ok := lifecycleRules[t]
	if !ok {
		return "", fmt.Errorf("unknown transition %q", t)
	}
	from := pkg.State
	if len(r.from) > 0 && !containsState(r.from, from) {
		return from, &TransitionError{
			Code:       CodeInvalidTransition,
			Transition: t,
			From:       from,
			Message:    fmt.Sprintf("cannot %s a package in state %s", t, from),
		}
	}
	if r.guard != nil {
		if err := r.guard(pkg); err != nil {
			return from, err
		}
	}

	to := r.to(pkg)
	if t == TransitionMarkChanged && pkg.MatchingState == model.MatchingStateMatched {
		pkg.MatchingState = model.MatchingStateChanged
	}
	if to != from {
		pkg.State = to
		pkg.StateChangedOn = now
	}
	return from, nil
}

func containsState(states []model.PackageState, s model.PackageState) bool {
	for _, v := range states {
		if v == s {
			return true
		}
	}
	return false
}
