package model

import (
	"encoding/json"
	"fmt"
	"time"
)

const dateFormat = "2006-01-02"

// DateRange 是一个闭区间日期范围，例如样本的采样日期。
// 任一端为空表示该端无界，两端都为空表示没有日期信息。
type DateRange struct {
	Lower *time.Time `json:"-"`
	Upper *time.Time `json:"-"`
}

// NewDateRange 根据 "YYYY-MM-DD" 格式的字符串构造日期范围，空字符串表示无界。
func NewDateRange(lower, upper string) (DateRange, error) {
	var r DateRange
	if lower != "" {
		t, err := time.Parse(dateFormat, lower)
		if err != nil {
			return r, fmt.Errorf("invalid lower date %q: %w", lower, err)
		}
		r.Lower = &t
	}
	if upper != "" {
		t, err := time.Parse(dateFormat, upper)
		if err != nil {
			return r, fmt.Errorf("invalid upper date %q: %w", upper, err)
		}
		r.Upper = &t
	}
	if r.Lower != nil && r.Upper != nil && r.Upper.Before(*r.Lower) {
		return DateRange{}, fmt.Errorf("date range upper bound %s is before lower bound %s", upper, lower)
	}
	return r, nil
}

// IsEmpty 判断日期范围是否没有任何信息。
func (r DateRange) IsEmpty() bool {
	return r.Lower == nil && r.Upper == nil
}

// Bounds 以 "YYYY-MM-DD" 字符串返回两端，无界的一端返回空字符串。
func (r DateRange) Bounds() (string, string) {
	var lower, upper string
	if r.Lower != nil {
		lower = r.Lower.Format(dateFormat)
	}
	if r.Upper != nil {
		upper = r.Upper.Format(dateFormat)
	}
	return lower, upper
}

// MarshalJSON 输出 ["2021-01-01","2021-12-31"]，空范围输出 null。
func (r DateRange) MarshalJSON() ([]byte, error) {
	if r.IsEmpty() {
		return []byte("null"), nil
	}
	lower, upper := r.Bounds()
	bounds := []*string{nil, nil}
	if lower != "" {
		bounds[0] = &lower
	}
	if upper != "" {
		bounds[1] = &upper
	}
	return json.Marshal(bounds)
}
