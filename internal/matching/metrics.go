package matching

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// matchRunsTotal 按结果统计匹配运行次数。
	matchRunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tbkb_match_runs_total",
			Help: "Number of package match runs by result",
		},
		[]string{"result"},
	)

	matchRunDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "tbkb_match_run_duration_seconds",
			Help:    "Duration of package match runs in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	// aliasOutcomesTotal 按匹配来源统计别名的最终结果。
	aliasOutcomesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tbkb_match_alias_outcomes_total",
			Help: "Number of sample aliases by final match source",
		},
		[]string{"match_source"},
	)
)
