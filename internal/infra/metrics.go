package infra

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics はマイグレーション関連のPrometheusメトリクス。
type Metrics struct {
	plansResolved     *prometheus.CounterVec
	plannedSchemas    prometheus.Histogram
	droppedEdges      prometheus.Counter
	migrationsApplied *prometheus.CounterVec
	migrationDuration *prometheus.HistogramVec
}

// NewPlanMetrics は計画解決のメトリクスのみを生成し、reg に登録する。
// マイグレーションを実行しないAPIサーバーで使う。
func NewPlanMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		plansResolved: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "schema_migration",
			Name:      "plans_resolved_total",
			Help:      "Number of migration plans resolved, by source.",
		}, []string{"source"}),
		plannedSchemas: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "schema_migration",
			Name:      "plan_schemas",
			Help:      "Number of schemas in a resolved plan.",
			Buckets:   []float64{1, 2, 3, 5, 10, 25, 50, 100},
		}),
		droppedEdges: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "schema_migration",
			Name:      "dropped_edges_total",
			Help:      "Dependency edges dropped because of a cycle in the topology.",
		}),
	}
	reg.MustRegister(m.plansResolved, m.plannedSchemas, m.droppedEdges)
	return m
}

// NewMetrics は計画解決とマイグレーション実行のメトリクスを生成し、reg に登録する。
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := NewPlanMetrics(reg)
	m.migrationsApplied = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "schema_migration",
		Name:      "migrations_applied_total",
		Help:      "Number of migration files applied, by schema type and result.",
	}, []string{"schema_type", "result"})
	m.migrationDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "schema_migration",
		Name:      "duration_seconds",
		Help:      "Time spent migrating one schema.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"schema_type"})
	reg.MustRegister(m.migrationsApplied, m.migrationDuration)
	return m
}

// ObservePlan は計画の解決を記録する。
func (m *Metrics) ObservePlan(source string, schemas, dropped int) {
	m.plansResolved.WithLabelValues(source).Inc()
	m.plannedSchemas.Observe(float64(schemas))
	m.droppedEdges.Add(float64(dropped))
}

// ObserveMigration は1スキーマ分のマイグレーション結果を記録する。
// NewPlanMetrics で生成した場合は何もしない。
func (m *Metrics) ObserveMigration(schemaType string, applied int, elapsed time.Duration, err error) {
	if m.migrationsApplied == nil {
		return
	}
	m.migrationsApplied.WithLabelValues(schemaType, "success").Add(float64(applied))
	if err != nil {
		m.migrationsApplied.WithLabelValues(schemaType, "failure").Inc()
	}
	m.migrationDuration.WithLabelValues(schemaType).Observe(elapsed.Seconds())
}
