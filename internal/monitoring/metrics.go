// Package monitoring 定义对账运行的 Prometheus 指标。
//
// 工具以批处理方式运行后即退出，指标通过 Pushgateway 推送
// 而不是暴露抓取端点。
package monitoring

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/push"
)

// Metrics 汇集一次对账运行的全部指标。
type Metrics struct {
	registry *prometheus.Registry

	// 枚举与历史指标
	ObservationsTotal prometheus.Gauge
	StoreSize         prometheus.Gauge

	// 异常指标
	NewRecords       prometheus.Gauge
	DuplicateRecords prometheus.Gauge

	// 处置指标
	IdentitiesRemediated prometheus.Gauge
	RemediationFailures  prometheus.Gauge
	RemediationOverflow  prometheus.Gauge

	// 运行指标
	RunDuration prometheus.Gauge
	RunSuccess  prometheus.Gauge
	LastRunTime prometheus.Gauge
}

// NewMetrics 创建指标集合，注册在私有 registry 上，
// 避免与默认 registry 里的进程指标混在一起被推走。
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()
	m := &Metrics{
		registry: registry,
		ObservationsTotal: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "forwardwatch_observations_total",
			Help: "Forwarding observations produced by the last enumeration",
		}),
		StoreSize: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "forwardwatch_store_records",
			Help: "Records in the forwarding history after merge",
		}),
		NewRecords: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "forwardwatch_new_records",
			Help: "Records first seen within the lookback window",
		}),
		DuplicateRecords: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "forwardwatch_duplicate_records",
			Help: "Active records whose forwarding address collides with another record",
		}),
		IdentitiesRemediated: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "forwardwatch_identities_remediated",
			Help: "Identities fully remediated in the last run",
		}),
		RemediationFailures: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "forwardwatch_remediation_failures",
			Help: "Identities with at least one failed remediation step",
		}),
		RemediationOverflow: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "forwardwatch_remediation_overflow",
			Help: "Duplicate candidates left untouched because of the per-run cap",
		}),
		RunDuration: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "forwardwatch_run_duration_seconds",
			Help: "Wall-clock duration of the last reconciliation run",
		}),
		RunSuccess: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "forwardwatch_run_success",
			Help: "1 if the last run completed, 0 otherwise",
		}),
		LastRunTime: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "forwardwatch_last_run_timestamp_seconds",
			Help: "Unix time of the last run start",
		}),
	}
	registry.MustRegister(
		m.ObservationsTotal, m.StoreSize,
		m.NewRecords, m.DuplicateRecords,
		m.IdentitiesRemediated, m.RemediationFailures, m.RemediationOverflow,
		m.RunDuration, m.RunSuccess, m.LastRunTime,
	)
	return m
}

// RecordRun 把一次运行的汇总写入指标。
func (m *Metrics) RecordRun(observed, storeSize, newRecords, duplicates, remediated, failures, overflow int, duration time.Duration, success bool) {
	m.ObservationsTotal.Set(float64(observed))
	m.StoreSize.Set(float64(storeSize))
	m.NewRecords.Set(float64(newRecords))
	m.DuplicateRecords.Set(float64(duplicates))
	m.IdentitiesRemediated.Set(float64(remediated))
	m.RemediationFailures.Set(float64(failures))
	m.RemediationOverflow.Set(float64(overflow))
	m.RunDuration.Set(duration.Seconds())
	m.LastRunTime.Set(float64(time.Now().Unix()))
	if success {
		m.RunSuccess.Set(1)
	} else {
		m.RunSuccess.Set(0)
	}
}

// Push 把指标推送到 Pushgateway。url 为空时跳过。
func (m *Metrics) Push(url, job string) error {
	if url == "" {
		return nil
	}
	return push.New(url, job).Gatherer(m.registry).Push()
}
