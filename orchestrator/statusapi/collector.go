package statusapi

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/tradingstrategy-ai/vaultscan/orchestrator"
)

// collector adapts a Dashboard snapshot into Prometheus metrics at scrape
// time, rather than maintaining its own gauges updated from the worker
// side — the dashboard is already the single source of truth and is cheap
// to read.
type collector struct {
	dashboard *orchestrator.Dashboard

	discovered *prometheus.Desc
	rejected   *prometheus.Desc
	read       *prometheus.Desc
	failed     *prometheus.Desc
	paused     *prometheus.Desc
	cursor     *prometheus.Desc
}

func newCollector(dashboard *orchestrator.Dashboard) *collector {
	labels := []string{"chain_id"}
	return &collector{
		dashboard:  dashboard,
		discovered: prometheus.NewDesc("vaultscan_vaults_discovered_total", "Vaults discovered per chain.", labels, nil),
		rejected:   prometheus.NewDesc("vaultscan_vaults_rejected_total", "Vaults rejected per chain.", labels, nil),
		read:       prometheus.NewDesc("vaultscan_vaults_read_total", "Successful historical reads per chain.", labels, nil),
		failed:     prometheus.NewDesc("vaultscan_vaults_failed_total", "Vaults whose read retries were exhausted.", labels, nil),
		paused:     prometheus.NewDesc("vaultscan_chain_paused", "1 if the chain is currently paused on a transport failure.", labels, nil),
		cursor:     prometheus.NewDesc("vaultscan_chain_cursor_block", "Last block the chain's discovery cursor advanced to.", labels, nil),
	}
}

func (c *collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.discovered
	ch <- c.rejected
	ch <- c.read
	ch <- c.failed
	ch <- c.paused
	ch <- c.cursor
}

func (c *collector) Collect(ch chan<- prometheus.Metric) {
	for id, p := range c.dashboard.Snapshot() {
		label := strconv.FormatUint(uint64(id), 10)
		ch <- prometheus.MustNewConstMetric(c.discovered, prometheus.CounterValue, float64(p.VaultsDiscovered), label)
		ch <- prometheus.MustNewConstMetric(c.rejected, prometheus.CounterValue, float64(p.VaultsRejected), label)
		ch <- prometheus.MustNewConstMetric(c.read, prometheus.CounterValue, float64(p.VaultsRead), label)
		ch <- prometheus.MustNewConstMetric(c.failed, prometheus.CounterValue, float64(p.VaultsFailed), label)
		pausedVal := 0.0
		if p.Paused {
			pausedVal = 1.0
		}
		ch <- prometheus.MustNewConstMetric(c.paused, prometheus.GaugeValue, pausedVal, label)
		ch <- prometheus.MustNewConstMetric(c.cursor, prometheus.GaugeValue, float64(p.CursorBlock), label)
	}
}
