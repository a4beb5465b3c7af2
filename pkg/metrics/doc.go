/*
Package metrics exposes Prometheus metrics for the job server.

Two kinds of instrumentation live here. Counters and histograms are
updated inline by the hot paths: requests by type and status, request
duration, workers spawned and reaped by outcome. Gauges that mirror
database state (jobs by status, total users) are refreshed by a polling
Collector, because the authoritative numbers live in the store and
several processes write to it.

	collector := metrics.NewCollector(store, 0) // 0 = default 15s
	collector.Start()
	defer collector.Stop()

	go metrics.Serve(":9090")

Serve mounts the standard promhttp handler at /metrics. The endpoint is
optional; when no metrics port is configured the inline counters still
tick, they just have no reader.
*/
package metrics
