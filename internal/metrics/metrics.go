// Package metrics provides daemon-wide request/error/denial counters,
// mirroring every increment into the Prometheus collectors registered
// by AttachPrometheus so the same call site feeds both an in-process
// snapshot and the exporter.
package metrics

import (
	"sync/atomic"
	"time"
)

// Collector holds daemon metrics.
type Collector struct {
	requestsTotal   atomic.Int64
	errorsTotal     atomic.Int64
	deniedTotal     atomic.Int64
	clientsActive   atomic.Int64
	lastRequestUnix atomic.Int64

	prom *PrometheusCollectors
}

// Default is the daemon-wide collector package-level callers use.
var Default = NewCollector()

// NewCollector creates a new metrics collector with no Prometheus
// export attached.
func NewCollector() *Collector {
	return &Collector{}
}

// AttachPrometheus registers this collector's counters/gauges under
// namespace and begins mirroring every increment into them.
func (m *Collector) AttachPrometheus(namespace string) {
	m.prom = InitPrometheus(namespace)
}

// IncrementRequests records one dispatched request.
func (m *Collector) IncrementRequests() {
	m.requestsTotal.Add(1)
	now := time.Now().Unix()
	m.lastRequestUnix.Store(now)
	if m.prom != nil {
		m.prom.RequestsTotal.Inc()
		m.prom.LastRequestUnix.Set(float64(now))
	}
}

// IncrementErrors records one request that failed for a reason other
// than an authorization denial (unknown message kind, or a request
// answered with status -1 by a façade/storage failure or a rejected
// label change).
func (m *Collector) IncrementErrors() {
	m.errorsTotal.Add(1)
	if m.prom != nil {
		m.prom.ErrorsTotal.Inc()
	}
}

// IncrementDenied records one request rejected by the authorization
// bridge.
func (m *Collector) IncrementDenied() {
	m.deniedTotal.Add(1)
	if m.prom != nil {
		m.prom.DeniedTotal.Inc()
	}
}

// IncrementClients records a newly accepted client connection.
func (m *Collector) IncrementClients() {
	m.clientsActive.Add(1)
	if m.prom != nil {
		m.prom.ClientsActive.Inc()
	}
}

// DecrementClients records a closed client connection.
func (m *Collector) DecrementClients() {
	m.clientsActive.Add(-1)
	if m.prom != nil {
		m.prom.ClientsActive.Dec()
	}
}

// SetQueueDepth reports the request queue's current length.
func (m *Collector) SetQueueDepth(n int) {
	if m.prom != nil {
		m.prom.QueueDepth.Set(float64(n))
	}
}

func (m *Collector) GetRequests() int64      { return m.requestsTotal.Load() }
func (m *Collector) GetErrors() int64        { return m.errorsTotal.Load() }
func (m *Collector) GetDenied() int64        { return m.deniedTotal.Load() }
func (m *Collector) GetClientsActive() int64 { return m.clientsActive.Load() }
func (m *Collector) GetLastRequest() time.Time {
	return time.Unix(m.lastRequestUnix.Load(), 0)
}

// Snapshot is a point-in-time view of the collector's counters.
type Snapshot struct {
	RequestsTotal int64     `json:"requests_total"`
	ErrorsTotal   int64     `json:"errors_total"`
	DeniedTotal   int64     `json:"denied_total"`
	ClientsActive int64     `json:"clients_active"`
	LastRequest   time.Time `json:"last_request"`
}

func (m *Collector) Snapshot() Snapshot {
	return Snapshot{
		RequestsTotal: m.GetRequests(),
		ErrorsTotal:   m.GetErrors(),
		DeniedTotal:   m.GetDenied(),
		ClientsActive: m.GetClientsActive(),
		LastRequest:   m.GetLastRequest(),
	}
}

// Reset zeroes every counter. Used by tests.
func (m *Collector) Reset() {
	m.requestsTotal.Store(0)
	m.errorsTotal.Store(0)
	m.deniedTotal.Store(0)
	m.clientsActive.Store(0)
	m.lastRequestUnix.Store(0)
}

func IncrementRequests()         { Default.IncrementRequests() }
func IncrementErrors()           { Default.IncrementErrors() }
func IncrementDenied()           { Default.IncrementDenied() }
func IncrementClients()          { Default.IncrementClients() }
func DecrementClients()          { Default.DecrementClients() }
func SetQueueDepth(n int)        { Default.SetQueueDepth(n) }
func AttachPrometheus(ns string) { Default.AttachPrometheus(ns) }
