package dispatcher

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics counts what the dispatcher did. A nil *Metrics records nothing.
type Metrics struct {
	records   *prometheus.CounterVec
	commands  *prometheus.CounterVec
	responses *prometheus.CounterVec
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		records: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "lakebot",
			Subsystem: "dispatcher",
			Name:      "records_total",
			Help:      "Anomaly event records processed, by whether they mapped to a command.",
		}, []string{"result"}),
		commands: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "lakebot",
			Subsystem: "dispatcher",
			Name:      "commands_total",
			Help:      "Robot commands submitted to the device channel, by delivery outcome.",
		}, []string{"outcome"}),
		responses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "lakebot",
			Subsystem: "dispatcher",
			Name:      "responses_total",
			Help:      "HTTP responses, by status code.",
		}, []string{"code"}),
	}
	reg.MustRegister(m.records, m.commands, m.responses)
	return m
}

func (m *Metrics) record(mapped bool) {
	if m == nil {
		return
	}
	result := "ignored"
	if mapped {
		result = "mapped"
	}
	m.records.WithLabelValues(result).Inc()
}

func (m *Metrics) command(o Outcome) {
	if m == nil {
		return
	}
	outcome := "failed"
	if o.Delivered() {
		outcome = "delivered"
	}
	m.commands.WithLabelValues(outcome).Inc()
}

func (m *Metrics) response(code int) {
	if m == nil {
		return
	}
	m.responses.WithLabelValues(strconv.Itoa(code)).Inc()
}
