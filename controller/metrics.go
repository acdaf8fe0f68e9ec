package controller

import (
	"strconv"

	"github.com/pond-pi/pond-pi/controller/modules/faults"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

type metrics struct {
	registry  *prometheus.Registry
	readings  *prometheus.GaugeVec
	outputs   *prometheus.GaugeVec
	faults    *prometheus.GaugeVec
	cycles    prometheus.Counter
	failures  *prometheus.CounterVec
	commands  *prometheus.CounterVec
	heartbeat prometheus.Gauge
}

func newMetrics() *metrics {
	m := &metrics{
		registry: prometheus.NewRegistry(),
		readings: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "pond_reading",
			Help: "Last compensated reading by quantity.",
		}, []string{"quantity"}),
		outputs: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "pond_output_percent",
			Help: "Controller output by loop.",
		}, []string{"loop"}),
		faults: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "pond_fault_active",
			Help: "1 while a fault code is in the reported set.",
		}, []string{"code"}),
		cycles: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pond_cycles_total",
			Help: "Completed control cycles.",
		}),
		failures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pond_cycle_failures_total",
			Help: "Cycles abandoned or degraded, by fault code.",
		}, []string{"code"}),
		commands: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pond_commands_total",
			Help: "Commands applied, by code and result.",
		}, []string{"code", "result"}),
		heartbeat: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "pond_heartbeat_timestamp_seconds",
			Help: "Time of the last completed cycle.",
		}),
	}
	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m.registry.MustRegister(m.readings, m.outputs, m.faults, m.cycles, m.failures, m.commands, m.heartbeat)
	return m
}

func (m *metrics) observe(s *ControlState) {
	m.readings.WithLabelValues("ph").Set(s.Sample.PH)
	m.readings.WithLabelValues("do").Set(s.Sample.DO)
	m.readings.WithLabelValues("temperature").Set(s.Sample.Temp)
	m.outputs.WithLabelValues("ph_down").Set(s.Outputs.Down)
	m.outputs.WithLabelValues("ph_up").Set(s.Outputs.Up)
	m.outputs.WithLabelValues("o2").Set(s.Outputs.O2)
	m.faults.Reset()
	for c := range s.Filtered {
		if c != faults.None {
			m.faults.WithLabelValues(strconv.Itoa(int(c))).Set(1)
		}
	}
}

func (m *metrics) failure(c faults.Code) {
	m.failures.WithLabelValues(strconv.Itoa(int(c))).Inc()
}

func (m *metrics) command(code, result string) {
	m.commands.WithLabelValues(code, result).Inc()
}
