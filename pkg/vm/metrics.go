package vm

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics counts engine activity. A nil Registerer yields unregistered
// collectors that still count.
type Metrics struct {
	Instructions prometheus.Counter
	FramesPushed prometheus.Counter
	Exceptions   *prometheus.CounterVec
	Threads      *prometheus.CounterVec
	NativeCalls  *prometheus.CounterVec
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Instructions: f.NewCounter(prometheus.CounterOpts{
			Namespace: "minijvm",
			Name:      "instructions_total",
			Help:      "Bytecode instructions executed.",
		}),
		FramesPushed: f.NewCounter(prometheus.CounterOpts{
			Namespace: "minijvm",
			Name:      "frames_pushed_total",
			Help:      "Method frames pushed by invocations and class initialization.",
		}),
		Exceptions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "minijvm",
			Name:      "exceptions_thrown_total",
			Help:      "Java exceptions thrown, by class.",
		}, []string{"class"}),
		Threads: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "minijvm",
			Name:      "threads_finished_total",
			Help:      "Threads reaching a terminal status.",
		}, []string{"status"}),
		NativeCalls: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "minijvm",
			Name:      "native_calls_total",
			Help:      "Calls dispatched to native bindings, by class.",
		}, []string{"class"}),
	}
}
