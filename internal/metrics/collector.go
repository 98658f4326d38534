// Package metrics exposes per-instance process gauges for Prometheus.
package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/bedrockmgr/bedrock-server-manager/internal/server"
	"github.com/bedrockmgr/bedrock-server-manager/internal/store"
)

// InstanceLister enumerates the instances to sample.
type InstanceLister interface {
	ListInstances() ([]*store.Instance, error)
}

// Sampler reads the supervisor's view of one instance; satisfied by
// server.Supervisor.
type Sampler interface {
	State(name string) server.State
	Metrics(inst server.Instance) (server.ProcMetrics, error)
}

// stateValues maps lifecycle states onto gauge values.
var stateValues = map[server.State]float64{
	server.StateStopped:  0,
	server.StateStarting: 1,
	server.StateRunning:  2,
	server.StateStopping: 3,
	server.StateError:    4,
}

// Collector samples all instances on a fixed interval and publishes
// the readings as Prometheus gauges.
type Collector struct {
	lister   InstanceLister
	sampler  Sampler
	interval time.Duration

	state *prometheus.GaugeVec
	cpu   *prometheus.GaugeVec
	rss   *prometheus.GaugeVec
	pid   *prometheus.GaugeVec

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// NewCollector creates a collector and registers its gauges with the
// given registerer.
func NewCollector(lister InstanceLister, sampler Sampler, interval time.Duration, reg prometheus.Registerer) *Collector {
	if interval <= 0 {
		interval = 15 * time.Second
	}

	c := &Collector{
		lister:   lister,
		sampler:  sampler,
		interval: interval,
		state: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "bedrock_instance_state",
			Help: "Lifecycle state (0 stopped, 1 starting, 2 running, 3 stopping, 4 error).",
		}, []string{"instance"}),
		cpu: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "bedrock_instance_cpu_percent",
			Help: "CPU usage of the server process since the previous sample.",
		}, []string{"instance"}),
		rss: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "bedrock_instance_memory_rss_bytes",
			Help: "Resident memory of the server process.",
		}, []string{"instance"}),
		pid: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "bedrock_instance_pid",
			Help: "Process id of the server, 0 when not running.",
		}, []string{"instance"}),
		stopCh: make(chan struct{}),
	}

	reg.MustRegister(c.state, c.cpu, c.rss, c.pid)
	return c
}

// Start launches the sampling loop.
func (c *Collector) Start() {
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		ticker := time.NewTicker(c.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				c.collect()
			case <-c.stopCh:
				return
			}
		}
	}()
}

// Stop terminates the sampling loop and waits for it to exit.
func (c *Collector) Stop() {
	close(c.stopCh)
	c.wg.Wait()
}

func (c *Collector) collect() {
	instances, err := c.lister.ListInstances()
	if err != nil {
		return
	}

	for _, record := range instances {
		inst := server.Instance{Name: record.Name, InstallDir: record.InstallDir}
		c.state.WithLabelValues(inst.Name).Set(stateValues[c.sampler.State(inst.Name)])

		m, err := c.sampler.Metrics(inst)
		if err != nil {
			// Not running; zero the process gauges rather than holding
			// the last live reading.
			c.cpu.WithLabelValues(inst.Name).Set(0)
			c.rss.WithLabelValues(inst.Name).Set(0)
			c.pid.WithLabelValues(inst.Name).Set(0)
			continue
		}

		c.cpu.WithLabelValues(inst.Name).Set(m.CPUPercent)
		c.rss.WithLabelValues(inst.Name).Set(float64(m.RSSBytes))
		c.pid.WithLabelValues(inst.Name).Set(float64(m.PID))
	}
}

// Forget drops an instance's gauge series after deletion.
func (c *Collector) Forget(instance string) {
	labels := prometheus.Labels{"instance": instance}
	c.state.Delete(labels)
	c.cpu.Delete(labels)
	c.rss.Delete(labels)
	c.pid.Delete(labels)
}
