package metrics

import "time"

// VolumeSnapshot is the minimal view of a volume's lifecycle state the
// collector needs; it exists so this package never has to import
// pkg/volume (which already imports pkg/metrics for the gauges it
// updates inline).
type VolumeSnapshot struct {
	Name               string
	State              string
	DiscoveredReplicas int
	TargetReplicas     int
}

// Collector periodically re-derives gauge metrics from a live snapshot
// function, catching anything individual operations didn't already set
// directly.
type Collector struct {
	snapshot func() []VolumeSnapshot
	stopCh   chan struct{}
}

// NewCollector creates a collector that calls snapshot on every tick.
func NewCollector(snapshot func() []VolumeSnapshot) *Collector {
	return &Collector{
		snapshot: snapshot,
		stopCh:   make(chan struct{}),
	}
}

// Start begins collecting metrics on a ticker.
func (c *Collector) Start() {
	ticker := time.NewTicker(15 * time.Second)
	go func() {
		c.collect()

		for {
			select {
			case <-ticker.C:
				c.collect()
			case <-c.stopCh:
				ticker.Stop()
				return
			}
		}
	}()
}

// Stop stops the collector.
func (c *Collector) Stop() {
	close(c.stopCh)
}

func (c *Collector) collect() {
	volumes := c.snapshot()

	stateCounts := map[string]int{"configuring": 0, "online": 0, "offline": 0}
	for _, v := range volumes {
		stateCounts[v.State]++
		ReplicasDiscovered.WithLabelValues(v.Name).Set(float64(v.DiscoveredReplicas))
		ReplicasTarget.WithLabelValues(v.Name).Set(float64(v.TargetReplicas))
	}

	for state, count := range stateCounts {
		VolumesTotal.WithLabelValues(state).Set(float64(count))
	}
}
