package rubble

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics exports the core's health counters to a Prometheus registry the
// host owns. Entirely optional; nothing else depends on it.
type Metrics struct {
	DebrisCount     prometheus.Gauge
	DebrisTriangles prometheus.Gauge
	TileCount       prometheus.Gauge
	PendingImpacts  prometheus.Gauge
	FrameSeconds    prometheus.Gauge

	FracturesTotal  prometheus.Counter
	EvictionsTotal  prometheus.Counter

	lastDebrisCount int
	lastFractures   int64
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		DebrisCount: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "rubble", Name: "debris_live", Help: "Live debris entities.",
		}),
		DebrisTriangles: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "rubble", Name: "debris_triangles", Help: "Triangles across live debris.",
		}),
		TileCount: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "rubble", Name: "tiles_live", Help: "Placed tile instances.",
		}),
		PendingImpacts: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "rubble", Name: "impacts_pending", Help: "Impacts queued for next frame.",
		}),
		FrameSeconds: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "rubble", Name: "frame_seconds", Help: "Wall time of the last full pipeline step.",
		}),
		FracturesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "rubble", Name: "fractures_total", Help: "Fracture operations performed.",
		}),
		EvictionsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "rubble", Name: "debris_evictions_total", Help: "Debris evicted for budget.",
		}),
	}
	if reg != nil {
		reg.MustRegister(
			m.DebrisCount, m.DebrisTriangles, m.TileCount,
			m.PendingImpacts, m.FrameSeconds,
			m.FracturesTotal, m.EvictionsTotal,
		)
	}
	return m
}

type MetricsModule struct {
	Registry prometheus.Registerer
}

func (m MetricsModule) Install(app *App, cmd *Commands) {
	cmd.AddResources(NewMetrics(m.Registry))
	app.UseSystem(Use(metricsSystem).InStage(Finale))
}

func metricsSystem(metrics *Metrics, pool *DebrisPool, world *TilemapWorld, queue *ImpactQueue, svc *FractureService, prof *Profiler) {
	count := pool.Count()
	metrics.DebrisCount.Set(float64(count))
	metrics.DebrisTriangles.Set(float64(pool.TriangleTotal()))
	metrics.TileCount.Set(float64(world.TileCount()))
	metrics.PendingImpacts.Set(float64(queue.Pending()))
	metrics.FrameSeconds.Set(prof.FrameTotal().Seconds())

	if d := svc.Completed - metrics.lastFractures; d > 0 {
		metrics.FracturesTotal.Add(float64(d))
	}
	metrics.lastFractures = svc.Completed

	if count < metrics.lastDebrisCount {
		metrics.EvictionsTotal.Add(float64(metrics.lastDebrisCount - count))
	}
	metrics.lastDebrisCount = count
}
