// Package metrics turns queue and trigger events into OpenTelemetry
// instruments and keeps them readable in-process for the diagnostics server.
package metrics

import (
	"context"
	"sort"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"actionqueue/internal/eventbus"
	"actionqueue/internal/trigger"
	"actionqueue/pkg/actionqueue"
)

// MeterName is the instrumentation scope of every instrument created here.
const MeterName = "actionqueue"

// QueueStats is the part of the queue sampled by the gauges.
type QueueStats interface {
	Snapshot() actionqueue.Snapshot
}

// Recorder records:
//   - actionqueue.action.settled (Int64Counter): outcome, mode, name
//   - actionqueue.action.duration (Float64Histogram, s): run time of started actions
//   - actionqueue.action.queue_delay (Float64Histogram, s): admission to start
//   - actionqueue.trigger.fired (Int64Counter): trigger, skipped, manual
//   - actionqueue.queue.pending / .running (Int64ObservableGauge)
type Recorder struct {
	settled  metric.Int64Counter
	duration metric.Float64Histogram
	delay    metric.Float64Histogram
	fired    metric.Int64Counter

	reg metric.Registration
}

func New(meter metric.Meter, q QueueStats) (*Recorder, error) {
	r := &Recorder{}
	var err error
	if r.settled, err = meter.Int64Counter("actionqueue.action.settled",
		metric.WithDescription("Settled actions by outcome"),
		metric.WithUnit("{action}")); err != nil {
		return nil, err
	}
	if r.duration, err = meter.Float64Histogram("actionqueue.action.duration",
		metric.WithDescription("Run time of started actions in seconds"),
		metric.WithUnit("s")); err != nil {
		return nil, err
	}
	if r.delay, err = meter.Float64Histogram("actionqueue.action.queue_delay",
		metric.WithDescription("Time from admission to start in seconds"),
		metric.WithUnit("s")); err != nil {
		return nil, err
	}
	if r.fired, err = meter.Int64Counter("actionqueue.trigger.fired",
		metric.WithDescription("Trigger firings, including skipped ones"),
		metric.WithUnit("{firing}")); err != nil {
		return nil, err
	}

	if q == nil {
		return r, nil
	}
	pending, err := meter.Int64ObservableGauge("actionqueue.queue.pending",
		metric.WithDescription("Actions waiting for a worker slot"))
	if err != nil {
		return nil, err
	}
	running, err := meter.Int64ObservableGauge("actionqueue.queue.running",
		metric.WithDescription("Actions bound to a worker slot"))
	if err != nil {
		return nil, err
	}
	r.reg, err = meter.RegisterCallback(func(_ context.Context, o metric.Observer) error {
		s := q.Snapshot()
		o.ObserveInt64(pending, int64(s.Pending))
		o.ObserveInt64(running, int64(s.Running))
		return nil
	}, pending, running)
	if err != nil {
		return nil, err
	}
	return r, nil
}

// Observe records one bus event. Unrelated events are ignored.
func (r *Recorder) Observe(ctx context.Context, e eventbus.Event) {
	switch data := e.Data.(type) {
	case actionqueue.ActionEvent:
		outcome := ""
		switch e.Type {
		case actionqueue.EventSucceeded:
			outcome = actionqueue.KindSuccess.String()
		case actionqueue.EventFailed:
			outcome = actionqueue.KindFailure.String()
		case actionqueue.EventCancelled:
			outcome = actionqueue.KindCancel.String()
		default:
			return
		}
		name := ""
		if len(data.Extra) > 0 {
			name, _ = data.Extra[0].(string)
		}
		attrs := metric.WithAttributes(
			attribute.String("outcome", outcome),
			attribute.String("mode", data.Mode),
			attribute.String("name", name),
		)
		r.settled.Add(ctx, 1, attrs)
		if !data.Started.IsZero() {
			r.duration.Record(ctx, data.Duration.Seconds(), attrs)
			r.delay.Record(ctx, data.QueueDelay.Seconds(), metric.WithAttributes(attribute.String("mode", data.Mode)))
		}

	case trigger.FiredEvent:
		r.fired.Add(ctx, 1, metric.WithAttributes(
			attribute.String("trigger", data.Name),
			attribute.Bool("skipped", data.Skipped),
			attribute.Bool("manual", data.Manual),
		))
	}
}

// Run records events until ctx is done or events is closed.
func (r *Recorder) Run(ctx context.Context, events <-chan eventbus.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-events:
			if !ok {
				return
			}
			r.Observe(ctx, e)
		}
	}
}

// Close unregisters the gauge callback.
func (r *Recorder) Close() error {
	if r.reg == nil {
		return nil
	}
	return r.reg.Unregister()
}

// ---- In-process reader ----

// Point is one flattened data point.
type Point struct {
	Name  string            `json:"name"`
	Kind  string            `json:"kind"` // sum, gauge or histogram
	Attrs map[string]string `json:"attrs,omitempty"`
	Value float64           `json:"value"`
	Count uint64            `json:"count,omitempty"` // histograms only
}

// Provider is a MeterProvider whose data is pulled on demand by Collect.
type Provider struct {
	reader *sdkmetric.ManualReader
	mp     *sdkmetric.MeterProvider
}

func NewProvider() *Provider {
	reader := sdkmetric.NewManualReader()
	return &Provider{reader: reader, mp: sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))}
}

// MeterProvider exposes the SDK provider, e.g. for otel.SetMeterProvider.
func (p *Provider) MeterProvider() *sdkmetric.MeterProvider { return p.mp }

func (p *Provider) Meter() metric.Meter { return p.mp.Meter(MeterName) }

// Collect reads every instrument, sorted by name.
func (p *Provider) Collect(ctx context.Context) ([]Point, error) {
	var rm metricdata.ResourceMetrics
	if err := p.reader.Collect(ctx, &rm); err != nil {
		return nil, err
	}
	var out []Point
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			out = append(out, flatten(m)...)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (p *Provider) Shutdown(ctx context.Context) error { return p.mp.Shutdown(ctx) }

func flatten(m metricdata.Metrics) []Point {
	var out []Point
	switch data := m.Data.(type) {
	case metricdata.Sum[int64]:
		for _, dp := range data.DataPoints {
			out = append(out, Point{Name: m.Name, Kind: "sum", Attrs: attrMap(dp.Attributes), Value: float64(dp.Value)})
		}
	case metricdata.Gauge[int64]:
		for _, dp := range data.DataPoints {
			out = append(out, Point{Name: m.Name, Kind: "gauge", Attrs: attrMap(dp.Attributes), Value: float64(dp.Value)})
		}
	case metricdata.Histogram[float64]:
		for _, dp := range data.DataPoints {
			out = append(out, Point{Name: m.Name, Kind: "histogram", Attrs: attrMap(dp.Attributes), Value: dp.Sum, Count: dp.Count})
		}
	}
	return out
}

func attrMap(set attribute.Set) map[string]string {
	if set.Len() == 0 {
		return nil
	}
	out := make(map[string]string, set.Len())
	for _, kv := range set.ToSlice() {
		out[string(kv.Key)] = kv.Value.Emit()
	}
	return out
}
