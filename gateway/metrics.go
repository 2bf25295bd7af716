package gateway

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/robertmeta/tagfeed/model"
)

// Metrics collects per-operation call counts and latencies for a gateway.
type Metrics struct {
	registry *prometheus.Registry
	requests *prometheus.CounterVec
	duration *prometheus.HistogramVec
}

// NewMetrics creates a Metrics with its own registry.
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "tagfeed",
			Subsystem: "gateway",
			Name:      "requests_total",
			Help:      "Gateway calls by operation and result.",
		}, []string{"op", "result"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "tagfeed",
			Subsystem: "gateway",
			Name:      "request_duration_seconds",
			Help:      "Gateway call latency by operation.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"op"}),
	}
	m.registry.MustRegister(m.requests, m.duration)
	return m
}

// Registry exposes the underlying registry (for tests and exporters).
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// WriteTextfile writes the current metrics in the node_exporter textfile
// format.
func (m *Metrics) WriteTextfile(path string) error {
	return prometheus.WriteToTextfile(path, m.registry)
}

func (m *Metrics) observe(op string, start time.Time, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.requests.WithLabelValues(op, result).Inc()
	m.duration.WithLabelValues(op).Observe(time.Since(start).Seconds())
}

type metricsGateway struct {
	next Gateway
	m    *Metrics
}

// WithMetrics wraps g so that every call is recorded in m.
func WithMetrics(g Gateway, m *Metrics) Gateway {
	return &metricsGateway{next: g, m: m}
}

func (g *metricsGateway) FetchPreferences(ctx context.Context, userID string) ([]string, bool, error) {
	start := time.Now()
	tags, found, err := g.next.FetchPreferences(ctx, userID)
	g.m.observe("fetch_preferences", start, err)
	return tags, found, err
}

func (g *metricsGateway) UpsertPreferences(ctx context.Context, userID string, tags []string) error {
	start := time.Now()
	err := g.next.UpsertPreferences(ctx, userID, tags)
	g.m.observe("upsert_preferences", start, err)
	return err
}

func (g *metricsGateway) QueryPosts(ctx context.Context, q PostQuery) ([]model.Post, error) {
	start := time.Now()
	posts, err := g.next.QueryPosts(ctx, q)
	g.m.observe("query_posts", start, err)
	return posts, err
}

func (g *metricsGateway) InsertPost(ctx context.Context, d model.Draft) (*model.Post, error) {
	start := time.Now()
	post, err := g.next.InsertPost(ctx, d)
	g.m.observe("insert_post", start, err)
	return post, err
}

func (g *metricsGateway) UpsertProfile(ctx context.Context, p model.Profile) error {
	start := time.Now()
	err := g.next.UpsertProfile(ctx, p)
	g.m.observe("upsert_profile", start, err)
	return err
}

func (g *metricsGateway) GetProfile(ctx context.Context, userID string) (*model.Profile, error) {
	start := time.Now()
	p, err := g.next.GetProfile(ctx, userID)
	g.m.observe("get_profile", start, err)
	return p, err
}

func (g *metricsGateway) DeleteUserData(ctx context.Context, userID string) error {
	start := time.Now()
	err := g.next.DeleteUserData(ctx, userID)
	g.m.observe("delete_user_data", start, err)
	return err
}
