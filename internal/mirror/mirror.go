package mirror

import (
	"bytes"
	"context"
	"encoding/json"
	"sync/atomic"

	"github.com/nerrad567/overlay-core/internal/infrastructure/mqtt"
	"github.com/nerrad567/overlay-core/internal/overlay"
)

// Publisher publishes a retained message. *mqtt.Client implements it.
type Publisher interface {
	PublishRetained(topic string, payload []byte) error
}

// Logger is the logging surface used by the mirror.
type Logger interface {
	Debug(msg string, args ...any)
	Warn(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Warn(string, ...any)  {}

// Frame is one broadcast: the encoded snapshot and the scenes it was built from.
type Frame struct {
	Snapshot []byte
	Scenes   []overlay.Scene
}

// SceneLive is the payload of a per-scene live topic.
type SceneLive struct {
	ID      string          `json:"id"`
	Name    string          `json:"name"`
	Visible bool            `json:"visible"`
	Live    []overlay.Layer `json:"live"`
}

// Stats counts mirror activity since start.
type Stats struct {
	Published uint64 `json:"published"`
	Failures  uint64 `json:"failures"`
	Dropped   uint64 `json:"dropped"`
}

// Mirror publishes the newest offered frame.
type Mirror struct {
	pub     Publisher
	topics  mqtt.Topics
	logger  Logger
	pending chan Frame

	// last holds the payload most recently published per scene topic.
	// Owned by the Run goroutine.
	last map[string][]byte

	published atomic.Uint64
	failures  atomic.Uint64
	dropped   atomic.Uint64
}

// New creates a mirror. Call Run to start publishing.
func New(pub Publisher, topics mqtt.Topics) *Mirror {
	return &Mirror{
		pub:     pub,
		topics:  topics,
		logger:  noopLogger{},
		pending: make(chan Frame, 1),
		last:    make(map[string][]byte),
	}
}

// SetLogger sets the logger. Call before Run.
func (m *Mirror) SetLogger(logger Logger) {
	if logger == nil {
		logger = noopLogger{}
	}
	m.logger = logger
}

// Offer queues f for publishing without blocking. An unpublished older
// frame is discarded.
func (m *Mirror) Offer(f Frame) {
	for {
		select {
		case m.pending <- f:
			return
		default:
		}
		select {
		case <-m.pending:
			m.dropped.Add(1)
		default:
		}
	}
}

// Run publishes frames until ctx is cancelled.
func (m *Mirror) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case f := <-m.pending:
			m.publish(f)
		}
	}
}

// Stats returns activity counters.
func (m *Mirror) Stats() Stats {
	return Stats{
		Published: m.published.Load(),
		Failures:  m.failures.Load(),
		Dropped:   m.dropped.Load(),
	}
}

func (m *Mirror) publish(f Frame) {
	m.send(m.topics.Snapshot(), f.Snapshot)

	seen := make(map[string]bool, len(f.Scenes))
	for _, sc := range f.Scenes {
		topic := m.topics.SceneLive(sc.ID)
		seen[topic] = true

		live := sc.Live
		if live == nil {
			live = []overlay.Layer{}
		}
		payload, err := json.Marshal(SceneLive{ID: sc.ID, Name: sc.Name, Visible: sc.Visible, Live: live})
		if err != nil {
			m.logger.Warn("mirror: encoding scene failed", "scene_id", sc.ID, "error", err)
			continue
		}
		if bytes.Equal(m.last[topic], payload) {
			continue
		}
		if m.send(topic, payload) {
			m.last[topic] = payload
		}
	}

	// An empty retained message removes the topic of a deleted scene.
	for topic := range m.last {
		if seen[topic] {
			continue
		}
		if m.send(topic, nil) {
			delete(m.last, topic)
		}
	}
}

func (m *Mirror) send(topic string, payload []byte) bool {
	if err := m.pub.PublishRetained(topic, payload); err != nil {
		m.failures.Add(1)
		m.logger.Warn("mirror publish failed", "topic", topic, "error", err)
		return false
	}
	m.published.Add(1)
	m.logger.Debug("mirror published", "topic", topic, "bytes", len(payload))
	return true
}
