package telemetry

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"time"

	"github.com/segmentio/kafka-go"

	cfg "github.com/trailquest/checkin-service/internal/config"
)

// KafkaAuditShipper ships scan and request audit events to Kafka
// asynchronously. Events are dropped on backpressure rather than
// blocking the scan path.
type KafkaAuditShipper struct {
	cfg  cfg.KafkaAuditConfig
	w    *kafka.Writer
	ch   chan any
	stop chan struct{}
}

func NewKafkaAuditShipper(cfgIn cfg.KafkaAuditConfig) (*KafkaAuditShipper, error) {
	c := cfgIn
	if !c.Enabled {
		return &KafkaAuditShipper{cfg: c, ch: make(chan any), stop: make(chan struct{})}, nil
	}
	if len(c.Brokers) == 0 {
		return nil, errors.New("kafka: no brokers configured")
	}
	if c.TopicScans == "" {
		return nil, errors.New("kafka: topic_scans is required when enabled")
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 500
	}
	if c.FlushEvery <= 0 {
		c.FlushEvery = cfg.Duration(2 * time.Second)
	}
	if c.QueueCapacity <= 0 {
		c.QueueCapacity = c.BatchSize * 4
	}
	if c.DialTimeout <= 0 {
		c.DialTimeout = cfg.Duration(5 * time.Second)
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = cfg.Duration(5 * time.Second)
	}

	tr := &kafka.Transport{
		DialTimeout: c.DialTimeout.Std(),
	}
	if c.TLS {
		tr.TLS = &tls.Config{MinVersion: tls.VersionTLS12}
	}

	w := &kafka.Writer{
		Addr:                   kafka.TCP(c.Brokers...),
		Topic:                  c.TopicScans,
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireAll,
		Transport:              tr,
		AllowAutoTopicCreation: false,
		Async:                  true,
		BatchTimeout:           c.FlushEvery.Std(),
		BatchSize:              c.BatchSize,
		WriteTimeout:           c.WriteTimeout.Std(),
	}

	return &KafkaAuditShipper{
		cfg:  c,
		w:    w,
		ch:   make(chan any, c.QueueCapacity),
		stop: make(chan struct{}),
	}, nil
}

func (s *KafkaAuditShipper) Start() {
	if !s.cfg.Enabled {
		return
	}
	go s.loop()
}

func (s *KafkaAuditShipper) Stop(ctx context.Context) {
	if !s.cfg.Enabled {
		return
	}
	close(s.stop)
	drain := time.After(500 * time.Millisecond)
	for {
		select {
		case ev := <-s.ch:
			_ = s.dispatch(ev)
		case <-drain:
			_ = s.w.Close()
			return
		}
	}
}

func (s *KafkaAuditShipper) Publish(ev any) {
	if !s.cfg.Enabled {
		return
	}
	select {
	case s.ch <- ev:
	default:
		// drop on backpressure
	}
}

func (s *KafkaAuditShipper) loop() {
	for {
		select {
		case ev := <-s.ch:
			_ = s.dispatch(ev)
		case <-s.stop:
			for {
				select {
				case ev := <-s.ch:
					_ = s.dispatch(ev)
				default:
					return
				}
			}
		}
	}
}

// dispatch keys messages by session when present so all scans of one
// session land in the same partition, preserving order for downstream
// fraud pipelines.
func (s *KafkaAuditShipper) dispatch(ev any) error {
	if s.w == nil {
		return nil
	}

	now := time.Now().UTC()
	m := map[string]any{}
	b, _ := json.Marshal(ev)
	_ = json.Unmarshal(b, &m)
	if _, ok := m["@timestamp"]; !ok {
		m["@timestamp"] = now
	}
	payload, _ := json.Marshal(m)

	key := func(fields ...string) []byte {
		for _, field := range fields {
			if v, ok := m[field]; ok && v != nil {
				if str, ok := v.(string); ok && str != "" {
					return []byte(str)
				}
			}
		}
		return nil
	}

	return s.w.WriteMessages(context.Background(), kafka.Message{
		Key:   key("session_id", "device_key"),
		Value: payload,
		Time:  now,
	})
}
