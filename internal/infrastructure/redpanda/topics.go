package redpanda

import (
	"context"
	"fmt"
	"time"

	"github.com/twmb/franz-go/pkg/kadm"
	"github.com/twmb/franz-go/pkg/kgo"
	"go.uber.org/zap"
)

// Topic names for the adjudication pipeline.
const (
	TopicClaims         = "claims.submitted"
	TopicDecisions      = "claims.decisions"
	TopicDeterminations = "priorauth.determinations"
	TopicDeadLetter     = "claims.deadletter"
)

// TopicConfig holds configuration for one topic.
type TopicConfig struct {
	Name              string
	Partitions        int32
	ReplicationFactor int16
	Configs           map[string]*string
}

// DefaultTopicConfigs returns the adjudication topic set. Claims and
// decisions partition by member id, so partition counts bound per-run
// parallelism. Determinations keep a long retention for audit.
func DefaultTopicConfigs() []TopicConfig {
	ptr := func(s string) *string { return &s }

	base := map[string]*string{
		"cleanup.policy":   ptr("delete"),
		"compression.type": ptr("lz4"),
	}
	withRetention := func(ms string) map[string]*string {
		m := map[string]*string{"retention.ms": ptr(ms)}
		for k, v := range base {
			m[k] = v
		}
		return m
	}

	return []TopicConfig{
		{
			Name:              TopicClaims,
			Partitions:        12,
			ReplicationFactor: 1, // 3 in production
			Configs:           withRetention("604800000"), // 7 days
		},
		{
			Name:              TopicDecisions,
			Partitions:        12,
			ReplicationFactor: 1,
			Configs:           withRetention("604800000"),
		},
		{
			Name:              TopicDeterminations,
			Partitions:        6,
			ReplicationFactor: 1,
			Configs:           withRetention("2592000000"), // 30 days for audit
		},
		{
			Name:              TopicDeadLetter,
			Partitions:        3,
			ReplicationFactor: 1,
			Configs:           withRetention("604800000"),
		},
	}
}

// Admin wraps kadm for topic management and lag inspection.
type Admin struct {
	client *kadm.Client
	logger *zap.Logger
}

// NewAdmin creates an admin client.
func NewAdmin(brokers []string, logger *zap.Logger) (*Admin, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	kgoClient, err := kgo.NewClient(kgo.SeedBrokers(brokers...))
	if err != nil {
		return nil, fmt.Errorf("create kafka client: %w", err)
	}
	return &Admin{client: kadm.NewClient(kgoClient), logger: logger}, nil
}

// EnsureTopics creates the adjudication topics, tolerating ones that
// already exist.
func (a *Admin) EnsureTopics(ctx context.Context) error {
	for _, cfg := range DefaultTopicConfigs() {
		resp, err := a.client.CreateTopics(ctx, cfg.Partitions, cfg.ReplicationFactor, cfg.Configs, cfg.Name)
		if err != nil {
			return fmt.Errorf("create topic %s: %w", cfg.Name, err)
		}
		for _, r := range resp {
			if r.Err != nil {
				if r.Err.Error() == "TOPIC_ALREADY_EXISTS" {
					a.logger.Info("topic already exists", zap.String("topic", r.Topic))
					continue
				}
				return fmt.Errorf("create topic %s: %w", r.Topic, r.Err)
			}
			a.logger.Info("topic created",
				zap.String("topic", r.Topic),
				zap.Int32("partitions", cfg.Partitions))
		}
	}
	return nil
}

// ConsumerGroupLag returns per-topic, per-partition lag for a group. The
// batch adjudicator reports this as its backlog gauge.
func (a *Admin) ConsumerGroupLag(ctx context.Context, groupID string) (map[string]map[int32]int64, error) {
	described, err := a.client.Lag(ctx, groupID)
	if err != nil {
		return nil, fmt.Errorf("group lag: %w", err)
	}

	result := make(map[string]map[int32]int64)
	described.Each(func(l kadm.DescribedGroupLag) {
		for topic, partitions := range l.Lag {
			if result[topic] == nil {
				result[topic] = make(map[int32]int64)
			}
			for partition, lag := range partitions {
				result[topic][partition] = lag.Lag
			}
		}
	})
	return result, nil
}

// Close closes the admin client.
func (a *Admin) Close() {
	a.client.Close()
}

// HealthCheck verifies broker connectivity.
func HealthCheck(ctx context.Context, brokers []string) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	client, err := kgo.NewClient(kgo.SeedBrokers(brokers...))
	if err != nil {
		return fmt.Errorf("create client: %w", err)
	}
	defer client.Close()

	if err := client.Ping(ctx); err != nil {
		return fmt.Errorf("ping: %w", err)
	}
	return nil
}
