//go:build integration

package containers

import (
	"context"
	"testing"

	tcredpanda "github.com/testcontainers/testcontainers-go/modules/redpanda"
	"github.com/twmb/franz-go/pkg/kadm"
	"github.com/twmb/franz-go/pkg/kgo"
)

// KafkaContainer wraps a testcontainers Redpanda broker, which speaks the
// Kafka protocol without needing Zookeeper.
type KafkaContainer struct {
	Broker string
}

// NewKafkaContainer starts a single-broker Redpanda instance.
func NewKafkaContainer(t *testing.T) *KafkaContainer {
	t.Helper()
	ctx := context.Background()

	container, err := tcredpanda.Run(ctx, "docker.redpanda.com/redpandadata/redpanda:v24.1.7")
	if err != nil {
		t.Fatalf("start redpanda container: %v", err)
	}
	t.Cleanup(func() { _ = container.Terminate(context.Background()) })

	broker, err := container.KafkaSeedBroker(ctx)
	if err != nil {
		t.Fatalf("redpanda seed broker: %v", err)
	}

	return &KafkaContainer{Broker: broker}
}

// CreateTopic provisions a topic on the broker.
func (k *KafkaContainer) CreateTopic(t *testing.T, topic string) {
	t.Helper()
	ctx := context.Background()

	client, err := kgo.NewClient(kgo.SeedBrokers(k.Broker))
	if err != nil {
		t.Fatalf("connect to redpanda: %v", err)
	}
	defer client.Close()

	adm := kadm.NewClient(client)
	if _, err := adm.CreateTopics(ctx, 1, 1, nil, topic); err != nil {
		t.Fatalf("create topic %q: %v", topic, err)
	}
}
