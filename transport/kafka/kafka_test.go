package kafka

import (
	"context"
	"errors"
	"strconv"
	"testing"
	"time"

	"github.com/IBM/sarama"
	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill-kafka/v3/pkg/kafka"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/drblury/bifrost/internal/runtime/metadata"
	"github.com/drblury/bifrost/transport"
	"github.com/drblury/bifrost/transport/transporttest"
)

func testConfig() *transporttest.Config {
	return &transporttest.Config{
		System:          TransportName,
		Brokers:         []string{"localhost:9092"},
		ClientID:        "bifrost",
		Group:           "bifrost-consumer-group",
		SessionTimeout:  30 * time.Second,
		MaxPollInterval: 5 * time.Minute,
		ProducerRetries: 3,
		Linger:          10 * time.Millisecond,
		BatchBytes:      16384,
		Compression:     "snappy",
	}
}

func TestRegister(t *testing.T) {
	original := transport.DefaultRegistry
	defer func() { transport.DefaultRegistry = original }()
	transport.DefaultRegistry = transport.NewRegistry()
	Register()

	caps := transport.GetCapabilities(TransportName)
	assert.Equal(t, "kafka", caps.Name)
	assert.True(t, caps.SupportsPartitioning)
	assert.True(t, caps.SupportsTracing)
}

func TestCapabilities(t *testing.T) {
	assert.Equal(t, transport.KafkaCapabilities, Driver{}.Capabilities())
	assert.Equal(t, TransportName, Driver{}.Name())
}

func TestSaramaPublisherConfig(t *testing.T) {
	sc := SaramaPublisherConfig(testConfig())

	assert.Equal(t, sarama.WaitForAll, sc.Producer.RequiredAcks)
	assert.Equal(t, 3, sc.Producer.Retry.Max)
	assert.Equal(t, 1, sc.Net.MaxOpenRequests)
	assert.Equal(t, 10*time.Millisecond, sc.Producer.Flush.Frequency)
	assert.Equal(t, 16384, sc.Producer.Flush.Bytes)
	assert.Equal(t, sarama.CompressionSnappy, sc.Producer.Compression)
	assert.Equal(t, "bifrost", sc.ClientID)
	assert.True(t, sc.Producer.Return.Successes)
}

func TestSaramaPublisherConfigZstdRaisesVersion(t *testing.T) {
	cfg := testConfig()
	cfg.Compression = "zstd"
	sc := SaramaPublisherConfig(cfg)

	assert.Equal(t, sarama.CompressionZSTD, sc.Producer.Compression)
	assert.True(t, sc.Version.IsAtLeast(sarama.V2_1_0_0))
}

func TestCompressionCodec(t *testing.T) {
	cases := map[string]sarama.CompressionCodec{
		"":       sarama.CompressionNone,
		"none":   sarama.CompressionNone,
		"GZIP":   sarama.CompressionGZIP,
		"snappy": sarama.CompressionSnappy,
		"lz4":    sarama.CompressionLZ4,
		"zstd":   sarama.CompressionZSTD,
	}
	for in, want := range cases {
		assert.Equal(t, want, compressionCodec(in), in)
	}
}

func TestSaramaSubscriberConfig(t *testing.T) {
	sc := SaramaSubscriberConfig(testConfig())

	assert.Equal(t, sarama.OffsetOldest, sc.Consumer.Offsets.Initial)
	assert.False(t, sc.Consumer.Offsets.AutoCommit.Enable, "offsets are committed per record, never on a timer")
	assert.Equal(t, 30*time.Second, sc.Consumer.Group.Session.Timeout)
	assert.Equal(t, 10*time.Second, sc.Consumer.Group.Heartbeat.Interval)
	assert.Equal(t, 5*time.Minute, sc.Consumer.Group.Rebalance.Timeout)
	assert.Equal(t, 5*time.Minute, sc.Consumer.MaxProcessingTime)
	assert.Greater(t, sc.Consumer.MaxProcessingTime, sc.Consumer.Group.Session.Timeout)
}

func TestNewPublisher(t *testing.T) {
	originalPubFactory := PublisherFactory
	defer func() { PublisherFactory = originalPubFactory }()

	t.Run("keyed publisher uses partitioning marshaler", func(t *testing.T) {
		pub := &transporttest.Publisher{}
		var captured kafka.PublisherConfig
		PublisherFactory = func(cfg kafka.PublisherConfig, logger watermill.LoggerAdapter) (message.Publisher, error) {
			captured = cfg
			return pub, nil
		}

		got, err := Driver{}.NewPublisher(context.Background(), testConfig(), transport.PublisherOptions{Name: "result", Keyed: true}, watermill.NopLogger{})
		require.NoError(t, err)
		assert.Same(t, pub, got)
		assert.Equal(t, []string{"localhost:9092"}, captured.Brokers)
		require.NotNil(t, captured.OverwriteSaramaConfig)
		assert.Equal(t, sarama.WaitForAll, captured.OverwriteSaramaConfig.Producer.RequiredAcks)

		msg := message.NewMessage("id-1", []byte(`{}`))
		msg.Metadata.Set(metadata.KeyPartitionKey, "42")
		pm, err := captured.Marshaler.Marshal("analysis.result", msg)
		require.NoError(t, err)
		require.NotNil(t, pm.Key)
		key, err := pm.Key.Encode()
		require.NoError(t, err)
		assert.Equal(t, []byte("42"), key)
	})

	t.Run("unkeyed publisher sends no key", func(t *testing.T) {
		var captured kafka.PublisherConfig
		PublisherFactory = func(cfg kafka.PublisherConfig, logger watermill.LoggerAdapter) (message.Publisher, error) {
			captured = cfg
			return &transporttest.Publisher{}, nil
		}

		_, err := Driver{}.NewPublisher(context.Background(), testConfig(), transport.PublisherOptions{Name: "dlq"}, watermill.NopLogger{})
		require.NoError(t, err)

		msg := message.NewMessage("id-2", []byte(`{}`))
		msg.Metadata.Set(metadata.KeyPartitionKey, "42")
		pm, err := captured.Marshaler.Marshal("dlq.failed", msg)
		require.NoError(t, err)
		assert.Nil(t, pm.Key)
	})

	t.Run("factory error", func(t *testing.T) {
		PublisherFactory = func(cfg kafka.PublisherConfig, logger watermill.LoggerAdapter) (message.Publisher, error) {
			return nil, errors.New("publisher error")
		}
		_, err := Driver{}.NewPublisher(context.Background(), testConfig(), transport.PublisherOptions{}, watermill.NopLogger{})
		assert.ErrorContains(t, err, "publisher error")
	})
}

func TestNewSubscriber(t *testing.T) {
	originalSubFactory := SubscriberFactory
	defer func() { SubscriberFactory = originalSubFactory }()

	sub := &transporttest.Subscriber{}
	SubscriberFactory = func(cfg kafka.SubscriberConfig, logger watermill.LoggerAdapter) (message.Subscriber, error) {
		assert.Equal(t, []string{"localhost:9092"}, cfg.Brokers)
		assert.Equal(t, "bifrost-consumer-group", cfg.ConsumerGroup)
		require.NotNil(t, cfg.OverwriteSaramaConfig)
		assert.Equal(t, 5*time.Minute, cfg.OverwriteSaramaConfig.Consumer.MaxProcessingTime)
		return sub, nil
	}

	got, err := Driver{}.NewSubscriber(context.Background(), testConfig(), watermill.NopLogger{})
	require.NoError(t, err)
	assert.Same(t, sub, got)

	SubscriberFactory = func(cfg kafka.SubscriberConfig, logger watermill.LoggerAdapter) (message.Subscriber, error) {
		return nil, errors.New("subscriber error")
	}
	_, err = Driver{}.NewSubscriber(context.Background(), testConfig(), watermill.NopLogger{})
	assert.ErrorContains(t, err, "subscriber error")
}

func TestPositionWithoutKafkaContext(t *testing.T) {
	msg := message.NewMessage("id", nil)
	assert.Equal(t, transport.UnknownPosition, Driver{}.Position(msg))
	assert.Equal(t, transport.UnknownPosition, Driver{}.Position(nil))
}

func TestEqualKeysShareAPartition(t *testing.T) {
	partitioner := sarama.NewHashPartitioner("analysis.result")
	const partitions = 12

	for logID := int64(1); logID <= 50; logID++ {
		key := sarama.StringEncoder(strconv.FormatInt(logID, 10))
		first, err := partitioner.Partition(&sarama.ProducerMessage{Key: key}, partitions)
		require.NoError(t, err)
		second, err := partitioner.Partition(&sarama.ProducerMessage{Key: key}, partitions)
		require.NoError(t, err)
		assert.Equal(t, first, second)
	}
}

func TestSubscribeFailsWhenBrokerUnreachable(t *testing.T) {
	cfg := testConfig()
	cfg.Brokers = []string{"127.0.0.1:1"}

	sub, err := Driver{}.NewSubscriber(context.Background(), cfg, watermill.NopLogger{})
	require.NoError(t, err)
	defer sub.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	_, err = sub.Subscribe(ctx, "analysis-requests")
	assert.Error(t, err, "an unreachable cluster must fail the subscription at start-up")
}
