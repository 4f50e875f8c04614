package config

import (
	"errors"
	"fmt"
	"io/fs"
	"reflect"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"
)

// envPrefix prefixes every key automatically: ollama.model reads
// BIFROST_OLLAMA_MODEL.
const envPrefix = "bifrost"

// envAliases binds keys to the environment names the service has always
// used. They are read as-is, without the prefix.
var envAliases = map[string][]string{
	"kafka.bootstrap_servers":       {"KAFKA_BOOTSTRAP_SERVERS"},
	"kafka.consumer.group_id":       {"KAFKA_CONSUMER_GROUP"},
	"kafka.tracing_enabled":         {"BIFROST_KAFKA_TRACING"},
	"kafka.topics.analysis_request": {"BIFROST_REQUEST_TOPICS"},
	"pubsub.rabbitmq_url":           {"BIFROST_RABBITMQ_URL"},
	"pubsub.nats_url":               {"BIFROST_NATS_URL"},
	"heimdall.ai_source":            {"BIFROST_AI_SOURCE"},
	"store.sqlite_file":             {"BIFROST_SQLITE_FILE"},
	"store.postgres_url":            {"BIFROST_DATABASE_URL"},
	"cache.redis_url":               {"BIFROST_REDIS_URL"},
	"tracing.otlp_endpoint":         {"OTEL_EXPORTER_OTLP_ENDPOINT"},
	"tracing.service_name":          {"OTEL_SERVICE_NAME"},
}

// fileConfig mirrors the nested layout of bifrost.yaml.
type fileConfig struct {
	PubSub struct {
		System      string `mapstructure:"system"`
		RabbitMQURL string `mapstructure:"rabbitmq_url"`
		NATSURL     string `mapstructure:"nats_url"`
	} `mapstructure:"pubsub"`
	Kafka struct {
		BootstrapServers []string `mapstructure:"bootstrap_servers"`
		ClientID         string   `mapstructure:"client_id"`
		TracingEnabled   bool     `mapstructure:"tracing_enabled"`
		Consumer         struct {
			GroupID           string `mapstructure:"group_id"`
			SessionTimeoutMS  int    `mapstructure:"session_timeout_ms"`
			MaxPollIntervalMS int    `mapstructure:"max_poll_interval_ms"`
		} `mapstructure:"consumer"`
		Producer struct {
			Retries         int    `mapstructure:"retries"`
			LingerMS        int    `mapstructure:"linger_ms"`
			BatchSize       int    `mapstructure:"batch_size"`
			CompressionType string `mapstructure:"compression_type"`
		} `mapstructure:"producer"`
		Topics struct {
			AnalysisRequest []string `mapstructure:"analysis_request"`
			AnalysisResult  string   `mapstructure:"analysis_result"`
			DLQ             string   `mapstructure:"dlq"`
		} `mapstructure:"topics"`
	} `mapstructure:"kafka"`
	Heimdall struct {
		AISource string `mapstructure:"ai_source"`
	} `mapstructure:"heimdall"`
	Ollama struct {
		URL        string `mapstructure:"url"`
		Model      string `mapstructure:"model"`
		Timeout    int    `mapstructure:"timeout"`
		MaxRetries int    `mapstructure:"max_retries"`
	} `mapstructure:"ollama"`
	Bedrock struct {
		Region  string `mapstructure:"region"`
		Model   string `mapstructure:"model"`
		Profile string `mapstructure:"profile"`
	} `mapstructure:"bedrock"`
	Log struct {
		MaxSizeMB        int    `mapstructure:"max_size_mb"`
		Truncate         bool   `mapstructure:"truncate"`
		RemoveTimestamps bool   `mapstructure:"remove_timestamps"`
		Level            string `mapstructure:"level"`
		Format           string `mapstructure:"format"`
	} `mapstructure:"log"`
	Store struct {
		Driver      string `mapstructure:"driver"`
		SQLiteFile  string `mapstructure:"sqlite_file"`
		PostgresURL string `mapstructure:"postgres_url"`
	} `mapstructure:"store"`
	Cache struct {
		Enabled  bool   `mapstructure:"enabled"`
		RedisURL string `mapstructure:"redis_url"`
		TTLHours int    `mapstructure:"ttl_hours"`
	} `mapstructure:"cache"`
	Metrics struct {
		Enabled bool `mapstructure:"enabled"`
		Port    int  `mapstructure:"port"`
	} `mapstructure:"metrics"`
	Tracing struct {
		Endpoint    string `mapstructure:"otlp_endpoint"`
		Insecure    bool   `mapstructure:"insecure"`
		ServiceName string `mapstructure:"service_name"`
	} `mapstructure:"tracing"`
	ShutdownTimeoutSeconds int `mapstructure:"shutdown_timeout_seconds"`
}

// Load builds the configuration from defaults, then the YAML file at path (if
// path is non-empty), then environment overrides. The result is validated.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for key, names := range envAliases {
		if err := v.BindEnv(append([]string{key}, names...)...); err != nil {
			return nil, fmt.Errorf("bind env %s: %w", key, err)
		}
	}

	setDefaults(v, Default())

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil, fmt.Errorf("config file %s: %w", path, err)
			}
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	var f fileConfig
	if err := v.Unmarshal(&f, viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		listHook(),
		mapstructure.StringToTimeDurationHookFunc(),
	))); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	cfg := f.toConfig()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper, d *Config) {
	v.SetDefault("pubsub.system", d.PubSubSystem)
	v.SetDefault("pubsub.rabbitmq_url", d.RabbitMQURL)
	v.SetDefault("pubsub.nats_url", d.NATSURL)

	v.SetDefault("kafka.bootstrap_servers", d.KafkaBrokers)
	v.SetDefault("kafka.client_id", d.KafkaClientID)
	v.SetDefault("kafka.tracing_enabled", d.KafkaTracingEnabled)
	v.SetDefault("kafka.consumer.group_id", d.KafkaConsumerGroup)
	v.SetDefault("kafka.consumer.session_timeout_ms", d.KafkaSessionTimeout.Milliseconds())
	v.SetDefault("kafka.consumer.max_poll_interval_ms", d.KafkaMaxPollInterval.Milliseconds())
	v.SetDefault("kafka.producer.retries", d.KafkaProducerRetries)
	v.SetDefault("kafka.producer.linger_ms", d.KafkaLinger.Milliseconds())
	v.SetDefault("kafka.producer.batch_size", d.KafkaBatchBytes)
	v.SetDefault("kafka.producer.compression_type", d.KafkaCompression)
	v.SetDefault("kafka.topics.analysis_request", d.RequestTopics)
	v.SetDefault("kafka.topics.analysis_result", d.ResultTopic)
	v.SetDefault("kafka.topics.dlq", d.DLQTopic)

	v.SetDefault("heimdall.ai_source", d.AISource)

	v.SetDefault("ollama.url", d.OllamaURL)
	v.SetDefault("ollama.model", d.OllamaModel)
	v.SetDefault("ollama.timeout", int(d.OllamaTimeout/time.Second))
	v.SetDefault("ollama.max_retries", d.OllamaMaxRetries)

	v.SetDefault("bedrock.region", d.BedrockRegion)
	v.SetDefault("bedrock.model", d.BedrockModel)
	v.SetDefault("bedrock.profile", d.BedrockProfile)

	v.SetDefault("log.max_size_mb", d.LogMaxSizeMB)
	v.SetDefault("log.truncate", d.LogTruncate)
	v.SetDefault("log.remove_timestamps", d.LogRemoveTimestamps)
	v.SetDefault("log.level", d.LogLevel)
	v.SetDefault("log.format", d.LogFormat)

	v.SetDefault("store.driver", d.StoreDriver)
	v.SetDefault("store.sqlite_file", d.SQLiteFile)
	v.SetDefault("store.postgres_url", d.PostgresURL)

	v.SetDefault("cache.enabled", d.CacheEnabled)
	v.SetDefault("cache.redis_url", d.RedisURL)
	v.SetDefault("cache.ttl_hours", int(d.CacheTTL/time.Hour))

	v.SetDefault("metrics.enabled", d.MetricsEnabled)
	v.SetDefault("metrics.port", d.MetricsPort)

	v.SetDefault("tracing.otlp_endpoint", d.TracingEndpoint)
	v.SetDefault("tracing.insecure", d.TracingInsecure)
	v.SetDefault("tracing.service_name", d.TracingServiceName)

	v.SetDefault("shutdown_timeout_seconds", int(d.ShutdownTimeout/time.Second))
}

func (f *fileConfig) toConfig() *Config {
	return &Config{
		PubSubSystem: f.PubSub.System,
		RabbitMQURL:  f.PubSub.RabbitMQURL,
		NATSURL:      f.PubSub.NATSURL,

		KafkaBrokers:         f.Kafka.BootstrapServers,
		KafkaClientID:        f.Kafka.ClientID,
		KafkaTracingEnabled:  f.Kafka.TracingEnabled,
		KafkaConsumerGroup:   f.Kafka.Consumer.GroupID,
		KafkaSessionTimeout:  time.Duration(f.Kafka.Consumer.SessionTimeoutMS) * time.Millisecond,
		KafkaMaxPollInterval: time.Duration(f.Kafka.Consumer.MaxPollIntervalMS) * time.Millisecond,
		KafkaProducerRetries: f.Kafka.Producer.Retries,
		KafkaLinger:          time.Duration(f.Kafka.Producer.LingerMS) * time.Millisecond,
		KafkaBatchBytes:      f.Kafka.Producer.BatchSize,
		KafkaCompression:     f.Kafka.Producer.CompressionType,

		RequestTopics: f.Kafka.Topics.AnalysisRequest,
		ResultTopic:   f.Kafka.Topics.AnalysisResult,
		DLQTopic:      f.Kafka.Topics.DLQ,

		AISource: f.Heimdall.AISource,

		OllamaURL:        f.Ollama.URL,
		OllamaModel:      f.Ollama.Model,
		OllamaTimeout:    time.Duration(f.Ollama.Timeout) * time.Second,
		OllamaMaxRetries: f.Ollama.MaxRetries,

		BedrockRegion:  f.Bedrock.Region,
		BedrockModel:   f.Bedrock.Model,
		BedrockProfile: f.Bedrock.Profile,

		LogMaxSizeMB:        f.Log.MaxSizeMB,
		LogTruncate:         f.Log.Truncate,
		LogRemoveTimestamps: f.Log.RemoveTimestamps,
		LogLevel:            f.Log.Level,
		LogFormat:           f.Log.Format,

		StoreDriver: f.Store.Driver,
		SQLiteFile:  f.Store.SQLiteFile,
		PostgresURL: f.Store.PostgresURL,

		CacheEnabled: f.Cache.Enabled,
		RedisURL:     f.Cache.RedisURL,
		CacheTTL:     time.Duration(f.Cache.TTLHours) * time.Hour,

		MetricsEnabled: f.Metrics.Enabled,
		MetricsPort:    f.Metrics.Port,

		TracingEndpoint:    f.Tracing.Endpoint,
		TracingInsecure:    f.Tracing.Insecure,
		TracingServiceName: f.Tracing.ServiceName,

		ShutdownTimeout: time.Duration(f.ShutdownTimeoutSeconds) * time.Second,
	}
}

// listHook decodes comma separated strings, as found in env vars and in
// bootstrap_servers, into trimmed lists.
func listHook() mapstructure.DecodeHookFuncType {
	return func(from reflect.Type, to reflect.Type, data any) (any, error) {
		if from.Kind() != reflect.String || to != reflect.TypeOf([]string(nil)) {
			return data, nil
		}
		var out []string
		for _, part := range strings.Split(data.(string), ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
		return out, nil
	}
}
