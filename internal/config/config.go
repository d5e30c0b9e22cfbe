package config

import (
	"os"
	"strings"
)

type Config struct {
	Port string

	// Kafka / status feed
	KafkaBrokers       string
	KafkaTopic         string
	KafkaConsumerGroup string
	KafkaStartOffset   string // "earliest" or "latest"

	SchemaRegistryURL string
}

func Load() *Config {
	return &Config{
		Port: getEnv("PORT", "8080"),

		KafkaBrokers:       getEnv("KAFKA_BROKERS", ""),
		KafkaTopic:         getEnv("KAFKA_TOPIC", "replica_status"),
		KafkaConsumerGroup: getEnv("KAFKA_CONSUMER_GROUP", "replica_broadcast"),
		KafkaStartOffset:   getEnv("KAFKA_START_OFFSET", "earliest"),

		SchemaRegistryURL: getEnv("SCHEMA_REGISTRY_URL", ""),
	}
}

// BrokerList splits KafkaBrokers on commas, trimming whitespace. An empty
// KafkaBrokers value yields nil.
func (c *Config) BrokerList() []string {
	if c.KafkaBrokers == "" {
		return nil
	}
	var brokers []string
	for _, b := range strings.Split(c.KafkaBrokers, ",") {
		b = strings.TrimSpace(b)
		if b != "" {
			brokers = append(brokers, b)
		}
	}
	return brokers
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
