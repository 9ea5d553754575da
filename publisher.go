package auditry

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/confluentinc/confluent-kafka-go/v2/kafka"
	"github.com/sirupsen/logrus"
)

// KafkaWriter publishes records as JSON to a topic. Produce is asynchronous; delivery
// failures are reported on the producer's event channel and only logged.
type KafkaWriter struct {
	producer *kafka.Producer
	topic    string
	log      logrus.FieldLogger
	metrics  *Metrics
	done     chan struct{}
}

// NewKafkaWriter creates a producer for cfg.Brokers. It fails when no brokers are configured.
func NewKafkaWriter(cfg KafkaConfig, log logrus.FieldLogger, metrics *Metrics) (*KafkaWriter, error) {
	if !cfg.Enabled() {
		return nil, fmt.Errorf("auditry: kafka brokers are not configured")
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	p, err := kafka.NewProducer(&kafka.ConfigMap{"bootstrap.servers": cfg.Brokers})
	if err != nil {
		return nil, fmt.Errorf("auditry: failed to create kafka producer: %w", err)
	}

	w := &KafkaWriter{
		producer: p,
		topic:    cfg.Topic,
		log:      log.WithField("topic", cfg.Topic),
		metrics:  metrics,
		done:     make(chan struct{}),
	}
	go w.drain()

	w.log.Info("Audit Kafka producer created")
	return w, nil
}

// Persist enqueues r for publishing without waiting for delivery.
func (w *KafkaWriter) Persist(_ context.Context, r Record) {
	msg, err := kafkaMessage(w.topic, r)
	if err == nil {
		err = w.producer.Produce(msg, nil)
	}
	if err != nil {
		w.log.WithError(err).WithFields(logrus.Fields{
			"table":     r.TableName,
			"entity_id": r.EntityID,
		}).Error("Failed to publish audit record")
		w.metrics.dropped(r.TableName, "publish")
	}
}

// drain consumes delivery reports until the producer is closed.
func (w *KafkaWriter) drain() {
	defer close(w.done)
	for e := range w.producer.Events() {
		switch ev := e.(type) {
		case *kafka.Message:
			if ev.TopicPartition.Error != nil {
				w.log.WithError(ev.TopicPartition.Error).WithField("key", string(ev.Key)).Error("Audit record delivery failed")
				w.metrics.dropped(headerValue(ev, "table"), "delivery")
			}
		case kafka.Error:
			w.log.WithError(ev).Warn("Audit Kafka producer error")
		}
	}
}

// Close flushes pending messages for up to 15 seconds and closes the producer.
func (w *KafkaWriter) Close() {
	w.log.Info("Closing audit Kafka producer...")
	w.producer.Flush(15 * 1000)
	w.producer.Close()
	<-w.done
}

// kafkaMessage keys messages by table and entity so one entity's history stays on one
// partition, in order.
func kafkaMessage(topic string, r Record) (*kafka.Message, error) {
	payload, err := json.Marshal(r)
	if err != nil {
		return nil, fmt.Errorf("auditry: failed to marshal audit record: %w", err)
	}
	return &kafka.Message{
		TopicPartition: kafka.TopicPartition{Topic: &topic, Partition: kafka.PartitionAny},
		Key:            []byte(r.TableName + ":" + r.EntityID),
		Value:          payload,
		Headers: []kafka.Header{
			{Key: "table", Value: []byte(r.TableName)},
			{Key: "operation", Value: []byte(r.Operation.String())},
		},
	}, nil
}

func headerValue(m *kafka.Message, key string) string {
	for _, h := range m.Headers {
		if h.Key == key {
			return string(h.Value)
		}
	}
	return ""
}
