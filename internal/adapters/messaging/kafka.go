package messaging

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/confluentinc/confluent-kafka-go/kafka"
	"github.com/google/uuid"

	"github.com/athebyme/catalog-sync/pkg/interfaces"
)

// KafkaMessaging реализация MessagingPort с использованием Kafka
type KafkaMessaging struct {
	producer        *kafka.Producer
	consumers       map[string]*kafka.Consumer
	consumersMutex  sync.Mutex
	brokers         []string
	groupID         string
	deadLetterTopic string
	logger          interfaces.LoggerPort
}

// NewKafkaMessaging создает новый экземпляр KafkaMessaging
func NewKafkaMessaging(brokers []string, groupID, deadLetterTopic string, logger interfaces.LoggerPort) (*KafkaMessaging, error) {
	producer, err := kafka.NewProducer(&kafka.ConfigMap{
		"bootstrap.servers":            brokers,
		"client.id":                    "catalog-sync-producer",
		"acks":                         "all", // максимальная надежность
		"retries":                      5,
		"retry.backoff.ms":             500,
		"compression.type":             "snappy",
		"linger.ms":                    10, // небольшая задержка для батчинга
		"queue.buffering.max.messages": 100000,
	})
	if err != nil {
		return nil, fmt.Errorf("ошибка создания Kafka producer: %w", err)
	}

	return &KafkaMessaging{
		producer:        producer,
		consumers:       make(map[string]*kafka.Consumer),
		brokers:         brokers,
		groupID:         groupID,
		deadLetterTopic: deadLetterTopic,
		logger:          logger,
	}, nil
}

// messageToKafkaMessage преобразует сообщение в kafka.Message
func messageToKafkaMessage(topic string, message []byte, key string, headers map[string]string) *kafka.Message {
	var kafkaHeaders []kafka.Header
	for k, v := range headers {
		kafkaHeaders = append(kafkaHeaders, kafka.Header{Key: k, Value: []byte(v)})
	}

	// Служебные заголовки
	kafkaHeaders = append(kafkaHeaders,
		kafka.Header{Key: "message_id", Value: []byte(uuid.New().String())},
		kafka.Header{Key: "timestamp", Value: []byte(time.Now().UTC().Format(time.RFC3339Nano))},
	)

	var keyBytes []byte
	if key != "" {
		keyBytes = []byte(key)
	}

	return &kafka.Message{
		TopicPartition: kafka.TopicPartition{Topic: &topic, Partition: kafka.PartitionAny},
		Value:          message,
		Key:            keyBytes,
		Headers:        kafkaHeaders,
	}
}

// kafkaMessageToMessage преобразует kafka.Message во внутреннее сообщение
func kafkaMessageToMessage(msg *kafka.Message) *interfaces.Message {
	headers := make(map[string]string)
	for _, header := range msg.Headers {
		headers[header.Key] = string(header.Value)
	}

	var key string
	if msg.Key != nil {
		key = string(msg.Key)
	}

	publishedAt := time.Now()
	if tsStr, ok := headers["timestamp"]; ok {
		if ts, err := time.Parse(time.RFC3339Nano, tsStr); err == nil {
			publishedAt = ts
		}
	}

	return &interfaces.Message{
		ID:          headers["message_id"],
		Topic:       *msg.TopicPartition.Topic,
		Key:         key,
		Value:       msg.Value,
		Headers:     headers,
		TenantID:    headers["tenant_id"],
		PublishedAt: publishedAt,
	}
}

// Publish публикует сообщение в указанную тему
func (k *KafkaMessaging) Publish(ctx context.Context, topic string, message []byte) error {
	msg := messageToKafkaMessage(topic, message, "", nil)
	return k.producer.Produce(msg, nil)
}

// PublishWithKey публикует сообщение с ключом партиционирования.
// Уведомления одной сущности публикуются с одним ключом, чтобы попадать
// в одну партицию и читаться последовательно
func (k *KafkaMessaging) PublishWithKey(ctx context.Context, topic string, key string, message []byte) error {
	msg := messageToKafkaMessage(topic, message, key, nil)
	return k.producer.Produce(msg, nil)
}

// PublishDeadLetter отправляет необработанное сообщение в dead-letter тему
func (k *KafkaMessaging) PublishDeadLetter(ctx context.Context, original *interfaces.Message, reason string) error {
	if k.deadLetterTopic == "" {
		return nil
	}

	headers := map[string]string{
		"origin_topic": original.Topic,
		"fail_reason":  reason,
	}
	msg := messageToKafkaMessage(k.deadLetterTopic, original.Value, original.Key, headers)
	return k.producer.Produce(msg, nil)
}

// Subscribe подписывается на указанную тему и обрабатывает сообщения с помощью handler
func (k *KafkaMessaging) Subscribe(ctx context.Context, topic string, handler interfaces.MessageHandler) (func() error, error) {
	consumerID := uuid.New().String()

	kafkaConfig := &kafka.ConfigMap{
		"bootstrap.servers":     k.brokers,
		"group.id":              k.groupID,
		"auto.offset.reset":     "latest",
		"enable.auto.commit":    false, // подтверждаем только после успешной обработки
		"session.timeout.ms":    30000,
		"max.poll.interval.ms":  300000,
		"heartbeat.interval.ms": 3000,
	}

	consumer, err := kafka.NewConsumer(kafkaConfig)
	if err != nil {
		return nil, fmt.Errorf("ошибка создания Kafka consumer: %w", err)
	}

	if err := consumer.Subscribe(topic, nil); err != nil {
		consumer.Close()
		return nil, fmt.Errorf("ошибка подписки на топик %s: %w", topic, err)
	}

	k.consumersMutex.Lock()
	k.consumers[consumerID] = consumer
	k.consumersMutex.Unlock()

	// обработка сообщений в отдельной горутине
	go k.consumeMessages(ctx, consumer, handler)

	unsubscribe := func() error {
		k.consumersMutex.Lock()
		consumer := k.consumers[consumerID]
		delete(k.consumers, consumerID)
		k.consumersMutex.Unlock()

		if consumer != nil {
			return consumer.Close()
		}
		return nil
	}

	return unsubscribe, nil
}

// redeliveryTracker считает повторные доставки сообщений в рамках одной
// сессии консьюмера. Ключ — позиция сообщения в логе темы
type redeliveryTracker struct {
	attempts map[string]int
}

func newRedeliveryTracker() *redeliveryTracker {
	return &redeliveryTracker{attempts: make(map[string]int)}
}

func positionKey(tp kafka.TopicPartition) string {
	topic := ""
	if tp.Topic != nil {
		topic = *tp.Topic
	}
	return fmt.Sprintf("%s[%d]@%d", topic, tp.Partition, tp.Offset)
}

// Attempts возвращает число уже состоявшихся неудачных попыток обработки
func (t *redeliveryTracker) Attempts(tp kafka.TopicPartition) int {
	return t.attempts[positionKey(tp)]
}

// RecordFailure учитывает неудачную попытку обработки сообщения
func (t *redeliveryTracker) RecordFailure(tp kafka.TopicPartition) {
	t.attempts[positionKey(tp)]++
}

// Clear сбрасывает счетчик после успешной обработки
func (t *redeliveryTracker) Clear(tp kafka.TopicPartition) {
	delete(t.attempts, positionKey(tp))
}

// consumeMessages обрабатывает сообщения из Kafka.
// Оффсет коммитится только после успешной обработки; ошибка обработчика
// возвращает консьюмер к позиции сообщения, иначе Poll уже сдвинул курсор
// вперед и повторной доставки в этой сессии не будет. Число попыток
// передается обработчику, чтобы он мог ограничить повторы
func (k *KafkaMessaging) consumeMessages(ctx context.Context, consumer *kafka.Consumer, handler interfaces.MessageHandler) {
	redeliveries := newRedeliveryTracker()

	for {
		select {
		case <-ctx.Done():
			return
		default:
			ev := consumer.Poll(100)
			if ev == nil {
				continue
			}

			switch e := ev.(type) {
			case *kafka.Message:
				msg := kafkaMessageToMessage(e)
				msg.Attempts = redeliveries.Attempts(e.TopicPartition)

				if err := handler(ctx, msg); err != nil {
					redeliveries.RecordFailure(e.TopicPartition)
					k.logger.ErrorWithContext(ctx, "Ошибка обработки сообщения",
						interfaces.LogField{Key: "message_id", Value: msg.ID},
						interfaces.LogField{Key: "topic", Value: msg.Topic},
						interfaces.LogField{Key: "attempt", Value: msg.Attempts},
						interfaces.LogField{Key: "error", Value: err.Error()},
					)
					if seekErr := consumer.Seek(e.TopicPartition, 0); seekErr != nil {
						k.logger.ErrorWithContext(ctx, "Ошибка возврата к оффсету сообщения",
							interfaces.LogField{Key: "message_id", Value: msg.ID},
							interfaces.LogField{Key: "error", Value: seekErr.Error()},
						)
					}
					continue
				}

				redeliveries.Clear(e.TopicPartition)

				if _, err := consumer.CommitMessage(e); err != nil {
					k.logger.ErrorWithContext(ctx, "Ошибка подтверждения сообщения",
						interfaces.LogField{Key: "message_id", Value: msg.ID},
						interfaces.LogField{Key: "error", Value: err.Error()},
					)
				}

			case kafka.Error:
				k.logger.Error("Ошибка Kafka",
					interfaces.LogField{Key: "code", Value: e.Code().String()},
					interfaces.LogField{Key: "error", Value: e.Error()},
				)
				if e.Code() == kafka.ErrAllBrokersDown {
					return
				}
			}
		}
	}
}

// Close закрывает соединение с системой обмена сообщениями
func (k *KafkaMessaging) Close() error {
	k.consumersMutex.Lock()
	for id, consumer := range k.consumers {
		consumer.Close()
		delete(k.consumers, id)
	}
	k.consumersMutex.Unlock()

	k.producer.Flush(15 * 1000) // ждем до 15 секунд для отправки всех сообщений
	k.producer.Close()

	return nil
}
