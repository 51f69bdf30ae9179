package mq

import (
	"log"

	"msmeconnect/internal/config"

	"github.com/IBM/sarama"
)

// Publisher 事件发布接口，OutboxSender 依赖它
type Publisher interface {
	Publish(topic, key, value string, headers map[string]string) error
	Close() error
}

// KafkaPublisher 基于 sarama 同步生产者
type KafkaPublisher struct {
	producer sarama.SyncProducer
}

// NewKafkaPublisher 包装已有的生产者（测试中传入 mocks.SyncProducer）
func NewKafkaPublisher(producer sarama.SyncProducer) *KafkaPublisher {
	return &KafkaPublisher{producer: producer}
}

// NewProducerConfig 生产者配置：等待所有副本确认 + 幂等写入
func NewProducerConfig() *sarama.Config {
	kafkaConfig := sarama.NewConfig()
	kafkaConfig.Producer.RequiredAcks = sarama.WaitForAll // 等待所有副本确认
	kafkaConfig.Producer.Retry.Max = 3                    // 重试次数
	kafkaConfig.Producer.Return.Successes = true          // 返回成功消息
	kafkaConfig.Producer.Idempotent = true
	kafkaConfig.Net.MaxOpenRequests = 1
	kafkaConfig.Version = sarama.V2_8_0_0
	return kafkaConfig
}

// InitKafka 未启用时返回 nil
func InitKafka(cfg *config.KafkaConfig) *KafkaPublisher {
	if !cfg.Enabled {
		log.Println("[Kafka] 未启用，钱包事件保留在 outbox 表中")
		return nil
	}

	producer, err := sarama.NewSyncProducer(cfg.Brokers, NewProducerConfig())
	if err != nil {
		log.Fatalf("[Kafka] 创建生产者失败: %v", err)
	}

	log.Println("[Kafka] 生产者创建成功")
	return NewKafkaPublisher(producer)
}

// Publish 发送消息，key 使用用户ID保证同一用户事件有序
func (p *KafkaPublisher) Publish(topic, key, value string, headers map[string]string) error {
	msg := &sarama.ProducerMessage{
		Topic: topic,
		Key:   sarama.StringEncoder(key),
		Value: sarama.StringEncoder(value),
	}
	for k, v := range headers {
		msg.Headers = append(msg.Headers, sarama.RecordHeader{Key: []byte(k), Value: []byte(v)})
	}

	_, _, err := p.producer.SendMessage(msg)
	return err
}

func (p *KafkaPublisher) Close() error {
	if p.producer != nil {
		return p.producer.Close()
	}
	return nil
}
