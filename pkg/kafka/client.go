// Package kafka 提供了与 Kafka 消息队列交互的功能。
package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"ctxbot-go/internal/config"
	"ctxbot-go/pkg/log"
	"ctxbot-go/pkg/tasks"

	"github.com/segmentio/kafka-go"
)

// MaxAttempts 是一个任务最多被处理的次数，达到后提交 offset 放弃该任务。
const MaxAttempts = 3

// TaskProcessor defines the interface for any service that can process a task.
// This decouples the Kafka consumer from the concrete pipeline implementation.
type TaskProcessor interface {
	Process(ctx context.Context, task tasks.IngestTask) error
}

var producer *kafka.Writer

// ErrProducerNotInitialized 表示未调用 InitProducer（通常是 kafka.enabled=false）。
var ErrProducerNotInitialized = errors.New("kafka producer is not initialized")

func brokerList(brokers string) []string {
	var out []string
	for _, b := range strings.Split(brokers, ",") {
		if b = strings.TrimSpace(b); b != "" {
			out = append(out, b)
		}
	}
	return out
}

// InitProducer 初始化 Kafka 生产者。
func InitProducer(cfg config.KafkaConfig) {
	producer = &kafka.Writer{
		Addr:                   kafka.TCP(brokerList(cfg.Brokers)...),
		Topic:                  cfg.Topic,
		Balancer:               &kafka.LeastBytes{},
		AllowAutoTopicCreation: true,
	}
	log.Info("Kafka 生产者初始化成功")
}

// ProduceIngestTask 发送一个知识入库任务到 Kafka。以 JobID 作为消息 key。
func ProduceIngestTask(ctx context.Context, task tasks.IngestTask) error {
	if producer == nil {
		return ErrProducerNotInitialized
	}
	taskBytes, err := json.Marshal(task)
	if err != nil {
		return err
	}
	return producer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(task.JobID),
		Value: taskBytes,
	})
}

// CloseProducer 关闭生产者。
func CloseProducer() error {
	if producer == nil {
		return nil
	}
	err := producer.Close()
	producer = nil
	return err
}

// messageReader 是 consume 用到的 *kafka.Reader 方法子集。
type messageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
}

const (
	fetchRetryDelay = 3 * time.Second
	// 计数器不可用时，同一条消息的重试间隔
	redeliverDelay = 3 * time.Second
)

// StartConsumer 启动一个 Kafka 消费者来处理入库任务，阻塞直到 ctx 结束。
func StartConsumer(ctx context.Context, cfg config.KafkaConfig, processor TaskProcessor, counter AttemptCounter) {
	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  brokerList(cfg.Brokers),
		Topic:    cfg.Topic,
		GroupID:  cfg.GroupID,
		MinBytes: 1,
		MaxBytes: 10e6, // 10MB
	})
	defer func() {
		if err := r.Close(); err != nil {
			log.Errorf("关闭 Kafka 消费者失败: %v", err)
		}
	}()

	log.Infof("Kafka 消费者已启动，正在监听主题 '%s'", cfg.Topic)
	consume(ctx, r, processor, counter, time.Second, redeliverDelay)
	log.Info("Kafka 消费者已停止")
}

// consume 逐条处理消息。一条消息在得到可提交的结果之前不会拉取下一条：
// group reader 会越过未提交的消息，之后提交更大的 offset 就等于丢弃它。
// ctx 结束时未提交的消息会在重启后从已提交的 offset 处重新投递。
func consume(ctx context.Context, r messageReader, processor TaskProcessor, counter AttemptCounter, backoff, retryDelay time.Duration) {
	for {
		m, err := r.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			log.Errorf("从 Kafka 读取消息失败: %v", err)
			if !sleep(ctx, fetchRetryDelay) {
				return
			}
			continue
		}

		log.Infof("收到 Kafka 消息: partition %d, offset %d", m.Partition, m.Offset)
		for !HandleMessage(ctx, m.Value, processor, counter, backoff) {
			if ctx.Err() != nil {
				return
			}
			log.Warnf("Kafka 消息未能确认处理结果，%s 后重试同一条消息: offset %d", retryDelay, m.Offset)
			if !sleep(ctx, retryDelay) {
				return
			}
		}
		if err := r.CommitMessages(context.WithoutCancel(ctx), m); err != nil {
			log.Errorf("提交 Kafka 消息 offset 失败: %v", err)
		}
	}
}

// sleep 等待 d，ctx 先结束时返回 false。
func sleep(ctx context.Context, d time.Duration) bool {
	select {
	case <-ctx.Done():
		return false
	case <-time.After(d):
		return true
	}
}

// HandleMessage 处理一条消息并返回是否应提交 offset。
// 失败次数按 JobID 计数，次数跨重启保留；未达到 MaxAttempts 时按 backoff*次数 等待后重试。
// 计数器不可用或 ctx 结束时返回 false，由调用方重试同一条消息。
func HandleMessage(ctx context.Context, value []byte, processor TaskProcessor, counter AttemptCounter, backoff time.Duration) bool {
	var task tasks.IngestTask
	if err := json.Unmarshal(value, &task); err != nil {
		log.Errorf("无法解析 Kafka 消息: %v, value: %s", err, string(value))
		// 消息格式错误，直接提交，避免阻塞队列
		return true
	}
	if task.JobID == "" {
		task.JobID = tasks.NewJobID()
	}

	jobLog := log.With("job_id", task.JobID)
	for {
		jobLog.Info("开始处理入库任务")
		err := processor.Process(ctx, task)
		if err == nil {
			jobLog.Info("入库任务处理成功")
			// 清理失败计数
			if err := counter.Reset(ctx, task.JobID); err != nil {
				jobLog.Warnw("清理失败计数失败", "error", err)
			}
			return true
		}

		jobLog.Errorw("处理入库任务失败", "error", err)
		attempts, incErr := counter.Incr(ctx, task.JobID)
		if incErr != nil {
			jobLog.Errorw("记录失败次数失败", "error", incErr)
			return false
		}
		if attempts >= MaxAttempts {
			jobLog.Errorf("入库任务多次失败(>=%d)，提交 offset 终止重试", MaxAttempts)
			return true
		}

		if !sleep(ctx, backoff*time.Duration(attempts)) {
			return false
		}
	}
}
