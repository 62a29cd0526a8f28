// Command dlq-reprocess перечитывает farmoms.dlq и возвращает сообщения в исходные топики.
// По умолчанию работает в режиме dry-run и только печатает кандидатов.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/IBM/sarama"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/farmoms/internal/messaging/kafka"
	"github.com/vladislavdragonenkov/farmoms/internal/service/outbox"
)

const (
	defaultReplayLimit = 100
	defaultIdleTimeout = 2 * time.Second
	envKafkaBrokers    = "FARMOMS_KAFKA_BROKERS"
)

type config struct {
	brokers     []string
	sourceTopic string
	orderTopic  string
	limit       int
	execute     bool
	fromNewest  bool
	idleTimeout time.Duration
}

type replayMessage struct {
	topic   string
	key     string
	value   []byte
	headers []sarama.RecordHeader
}

type offsetClient interface {
	GetOffset(topic string, partition int32, time int64) (int64, error)
	Partitions(topic string) ([]int32, error)
	Close() error
}

type partitionConsumer interface {
	Messages() <-chan *sarama.ConsumerMessage
	Errors() <-chan *sarama.ConsumerError
	Close() error
}

type partitionConsumerSource interface {
	ConsumePartition(topic string, partition int32, offset int64) (partitionConsumer, error)
	Close() error
}

// replayPublisher покрывает часть kafka.Producer, нужную для повторной отправки.
type replayPublisher interface {
	PublishRaw(topic string, key string, value []byte, headers ...sarama.RecordHeader) error
	Close() error
}

type saramaConsumerAdapter struct {
	consumer sarama.Consumer
}

func (a saramaConsumerAdapter) ConsumePartition(topic string, partition int32, offset int64) (partitionConsumer, error) {
	return a.consumer.ConsumePartition(topic, partition, offset)
}

func (a saramaConsumerAdapter) Close() error {
	return a.consumer.Close()
}

var newReplayDependencies = func(cfg config, logger *log.Entry) (offsetClient, partitionConsumerSource, replayPublisher, error) {
	consumerConfig := sarama.NewConfig()
	consumerConfig.ClientID = "farmoms-dlq-reprocess"
	consumerConfig.Consumer.Return.Errors = true

	client, err := sarama.NewClient(cfg.brokers, consumerConfig)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("create kafka client: %w", err)
	}
	rawConsumer, err := sarama.NewConsumerFromClient(client)
	if err != nil {
		_ = client.Close()
		return nil, nil, nil, fmt.Errorf("create kafka consumer: %w", err)
	}
	consumer := saramaConsumerAdapter{consumer: rawConsumer}

	if !cfg.execute {
		return client, consumer, nil, nil
	}

	producer, err := kafka.NewProducer(cfg.brokers,
		kafka.WithClientID("farmoms-dlq-reprocess"),
		kafka.WithProducerLogger(logger.WithField("component", "kafka-producer")),
	)
	if err != nil {
		_ = consumer.Close()
		_ = client.Close()
		return nil, nil, nil, err
	}
	return client, consumer, producer, nil
}

func readConfig(args []string, getenv func(string) string, output io.Writer) (config, error) {
	var (
		brokersRaw string
		cfg        config
	)

	fs := flag.NewFlagSet("dlq-reprocess", flag.ContinueOnError)
	fs.SetOutput(output)
	fs.StringVar(&brokersRaw, "brokers", "", "Kafka brokers as comma-separated list (fallback: "+envKafkaBrokers+")")
	fs.StringVar(&cfg.sourceTopic, "source-topic", kafka.TopicDeadLetterQueue, "DLQ source topic")
	fs.StringVar(&cfg.orderTopic, "order-topic", kafka.TopicOrderEvents, "topic for replayed outbox events")
	fs.IntVar(&cfg.limit, "limit", defaultReplayLimit, "max number of messages to scan")
	fs.BoolVar(&cfg.execute, "execute", false, "publish replayed messages; default is dry-run")
	fs.BoolVar(&cfg.fromNewest, "from-newest", false, "scan the latest messages of each partition")
	fs.DurationVar(&cfg.idleTimeout, "idle-timeout", defaultIdleTimeout, "idle timeout per partition")
	if err := fs.Parse(args); err != nil {
		return config{}, err
	}

	if strings.TrimSpace(brokersRaw) == "" {
		brokersRaw = getenv(envKafkaBrokers)
	}
	cfg.brokers = parseBrokers(brokersRaw)

	var errs []error
	if len(cfg.brokers) == 0 {
		errs = append(errs, errors.New("kafka brokers are required (-brokers or "+envKafkaBrokers+")"))
	}
	if strings.TrimSpace(cfg.sourceTopic) == "" {
		errs = append(errs, errors.New("source-topic is required"))
	}
	if strings.TrimSpace(cfg.orderTopic) == "" {
		errs = append(errs, errors.New("order-topic is required"))
	}
	if cfg.limit <= 0 {
		errs = append(errs, errors.New("limit must be > 0"))
	}
	if cfg.idleTimeout <= 0 {
		errs = append(errs, errors.New("idle-timeout must be > 0"))
	}
	if err := errors.Join(errs...); err != nil {
		return config{}, err
	}
	return cfg, nil
}

func parseBrokers(raw string) []string {
	brokers := make([]string, 0)
	for _, chunk := range strings.Split(raw, ",") {
		if broker := strings.TrimSpace(chunk); broker != "" {
			brokers = append(brokers, broker)
		}
	}
	return brokers
}

// replayer сканирует партиции DLQ и переотправляет распознанные сообщения.
type replayer struct {
	cfg       config
	client    offsetClient
	consumer  partitionConsumerSource
	publisher replayPublisher
	logger    *log.Entry
	now       func() time.Time
}

type replayStats struct {
	processed int
	replayed  int
	skipped   int
}

func (s *replayStats) add(other replayStats) {
	s.processed += other.processed
	s.replayed += other.replayed
	s.skipped += other.skipped
}

func (r *replayer) run(ctx context.Context) (replayStats, error) {
	var total replayStats
	if r.client == nil || r.consumer == nil {
		return total, errors.New("kafka client and consumer are required")
	}
	if r.cfg.execute && r.publisher == nil {
		return total, errors.New("producer is required in execute mode")
	}

	partitions, err := r.client.Partitions(r.cfg.sourceTopic)
	if err != nil {
		return total, fmt.Errorf("get partitions for topic %s: %w", r.cfg.sourceTopic, err)
	}
	sort.Slice(partitions, func(i, j int) bool { return partitions[i] < partitions[j] })

	for _, partition := range partitions {
		remaining := r.cfg.limit - total.processed
		if remaining <= 0 {
			break
		}
		stats, err := r.processPartition(ctx, partition, remaining)
		total.add(stats)
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

func (r *replayer) processPartition(ctx context.Context, partition int32, limit int) (replayStats, error) {
	var stats replayStats

	oldest, err := r.client.GetOffset(r.cfg.sourceTopic, partition, sarama.OffsetOldest)
	if err != nil {
		return stats, fmt.Errorf("get oldest offset for partition %d: %w", partition, err)
	}
	newest, err := r.client.GetOffset(r.cfg.sourceTopic, partition, sarama.OffsetNewest)
	if err != nil {
		return stats, fmt.Errorf("get newest offset for partition %d: %w", partition, err)
	}
	if newest <= oldest {
		return stats, nil
	}

	start := oldest
	if r.cfg.fromNewest {
		start = max(newest-int64(limit), oldest)
	}

	pc, err := r.consumer.ConsumePartition(r.cfg.sourceTopic, partition, start)
	if err != nil {
		return stats, fmt.Errorf("consume partition %d: %w", partition, err)
	}
	defer func() { _ = pc.Close() }()

	idle := time.NewTimer(r.cfg.idleTimeout)
	defer idle.Stop()

	for stats.processed < limit {
		select {
		case <-ctx.Done():
			return stats, ctx.Err()
		case <-idle.C:
			return stats, nil
		case consumerErr := <-pc.Errors():
			if consumerErr != nil {
				return stats, fmt.Errorf("partition %d consumer error: %w", partition, consumerErr)
			}
		case msg, ok := <-pc.Messages():
			if !ok || msg == nil || msg.Offset >= newest {
				return stats, nil
			}
			idle.Reset(r.cfg.idleTimeout)

			stats.processed++
			switch err := r.replay(msg); {
			case err == nil:
				stats.replayed++
			case errors.Is(err, errPublish):
				return stats, err
			default:
				stats.skipped++
				r.logger.WithError(err).WithFields(log.Fields{
					"partition": msg.Partition,
					"offset":    msg.Offset,
				}).Warn("skip dlq message")
			}

			if msg.Offset+1 >= newest {
				return stats, nil
			}
		}
	}
	return stats, nil
}

var (
	errPublish       = errors.New("publish replay message")
	errUnrecognized  = errors.New("unrecognized dlq message")
	errMissingOrigin = errors.New("dlq message does not contain the original event")
)

func (r *replayer) replay(msg *sarama.ConsumerMessage) error {
	candidate, err := extractReplayMessage(msg, r.cfg.orderTopic, r.now())
	if err != nil {
		return err
	}

	logger := r.logger.WithFields(log.Fields{
		"partition":    msg.Partition,
		"offset":       msg.Offset,
		"target_topic": candidate.topic,
		"key":          candidate.key,
	})
	if !r.cfg.execute {
		logger.Info("dlq replay candidate")
		return nil
	}
	if err := r.publisher.PublishRaw(candidate.topic, candidate.key, candidate.value, candidate.headers...); err != nil {
		return fmt.Errorf("%w: %v", errPublish, err)
	}
	logger.Info("dlq message replayed")
	return nil
}

// extractReplayMessage распознаёт два формата DLQ: письмо consumer-а (kafka.DeadLetter)
// и outbox-событие с outbox.DLQEnvelope в payload.
func extractReplayMessage(msg *sarama.ConsumerMessage, orderTopic string, now time.Time) (replayMessage, error) {
	var letter kafka.DeadLetter
	if err := json.Unmarshal(msg.Value, &letter); err == nil && letter.OriginalValue != "" {
		topic := strings.TrimSpace(letter.OriginalTopic)
		if topic == "" {
			topic = orderTopic
		}
		candidate := replayMessage{topic: topic, key: letter.OriginalKey, value: []byte(letter.OriginalValue)}
		if letter.OriginalSignature != "" {
			candidate.headers = append(candidate.headers, sarama.RecordHeader{
				Key:   []byte(kafka.HeaderSignature),
				Value: []byte(letter.OriginalSignature),
			})
		}
		return candidate, nil
	}

	event, err := kafka.ParseOrderEvent(msg)
	if err != nil || len(event.Payload) == 0 {
		return replayMessage{}, errUnrecognized
	}

	var envelope outbox.DLQEnvelope
	if err := json.Unmarshal(event.Payload, &envelope); err != nil {
		return replayMessage{}, fmt.Errorf("decode outbox dlq envelope: %w", err)
	}
	if len(envelope.Payload) == 0 {
		return replayMessage{}, errMissingOrigin
	}

	replayed := kafka.OrderEvent{
		ID:            firstNonEmpty(envelope.OutboxID, event.ID),
		AggregateType: firstNonEmpty(envelope.AggregateType, event.AggregateType),
		AggregateID:   firstNonEmpty(envelope.AggregateID, event.AggregateID),
		EventType:     firstNonEmpty(envelope.EventType, event.EventType),
		Payload:       envelope.Payload,
		PublishedAt:   now,
	}
	value, err := json.Marshal(replayed)
	if err != nil {
		return replayMessage{}, fmt.Errorf("encode replayed event: %w", err)
	}
	return replayMessage{
		topic: orderTopic,
		key:   firstNonEmpty(replayed.AggregateID, replayed.ID),
		value: value,
		headers: []sarama.RecordHeader{
			{Key: []byte(kafka.HeaderEventType), Value: []byte(replayed.EventType)},
		},
	}, nil
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		if strings.TrimSpace(value) != "" {
			return value
		}
	}
	return ""
}

func run(ctx context.Context, cfg config, logger *log.Entry) error {
	mode := "dry-run"
	if cfg.execute {
		mode = "execute"
	}
	logger = logger.WithField("mode", mode)
	logger.WithFields(log.Fields{
		"source_topic": cfg.sourceTopic,
		"order_topic":  cfg.orderTopic,
		"limit":        cfg.limit,
		"from_newest":  cfg.fromNewest,
	}).Info("starting dlq replay")

	client, consumer, publisher, err := newReplayDependencies(cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if publisher != nil {
			_ = publisher.Close()
		}
		_ = consumer.Close()
		_ = client.Close()
	}()

	r := &replayer{
		cfg:       cfg,
		client:    client,
		consumer:  consumer,
		publisher: publisher,
		logger:    logger,
		now:       func() time.Time { return time.Now().UTC() },
	}
	stats, err := r.run(ctx)
	logger.WithFields(log.Fields{
		"processed": stats.processed,
		"replayed":  stats.replayed,
		"skipped":   stats.skipped,
	}).Info("dlq replay finished")
	return err
}

func main() {
	log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	logger := log.WithField("component", "dlq-reprocess")

	cfg, err := readConfig(os.Args[1:], os.Getenv, os.Stderr)
	if errors.Is(err, flag.ErrHelp) {
		return
	}
	if err != nil {
		logger.WithError(err).Fatal("invalid arguments")
	}

	if err := run(context.Background(), cfg, logger); err != nil {
		logger.WithError(err).Fatal("dlq replay failed")
	}
}
