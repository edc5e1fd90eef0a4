package changefeed

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/SlpAus/uvbunny-backend/internal/platform/config"
	"github.com/SlpAus/uvbunny-backend/internal/platform/metrics"
	"github.com/SlpAus/uvbunny-backend/pkg/lifecycle"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const unhealthyPause = 5 * time.Second

// Handler 处理一条变更。返回错误会让消息留在待处理列表中等待重新投递。
type Handler func(ctx context.Context, c Change) error

// Dispatcher 从消费者组读取变更并分发给注册的处理函数
type Dispatcher struct {
	rdb      *redis.Client
	cfg      config.ChangefeedConfig
	consumer string
	handlers map[Kind]Handler
	logger   *zap.Logger
}

func NewDispatcher(rdb *redis.Client, cfg config.ChangefeedConfig, logger *zap.Logger) *Dispatcher {
	consumer := cfg.Consumer
	if consumer == "" {
		host, _ := os.Hostname()
		consumer = fmt.Sprintf("%s-%d", host, os.Getpid())
	}
	if cfg.Batch <= 0 {
		cfg.Batch = 32
	}
	if cfg.MaxDeliveries <= 0 {
		cfg.MaxDeliveries = 5
	}
	return &Dispatcher{
		rdb:      rdb,
		cfg:      cfg,
		consumer: consumer,
		handlers: make(map[Kind]Handler),
		logger:   logger.Named("changefeed").With(zap.String("consumer", consumer)),
	}
}

// Handle 为某种变更注册处理函数，必须在 Run 之前调用
func (d *Dispatcher) Handle(kind Kind, h Handler) {
	d.handlers[kind] = h
}

// DeadLetterStream 是超过投递上限的消息被转存的位置
func (d *Dispatcher) DeadLetterStream() string {
	return d.cfg.Stream + ":dead"
}

func (d *Dispatcher) attemptsKey() string {
	return d.cfg.Stream + ":attempts"
}

// EnsureGroup 创建消费者组（连同Stream），已存在时忽略
func (d *Dispatcher) EnsureGroup(ctx context.Context) error {
	err := d.rdb.XGroupCreateMkStream(ctx, d.cfg.Stream, d.cfg.Group, "0").Err()
	if err != nil && !strings.Contains(err.Error(), "BUSYGROUP") {
		return fmt.Errorf("创建消费者组失败: %w", err)
	}
	return nil
}

// read 读取新消息。block 为负数时不阻塞。
func (d *Dispatcher) read(ctx context.Context, block time.Duration) ([]redis.XMessage, error) {
	streams, err := d.rdb.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    d.cfg.Group,
		Consumer: d.consumer,
		Streams:  []string{d.cfg.Stream, ">"},
		Count:    d.cfg.Batch,
		Block:    block,
	}).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var msgs []redis.XMessage
	for _, s := range streams {
		msgs = append(msgs, s.Messages...)
	}
	return msgs, nil
}

// PollOnce 读取一批新消息并逐条处理，返回处理的条数
func (d *Dispatcher) PollOnce(ctx context.Context, block time.Duration) (int, error) {
	msgs, err := d.read(ctx, block)
	if err != nil {
		return 0, err
	}
	for _, msg := range msgs {
		d.deliver(ctx, msg)
	}
	return len(msgs), nil
}

// Reclaim 认领空闲超过 claimIdle 的待处理消息（包括其他已下线消费者的）并重新处理
func (d *Dispatcher) Reclaim(ctx context.Context) (int, error) {
	total := 0
	start := "0-0"
	for {
		msgs, next, err := d.rdb.XAutoClaim(ctx, &redis.XAutoClaimArgs{
			Stream:   d.cfg.Stream,
			Group:    d.cfg.Group,
			Consumer: d.consumer,
			MinIdle:  d.cfg.ClaimIdle,
			Start:    start,
			Count:    d.cfg.Batch,
		}).Result()
		if err != nil {
			return total, fmt.Errorf("认领待处理消息失败: %w", err)
		}
		for _, msg := range msgs {
			d.deliver(ctx, msg)
		}
		total += len(msgs)
		if next == "0-0" || next == "" || len(msgs) == 0 {
			return total, nil
		}
		start = next
	}
}

// deliver 处理单条消息：成功则确认，失败则计数，超过上限转入死信
func (d *Dispatcher) deliver(ctx context.Context, msg redis.XMessage) {
	change, err := parseChange(msg.Values)
	if err != nil {
		d.logger.Warn("丢弃格式错误的变更消息", zap.String("id", msg.ID), zap.Error(err))
		d.deadLetter(ctx, msg, err)
		metrics.ChangefeedDeliveries.WithLabelValues("malformed", "dead").Inc()
		return
	}

	kind := string(change.Kind)
	handler, ok := d.handlers[change.Kind]
	if !ok {
		d.logger.Warn("没有处理函数的变更种类，直接确认", zap.String("kind", kind), zap.String("id", msg.ID))
		d.ack(ctx, msg.ID)
		metrics.ChangefeedDeliveries.WithLabelValues(kind, "unknown").Inc()
		return
	}

	if err := handler(ctx, change); err != nil {
		attempts, incErr := d.rdb.HIncrBy(ctx, d.attemptsKey(), msg.ID, 1).Result()
		if incErr != nil {
			d.logger.Error("无法记录投递次数", zap.String("id", msg.ID), zap.Error(incErr))
		}
		if attempts >= d.cfg.MaxDeliveries {
			d.logger.Error("变更处理多次失败，转入死信",
				zap.String("kind", kind), zap.String("id", msg.ID),
				zap.Int64("attempts", attempts), zap.Error(err))
			d.deadLetter(ctx, msg, err)
			metrics.ChangefeedDeliveries.WithLabelValues(kind, "dead").Inc()
			return
		}
		d.logger.Warn("变更处理失败，等待重新投递",
			zap.String("kind", kind), zap.String("id", msg.ID),
			zap.Int64("attempts", attempts), zap.Error(err))
		metrics.ChangefeedDeliveries.WithLabelValues(kind, "retry").Inc()
		return
	}

	d.ack(ctx, msg.ID)
	metrics.ChangefeedDeliveries.WithLabelValues(kind, "ok").Inc()
}

func (d *Dispatcher) ack(ctx context.Context, id string) {
	pipe := d.rdb.TxPipeline()
	pipe.XAck(ctx, d.cfg.Stream, d.cfg.Group, id)
	pipe.HDel(ctx, d.attemptsKey(), id)
	if _, err := pipe.Exec(ctx); err != nil {
		d.logger.Error("确认消息失败", zap.String("id", id), zap.Error(err))
	}
}

func (d *Dispatcher) deadLetter(ctx context.Context, msg redis.XMessage, cause error) {
	values := make(map[string]interface{}, len(msg.Values)+2)
	for k, v := range msg.Values {
		values[k] = v
	}
	values["source_id"] = msg.ID
	values[fieldError] = cause.Error()

	if err := d.rdb.XAdd(ctx, &redis.XAddArgs{Stream: d.DeadLetterStream(), Values: values}).Err(); err != nil {
		// 死信写不进去就不确认，下次认领时再试
		d.logger.Error("写入死信失败", zap.String("id", msg.ID), zap.Error(err))
		return
	}
	d.ack(ctx, msg.ID)
}

// Run 是分发器的主循环。graceful 停止读取新消息，forceful 中断正在处理的消息。
// healthy 返回false时暂停消费。
func (d *Dispatcher) Run(graceful, forceful *lifecycle.Handle, healthy func() bool) {
	d.logger.Info("变更分发器已启动", zap.String("stream", d.cfg.Stream), zap.String("group", d.cfg.Group))
	defer d.logger.Info("变更分发器已停止")

	for {
		err := d.EnsureGroup(graceful.Ctx())
		if err == nil {
			break
		}
		d.logger.Error("初始化消费者组失败，稍后重试", zap.Error(err))
		if graceful.Sleep(unhealthyPause) != nil {
			return
		}
	}

	// 启动时先处理上次遗留的消息
	lastClaim := time.Time{}
	for {
		select {
		case <-graceful.Done():
			return
		default:
		}

		if healthy != nil && !healthy() {
			if graceful.Sleep(unhealthyPause) != nil {
				return
			}
			continue
		}

		if time.Since(lastClaim) >= d.cfg.ClaimIdle {
			if _, err := d.Reclaim(forceful.Ctx()); err != nil {
				d.logger.Warn("认领待处理消息失败", zap.Error(err))
			}
			lastClaim = time.Now()
		}

		msgs, err := d.read(graceful.Ctx(), d.cfg.Block)
		if err != nil {
			if graceful.Err() != nil {
				return
			}
			d.logger.Warn("读取变更失败", zap.Error(err))
			if graceful.Sleep(time.Second) != nil {
				return
			}
			continue
		}
		for _, msg := range msgs {
			if forceful.Err() != nil {
				return
			}
			d.deliver(forceful.Ctx(), msg)
		}
	}
}
