// Package feed читает поток подтверждений оплаты из Kafka и передаёт их в сервис заказов.
// Сообщение фиксируется (commit) только после успешной обработки или постоянной ошибки:
// при временной ошибке то же сообщение обрабатывается повторно, пока не пройдёт.
// Повторная обработка безопасна, так как эффекты заказа идемпотентны.
package feed

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/sethvargo/go-retry"
	"go.uber.org/zap"

	"github.com/kayicom/marketplace/internal/model"
	"github.com/kayicom/marketplace/internal/service"
)

// Reader описывает методы kafka.Reader, которые нужны потребителю.
type Reader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Confirmer применяет подтверждение оплаты.
type Confirmer interface {
	ConfirmPayment(ctx context.Context, c service.PaymentConfirmation) (*model.Order, error)
}

// Consumer обрабатывает сообщения подтверждений по одному.
type Consumer struct {
	reader    Reader
	confirmer Confirmer
	logger    *zap.Logger
	backoff   time.Duration
	retries   uint64
	redeliver time.Duration
}

// NewReader создаёт читателя Kafka для группы потребителей.
func NewReader(brokersCSV, topic, groupID string) *kafka.Reader {
	var brokers []string
	for _, b := range strings.Split(brokersCSV, ",") {
		if b = strings.TrimSpace(b); b != "" {
			brokers = append(brokers, b)
		}
	}

	return kafka.NewReader(kafka.ReaderConfig{
		Brokers:  brokers,
		Topic:    topic,
		GroupID:  groupID,
		MinBytes: 1,
		MaxBytes: 10e6,
		MaxWait:  500 * time.Millisecond,
	})
}

// NewConsumer создаёт потребителя подтверждений.
func NewConsumer(r Reader, c Confirmer, logger *zap.Logger) *Consumer {
	return &Consumer{
		reader:    r,
		confirmer: c,
		logger:    logger,
		backoff:   200 * time.Millisecond,
		retries:   3,
		redeliver: 5 * time.Second,
	}
}

// Run читает сообщения до отмены контекста.
func (c *Consumer) Run(ctx context.Context) error {
	defer c.reader.Close()

	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			c.logger.Warn("fetch confirmation", zap.Error(err))
			if !sleep(ctx, c.backoff) {
				return nil
			}
			continue
		}

		if !c.process(ctx, msg) {
			return nil
		}

		if err := c.reader.CommitMessages(ctx, msg); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			c.logger.Warn("commit confirmation", zap.Int64("offset", msg.Offset), zap.Error(err))
		}
	}
}

// process обрабатывает сообщение до успеха или постоянной ошибки.
// Возвращает false, если контекст отменён раньше.
func (c *Consumer) process(ctx context.Context, msg kafka.Message) bool {
	for {
		err := c.handle(ctx, msg)
		if err == nil {
			return true
		}
		if ctx.Err() != nil {
			return false
		}
		c.logger.Error("confirmation not applied, will redeliver",
			zap.Int64("offset", msg.Offset), zap.Error(err))
		if !sleep(ctx, c.redeliver) {
			return false
		}
	}
}

// handle применяет одно сообщение. Ошибка возвращается только для временных сбоев,
// исчерпавших попытки; некорректные сообщения и постоянные ошибки пропускаются.
func (c *Consumer) handle(ctx context.Context, msg kafka.Message) error {
	var conf service.PaymentConfirmation
	if err := json.Unmarshal(msg.Value, &conf); err != nil {
		c.logger.Warn("malformed confirmation dropped", zap.Int64("offset", msg.Offset), zap.Error(err))
		return nil
	}
	if conf.OrderID == "" && len(msg.Key) > 0 {
		conf.OrderID = string(msg.Key)
	}

	backoff := retry.WithMaxRetries(c.retries, retry.NewExponential(c.backoff))
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		_, err := c.confirmer.ConfirmPayment(ctx, conf)
		if err == nil || permanent(err) {
			return err
		}
		return retry.RetryableError(err)
	})
	if err != nil && permanent(err) {
		c.logger.Warn("confirmation rejected",
			zap.String("order", conf.OrderID), zap.String("status", conf.Status), zap.Error(err))
		return nil
	}
	return err
}

func permanent(err error) bool {
	return errors.Is(err, service.ErrValidation) || service.IsNotFound(err) ||
		errors.Is(err, service.ErrAlreadyRefunded)
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
