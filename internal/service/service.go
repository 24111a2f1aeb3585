// Package service реализует ядро маркетплейса: машину состояний заказа и связанные с ней
// журналы (купоны, кошелёк, бонусные кредиты, реферальные выплаты, подписки).
// Каждый побочный эффект идемпотентен: его признак выполнения записывается в хранилище
// той же операцией, что и сам эффект.
package service

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/kayicom/marketplace/internal/gateway"
	"github.com/kayicom/marketplace/internal/lock"
	"github.com/kayicom/marketplace/internal/model"
	"github.com/kayicom/marketplace/internal/notify"
)

// Repository описывает контракт хранилища, используемый сервисом.
type Repository interface {
	Close() error

	GetUser(ctx context.Context, id string) (*model.User, error)
	ResolveUser(ctx context.Context, identifier string) (*model.User, error)
	GetUserByReferralCode(ctx context.Context, code string) (*model.User, error)
	GetSettings(ctx context.Context) (*model.Settings, error)

	CreateOrder(ctx context.Context, o *model.Order) error
	GetOrder(ctx context.Context, id string) (*model.Order, error)
	ListOrdersByUser(ctx context.Context, userID string) ([]model.Order, error)
	UpdateOrderStatus(ctx context.Context, id string, payment *model.PaymentStatus, status *model.OrderStatus, now time.Time) (*model.Order, error)
	SetOrderInvoice(ctx context.Context, id, invoiceID string) error
	SetPaymentProof(ctx context.Context, id, transactionID, proofURL string, now time.Time) (*model.Order, error)
	MarkDelivered(ctx context.Context, id string, d model.Delivery) (*model.Order, error)
	ListPendingInvoices(ctx context.Context, limit int) ([]model.Order, error)
	ListSubscriptionOrders(ctx context.Context, limit int) ([]model.Order, error)
	RefundOrder(ctx context.Context, orderID string, amountCents int64, reason string, now time.Time) (*model.Order, error)

	ApplyWalletTransaction(ctx context.Context, entry model.WalletTransaction) (int64, error)
	ApplyCreditsTransaction(ctx context.Context, entry model.CreditsTransaction) (int64, error)
	ConvertCredits(ctx context.Context, userID string, credits int64, now time.Time) (int64, int64, error)
	AwardOrderCredits(ctx context.Context, orderID string, credits int64, now time.Time) (bool, error)
	ListWalletTransactions(ctx context.Context, userID string) ([]model.WalletTransaction, error)

	GetCoupon(ctx context.Context, code string) (*model.Coupon, error)
	RecordCouponUsage(ctx context.Context, orderID string) (recorded bool, incremented bool, err error)

	HasReferralPayout(ctx context.Context, orderID, referredUserID string) (bool, error)
	CreditReferral(ctx context.Context, p model.ReferralPayout) (bool, error)

	SetSubscriptionDates(ctx context.Context, orderID string, start, end time.Time) (bool, error)
	ClaimSubscriptionNotification(ctx context.Context, n model.SubscriptionNotification) (bool, error)
}

// Catalog отдаёт цены и требования к товарам. Цене из запроса сервис не доверяет.
type Catalog interface {
	GetProduct(ctx context.Context, id string) (*model.Product, error)
}

// Gateway выставляет счета в криптовалюте и сообщает их статус.
type Gateway interface {
	CreateInvoice(ctx context.Context, req gateway.InvoiceRequest) (*gateway.Invoice, error)
	InvoiceStatus(ctx context.Context, invoiceID string) (*gateway.InvoiceStatus, error)
}

// Locker выдаёт эксклюзивную блокировку фоновым задачам.
type Locker interface {
	TryLock(ctx context.Context, key string, ttl time.Duration) (release func(), ok bool, err error)
}

// EffectRecorder учитывает выполненные и пропущенные побочные эффекты.
type EffectRecorder interface {
	RecordEffect(effect string, applied bool)
}

// Названия побочных эффектов для EffectRecorder.
const (
	EffectCouponUsage       = "coupon_usage"
	EffectSubscriptionDates = "subscription_dates"
	EffectReferralPayout    = "referral_payout"
	EffectLoyaltyCredits    = "loyalty_credits"
	EffectNotification      = "notification"
	EffectRefund            = "refund"
)

// Deps собирает зависимости сервиса.
type Deps struct {
	Repo       Repository
	Catalog    Catalog
	Gateway    Gateway
	Notifier   notify.Dispatcher
	Locker     Locker
	Effects    EffectRecorder
	Logger     *zap.Logger
	Clock      func() time.Time
	Incentives model.Incentives

	CallbackURL string
}

// Service содержит бизнес-логику жизненного цикла заказа.
type Service struct {
	repo        Repository
	catalog     Catalog
	gateway     Gateway
	notifier    notify.Dispatcher
	locker      Locker
	effects     EffectRecorder
	logger      *zap.Logger
	now         func() time.Time
	incentives  model.Incentives
	callbackURL string
}

type noopEffects struct{}

func (noopEffects) RecordEffect(string, bool) {}

// NewService создаёт сервис. Незаданные необязательные зависимости заменяются
// безопасными значениями по умолчанию.
func NewService(d Deps) *Service {
	s := &Service{
		repo:        d.Repo,
		catalog:     d.Catalog,
		gateway:     d.Gateway,
		notifier:    d.Notifier,
		locker:      d.Locker,
		effects:     d.Effects,
		logger:      d.Logger,
		now:         d.Clock,
		incentives:  d.Incentives,
		callbackURL: d.CallbackURL,
	}

	if s.catalog == nil {
		if c, ok := d.Repo.(Catalog); ok {
			s.catalog = c
		}
	}
	if s.logger == nil {
		s.logger = zap.NewNop()
	}
	if s.notifier == nil {
		s.notifier = notify.NewLogDispatcher(s.logger)
	}
	if s.locker == nil {
		s.locker = lock.NewLocalLocker()
	}
	if s.effects == nil {
		s.effects = noopEffects{}
	}
	if s.now == nil {
		s.now = func() time.Time { return time.Now().UTC() }
	}
	if s.incentives == (model.Incentives{}) {
		s.incentives = model.DefaultIncentives()
	}

	return s
}

// Close закрывает ресурсы сервиса.
func (s *Service) Close() error {
	if s.repo != nil {
		return s.repo.Close()
	}
	return nil
}

// settings читает настройки сайта один раз на операцию.
func (s *Service) settings(ctx context.Context) model.Settings {
	st, err := s.repo.GetSettings(ctx)
	if err != nil || st == nil {
		s.logger.Warn("read settings failed, using defaults", zap.Error(err))
		return model.Settings{SiteName: "KayiCom", SupportEmail: "support@kayicom.com"}
	}
	return *st
}

// dispatch отправляет письмо. Ошибка доставки только пишется в журнал.
func (s *Service) dispatch(ctx context.Context, to string, msg notify.Message, fields ...zap.Field) bool {
	if err := s.notifier.Send(ctx, to, msg.Subject, msg.HTML); err != nil {
		s.logger.Warn("notification dispatch failed", append(fields, zap.String("subject", msg.Subject), zap.Error(err))...)
		return false
	}
	return true
}
