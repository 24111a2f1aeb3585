package repository

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/kayicom/marketplace/internal/model"
)

// MemoryRepository хранит данные в памяти. Используется в тестах и для локального запуска
// без базы данных. Семантика условных обновлений совпадает с PostgresRepository.
type MemoryRepository struct {
	mu sync.Mutex

	users         map[string]*model.User
	products      map[string]model.Product
	coupons       map[string]*model.Coupon
	orders        map[string]*model.Order
	wallet        []model.WalletTransaction
	credits       []model.CreditsTransaction
	payouts       []model.ReferralPayout
	notifications map[string]model.SubscriptionNotification
	settings      model.Settings
}

// NewMemoryRepository создаёт пустое хранилище в памяти.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		users:         make(map[string]*model.User),
		products:      make(map[string]model.Product),
		coupons:       make(map[string]*model.Coupon),
		orders:        make(map[string]*model.Order),
		notifications: make(map[string]model.SubscriptionNotification),
		settings:      model.Settings{SiteName: "KayiCom", SupportEmail: "support@kayicom.com"},
	}
}

// Close реализует контракт репозитория.
func (m *MemoryRepository) Close() error { return nil }

// AddUser добавляет пользователя. Начальный баланс кошелька оформляется записью журнала,
// чтобы баланс всегда совпадал с суммой операций.
func (m *MemoryRepository) AddUser(u model.User) {
	m.mu.Lock()
	defer m.mu.Unlock()

	opening := u.WalletCents
	u.WalletCents = 0
	m.users[u.ID] = &u
	if opening != 0 {
		_, _ = m.applyWalletLocked(model.WalletTransaction{
			ID:          newID(),
			UserID:      u.ID,
			AmountCents: opening,
			Type:        model.WalletTopup,
			Reason:      "opening balance",
			CreatedAt:   time.Now().UTC(),
		})
	}
}

// AddProduct добавляет товар в каталог.
func (m *MemoryRepository) AddProduct(p model.Product) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.products[p.ID] = p
}

// AddCoupon добавляет купон.
func (m *MemoryRepository) AddCoupon(c model.Coupon) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.coupons[c.Code] = &c
}

// SetSettings заменяет настройки сайта.
func (m *MemoryRepository) SetSettings(s model.Settings) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.settings = s
}

// ReferralPayouts возвращает копию журнала реферальных выплат.
func (m *MemoryRepository) ReferralPayouts() []model.ReferralPayout {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.payouts)
}

// Notifications возвращает число записей об уведомлениях указанного типа по заказу.
func (m *MemoryRepository) Notifications(orderID string, kind model.NotificationKind) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.notifications[notificationKey(orderID, kind)]; ok {
		return 1
	}
	return 0
}

// CreditsTransactions возвращает журнал кредитов пользователя.
func (m *MemoryRepository) CreditsTransactions(userID string) []model.CreditsTransaction {
	m.mu.Lock()
	defer m.mu.Unlock()

	var res []model.CreditsTransaction
	for _, t := range m.credits {
		if t.UserID == userID {
			res = append(res, t)
		}
	}
	return res
}

func notificationKey(orderID string, kind model.NotificationKind) string {
	return orderID + "/" + string(kind)
}

func cloneOrder(o *model.Order) *model.Order {
	c := *o
	c.Items = slices.Clone(o.Items)
	if o.Delivery != nil {
		d := *o.Delivery
		c.Delivery = &d
	}
	return &c
}

// GetUser возвращает копию пользователя по идентификатору.
func (m *MemoryRepository) GetUser(_ context.Context, id string) (*model.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	u, ok := m.users[id]
	if !ok {
		return nil, ErrUserNotFound
	}
	c := *u
	return &c, nil
}

// ResolveUser ищет пользователя по идентификатору, номеру клиента или email без учёта регистра.
func (m *MemoryRepository) ResolveUser(_ context.Context, identifier string) (*model.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	identifier = strings.TrimSpace(identifier)
	if identifier == "" {
		return nil, ErrUserNotFound
	}

	if u, ok := m.users[identifier]; ok {
		c := *u
		return &c, nil
	}
	for _, u := range m.users {
		if u.CustomerID != "" && strings.EqualFold(u.CustomerID, identifier) {
			c := *u
			return &c, nil
		}
	}
	for _, u := range m.users {
		if strings.EqualFold(u.Email, identifier) {
			c := *u
			return &c, nil
		}
	}
	return nil, ErrUserNotFound
}

// GetUserByReferralCode ищет пользователя по реферальному коду без учёта регистра.
func (m *MemoryRepository) GetUserByReferralCode(_ context.Context, code string) (*model.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	code = strings.TrimSpace(code)
	for _, u := range m.users {
		if u.ReferralCode != "" && strings.EqualFold(u.ReferralCode, code) {
			c := *u
			return &c, nil
		}
	}
	return nil, ErrUserNotFound
}

// GetProduct возвращает товар каталога.
func (m *MemoryRepository) GetProduct(_ context.Context, id string) (*model.Product, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, ok := m.products[id]
	if !ok {
		return nil, ErrProductNotFound
	}
	return &p, nil
}

// GetSettings возвращает текущие настройки сайта.
func (m *MemoryRepository) GetSettings(context.Context) (*model.Settings, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := m.settings
	return &s, nil
}

// CreateOrder сохраняет новый заказ. Повторный идентификатор даёт ErrOrderExists.
func (m *MemoryRepository) CreateOrder(_ context.Context, o *model.Order) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.orders[o.ID]; ok {
		return fmt.Errorf("%w: %s", ErrOrderExists, o.ID)
	}
	if _, ok := m.users[o.UserID]; !ok {
		return fmt.Errorf("insert order: %w", ErrUserNotFound)
	}
	c := cloneOrder(o)
	c.UpdatedAt = c.CreatedAt
	m.orders[o.ID] = c
	return nil
}

// GetOrder возвращает копию заказа.
func (m *MemoryRepository) GetOrder(_ context.Context, id string) (*model.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	o, ok := m.orders[id]
	if !ok {
		return nil, ErrOrderNotFound
	}
	return cloneOrder(o), nil
}

// ListOrdersByUser возвращает заказы пользователя, новые первыми.
func (m *MemoryRepository) ListOrdersByUser(_ context.Context, userID string) ([]model.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var res []model.Order
	for _, o := range m.orders {
		if o.UserID == userID {
			res = append(res, *cloneOrder(o))
		}
	}
	slices.SortFunc(res, func(a, b model.Order) int { return b.CreatedAt.Compare(a.CreatedAt) })
	return res, nil
}

// UpdateOrderStatus применяет переданные статусы. Возвращённый заказ не меняется.
func (m *MemoryRepository) UpdateOrderStatus(_ context.Context, id string, payment *model.PaymentStatus, status *model.OrderStatus, now time.Time) (*model.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	o, ok := m.orders[id]
	if !ok {
		return nil, ErrOrderNotFound
	}
	if o.RefundedAt != nil {
		return nil, ErrAlreadyRefunded
	}
	if payment != nil {
		o.PaymentStatus = *payment
	}
	if status != nil {
		o.OrderStatus = *status
	}
	o.UpdatedAt = now
	return cloneOrder(o), nil
}

// SetOrderInvoice сохраняет идентификатор счёта.
func (m *MemoryRepository) SetOrderInvoice(_ context.Context, id, invoiceID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	o, ok := m.orders[id]
	if !ok {
		return ErrOrderNotFound
	}
	o.InvoiceID = invoiceID
	return nil
}

// SetPaymentProof сохраняет подтверждение ручной оплаты; статус оплаченного заказа не меняется.
func (m *MemoryRepository) SetPaymentProof(_ context.Context, id, transactionID, proofURL string, now time.Time) (*model.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	o, ok := m.orders[id]
	if !ok {
		return nil, ErrOrderNotFound
	}
	if o.RefundedAt != nil {
		return nil, ErrAlreadyRefunded
	}
	o.TransactionID = transactionID
	o.PaymentProofURL = proofURL
	if o.PaymentStatus != model.PaymentStatusPaid {
		o.PaymentStatus = model.PaymentStatusPendingVerification
	}
	o.UpdatedAt = now
	return cloneOrder(o), nil
}

// MarkDelivered сохраняет выдачу и переводит заказ в (paid, completed), если он не возвращён.
func (m *MemoryRepository) MarkDelivered(_ context.Context, id string, d model.Delivery) (*model.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	o, ok := m.orders[id]
	if !ok {
		return nil, ErrOrderNotFound
	}
	if o.RefundedAt != nil {
		return nil, ErrAlreadyRefunded
	}
	o.Delivery = &d
	o.PaymentStatus = model.PaymentStatusPaid
	o.OrderStatus = model.OrderStatusCompleted
	o.UpdatedAt = d.DeliveredAt
	return cloneOrder(o), nil
}

// ListPendingInvoices возвращает неоплаченные заказы со счётом, старые первыми.
func (m *MemoryRepository) ListPendingInvoices(_ context.Context, limit int) ([]model.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var res []model.Order
	for _, o := range m.orders {
		if o.InvoiceID != "" && o.PaymentStatus == model.PaymentStatusPending {
			res = append(res, *cloneOrder(o))
		}
	}
	slices.SortFunc(res, func(a, b model.Order) int { return a.CreatedAt.Compare(b.CreatedAt) })
	if len(res) > limit {
		res = res[:limit]
	}
	return res, nil
}

// ListSubscriptionOrders возвращает подписки без уведомления об истечении, ближайшие первыми.
func (m *MemoryRepository) ListSubscriptionOrders(_ context.Context, limit int) ([]model.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var res []model.Order
	for _, o := range m.orders {
		if o.SubscriptionEndAt == nil {
			continue
		}
		if _, done := m.notifications[notificationKey(o.ID, model.NotificationExpired)]; done {
			continue
		}
		res = append(res, *cloneOrder(o))
	}
	slices.SortFunc(res, func(a, b model.Order) int { return a.SubscriptionEndAt.Compare(*b.SubscriptionEndAt) })
	if len(res) > limit {
		res = res[:limit]
	}
	return res, nil
}

// RefundOrder однократно возвращает сумму оплаченного заказа на кошелёк и отменяет заказ.
func (m *MemoryRepository) RefundOrder(_ context.Context, orderID string, amountCents int64, reason string, now time.Time) (*model.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	o, ok := m.orders[orderID]
	if !ok {
		return nil, ErrOrderNotFound
	}
	if o.RefundedAt != nil {
		return nil, ErrAlreadyRefunded
	}
	if o.PaymentStatus != model.PaymentStatusPaid {
		return nil, ErrOrderNotPaid
	}

	if _, err := m.applyWalletLocked(model.WalletTransaction{
		ID:          newID(),
		UserID:      o.UserID,
		OrderID:     orderID,
		AmountCents: amountCents,
		Type:        model.WalletRefund,
		Reason:      reason,
		CreatedAt:   now,
	}); err != nil {
		return nil, err
	}

	refundedAt := now
	o.RefundedAt = &refundedAt
	o.RefundedCents = amountCents
	o.PaymentStatus = model.PaymentStatusCancelled
	o.OrderStatus = model.OrderStatusCancelled
	o.UpdatedAt = now
	return cloneOrder(o), nil
}

func (m *MemoryRepository) applyWalletLocked(entry model.WalletTransaction) (int64, error) {
	u, ok := m.users[entry.UserID]
	if !ok {
		return 0, ErrUserNotFound
	}
	next := u.WalletCents + entry.AmountCents
	if next < 0 {
		return 0, ErrInsufficientFunds
	}
	u.WalletCents = next
	m.wallet = append(m.wallet, entry)
	return next, nil
}

func (m *MemoryRepository) applyCreditsLocked(entry model.CreditsTransaction) (int64, error) {
	u, ok := m.users[entry.UserID]
	if !ok {
		return 0, ErrUserNotFound
	}
	next := u.Credits + entry.Credits
	if next < 0 {
		return 0, ErrInsufficientFunds
	}
	u.Credits = next
	m.credits = append(m.credits, entry)
	return next, nil
}

// ApplyWalletTransaction применяет операцию к кошельку и возвращает новый баланс.
func (m *MemoryRepository) ApplyWalletTransaction(_ context.Context, entry model.WalletTransaction) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.applyWalletLocked(entry)
}

// ApplyCreditsTransaction применяет операцию к бонусным кредитам и возвращает новый баланс.
func (m *MemoryRepository) ApplyCreditsTransaction(_ context.Context, entry model.CreditsTransaction) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.applyCreditsLocked(entry)
}

// ConvertCredits списывает кредиты и зачисляет их стоимость на кошелёк одной операцией.
func (m *MemoryRepository) ConvertCredits(_ context.Context, userID string, credits int64, now time.Time) (int64, int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	u, ok := m.users[userID]
	if !ok {
		return 0, 0, ErrUserNotFound
	}
	if u.Credits < credits {
		return 0, 0, ErrInsufficientFunds
	}

	creditsBalance, err := m.applyCreditsLocked(model.CreditsTransaction{
		ID:        newID(),
		UserID:    userID,
		Credits:   -credits,
		Type:      model.CreditsConvert,
		Reason:    "converted to wallet",
		CreatedAt: now,
	})
	if err != nil {
		return 0, 0, err
	}

	walletBalance, err := m.applyWalletLocked(model.WalletTransaction{
		ID:          newID(),
		UserID:      userID,
		AmountCents: model.CreditsToCents(credits),
		Type:        model.WalletCreditsConvert,
		Reason:      fmt.Sprintf("converted %d credits", credits),
		CreatedAt:   now,
	})
	if err != nil {
		return 0, 0, err
	}

	return walletBalance, creditsBalance, nil
}

// AwardOrderCredits однократно начисляет кредиты по завершённому оплаченному заказу.
func (m *MemoryRepository) AwardOrderCredits(_ context.Context, orderID string, credits int64, now time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	o, ok := m.orders[orderID]
	if !ok || o.CreditsRecorded || !o.IsTerminal() {
		return false, nil
	}

	if credits > 0 {
		if _, err := m.applyCreditsLocked(model.CreditsTransaction{
			ID:        newID(),
			UserID:    o.UserID,
			OrderID:   orderID,
			Credits:   credits,
			Type:      model.CreditsEarn,
			Reason:    "order completed",
			CreatedAt: now,
		}); err != nil {
			return false, err
		}
	}

	o.CreditsRecorded = true
	o.CreditsAwarded = credits
	o.UpdatedAt = now
	return true, nil
}

// ListWalletTransactions возвращает журнал кошелька пользователя, новые записи первыми.
func (m *MemoryRepository) ListWalletTransactions(_ context.Context, userID string) ([]model.WalletTransaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var res []model.WalletTransaction
	for i := len(m.wallet) - 1; i >= 0; i-- {
		if m.wallet[i].UserID == userID {
			res = append(res, m.wallet[i])
		}
	}
	return res, nil
}

// GetCoupon возвращает купон по коду.
func (m *MemoryRepository) GetCoupon(_ context.Context, code string) (*model.Coupon, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	c, ok := m.coupons[code]
	if !ok {
		return nil, ErrCouponNotFound
	}
	cp := *c
	return &cp, nil
}

// RecordCouponUsage однократно фиксирует использование купона оплаченным заказом.
func (m *MemoryRepository) RecordCouponUsage(_ context.Context, orderID string) (bool, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	o, ok := m.orders[orderID]
	if !ok || o.CouponUsageRecorded || o.PaymentStatus != model.PaymentStatusPaid || o.CouponCode == "" {
		return false, false, nil
	}
	o.CouponUsageRecorded = true

	c, ok := m.coupons[o.CouponCode]
	if !ok {
		return true, false, nil
	}
	if c.UsageLimit != nil && c.UsedCount >= *c.UsageLimit {
		return true, false, nil
	}
	c.UsedCount++
	return true, true, nil
}

func (m *MemoryRepository) hasPayoutLocked(orderID, referredUserID string) bool {
	for _, p := range m.payouts {
		if p.OrderID == orderID || p.ReferredUserID == referredUserID {
			return true
		}
	}
	return false
}

// HasReferralPayout сообщает, есть ли выплата по заказу или по приглашённому пользователю.
func (m *MemoryRepository) HasReferralPayout(_ context.Context, orderID, referredUserID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.hasPayoutLocked(orderID, referredUserID), nil
}

// CreditReferral зачисляет бонус пригласившему, если выплаты по приглашённому ещё не было.
func (m *MemoryRepository) CreditReferral(_ context.Context, p model.ReferralPayout) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.users[p.ReferredUserID]; !ok {
		return false, ErrUserNotFound
	}
	if m.hasPayoutLocked(p.OrderID, p.ReferredUserID) {
		return false, nil
	}

	referrer, ok := m.users[p.ReferrerID]
	if !ok {
		return false, ErrUserNotFound
	}
	referrer.ReferralCents += p.AmountCents
	m.payouts = append(m.payouts, p)
	return true, nil
}

// SetSubscriptionDates устанавливает даты подписки, если они ещё не заданы.
func (m *MemoryRepository) SetSubscriptionDates(_ context.Context, orderID string, start, end time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	o, ok := m.orders[orderID]
	if !ok || o.SubscriptionEndAt != nil {
		return false, nil
	}
	o.SubscriptionStartAt = &start
	o.SubscriptionEndAt = &end
	o.UpdatedAt = start
	return true, nil
}

// ClaimSubscriptionNotification создаёт запись об уведомлении; true только для первого вызова.
func (m *MemoryRepository) ClaimSubscriptionNotification(_ context.Context, n model.SubscriptionNotification) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := notificationKey(n.OrderID, n.Kind)
	if _, ok := m.notifications[key]; ok {
		return false, nil
	}
	m.notifications[key] = n
	return true, nil
}
