// Package model содержит доменные сущности маркетплейса цифровых товаров.
package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// PaymentStatus описывает статус оплаты заказа.
type PaymentStatus string

const (
	PaymentStatusPending             PaymentStatus = "pending"
	PaymentStatusPaid                PaymentStatus = "paid"
	PaymentStatusFailed              PaymentStatus = "failed"
	PaymentStatusCancelled           PaymentStatus = "cancelled"
	PaymentStatusPendingVerification PaymentStatus = "pending_verification"
)

// Valid сообщает, является ли статус оплаты допустимым.
func (s PaymentStatus) Valid() bool {
	switch s {
	case PaymentStatusPending, PaymentStatusPaid, PaymentStatusFailed,
		PaymentStatusCancelled, PaymentStatusPendingVerification:
		return true
	}
	return false
}

// OrderStatus описывает статус выполнения заказа.
type OrderStatus string

const (
	OrderStatusPending    OrderStatus = "pending"
	OrderStatusProcessing OrderStatus = "processing"
	OrderStatusCompleted  OrderStatus = "completed"
	OrderStatusCancelled  OrderStatus = "cancelled"
)

// Valid сообщает, является ли статус заказа допустимым.
func (s OrderStatus) Valid() bool {
	switch s {
	case OrderStatusPending, OrderStatusProcessing, OrderStatusCompleted, OrderStatusCancelled:
		return true
	}
	return false
}

// PaymentMethod описывает способ оплаты заказа.
type PaymentMethod string

const (
	PaymentMethodWallet     PaymentMethod = "wallet"
	PaymentMethodCrypto     PaymentMethod = "crypto_plisio"
	PaymentMethodPayPal     PaymentMethod = "paypal"
	PaymentMethodSkrill     PaymentMethod = "skrill"
	PaymentMethodMonCash    PaymentMethod = "moncash"
	PaymentMethodBinancePay PaymentMethod = "binance_pay"
	PaymentMethodZelle      PaymentMethod = "zelle"
	PaymentMethodCashApp    PaymentMethod = "cashapp"
)

// Valid сообщает, поддерживается ли способ оплаты.
func (m PaymentMethod) Valid() bool {
	switch m {
	case PaymentMethodWallet, PaymentMethodCrypto, PaymentMethodPayPal, PaymentMethodSkrill,
		PaymentMethodMonCash, PaymentMethodBinancePay, PaymentMethodZelle, PaymentMethodCashApp:
		return true
	}
	return false
}

// Product описывает позицию каталога. Каталог является внешним источником истины для цены.
type Product struct {
	ID                         string
	Name                       string
	PriceCents                 int64
	IsSubscription             bool
	RequiresPlayerID           bool
	RequiresCredentials        bool
	SubscriptionDurationMonths int
	VariantLabel               string
}

// OrderItem описывает строку заказа с ценой, зафиксированной на момент оформления.
type OrderItem struct {
	ProductID      string `json:"product_id"`
	ProductName    string `json:"product_name"`
	Quantity       int    `json:"quantity"`
	UnitPriceCents int64  `json:"unit_price_cents"`
	PlayerID       string `json:"player_id,omitempty"`
	Credentials    string `json:"credentials,omitempty"`
}

// Delivery содержит данные ручной выдачи товара.
type Delivery struct {
	Details     string    `json:"details"`
	DeliveredAt time.Time `json:"delivered_at"`
}

// Order описывает заказ вместе с признаками выполненных побочных эффектов.
type Order struct {
	ID                  string
	UserID              string
	UserEmail           string
	Items               []OrderItem
	SubtotalCents       int64
	DiscountCents       int64
	CouponCode          string
	TotalCents          int64
	Currency            string
	PaymentMethod       PaymentMethod
	PaymentStatus       PaymentStatus
	OrderStatus         OrderStatus
	CouponUsageRecorded bool
	CreditsRecorded     bool
	CreditsAwarded      int64
	SubscriptionStartAt *time.Time
	SubscriptionEndAt   *time.Time
	RefundedAt          *time.Time
	RefundedCents       int64
	InvoiceID           string
	TransactionID       string
	PaymentProofURL     string
	Delivery            *Delivery
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

// IsTerminal сообщает, находится ли заказ в состоянии (paid, completed).
func (o *Order) IsTerminal() bool {
	return o.PaymentStatus == PaymentStatusPaid && o.OrderStatus == OrderStatusCompleted
}

// DiscountType описывает тип скидки купона.
type DiscountType string

const (
	DiscountPercent DiscountType = "percent"
	DiscountFixed   DiscountType = "fixed"
)

// Coupon описывает промокод.
type Coupon struct {
	Code          string
	DiscountType  DiscountType
	DiscountValue decimal.Decimal
	Active        bool
	MinOrderCents int64
	UsageLimit    *int64
	UsedCount     int64
	ExpiresAt     *time.Time
}

// User содержит поля пользователя, с которыми работает ядро заказов.
type User struct {
	ID            string
	CustomerID    string
	Email         string
	ReferralCode  string
	ReferredBy    string
	WalletCents   int64
	Credits       int64
	ReferralCents int64
}

// WalletTransactionType описывает тип операции по кошельку.
type WalletTransactionType string

const (
	WalletPurchase        WalletTransactionType = "purchase"
	WalletTopup           WalletTransactionType = "topup"
	WalletRefund          WalletTransactionType = "refund"
	WalletAdminAdjust     WalletTransactionType = "admin_adjust"
	WalletMinutesTransfer WalletTransactionType = "minutes_transfer"
	WalletCreditsConvert  WalletTransactionType = "credits_convert"
)

// WalletTransaction описывает неизменяемую запись журнала кошелька.
type WalletTransaction struct {
	ID          string
	UserID      string
	OrderID     string
	AmountCents int64
	Type        WalletTransactionType
	Reason      string
	CreatedAt   time.Time
}

// CreditsTransactionType описывает тип операции с бонусными кредитами.
type CreditsTransactionType string

const (
	CreditsEarn        CreditsTransactionType = "earn"
	CreditsConvert     CreditsTransactionType = "convert"
	CreditsAdminAdjust CreditsTransactionType = "admin_adjust"
)

// CreditsTransaction описывает неизменяемую запись журнала бонусных кредитов.
type CreditsTransaction struct {
	ID        string
	UserID    string
	OrderID   string
	Credits   int64
	Type      CreditsTransactionType
	Reason    string
	CreatedAt time.Time
}

// ReferralPayout фиксирует единственную выплату за приглашённого пользователя.
type ReferralPayout struct {
	ID             string
	ReferrerID     string
	ReferredUserID string
	OrderID        string
	AmountCents    int64
	CreatedAt      time.Time
}

// NotificationKind описывает тип уведомления о подписке.
type NotificationKind string

const (
	NotificationReminder5d NotificationKind = "reminder_5d"
	NotificationExpired    NotificationKind = "expired"
)

// SubscriptionNotification фиксирует отправленное уведомление; наличие записи запрещает повторную отправку.
type SubscriptionNotification struct {
	ID        string
	OrderID   string
	Kind      NotificationKind
	CreatedAt time.Time
}

// Settings содержит настройки сайта, читаемые один раз на операцию.
type Settings struct {
	SiteName     string
	SupportEmail string
}

// WalletHistory содержит баланс кошелька и его журнал.
type WalletHistory struct {
	BalanceCents int64
	Credits      int64
	Transactions []WalletTransaction
}
