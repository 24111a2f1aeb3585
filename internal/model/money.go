package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Бизнес-константы программы лояльности. Переопределяются только через Incentives.
const (
	DefaultLoyaltyCreditsPerOrder = 5
	DefaultLoyaltyMinOrderCents   = 1000
	DefaultReferralBonusCents     = 100
	CreditsPerCurrencyUnit        = 100

	DefaultReminderLead         = 5 * 24 * time.Hour
	DefaultFallbackSubscription = 30 * 24 * time.Hour
)

// Incentives собирает параметры начислений в одно место.
type Incentives struct {
	LoyaltyCreditsPerOrder int64
	LoyaltyMinOrderCents   int64
	ReferralBonusCents     int64
	ReminderLead           time.Duration
	FallbackSubscription   time.Duration
}

// DefaultIncentives возвращает значения по умолчанию.
func DefaultIncentives() Incentives {
	return Incentives{
		LoyaltyCreditsPerOrder: DefaultLoyaltyCreditsPerOrder,
		LoyaltyMinOrderCents:   DefaultLoyaltyMinOrderCents,
		ReferralBonusCents:     DefaultReferralBonusCents,
		ReminderLead:           DefaultReminderLead,
		FallbackSubscription:   DefaultFallbackSubscription,
	}
}

var hundred = decimal.NewFromInt(100)

// CentsFromDecimal переводит денежную сумму в центы с округлением до ближайшего цента.
func CentsFromDecimal(amount decimal.Decimal) int64 {
	return amount.Mul(hundred).Round(0).IntPart()
}

// CentsFromFloat переводит сумму из JSON в центы.
func CentsFromFloat(amount float64) int64 {
	return CentsFromDecimal(decimal.NewFromFloat(amount))
}

// CentsToDecimal переводит центы в денежную сумму.
func CentsToDecimal(cents int64) decimal.Decimal {
	return decimal.New(cents, -2)
}

// CentsToFloat переводит центы в число для JSON-ответов.
func CentsToFloat(cents int64) float64 {
	f, _ := CentsToDecimal(cents).Float64()
	return f
}

// CreditsToCents возвращает стоимость бонусных кредитов в центах (100 кредитов = 1.00).
func CreditsToCents(credits int64) int64 {
	return credits * 100 / CreditsPerCurrencyUnit
}
