package service

import (
	"context"
	"errors"
	"regexp"
	"strconv"
	"strings"
	"time"
	"unicode"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/text/cases"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"github.com/kayicom/marketplace/internal/model"
	"github.com/kayicom/marketplace/internal/notify"
	"github.com/kayicom/marketplace/internal/repository"
)

const day = 24 * time.Hour

// Единицы срока подписки после удаления диакритики: en, fr, es, pt, ht.
var durationUnits = map[string]time.Duration{
	"d": day, "day": day, "days": day, "jour": day, "jours": day, "jou": day, "dia": day, "dias": day,

	"w": 7 * day, "wk": 7 * day, "week": 7 * day, "weeks": 7 * day, "semaine": 7 * day,
	"semaines": 7 * day, "semana": 7 * day, "semanas": 7 * day, "semen": 7 * day,

	"mo": 30 * day, "mos": 30 * day, "month": 30 * day, "months": 30 * day, "mois": 30 * day,
	"mwa": 30 * day, "mes": 30 * day, "meses": 30 * day,

	"y": 365 * day, "yr": 365 * day, "yrs": 365 * day, "year": 365 * day, "years": 365 * day,
	"an": 365 * day, "ans": 365 * day, "ane": 365 * day, "ano": 365 * day, "anos": 365 * day,
	"annee": 365 * day, "annees": 365 * day,
}

var periodWords = map[string]time.Duration{
	"daily": day, "weekly": 7 * day, "hebdomadaire": 7 * day, "semanal": 7 * day,
	"monthly": 30 * day, "mensuel": 30 * day, "mensuelle": 30 * day, "mensual": 30 * day, "mensal": 30 * day,
	"yearly": 365 * day, "annual": 365 * day, "annuel": 365 * day, "annuelle": 365 * day, "anual": 365 * day,
}

var quantityPattern = regexp.MustCompile(`(\d+)[\s\-]*([a-z]+)`)

func foldLabel(label string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC, cases.Fold())
	folded, _, err := transform.String(t, label)
	if err != nil {
		return strings.ToLower(label)
	}
	return folded
}

// ParseSubscriptionDuration вычисляет срок подписки. Явное число месяцев имеет приоритет
// (месяц считается за 30 дней), иначе срок извлекается из текстовой метки варианта.
// Второе значение равно false, если срок определить не удалось.
func ParseSubscriptionDuration(months int, label string) (time.Duration, bool) {
	if months > 0 {
		return time.Duration(months) * 30 * day, true
	}

	folded := foldLabel(label)
	for _, m := range quantityPattern.FindAllStringSubmatch(folded, -1) {
		unit, ok := durationUnits[m[2]]
		if !ok {
			continue
		}
		n, err := strconv.Atoi(m[1])
		if err != nil || n <= 0 {
			continue
		}
		return time.Duration(n) * unit, true
	}

	for _, word := range strings.FieldsFunc(folded, func(r rune) bool { return !unicode.IsLetter(r) }) {
		if d, ok := periodWords[word]; ok {
			return d, true
		}
	}

	return 0, false
}

type subscriptionItem struct {
	item    model.OrderItem
	product *model.Product
}

// subscriptionItems возвращает позиции заказа, товар которых в каталоге помечен как подписка.
// Позиции с удалёнными из каталога товарами пропускаются.
func (s *Service) subscriptionItems(ctx context.Context, o *model.Order) ([]subscriptionItem, error) {
	var res []subscriptionItem
	for _, it := range o.Items {
		p, err := s.catalog.GetProduct(ctx, it.ProductID)
		if err != nil {
			if errors.Is(err, repository.ErrProductNotFound) {
				continue
			}
			return nil, err
		}
		if p.IsSubscription {
			res = append(res, subscriptionItem{item: it, product: p})
		}
	}
	return res, nil
}

// AssignSubscriptionDatesIfNeeded однократно устанавливает даты подписки завершённого
// оплаченного заказа. Берётся наибольший срок среди позиций-подписок.
func (s *Service) AssignSubscriptionDatesIfNeeded(ctx context.Context, orderID string) (bool, error) {
	o, err := s.repo.GetOrder(ctx, orderID)
	if err != nil {
		return false, err
	}
	if o.SubscriptionEndAt != nil || !o.IsTerminal() {
		return false, nil
	}

	subs, err := s.subscriptionItems(ctx, o)
	if err != nil {
		return false, err
	}
	if len(subs) == 0 {
		return false, nil
	}

	var longest time.Duration
	for _, sub := range subs {
		label := sub.product.VariantLabel
		if label == "" {
			label = sub.product.Name
		}
		if d, ok := ParseSubscriptionDuration(sub.product.SubscriptionDurationMonths, label); ok && d > longest {
			longest = d
		}
	}
	if longest == 0 {
		longest = s.incentives.FallbackSubscription
	}

	start := s.now()
	applied, err := s.repo.SetSubscriptionDates(ctx, o.ID, start, start.Add(longest))
	if err != nil {
		return false, err
	}
	s.effects.RecordEffect(EffectSubscriptionDates, applied)
	return applied, nil
}

// NotifyIfDue отправляет напоминание за ReminderLead до окончания подписки и уведомление
// об окончании. Каждое уведомление отправляется не более одного раза: запись о нём
// создаётся до отправки.
func (s *Service) NotifyIfDue(ctx context.Context, o *model.Order) (bool, error) {
	if o.SubscriptionEndAt == nil {
		return false, nil
	}

	now := s.now()
	end := *o.SubscriptionEndAt

	var (
		kind   model.NotificationKind
		render func(model.Settings, *model.Order) (notify.Message, error)
	)
	switch {
	case !now.Before(end):
		kind, render = model.NotificationExpired, notify.SubscriptionExpired
	case !now.Before(end.Add(-s.incentives.ReminderLead)):
		kind, render = model.NotificationReminder5d, notify.SubscriptionReminder
	default:
		return false, nil
	}

	claimed, err := s.repo.ClaimSubscriptionNotification(ctx, model.SubscriptionNotification{
		ID:        uuid.NewString(),
		OrderID:   o.ID,
		Kind:      kind,
		CreatedAt: now,
	})
	if err != nil {
		return false, err
	}
	s.effects.RecordEffect(EffectNotification, claimed)
	if !claimed {
		return false, nil
	}

	msg, err := render(s.settings(ctx), o)
	if err != nil {
		s.logger.Error("render subscription notification", zap.String("order", o.ID), zap.Error(err))
		return true, nil
	}
	s.dispatch(ctx, o.UserEmail, msg, zap.String("order", o.ID), zap.String("kind", string(kind)))
	return true, nil
}
