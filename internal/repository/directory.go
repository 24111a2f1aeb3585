package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"

	"github.com/kayicom/marketplace/internal/model"
)

const userColumns = `id, COALESCE(customer_id, ''), email, COALESCE(referral_code, ''), referred_by,
	wallet_cents, credits, referral_cents`

func scanUser(row pgx.Row) (*model.User, error) {
	var u model.User
	err := row.Scan(&u.ID, &u.CustomerID, &u.Email, &u.ReferralCode, &u.ReferredBy,
		&u.WalletCents, &u.Credits, &u.ReferralCents)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("get user: %w", err)
	}
	return &u, nil
}

// GetUser возвращает пользователя по идентификатору.
func (r *PostgresRepository) GetUser(ctx context.Context, id string) (*model.User, error) {
	return scanUser(r.pool.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id))
}

// ResolveUser ищет пользователя по идентификатору, затем по номеру клиента, затем по email.
func (r *PostgresRepository) ResolveUser(ctx context.Context, identifier string) (*model.User, error) {
	identifier = strings.TrimSpace(identifier)
	if identifier == "" {
		return nil, ErrUserNotFound
	}

	lookups := []string{
		`SELECT ` + userColumns + ` FROM users WHERE id = $1`,
		`SELECT ` + userColumns + ` FROM users WHERE customer_id = upper($1)`,
		`SELECT ` + userColumns + ` FROM users WHERE lower(email) = lower($1)`,
	}

	for _, q := range lookups {
		u, err := scanUser(r.pool.QueryRow(ctx, q, identifier))
		if err == nil {
			return u, nil
		}
		if !errors.Is(err, ErrUserNotFound) {
			return nil, err
		}
	}

	return nil, ErrUserNotFound
}

// GetUserByReferralCode возвращает владельца реферального кода.
func (r *PostgresRepository) GetUserByReferralCode(ctx context.Context, code string) (*model.User, error) {
	return scanUser(r.pool.QueryRow(ctx,
		`SELECT `+userColumns+` FROM users WHERE upper(referral_code) = upper($1)`,
		strings.TrimSpace(code),
	))
}

// GetProduct возвращает товар каталога.
func (r *PostgresRepository) GetProduct(ctx context.Context, id string) (*model.Product, error) {
	var p model.Product
	err := r.pool.QueryRow(ctx,
		`SELECT id, name, price_cents, is_subscription, requires_player_id, requires_credentials,
		        subscription_duration_months, variant_label
		 FROM products WHERE id = $1`,
		id,
	).Scan(&p.ID, &p.Name, &p.PriceCents, &p.IsSubscription, &p.RequiresPlayerID, &p.RequiresCredentials,
		&p.SubscriptionDurationMonths, &p.VariantLabel)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrProductNotFound
		}
		return nil, fmt.Errorf("get product: %w", err)
	}
	return &p, nil
}

// GetSettings возвращает настройки сайта.
func (r *PostgresRepository) GetSettings(ctx context.Context) (*model.Settings, error) {
	var s model.Settings
	err := r.pool.QueryRow(ctx,
		`SELECT site_name, support_email FROM settings WHERE id = 'site_settings'`,
	).Scan(&s.SiteName, &s.SupportEmail)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return &model.Settings{SiteName: "KayiCom", SupportEmail: "support@kayicom.com"}, nil
		}
		return nil, fmt.Errorf("get settings: %w", err)
	}
	return &s, nil
}
