package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/hitoshi/clearlist/internal/model"
)

// PostgresSubscriberRepo はPostgreSQLを使用した購読者リポジトリ。
type PostgresSubscriberRepo struct {
	db *sql.DB
}

// NewPostgresSubscriberRepo はPostgresSubscriberRepoを生成する。
func NewPostgresSubscriberRepo(db *sql.DB) *PostgresSubscriberRepo {
	return &PostgresSubscriberRepo{db: db}
}

const subscriberColumns = `id, email, screen_name, provider_token, utc_offset,
       hour_preference, days_preference, tier,
       billing_customer_id, billing_subscription_id, created_at, updated_at`

// scanSubscriber は1行を読み取ってSubscriberに変換する。
func scanSubscriber(row interface {
	Scan(dest ...interface{}) error
}) (*model.Subscriber, error) {
	sub := &model.Subscriber{}
	var utcOffset sql.NullString
	var tier string

	err := row.Scan(
		&sub.ID, &sub.Email, &sub.ScreenName, &sub.ProviderToken, &utcOffset,
		&sub.HourPreference, &sub.DaysPreference, &tier,
		&sub.BillingCustomerID, &sub.BillingSubscriptionID,
		&sub.CreatedAt, &sub.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if utcOffset.Valid {
		sub.UTCOffset = &utcOffset.String
	}
	sub.Tier = model.Tier(tier)

	return sub, nil
}

// FindByID は指定IDの購読者を取得する。見つからない場合はnilを返す。
func (r *PostgresSubscriberRepo) FindByID(ctx context.Context, id string) (*model.Subscriber, error) {
	sub, err := scanSubscriber(r.db.QueryRowContext(ctx,
		`SELECT `+subscriberColumns+` FROM subscribers WHERE id = $1`, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("購読者の取得に失敗しました: %w", err)
	}
	return sub, nil
}

// FindByEmail はメールアドレスで購読者を検索する。見つからない場合はnilを返す。
func (r *PostgresSubscriberRepo) FindByEmail(ctx context.Context, email string) (*model.Subscriber, error) {
	sub, err := scanSubscriber(r.db.QueryRowContext(ctx,
		`SELECT `+subscriberColumns+` FROM subscribers WHERE email = $1`, email))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("メールアドレスによる購読者の検索に失敗しました: %w", err)
	}
	return sub, nil
}

// Create は購読者を作成する。
func (r *PostgresSubscriberRepo) Create(ctx context.Context, sub *model.Subscriber) error {
	var utcOffset sql.NullString
	if sub.UTCOffset != nil {
		utcOffset = sql.NullString{String: *sub.UTCOffset, Valid: true}
	}

	_, err := r.db.ExecContext(ctx,
		`INSERT INTO subscribers (id, email, screen_name, provider_token, utc_offset,
		                          hour_preference, days_preference, tier,
		                          billing_customer_id, billing_subscription_id,
		                          created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		sub.ID, sub.Email, sub.ScreenName, sub.ProviderToken, utcOffset,
		sub.HourPreference, sub.DaysPreference, string(sub.Tier),
		sub.BillingCustomerID, sub.BillingSubscriptionID,
		sub.CreatedAt, sub.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("購読者の作成に失敗しました: %w", err)
	}
	return nil
}

// UpdatePreferences はタイムゾーン・時刻・曜日の配信設定を更新する。
func (r *PostgresSubscriberRepo) UpdatePreferences(ctx context.Context, id string, utcOffset *string, hourPreference int, daysPreference string) error {
	var offset sql.NullString
	if utcOffset != nil {
		offset = sql.NullString{String: *utcOffset, Valid: true}
	}

	_, err := r.db.ExecContext(ctx,
		`UPDATE subscribers
		 SET utc_offset = $2, hour_preference = $3, days_preference = $4, updated_at = now()
		 WHERE id = $1`,
		id, offset, hourPreference, daysPreference,
	)
	if err != nil {
		return fmt.Errorf("配信設定の更新に失敗しました: %w", err)
	}
	return nil
}

// UpdateTier は課金ティアを更新する。
func (r *PostgresSubscriberRepo) UpdateTier(ctx context.Context, id string, tier model.Tier) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE subscribers SET tier = $2, updated_at = now() WHERE id = $1`,
		id, string(tier),
	)
	if err != nil {
		return fmt.Errorf("ティアの更新に失敗しました: %w", err)
	}
	return nil
}

// ClearBillingSubscription は課金プロバイダ側で終了した購読IDをクリアする。
func (r *PostgresSubscriberRepo) ClearBillingSubscription(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE subscribers SET billing_subscription_id = '', updated_at = now() WHERE id = $1`,
		id,
	)
	if err != nil {
		return fmt.Errorf("課金購読IDのクリアに失敗しました: %w", err)
	}
	return nil
}

// ListSchedulable はタイムゾーン設定済みの購読者を返す。
func (r *PostgresSubscriberRepo) ListSchedulable(ctx context.Context) ([]*model.Subscriber, error) {
	return r.list(ctx, `utc_offset IS NOT NULL`)
}

// ListWithProviderToken はread-laterプロバイダ連携済みの購読者を返す。
func (r *PostgresSubscriberRepo) ListWithProviderToken(ctx context.Context) ([]*model.Subscriber, error) {
	return r.list(ctx, `provider_token <> ''`)
}

// ListWithBillingSubscription は課金プロバイダの購読IDを持つ購読者を返す。
func (r *PostgresSubscriberRepo) ListWithBillingSubscription(ctx context.Context) ([]*model.Subscriber, error) {
	return r.list(ctx, `billing_subscription_id <> ''`)
}

// ListWithoutTimezone はタイムゾーン未設定かつ購読中の購読者を返す。
func (r *PostgresSubscriberRepo) ListWithoutTimezone(ctx context.Context) ([]*model.Subscriber, error) {
	return r.list(ctx, `utc_offset IS NULL AND billing_subscription_id <> ''`)
}

// ListWithoutBillingSubscription は未購読の購読者を返す。
func (r *PostgresSubscriberRepo) ListWithoutBillingSubscription(ctx context.Context) ([]*model.Subscriber, error) {
	return r.list(ctx, `billing_subscription_id = ''`)
}

func (r *PostgresSubscriberRepo) list(ctx context.Context, where string) ([]*model.Subscriber, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+subscriberColumns+` FROM subscribers WHERE `+where+` ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("購読者一覧の取得に失敗しました: %w", err)
	}
	defer rows.Close()

	var subs []*model.Subscriber
	for rows.Next() {
		sub, err := scanSubscriber(rows)
		if err != nil {
			return nil, fmt.Errorf("購読者行の読み取りに失敗しました: %w", err)
		}
		subs = append(subs, sub)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("購読者一覧の走査に失敗しました: %w", err)
	}

	return subs, nil
}

// DeleteByID は指定IDの購読者を削除する。所有アイテムはCASCADE削除される。
func (r *PostgresSubscriberRepo) DeleteByID(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM subscribers WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("購読者の削除に失敗しました: %w", err)
	}
	return nil
}
