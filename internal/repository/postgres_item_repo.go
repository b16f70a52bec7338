package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/hitoshi/clearlist/internal/model"
)

// PostgresItemRepo はPostgreSQLを使用したアイテムリポジトリ。
type PostgresItemRepo struct {
	db *sql.DB
}

// NewPostgresItemRepo はPostgresItemRepoを生成する。
func NewPostgresItemRepo(db *sql.DB) *PostgresItemRepo {
	return &PostgresItemRepo{db: db}
}

const itemColumns = `id, subscriber_id, url, title, state, prioritized, created_at, updated_at`

// scanItem は1行を読み取ってItemに変換する。
func scanItem(row interface {
	Scan(dest ...interface{}) error
}) (*model.Item, error) {
	item := &model.Item{}
	var state string

	err := row.Scan(
		&item.ID, &item.SubscriberID, &item.URL, &item.Title,
		&state, &item.Prioritized, &item.CreatedAt, &item.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	item.State = model.ItemState(state)
	return item, nil
}

// FindByID は指定IDのアイテムを取得する。見つからない場合はnilを返す。
func (r *PostgresItemRepo) FindByID(ctx context.Context, id int64) (*model.Item, error) {
	item, err := scanItem(r.db.QueryRowContext(ctx,
		`SELECT `+itemColumns+` FROM items WHERE id = $1`, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("アイテムの取得に失敗しました: %w", err)
	}
	return item, nil
}

// FindQueuedByOwnerAndURL は所有者とURLで未配信アイテムを検索する。
func (r *PostgresItemRepo) FindQueuedByOwnerAndURL(ctx context.Context, ownerID, url string) (*model.Item, error) {
	item, err := scanItem(r.db.QueryRowContext(ctx,
		`SELECT `+itemColumns+` FROM items
		 WHERE subscriber_id = $1 AND url = $2 AND state = 'queued'
		 LIMIT 1`,
		ownerID, url))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("URLによる未配信アイテムの検索に失敗しました: %w", err)
	}
	return item, nil
}

// FindDeliveredByOwnerAndURL は所有者とURLで配信済みアイテムを検索する。
// 複数一致する場合は最後に更新されたものを返す。
func (r *PostgresItemRepo) FindDeliveredByOwnerAndURL(ctx context.Context, ownerID, url string) (*model.Item, error) {
	item, err := scanItem(r.db.QueryRowContext(ctx,
		`SELECT `+itemColumns+` FROM items
		 WHERE subscriber_id = $1 AND url = $2 AND state = 'delivered'
		 ORDER BY updated_at DESC
		 LIMIT 1`,
		ownerID, url))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("URLによる配信済みアイテムの検索に失敗しました: %w", err)
	}
	return item, nil
}

// FindLatestDeliveredByOwner は所有者の最新の配信済みアイテムを返す。
func (r *PostgresItemRepo) FindLatestDeliveredByOwner(ctx context.Context, ownerID string) (*model.Item, error) {
	item, err := scanItem(r.db.QueryRowContext(ctx,
		`SELECT `+itemColumns+` FROM items
		 WHERE subscriber_id = $1 AND state = 'delivered'
		 ORDER BY updated_at DESC
		 LIMIT 1`,
		ownerID))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("最新の配信済みアイテムの取得に失敗しました: %w", err)
	}
	return item, nil
}

// ListQueuedByOwner は所有者の未配信アイテム一覧を返す。
func (r *PostgresItemRepo) ListQueuedByOwner(ctx context.Context, ownerID string) ([]*model.Item, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+itemColumns+` FROM items
		 WHERE subscriber_id = $1 AND state = 'queued'
		 ORDER BY created_at`,
		ownerID)
	if err != nil {
		return nil, fmt.Errorf("未配信アイテム一覧の取得に失敗しました: %w", err)
	}
	defer rows.Close()

	return collectItems(rows)
}

// CountQueuedByOwner は所有者の未配信アイテム数を返す。
func (r *PostgresItemRepo) CountQueuedByOwner(ctx context.Context, ownerID string) (int, error) {
	var count int
	err := r.db.QueryRowContext(ctx,
		`SELECT count(*) FROM items WHERE subscriber_id = $1 AND state = 'queued'`,
		ownerID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("未配信アイテム数の取得に失敗しました: %w", err)
	}
	return count, nil
}

// ListMissingTitle はタイトル未取得のアイテムを返す。
func (r *PostgresItemRepo) ListMissingTitle(ctx context.Context, limit int) ([]*model.Item, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+itemColumns+` FROM items
		 WHERE title = ''
		 ORDER BY created_at
		 LIMIT $1`,
		limit)
	if err != nil {
		return nil, fmt.Errorf("タイトル未取得アイテム一覧の取得に失敗しました: %w", err)
	}
	defer rows.Close()

	return collectItems(rows)
}

func collectItems(rows *sql.Rows) ([]*model.Item, error) {
	var items []*model.Item
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, fmt.Errorf("アイテム行の読み取りに失敗しました: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("アイテム一覧の走査に失敗しました: %w", err)
	}
	return items, nil
}

// Create は新規アイテムを未配信状態で作成する。作成後のIDをitemに書き戻す。
// Delivered状態での直接作成は許可されないため、stateカラムはデフォルトに任せる。
func (r *PostgresItemRepo) Create(ctx context.Context, item *model.Item) error {
	err := r.db.QueryRowContext(ctx,
		`INSERT INTO items (subscriber_id, url, title, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5)
		 RETURNING id`,
		item.SubscriberID, item.URL, item.Title, item.CreatedAt, item.UpdatedAt,
	).Scan(&item.ID)
	if err != nil {
		return fmt.Errorf("アイテムの作成に失敗しました: %w", err)
	}
	item.State = model.ItemStateQueued
	return nil
}

// UpdateTitle はアイテムのタイトルを更新する。
func (r *PostgresItemRepo) UpdateTitle(ctx context.Context, itemID int64, title string) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE items SET title = $2, updated_at = now() WHERE id = $1`,
		itemID, title,
	)
	if err != nil {
		return fmt.Errorf("タイトルの更新に失敗しました: %w", err)
	}
	return nil
}

// CompareAndSwapState は楽観的並行性制御による状態遷移プリミティブ。
// WHERE句で現在状態を条件に含めた1文のUPDATEとして実行するため、
// 2つのティックが重なった場合でも同一アイテムが二重に遷移することはない。
// 古い状態を観測した場合はfalseを返す（no-op、エラーではない）。
func (r *PostgresItemRepo) CompareAndSwapState(ctx context.Context, itemID int64, expected, next model.ItemState) (bool, error) {
	if !model.CanTransition(expected, next) {
		return false, fmt.Errorf("許可されていない状態遷移です: %s -> %s", expected, next)
	}

	result, err := r.db.ExecContext(ctx,
		`UPDATE items SET state = $3, updated_at = now()
		 WHERE id = $1 AND state = $2`,
		itemID, string(expected), string(next),
	)
	if err != nil {
		return false, fmt.Errorf("状態遷移の実行に失敗しました: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("状態遷移の結果取得に失敗しました: %w", err)
	}

	return affected == 1, nil
}

// Prioritize は指定アイテムに優先フラグを立てる。
// 既存の優先フラグの解除と新規フラグの設定を同一トランザクションで実行し、
// Selection Policyから優先アイテムが2件同時に観測されないことを保証する。
func (r *PostgresItemRepo) Prioritize(ctx context.Context, ownerID string, itemID int64) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("トランザクションの開始に失敗しました: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`UPDATE items SET prioritized = FALSE, updated_at = now()
		 WHERE subscriber_id = $1 AND prioritized AND state = 'queued' AND id <> $2`,
		ownerID, itemID,
	)
	if err != nil {
		return fmt.Errorf("既存の優先フラグの解除に失敗しました: %w", err)
	}

	result, err := tx.ExecContext(ctx,
		`UPDATE items SET prioritized = TRUE, updated_at = now()
		 WHERE id = $2 AND subscriber_id = $1 AND state = 'queued'`,
		ownerID, itemID,
	)
	if err != nil {
		return fmt.Errorf("優先フラグの設定に失敗しました: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("優先フラグ設定の結果取得に失敗しました: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("優先フラグの設定対象が見つかりません: %d", itemID)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("トランザクションのコミットに失敗しました: %w", err)
	}
	return nil
}

// DeleteQueued は未配信アイテムを削除する。削除できたかどうかを返す。
func (r *PostgresItemRepo) DeleteQueued(ctx context.Context, ownerID string, itemID int64) (bool, error) {
	result, err := r.db.ExecContext(ctx,
		`DELETE FROM items WHERE id = $2 AND subscriber_id = $1 AND state = 'queued'`,
		ownerID, itemID,
	)
	if err != nil {
		return false, fmt.Errorf("アイテムの削除に失敗しました: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("アイテム削除の結果取得に失敗しました: %w", err)
	}

	return affected == 1, nil
}
