package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/clearlist/internal/middleware"
	"github.com/hitoshi/clearlist/internal/model"
	"github.com/hitoshi/clearlist/internal/queue"
)

// QueueServiceInterface はキューハンドラーが必要とするサービスインターフェース。
type QueueServiceInterface interface {
	AddLink(ctx context.Context, ownerID, rawURL string) (*queue.AddResult, error)
	DeleteLink(ctx context.Context, ownerID string, itemID int64) error
	PrioritizeLink(ctx context.Context, ownerID string, itemID int64) error
	RescheduleLink(ctx context.Context, ownerID string, itemID int64) error
}

// QueueHandler は「あとで読む」キュー操作のHTTPハンドラー。
type QueueHandler struct {
	service QueueServiceInterface
}

// NewQueueHandler はQueueHandlerを生成する。
func NewQueueHandler(service QueueServiceInterface) *QueueHandler {
	return &QueueHandler{service: service}
}

// addLinkRequest はリンク追加リクエストのボディ。
type addLinkRequest struct {
	URL string `json:"url"`
}

// addLinkResponse はリンク追加のレスポンス。
type addLinkResponse struct {
	ItemID  int64 `json:"item_id"`
	Created bool  `json:"created"`
}

// AddLink はリンクをキューに追加する。
// POST /api/links
// 重複追加は409ではなく200で既存アイテムを返す（冪等）。
func (h *QueueHandler) AddLink(w http.ResponseWriter, r *http.Request) {
	subscriberID, err := middleware.SubscriberIDFromContext(r.Context())
	if err != nil {
		writeUnauthorized(w)
		return
	}

	var req addLinkRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeAPIErrorResponse(w, http.StatusBadRequest, &model.APIError{
			Code:     "INVALID_REQUEST",
			Message:  "リクエストボディの解析に失敗しました。",
			Category: "validation",
			Action:   "正しいJSON形式でリクエストしてください。",
		})
		return
	}

	result, err := h.service.AddLink(r.Context(), subscriberID, req.URL)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	status := http.StatusOK
	if result.Created {
		status = http.StatusCreated
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(addLinkResponse{
		ItemID:  result.ItemID,
		Created: result.Created,
	})
}

// DeleteLink は未配信アイテムをキューから削除する。
// DELETE /api/links/{id}
func (h *QueueHandler) DeleteLink(w http.ResponseWriter, r *http.Request) {
	h.withItem(w, r, h.service.DeleteLink, http.StatusNoContent)
}

// PrioritizeLink はアイテムに優先フラグを立てる。Premium限定。
// POST /api/links/{id}/prioritize
func (h *QueueHandler) PrioritizeLink(w http.ResponseWriter, r *http.Request) {
	h.withItem(w, r, h.service.PrioritizeLink, http.StatusOK)
}

// RescheduleLink は配信済みアイテムを未配信に戻す。Premium限定。
// POST /api/links/{id}/reschedule
func (h *QueueHandler) RescheduleLink(w http.ResponseWriter, r *http.Request) {
	h.withItem(w, r, h.service.RescheduleLink, http.StatusOK)
}

// withItem はアイテムIDを対象とする操作の共通処理。
// 認証・ID解析・エラーマッピングをまとめる。
func (h *QueueHandler) withItem(
	w http.ResponseWriter,
	r *http.Request,
	op func(ctx context.Context, ownerID string, itemID int64) error,
	successStatus int,
) {
	subscriberID, err := middleware.SubscriberIDFromContext(r.Context())
	if err != nil {
		writeUnauthorized(w)
		return
	}

	itemID, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || itemID <= 0 {
		writeAPIErrorResponse(w, http.StatusBadRequest, &model.APIError{
			Code:     "INVALID_REQUEST",
			Message:  "アイテムIDが不正です。",
			Category: "validation",
			Action:   "正しいアイテムIDを指定してください。",
		})
		return
	}

	if err := op(r.Context(), subscriberID, itemID); err != nil {
		handleServiceError(w, err)
		return
	}

	w.WriteHeader(successStatus)
}
