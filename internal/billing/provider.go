// Package billing は課金プロバイダとの整合性監査を提供する。
package billing

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// SubscriptionStatus は課金プロバイダ側の購読状態。
type SubscriptionStatus struct {
	Active bool
}

// Provider は課金プロバイダAPIへの境界。
type Provider interface {
	// GetSubscription は購読IDの現在の状態を取得する。
	GetSubscription(ctx context.Context, subscriptionID string) (*SubscriptionStatus, error)
}

// HTTPProvider は課金プロバイダのREST APIによるProvider実装。
type HTTPProvider struct {
	apiURL     string
	apiKey     string
	httpClient *http.Client
}

// NewHTTPProvider はHTTPProviderを生成する。
func NewHTTPProvider(apiURL, apiKey string, timeout time.Duration) *HTTPProvider {
	return &HTTPProvider{
		apiURL:     apiURL,
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: timeout},
	}
}

// subscriptionResponse は課金プロバイダの購読取得レスポンス。
type subscriptionResponse struct {
	Status string `json:"status"`
}

// GetSubscription は購読IDの現在の状態を取得する。
// トライアル中（trialing）も有効として扱う。
func (p *HTTPProvider) GetSubscription(ctx context.Context, subscriptionID string) (*SubscriptionStatus, error) {
	url := fmt.Sprintf("%s/v1/subscriptions/%s", p.apiURL, subscriptionID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+p.apiKey)

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("課金プロバイダへのリクエストに失敗しました: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		// プロバイダ側で完全に消えた購読。無効として扱う。
		return &SubscriptionStatus{Active: false}, nil
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("課金プロバイダが異常応答を返しました: %d", resp.StatusCode)
	}

	var parsed subscriptionResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("課金プロバイダレスポンスの解析に失敗しました: %w", err)
	}

	active := parsed.Status == "active" || parsed.Status == "trialing"
	return &SubscriptionStatus{Active: active}, nil
}
