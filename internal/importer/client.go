// Package importer はread-laterプロバイダからの定期リンク取り込みを提供する。
package importer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// ProviderItem はプロバイダAPIから取得したリンク1件。
type ProviderItem struct {
	URL   string
	Title string
}

// Client はread-laterプロバイダAPIへの境界。
type Client interface {
	// FetchSince は指定時刻以降に保存された未読リンクを取得する。
	FetchSince(ctx context.Context, accessToken string, since time.Time) ([]ProviderItem, error)
}

// HTTPClient はPocket互換API（POST /v3/get）のClient実装。
type HTTPClient struct {
	apiURL      string
	consumerKey string
	httpClient  *http.Client
}

// NewHTTPClient はHTTPClientを生成する。
func NewHTTPClient(apiURL, consumerKey string, timeout time.Duration) *HTTPClient {
	return &HTTPClient{
		apiURL:      apiURL,
		consumerKey: consumerKey,
		httpClient:  &http.Client{Timeout: timeout},
	}
}

// fetchRequest はプロバイダAPIへのリクエストボディ。
type fetchRequest struct {
	ConsumerKey string `json:"consumer_key"`
	AccessToken string `json:"access_token"`
	Since       int64  `json:"since"`
	State       string `json:"state"`
	DetailType  string `json:"detailType"`
}

// fetchResponse はプロバイダAPIのレスポンス。
// listはアイテムIDをキーとするオブジェクトで返る。
type fetchResponse struct {
	List map[string]struct {
		GivenURL      string `json:"given_url"`
		ResolvedURL   string `json:"resolved_url"`
		GivenTitle    string `json:"given_title"`
		ResolvedTitle string `json:"resolved_title"`
	} `json:"list"`
}

// FetchSince は指定時刻以降に保存された未読リンクを取得する。
func (c *HTTPClient) FetchSince(ctx context.Context, accessToken string, since time.Time) ([]ProviderItem, error) {
	body, err := json.Marshal(fetchRequest{
		ConsumerKey: c.consumerKey,
		AccessToken: accessToken,
		Since:       since.Unix(),
		State:       "unread",
		DetailType:  "simple",
	})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.apiURL+"/v3/get", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("プロバイダAPIへのリクエストに失敗しました: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("プロバイダAPIが異常応答を返しました: %d", resp.StatusCode)
	}

	var parsed fetchResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("プロバイダAPIレスポンスの解析に失敗しました: %w", err)
	}

	items := make([]ProviderItem, 0, len(parsed.List))
	for _, entry := range parsed.List {
		url := entry.ResolvedURL
		if url == "" {
			url = entry.GivenURL
		}
		if url == "" {
			continue
		}
		title := entry.ResolvedTitle
		if title == "" {
			title = entry.GivenTitle
		}
		items = append(items, ProviderItem{URL: url, Title: title})
	}

	return items, nil
}
