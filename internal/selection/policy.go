// Package selection は配信キューから次のアイテムを選ぶポリシーを提供する。
package selection

import (
	"math/rand"
	"sync"

	"github.com/hitoshi/clearlist/internal/model"
)

// Policy は次に配信するアイテムの選択ポリシー。
// 乱数源は注入可能で、シード固定によりテストで分布を検証できる。
// 配信オーケストレータが購読者ごとのゴルーチンから並行に呼ぶため、
// 乱数源へのアクセスはミューテックスで直列化する。
type Policy struct {
	mu  sync.Mutex
	rng *rand.Rand
}

// NewPolicy は指定の乱数源を使うPolicyを生成する。
func NewPolicy(src rand.Source) *Policy {
	return &Policy{rng: rand.New(src)}
}

// SelectNext は購読者の未配信アイテム集合から次に配信する1件を選ぶ。
//
// 集合が空の場合はnilを返す（「配信するものがない」の合図であり、エラーではない）。
// Premium: 優先フラグ付きの候補があればその中から一様ランダムに選ぶ。
// 不変条件の過渡状態で優先候補が0件や2件になっても、そのまま成立する。
// Free: 優先フラグを完全に無視し、全候補から一様ランダムに選ぶ。
func (p *Policy) SelectNext(sub *model.Subscriber, items []*model.Item) *model.Item {
	if len(items) == 0 {
		return nil
	}

	candidates := items
	if sub.IsPremium() {
		var prioritized []*model.Item
		for _, item := range items {
			if item.Prioritized {
				prioritized = append(prioritized, item)
			}
		}
		if len(prioritized) > 0 {
			candidates = prioritized
		}
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	return candidates[p.rng.Intn(len(candidates))]
}
