package submission

import (
	"context"
	"fmt"
	"time"

	gocache "github.com/patrickmn/go-cache"
)

// KindSummary は種別ごとの件数。
type KindSummary struct {
	// Total は種別の総件数。
	Total int64 `json:"total"`
	// Open は初期ステータスのまま対応されていない件数。
	Open int64 `json:"open"`
	// ByStatus はステータスごとの件数。許可されたステータスはすべて0件でも含む。
	ByStatus map[Status]int64 `json:"by_status"`
}

// Summary は管理画面ダッシュボードの集計結果。
type Summary struct {
	Total       int64                `json:"total"`
	ByKind      map[Kind]KindSummary `json:"by_kind"`
	Recent      []Submission         `json:"recent"`
	GeneratedAt time.Time            `json:"generated_at"`
}

// Summary はダッシュボードの集計結果を返す。
// 結果は一定期間キャッシュされ、投稿の作成・更新・削除で破棄される。
func (s *Service) Summary(ctx context.Context) (Summary, error) {
	if v, ok := s.cache.Get(summaryCacheKey); ok {
		if cached, ok := v.(Summary); ok {
			return cached, nil
		}
	}

	rows, err := s.queries.CountByKindStatus(ctx)
	if err != nil {
		return Summary{}, fmt.Errorf("件数の集計に失敗: %w", err)
	}

	sum := Summary{ByKind: make(map[Kind]KindSummary, len(statuses))}
	for _, k := range Kinds() {
		allowed := k.Statuses()
		byStatus := make(map[Status]int64, len(allowed))
		for _, st := range allowed {
			byStatus[st] = 0
		}
		sum.ByKind[k] = KindSummary{ByStatus: byStatus}
	}
	for _, row := range rows {
		k := Kind(row.Kind)
		ks, ok := sum.ByKind[k]
		if !ok {
			continue
		}
		st := Status(row.Status)
		ks.ByStatus[st] += row.Count
		ks.Total += row.Count
		if st == k.InitialStatus() {
			ks.Open += row.Count
		}
		sum.ByKind[k] = ks
		sum.Total += row.Count
	}

	recent, err := s.List(ctx, ListFilter{Limit: RecentCount})
	if err != nil {
		return Summary{}, err
	}
	sum.Recent = recent
	sum.GeneratedAt = s.timestamp()

	s.cache.Set(summaryCacheKey, sum, gocache.DefaultExpiration)
	return sum, nil
}
