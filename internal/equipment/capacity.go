package equipment

import (
	"sort"
	"time"
)

// PeakQuantity は [start, end) の予約が同時に占有する数量の最大値
func PeakQuantity(held []Reservation) int {
	type edge struct {
		at    time.Time
		delta int
	}
	edges := make([]edge, 0, len(held)*2)
	for _, r := range held {
		// 長さ0の期間はどの時刻も含まない
		if !r.Start.Before(r.End) || r.Quantity <= 0 {
			continue
		}
		edges = append(edges, edge{r.Start, r.Quantity}, edge{r.End, -r.Quantity})
	}
	// 同時刻なら終了を先に処理する（半開区間なので連続する貸出は重ならない）
	sort.Slice(edges, func(i, j int) bool {
		if edges[i].at.Equal(edges[j].at) {
			return edges[i].delta < edges[j].delta
		}
		return edges[i].at.Before(edges[j].at)
	})

	peak, cur := 0, 0
	for _, e := range edges {
		cur += e.delta
		if cur > peak {
			peak = cur
		}
	}
	return peak
}
