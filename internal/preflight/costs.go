// Package preflight 는 과금 대상 API 호출 전에 예상 비용만큼 잔액이 있는지 검사한다.
// 검사만 하고 잔액을 예약하지 않는다.
package preflight

import (
	"fmt"
	"maps"
	"slices"
	"strconv"
	"strings"
)

// DefaultCosts 는 경로별 예상 토큰 비용 기본값이다.
var DefaultCosts = map[string]int64{
	"/api/v1/ai/insights":      5000,
	"/api/v1/ai/query":         3000,
	"/api/v1/ai/ask":           2000,
	"/api/v1/ai/ask/stream":    2000,
	"/api/v1/charts/recommend": 1000,
}

// CostTable 은 경로별 예상 비용 표다. 경로는 정확히 일치해야 한다.
type CostTable struct {
	costs map[string]int64
}

// NewCostTable 은 주어진 값으로 비용 표를 만든다.
func NewCostTable(costs map[string]int64) CostTable {
	normalized := make(map[string]int64, len(costs))
	for path, cost := range costs {
		normalized[normalizePath(path)] = cost
	}
	return CostTable{costs: normalized}
}

// ParseCosts 는 기본 비용 표에 "path=cost,path=cost" 형식의 덮어쓰기를 적용한다.
// 비용 0 은 해당 경로를 과금 대상에서 뺀다.
func ParseCosts(overrides string) (CostTable, error) {
	costs := maps.Clone(DefaultCosts)
	for _, part := range strings.Split(overrides, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		path, rawCost, ok := strings.Cut(part, "=")
		path = strings.TrimSpace(path)
		if !ok || !strings.HasPrefix(path, "/") {
			return CostTable{}, fmt.Errorf("invalid cost override %q: want /path=cost", part)
		}
		cost, err := strconv.ParseInt(strings.TrimSpace(rawCost), 10, 64)
		if err != nil || cost < 0 {
			return CostTable{}, fmt.Errorf("invalid cost override %q: cost must be a non-negative integer", part)
		}
		if cost == 0 {
			delete(costs, normalizePath(path))
			continue
		}
		costs[normalizePath(path)] = cost
	}
	return NewCostTable(costs), nil
}

// Cost 는 경로의 예상 비용을 반환한다. 과금 대상이 아니면 false 다.
func (t CostTable) Cost(path string) (int64, bool) {
	cost, ok := t.costs[normalizePath(path)]
	return cost, ok
}

// Paths 는 과금 대상 경로 목록을 정렬해 반환한다.
func (t CostTable) Paths() []string {
	return slices.Sorted(maps.Keys(t.costs))
}

func normalizePath(path string) string {
	if len(path) > 1 {
		return strings.TrimRight(path, "/")
	}
	return path
}
