// Package dedupe holds the three duplicate policies applied to analysis
// results. They are deliberately independent:
//
//   - ExactDuplicate drops accidental double-fetches from display lists.
//   - NearDuplicate guards inserts against rapid re-submissions.
//   - GroupByName surfaces repeated analyses of one company to the user.
package dedupe

import (
	"sort"
	"strings"
	"time"

	"startup-analyst/internal/results"
)

// NearPolicy tunes the pre-insert guard.
type NearPolicy struct {
	ScoreTolerance int
	Window         time.Duration
}

// DefaultNearPolicy rejects a candidate within 5 points or 60s of an existing
// record for the same company.
var DefaultNearPolicy = NearPolicy{ScoreTolerance: 5, Window: 60 * time.Second}

// ExactDuplicate reports whether a and b share company name, score and
// creation instant.
func ExactDuplicate(a, b results.Result) bool {
	return a.CompanyName == b.CompanyName &&
		a.Score == b.Score &&
		a.CreatedAt.Equal(b.CreatedAt)
}

type exactKey struct {
	name  string
	score int
	at    int64
	zero  bool
}

func keyOf(r results.Result) exactKey {
	if r.CreatedAt.IsZero() {
		return exactKey{name: r.CompanyName, score: r.Score, zero: true}
	}
	return exactKey{name: r.CompanyName, score: r.Score, at: r.CreatedAt.UnixNano()}
}

// FilterExact keeps the first occurrence of each exact duplicate, in input
// order. The input is not modified.
func FilterExact(list []results.Result) []results.Result {
	out := make([]results.Result, 0, len(list))
	seen := make(map[exactKey]struct{}, len(list))
	for _, r := range list {
		k := keyOf(r)
		if _, dup := seen[k]; dup {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, r)
	}
	return out
}

// NormalizeCompanyName folds case and collapses whitespace.
func NormalizeCompanyName(name string) string {
	return strings.ToLower(strings.Join(strings.Fields(name), " "))
}

// NearDuplicate reports whether candidate should be rejected because
// existing already covers the same analysis.
func NearDuplicate(existing, candidate results.Result, now time.Time, policy NearPolicy) bool {
	if NormalizeCompanyName(existing.CompanyName) != NormalizeCompanyName(candidate.CompanyName) {
		return false
	}
	diff := existing.Score - candidate.Score
	if diff < 0 {
		diff = -diff
	}
	if diff < policy.ScoreTolerance {
		return true
	}
	if existing.CreatedAt.IsZero() {
		return false
	}
	age := now.Sub(existing.CreatedAt)
	if age < 0 {
		age = -age
	}
	return age < policy.Window
}

// FindNearDuplicate returns the first record in list that candidate
// duplicates.
func FindNearDuplicate(list []results.Result, candidate results.Result, now time.Time, policy NearPolicy) (results.Result, bool) {
	for _, existing := range list {
		if NearDuplicate(existing, candidate, now, policy) {
			return existing, true
		}
	}
	return results.Result{}, false
}

// Group is a set of results sharing a normalized company name. Members are
// ordered newest first.
type Group struct {
	Key     string           `json:"key"`
	Members []results.Result `json:"members"`
}

// Latest is the member that stays visible when duplicates are hidden.
func (g Group) Latest() results.Result {
	return g.Members[0]
}

// Suppressible lists every member except the latest.
func (g Group) Suppressible() []results.Result {
	return append([]results.Result(nil), g.Members[1:]...)
}

// GroupByName returns groups with more than one member, ordered by first
// appearance in list.
func GroupByName(list []results.Result) []Group {
	byKey := make(map[string][]results.Result)
	var order []string
	for _, r := range list {
		k := NormalizeCompanyName(r.CompanyName)
		if _, ok := byKey[k]; !ok {
			order = append(order, k)
		}
		byKey[k] = append(byKey[k], r)
	}

	var groups []Group
	for _, k := range order {
		members := byKey[k]
		if len(members) < 2 {
			continue
		}
		sort.SliceStable(members, func(i, j int) bool {
			return members[i].CreatedAt.After(members[j].CreatedAt)
		})
		groups = append(groups, Group{Key: k, Members: members})
	}
	return groups
}

// Visible applies the toggle. With hide=false list is returned unchanged.
// With hide=true only the newest member of each name group survives.
// Members are told apart by position, since the same analysis can appear
// under one id in several sources.
func Visible(list []results.Result, hide bool) []results.Result {
	if !hide {
		return append([]results.Result(nil), list...)
	}
	latest := make(map[string]int, len(list))
	for i, r := range list {
		k := NormalizeCompanyName(r.CompanyName)
		j, seen := latest[k]
		if !seen || r.CreatedAt.After(list[j].CreatedAt) {
			latest[k] = i
		}
	}
	out := make([]results.Result, 0, len(latest))
	for i, r := range list {
		if latest[NormalizeCompanyName(r.CompanyName)] == i {
			out = append(out, r)
		}
	}
	return out
}
