package sqliteindex

import (
	"sort"

	"github.com/cdpfgl/server/metalog"
)

func matches(f metalog.Filter, r metalog.Record) bool {
	if f.NameRegexp != nil && !f.NameRegexp.MatchString(r.Name) {
		return false
	}
	if f.ExactTime != 0 && r.ModifyTime != f.ExactTime {
		return false
	}
	if f.AfterTime != 0 && r.ModifyTime < f.AfterTime {
		return false
	}
	if f.BeforeTime != 0 && r.ModifyTime > f.BeforeTime {
		return false
	}
	return true
}

func sortByNameThenMtime(records []metalog.Record) {
	sort.Slice(records, func(i, j int) bool {
		if records[i].Name != records[j].Name {
			return records[i].Name < records[j].Name
		}
		return records[i].ModifyTime < records[j].ModifyTime
	})
}

func latestPerPath(records []metalog.Record) []metalog.Record {
	latest := make(map[string]metalog.Record, len(records))
	var order []string
	for _, r := range records {
		if _, ok := latest[r.Name]; !ok {
			order = append(order, r.Name)
		}
		if cur, ok := latest[r.Name]; !ok || r.ModifyTime >= cur.ModifyTime {
			latest[r.Name] = r
		}
	}
	sort.Strings(order)
	out := make([]metalog.Record, 0, len(order))
	for _, name := range order {
		out = append(out, latest[name])
	}
	return out
}
