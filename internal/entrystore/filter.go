package entrystore

import (
	"fmt"
	"regexp"
	"strings"
)

// SortField is the column queryEntries/getIndexByTime orders by.
type SortField string

const (
	SortByTimestamp SortField = "ts"
	SortByDevice    SortField = "device_signal" // composite (device_id, signal_name)
)

// Filter is queryEntries' server-side search/category/type filter plus
// sort order (spec §4.7). Its CacheKey, together with pageSize, is the
// row-count cache key (spec §4.4: "Filtered counts are cached with the
// filter key").
type Filter struct {
	Search        string
	Regex         bool
	CaseSensitive bool
	Category      string
	SignalType    string
	SignalKeys    []string
	Sort          SortField
	Descending    bool
	ChangedOnly   bool
}

// CacheKey mirrors the teacher's BuildCacheKeyFull shape
// (app/query/cache_keys.go): a flat, stable string encoding every
// field that affects the result set, so two filters that differ only
// in a field this key omits would wrongly share a cache entry — hence
// every field is represented.
func (f Filter) CacheKey() string {
	return fmt.Sprintf("search:%s:regex:%t:cs:%t:category:%s:type:%s:keys:%s:sort:%s:desc:%t:changed:%t",
		f.Search, f.Regex, f.CaseSensitive, f.Category, f.SignalType, strings.Join(f.SignalKeys, ","), f.Sort, f.Descending, f.ChangedOnly)
}

// usesRegex reports whether this filter's search must be applied in
// Go after the SQL scan via matchesSearch, because modernc.org/sqlite
// has no REGEXP function registered and compiled regex matching can't
// be expressed as a LIKE clause. Regex compile failures degrade to
// substring matching (spec §4.7), which whereClause can still do in
// SQL, so only a search term with a regex that actually compiles
// forces the post-filter path.
func (f Filter) usesRegex() bool {
	if f.Search == "" || !f.Regex {
		return false
	}
	_, err := regexp.Compile(f.Search)
	return err == nil
}

// matchesSearch re-checks the search term against a candidate row; it
// is only consulted when usesRegex is true, since whereClause already
// applied substring search in SQL for every other case.
func (f Filter) matchesSearch(deviceID, signalName, value, category string) bool {
	re, err := regexp.Compile(f.Search)
	if err != nil {
		return strings.Contains(deviceID, f.Search) || strings.Contains(signalName, f.Search) ||
			strings.Contains(value, f.Search) || strings.Contains(category, f.Search)
	}
	return re.MatchString(deviceID) || re.MatchString(signalName) || re.MatchString(value) || re.MatchString(category)
}

// whereClause builds the SQL WHERE fragment (including the leading
// "WHERE" keyword, or empty string if unfiltered) and its positional
// args for this filter. Substring search (case-sensitive via instr(),
// case-insensitive via LIKE) runs in SQL; regex search runs as a
// post-filter via matchesSearch since the embedded sqlite driver has
// no REGEXP function.
func (f Filter) whereClause() (string, []any, error) {
	var clauses []string
	var args []any

	if f.Search != "" && !f.usesRegex() {
		if f.CaseSensitive {
			clauses = append(clauses, `(instr(device_id, ?) > 0 OR instr(signal_name, ?) > 0 OR instr(value, ?) > 0 OR instr(category, ?) > 0)`)
			args = append(args, f.Search, f.Search, f.Search, f.Search)
		} else {
			like := "%" + f.Search + "%"
			clauses = append(clauses, `(device_id LIKE ? OR signal_name LIKE ? OR value LIKE ? OR category LIKE ?)`)
			args = append(args, like, like, like, like)
		}
	}

	if f.Category != "" {
		clauses = append(clauses, `category = ?`)
		args = append(args, f.Category)
	}
	if f.SignalType != "" {
		clauses = append(clauses, `signal_type = ?`)
		args = append(args, f.SignalType)
	}
	if where, keyArgs := signalKeyWhere(f.SignalKeys); where != "" {
		// signalKeyWhere returns a leading " AND (...)"; strip the
		// leading " AND " so it composes uniformly with clauses above.
		clauses = append(clauses, strings.TrimPrefix(where, " AND "))
		args = append(args, keyArgs...)
	}

	if len(clauses) == 0 {
		return "", nil, nil
	}
	return "WHERE " + strings.Join(clauses, " AND "), args, nil
}

func (f Filter) orderClause() string {
	dir := "ASC"
	if f.Descending {
		dir = "DESC"
	}
	switch f.Sort {
	case SortByDevice:
		return fmt.Sprintf("device_id %s, signal_name %s, seq %s", dir, dir, dir)
	default:
		return fmt.Sprintf("ts %s, seq %s", dir, dir)
	}
}
