package metadata

import "strings"

// Search is a field-name search predicate.
type Search struct {
	Query         string `json:"query"`
	ExactMatch    bool   `json:"exact_match"`
	CaseSensitive bool   `json:"case_sensitive"`
}

// IsBlank reports whether the query is empty or only whitespace.
func (s Search) IsBlank() bool {
	return strings.TrimSpace(s.Query) == ""
}

// Matches reports whether field satisfies the search. Case is folded unless
// CaseSensitive; the field must equal the query when ExactMatch, otherwise
// contain it.
func (s Search) Matches(field string) bool {
	if s.IsBlank() {
		return true
	}
	query := s.Query
	if !s.CaseSensitive {
		query = strings.ToLower(query)
		field = strings.ToLower(field)
	}
	if s.ExactMatch {
		return field == query
	}
	return strings.Contains(field, query)
}
