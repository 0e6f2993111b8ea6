package changes

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
)

const (
	// DefaultPageSize is applied when the caller does not set one.
	DefaultPageSize = 50
	// MaxPageSize is the hard ceiling; larger requests are clamped.
	MaxPageSize = 100
)

// TokenInvalidError reports a continuation token that does not match any
// entry in the current listing, usually because the underlying change was
// modified or archived since the token was issued.
type TokenInvalidError struct {
	Token string
}

func (e *TokenInvalidError) Error() string {
	return fmt.Sprintf("page token %q no longer matches the listing", e.Token)
}

// PageRequest selects a window of the listing. Zero values mean "use the
// default": page 1, page size 50. When Token is set and Page is zero the
// window resumes immediately after the entry the token identifies.
type PageRequest struct {
	Page     int
	PageSize int
	Token    string
}

// Page is one window of a listing.
type Page struct {
	Items             []Entry `json:"items"`
	PageNumber        int     `json:"page"`
	PageSize          int     `json:"page_size"`
	TotalItems        int     `json:"total_items"`
	TotalPages        int     `json:"total_pages"`
	NextPageToken     string  `json:"next_page_token,omitempty"`
	PreviousPageToken string  `json:"previous_page_token,omitempty"`
	HasMore           bool    `json:"has_more"`
}

// EntryToken derives the opaque continuation token for an entry. The token
// binds the slug to both timestamps, so any write to the change invalidates
// tokens that point at it.
func EntryToken(e Entry) string {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s|%d|%d",
		e.Slug, e.ModifiedAt.UnixNano(), e.CreatedAt.UnixNano())))
	return hex.EncodeToString(sum[:16])
}

// Paginate orders entries by modification time (newest first, slug as the
// tiebreak) and cuts the requested window. The input slice is not
// modified.
func Paginate(entries []Entry, req PageRequest) (*Page, error) {
	sorted := make([]Entry, len(entries))
	copy(sorted, entries)
	sort.SliceStable(sorted, func(i, j int) bool {
		if !sorted[i].ModifiedAt.Equal(sorted[j].ModifiedAt) {
			return sorted[i].ModifiedAt.After(sorted[j].ModifiedAt)
		}
		return sorted[i].Slug < sorted[j].Slug
	})

	pageSize := req.PageSize
	switch {
	case pageSize <= 0:
		pageSize = DefaultPageSize
	case pageSize > MaxPageSize:
		pageSize = MaxPageSize
	}

	total := len(sorted)
	totalPages := (total + pageSize - 1) / pageSize
	if totalPages == 0 {
		totalPages = 1
	}

	var start int
	switch {
	case req.Token != "" && req.Page <= 0:
		idx := -1
		for i := range sorted {
			if EntryToken(sorted[i]) == req.Token {
				idx = i
				break
			}
		}
		if idx < 0 {
			return nil, &TokenInvalidError{Token: req.Token}
		}
		start = idx + 1
	default:
		page := req.Page
		if page <= 0 {
			page = 1
		}
		start = (page - 1) * pageSize
	}

	if start > total {
		start = total
	}
	end := start + pageSize
	if end > total {
		end = total
	}

	// A window that starts past the last entry (a token pointing at the
	// final item) would otherwise report a page past TotalPages.
	pageNumber := start/pageSize + 1
	if pageNumber > totalPages {
		pageNumber = totalPages
	}

	p := &Page{
		Items:      sorted[start:end],
		PageNumber: pageNumber,
		PageSize:   pageSize,
		TotalItems: total,
		TotalPages: totalPages,
		HasMore:    end < total,
	}
	if p.HasMore && end > 0 {
		p.NextPageToken = EntryToken(sorted[end-1])
	}
	// The previous-page token resumes after the entry just before the
	// previous window; an empty token with PageNumber > 1 means the
	// previous window is the start of the listing.
	if prev := start - pageSize - 1; prev >= 0 {
		p.PreviousPageToken = EntryToken(sorted[prev])
	}
	return p, nil
}
