package api

import (
	"fmt"
	"net/url"
	"sort"
	"strconv"
	"time"

	"github.com/jmcleod/opsvault/audit"
)

const (
	defaultAuditPageSize = 50
	maxAuditPageSize     = 500
)

// AuditPage places one page within the filtered audit log. NextBefore is
// the cursor for the following page; passing it as before keeps paging
// stable while new entries are appended.
type AuditPage struct {
	TotalCount int    `json:"total_count"`
	Limit      int    `json:"limit"`
	Offset     int    `json:"offset"`
	HasMore    bool   `json:"has_more"`
	NextBefore uint64 `json:"next_before,omitempty"`
}

// auditQuery is a parsed GET /audit request.
type auditQuery struct {
	filter audit.Filter
	limit  int
	offset int
	before uint64 // only entries with a lower Seq; 0 means no cursor
}

// parseAuditQuery reads the filter, window and paging parameters. limit
// above maxAuditPageSize is capped; anything malformed is an error.
func parseAuditQuery(q url.Values) (auditQuery, error) {
	aq := auditQuery{
		filter: audit.Filter{
			UserID:     q.Get("user_id"),
			Action:     audit.Action(q.Get("action")),
			EntityType: q.Get("entity_type"),
			EntityID:   q.Get("entity_id"),
		},
		limit: defaultAuditPageSize,
	}

	var err error
	if aq.filter.Since, err = timeParam(q, "since"); err != nil {
		return auditQuery{}, err
	}
	if aq.filter.Until, err = timeParam(q, "until"); err != nil {
		return auditQuery{}, err
	}
	if !aq.filter.Since.IsZero() && !aq.filter.Until.IsZero() && aq.filter.Until.Before(aq.filter.Since) {
		return auditQuery{}, fmt.Errorf("until must not be before since")
	}

	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			return auditQuery{}, fmt.Errorf("limit must be a positive integer")
		}
		aq.limit = min(n, maxAuditPageSize)
	}
	if v := q.Get("offset"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return auditQuery{}, fmt.Errorf("offset must be a non-negative integer")
		}
		aq.offset = n
	}
	if v := q.Get("before"); v != "" {
		n, err := strconv.ParseUint(v, 10, 64)
		if err != nil || n == 0 {
			return auditQuery{}, fmt.Errorf("before must be a positive sequence number")
		}
		aq.before = n
	}
	return aq, nil
}

func timeParam(q url.Values, name string) (time.Time, error) {
	v := q.Get(name)
	if v == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339, v)
	if err != nil {
		return time.Time{}, fmt.Errorf("%s must be an RFC 3339 timestamp", name)
	}
	return t, nil
}

// page cuts one page out of entries, which must be newest first. The cursor
// is applied before the offset, and TotalCount counts what the cursor left.
func (aq auditQuery) page(entries []audit.Entry) ([]audit.Entry, AuditPage) {
	if aq.before > 0 {
		cut := sort.Search(len(entries), func(i int) bool { return entries[i].Seq < aq.before })
		entries = entries[cut:]
	}
	total := len(entries)
	start := min(aq.offset, total)
	end := min(start+aq.limit, total)

	out := make([]audit.Entry, end-start)
	copy(out, entries[start:end])
	meta := AuditPage{
		TotalCount: total,
		Limit:      aq.limit,
		Offset:     aq.offset,
		HasMore:    end < total,
	}
	if meta.HasMore && len(out) > 0 {
		meta.NextBefore = out[len(out)-1].Seq
	}
	return out, meta
}
