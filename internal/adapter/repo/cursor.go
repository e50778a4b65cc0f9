package repo

import (
	"encoding/base64"
	"fmt"
	"strings"
	"time"

	"server/internal/domain"
)

// cursor is the decoded pagination token: the compound sort key of the last
// item plus the filter/sort signature it was issued under.
type cursor struct {
	createdAt time.Time
	id        string
	query     string
	status    domain.JobStatus
	sort      string
}

// encodeCursor packs the cursor as base64(createdAt|id|q|status|sort).
func encodeCursor(c cursor) string {
	raw := strings.Join([]string{
		c.createdAt.UTC().Format(time.RFC3339Nano),
		c.id,
		c.query,
		string(c.status),
		c.sort,
	}, "|")
	return base64.URLEncoding.EncodeToString([]byte(raw))
}

// decodeCursor unpacks a token. Malformed tokens are a validation error.
func decodeCursor(token string) (cursor, error) {
	raw, err := base64.URLEncoding.DecodeString(token)
	if err != nil {
		return cursor{}, fmt.Errorf("%w: malformed cursor", domain.ErrValidation)
	}
	parts := strings.Split(string(raw), "|")
	if len(parts) != 5 {
		return cursor{}, fmt.Errorf("%w: malformed cursor", domain.ErrValidation)
	}
	createdAt, err := time.Parse(time.RFC3339Nano, parts[0])
	if err != nil {
		return cursor{}, fmt.Errorf("%w: malformed cursor", domain.ErrValidation)
	}
	return cursor{
		createdAt: createdAt,
		id:        parts[1],
		query:     parts[2],
		status:    domain.JobStatus(parts[3]),
		sort:      parts[4],
	}, nil
}

// normalizeListOptions applies defaults and validates sort/limit.
func normalizeListOptions(opts domain.ListOptions) (domain.ListOptions, error) {
	opts.Filter.Query = strings.TrimSpace(opts.Filter.Query)
	if opts.Sort == "" {
		opts.Sort = domain.SortCreatedAtDesc
	}
	if opts.Sort != domain.SortCreatedAtDesc && opts.Sort != domain.SortCreatedAtAsc {
		return opts, fmt.Errorf("%w: unknown sort %q", domain.ErrValidation, opts.Sort)
	}
	if opts.Limit <= 0 {
		opts.Limit = 20
	}
	if opts.Limit > 100 {
		opts.Limit = 100
	}
	return opts, nil
}

// resolveCursor decodes the request cursor, if any, and rejects tokens whose
// embedded filter signature differs from the current request.
func resolveCursor(opts domain.ListOptions) (*cursor, error) {
	if opts.Cursor == "" {
		return nil, nil
	}
	c, err := decodeCursor(opts.Cursor)
	if err != nil {
		return nil, err
	}
	if c.query != opts.Filter.Query || c.status != opts.Filter.Status || c.sort != opts.Sort {
		return nil, domain.ErrCursorFilterMismatch
	}
	return &c, nil
}
