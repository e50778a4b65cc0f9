package repo

import (
	"errors"
	"testing"
	"time"

	"server/internal/domain"
)

func TestCursorRoundTrip(t *testing.T) {
	in := cursor{
		createdAt: time.Date(2025, 6, 1, 12, 30, 45, 123456789, time.UTC),
		id:        "vt_ab12cd34",
		query:     "cat video",
		status:    domain.JobStatusProcessing,
		sort:      domain.SortCreatedAtDesc,
	}
	out, err := decodeCursor(encodeCursor(in))
	if err != nil {
		t.Fatalf("decodeCursor() error: %v", err)
	}
	if !out.createdAt.Equal(in.createdAt) || out.id != in.id || out.query != in.query ||
		out.status != in.status || out.sort != in.sort {
		t.Fatalf("round trip = %+v, want %+v", out, in)
	}
}

func TestDecodeCursorMalformed(t *testing.T) {
	for _, token := range []string{"not-base64!!", "aGVsbG8=", ""} {
		if _, err := decodeCursor(token); !errors.Is(err, domain.ErrValidation) {
			t.Errorf("decodeCursor(%q) error = %v, want ErrValidation", token, err)
		}
	}
}

func TestResolveCursorFilterMismatch(t *testing.T) {
	base := cursor{
		createdAt: time.Now().UTC(),
		id:        "vt_ab12cd34",
		query:     "cats",
		status:    domain.JobStatusQueued,
		sort:      domain.SortCreatedAtDesc,
	}
	token := encodeCursor(base)

	tests := []struct {
		name string
		opts domain.ListOptions
	}{
		{
			name: "query changed",
			opts: domain.ListOptions{
				Filter: domain.ListFilter{Query: "dogs", Status: domain.JobStatusQueued},
				Sort:   domain.SortCreatedAtDesc,
			},
		},
		{
			name: "status changed",
			opts: domain.ListOptions{
				Filter: domain.ListFilter{Query: "cats", Status: domain.JobStatusFailed},
				Sort:   domain.SortCreatedAtDesc,
			},
		},
		{
			name: "sort changed",
			opts: domain.ListOptions{
				Filter: domain.ListFilter{Query: "cats", Status: domain.JobStatusQueued},
				Sort:   domain.SortCreatedAtAsc,
			},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			tc.opts.Cursor = token
			if _, err := resolveCursor(tc.opts); !errors.Is(err, domain.ErrCursorFilterMismatch) {
				t.Fatalf("resolveCursor() error = %v, want ErrCursorFilterMismatch", err)
			}
		})
	}

	match := domain.ListOptions{
		Filter: domain.ListFilter{Query: "cats", Status: domain.JobStatusQueued},
		Sort:   domain.SortCreatedAtDesc,
		Cursor: token,
	}
	c, err := resolveCursor(match)
	if err != nil {
		t.Fatalf("resolveCursor() with matching filters error: %v", err)
	}
	if c == nil || c.id != base.id {
		t.Fatalf("resolveCursor() = %+v, want id %q", c, base.id)
	}
}

func TestNormalizeListOptions(t *testing.T) {
	opts, err := normalizeListOptions(domain.ListOptions{Filter: domain.ListFilter{Query: "  cats  "}})
	if err != nil {
		t.Fatalf("normalizeListOptions() error: %v", err)
	}
	if opts.Sort != domain.SortCreatedAtDesc {
		t.Fatalf("default sort = %q, want %q", opts.Sort, domain.SortCreatedAtDesc)
	}
	if opts.Limit != 20 {
		t.Fatalf("default limit = %d, want 20", opts.Limit)
	}
	if opts.Filter.Query != "cats" {
		t.Fatalf("query = %q, want trimmed", opts.Filter.Query)
	}

	opts, err = normalizeListOptions(domain.ListOptions{Limit: 500, Sort: domain.SortCreatedAtAsc})
	if err != nil {
		t.Fatalf("normalizeListOptions() error: %v", err)
	}
	if opts.Limit != 100 {
		t.Fatalf("capped limit = %d, want 100", opts.Limit)
	}

	if _, err := normalizeListOptions(domain.ListOptions{Sort: "title_asc"}); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("unknown sort error = %v, want ErrValidation", err)
	}
}
