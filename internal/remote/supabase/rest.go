package supabase

import (
	"context"
	"net/http"
	"net/url"
	"strconv"

	"github.com/ipimonitor/ipi-api/internal/remote"
)

const restPath = "/rest/v1/"

// encodeQuery renders q as PostgREST URL parameters
func encodeQuery(q remote.Query) url.Values {
	v := url.Values{}
	for _, f := range q.Filters {
		v.Add(f.Column, string(f.Op)+"."+remote.FormatValue(f.Value))
	}
	if q.Order != nil {
		dir := "desc"
		if q.Order.Ascending {
			dir = "asc"
		}
		v.Set("order", q.Order.Column+"."+dir)
	}
	if q.Limit > 0 {
		v.Set("limit", strconv.Itoa(q.Limit))
	}
	return v
}

func representation(dest interface{}) http.Header {
	h := http.Header{}
	if dest != nil {
		h.Set("Prefer", "return=representation")
	} else {
		h.Set("Prefer", "return=minimal")
	}
	return h
}

func (c *Client) Query(ctx context.Context, q remote.Query, dest interface{}) error {
	if err := q.Validate(); err != nil {
		return err
	}
	token, err := c.bearer(ctx)
	if err != nil {
		return err
	}

	params := encodeQuery(q)
	params.Set("select", "*")
	return c.do(ctx, request{
		method: http.MethodGet,
		path:   restPath + q.Table,
		query:  params,
		token:  token,
	}, dest)
}

func (c *Client) Insert(ctx context.Context, table string, rows interface{}, dest interface{}) error {
	if err := remote.From(table).Validate(); err != nil {
		return err
	}
	token, err := c.bearer(ctx)
	if err != nil {
		return err
	}

	params := url.Values{}
	if dest != nil {
		params.Set("select", "*")
	}
	return c.do(ctx, request{
		method: http.MethodPost,
		path:   restPath + table,
		query:  params,
		body:   rows,
		token:  token,
		header: representation(dest),
	}, dest)
}

func (c *Client) Update(ctx context.Context, q remote.Query, patch map[string]interface{}, dest interface{}) error {
	if err := q.Validate(); err != nil {
		return err
	}
	token, err := c.bearer(ctx)
	if err != nil {
		return err
	}

	body := make(map[string]interface{}, len(patch)+1)
	for k, v := range patch {
		body[k] = v
	}
	body["updated_at"] = c.now().UTC()

	params := encodeQuery(remote.Query{Table: q.Table, Filters: q.Filters})
	if dest != nil {
		params.Set("select", "*")
	}
	return c.do(ctx, request{
		method: http.MethodPatch,
		path:   restPath + q.Table,
		query:  params,
		body:   body,
		token:  token,
		header: representation(dest),
	}, dest)
}

func (c *Client) Delete(ctx context.Context, q remote.Query) error {
	if err := q.Validate(); err != nil {
		return err
	}
	token, err := c.bearer(ctx)
	if err != nil {
		return err
	}

	return c.do(ctx, request{
		method: http.MethodDelete,
		path:   restPath + q.Table,
		query:  encodeQuery(remote.Query{Table: q.Table, Filters: q.Filters}),
		token:  token,
		header: representation(nil),
	}, nil)
}
