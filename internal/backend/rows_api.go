package backend

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
)

// Filter is a single PostgREST column predicate.
type Filter struct {
	Column string
	Op     string
	Value  string
}

// Eq matches rows whose column equals value.
func Eq(column, value string) Filter {
	return Filter{Column: column, Op: "eq", Value: value}
}

// In matches rows whose column is one of values.
func In(column string, values ...string) Filter {
	quoted := make([]string, len(values))
	for i, v := range values {
		quoted[i] = `"` + strings.ReplaceAll(v, `"`, `\"`) + `"`
	}
	return Filter{Column: column, Op: "in", Value: "(" + strings.Join(quoted, ",") + ")"}
}

// Gte matches rows whose column is greater than or equal to value.
func Gte(column, value string) Filter {
	return Filter{Column: column, Op: "gte", Value: value}
}

// Query describes a row selection.
type Query struct {
	Filters []Filter
	// Order is a PostgREST order clause such as "created_at.desc".
	Order string
	Limit int
}

func (q Query) params() url.Values {
	params := filterParams(q.Filters)
	params.Set("select", "*")
	if q.Order != "" {
		params.Set("order", q.Order)
	}
	if q.Limit > 0 {
		params.Set("limit", strconv.Itoa(q.Limit))
	}
	return params
}

func filterParams(filters []Filter) url.Values {
	params := url.Values{}
	for _, f := range filters {
		params.Add(f.Column, f.Op+"."+f.Value)
	}
	return params
}

// Select fetches rows from table into dest, which must be a pointer to a slice.
func (c *Client) Select(ctx context.Context, table string, q Query, dest any) error {
	if err := c.checkConfigured("select"); err != nil {
		return err
	}
	req, err := c.newJSONRequest(ctx, http.MethodGet, c.restURL(table, q.params()), nil)
	if err != nil {
		return err
	}
	return c.do(ctx, "select "+table, req, dest)
}

// Insert creates a row and decodes the stored representation into dest
// (a pointer to a slice) when dest is non-nil. A duplicate primary key is
// reported as services.ErrConflict.
func (c *Client) Insert(ctx context.Context, table string, row any, dest any) error {
	if err := c.checkConfigured("insert"); err != nil {
		return err
	}
	req, err := c.newJSONRequest(ctx, http.MethodPost, c.restURL(table, nil), row)
	if err != nil {
		return err
	}
	req.Header.Set("Prefer", preferHeader(dest))
	return c.do(ctx, "insert "+table, req, dest)
}

// Update patches the rows matching filters.
func (c *Client) Update(ctx context.Context, table string, filters []Filter, patch any, dest any) error {
	if err := c.checkConfigured("update"); err != nil {
		return err
	}
	if len(filters) == 0 {
		return fmt.Errorf("update %s: refusing unfiltered update", table)
	}
	req, err := c.newJSONRequest(ctx, http.MethodPatch, c.restURL(table, filterParams(filters)), patch)
	if err != nil {
		return err
	}
	req.Header.Set("Prefer", preferHeader(dest))
	return c.do(ctx, "update "+table, req, dest)
}

// Delete removes the rows matching filters.
func (c *Client) Delete(ctx context.Context, table string, filters []Filter) error {
	if err := c.checkConfigured("delete"); err != nil {
		return err
	}
	if len(filters) == 0 {
		return fmt.Errorf("delete %s: refusing unfiltered delete", table)
	}
	req, err := c.newJSONRequest(ctx, http.MethodDelete, c.restURL(table, filterParams(filters)), nil)
	if err != nil {
		return err
	}
	return c.do(ctx, "delete "+table, req, nil)
}

func preferHeader(dest any) string {
	if dest == nil {
		return "return=minimal"
	}
	return "return=representation"
}
