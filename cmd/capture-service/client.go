package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
)

type apiClient struct {
	http *resty.Client
	out  io.Writer
}

func newAPIClient(baseURL string, out io.Writer) *apiClient {
	return &apiClient{
		http: resty.New().SetBaseURL(strings.TrimRight(baseURL, "/")).SetTimeout(15 * time.Second),
		out:  out,
	}
}

func (c *apiClient) get(ctx context.Context, path string, limit int) error {
	req := c.http.R().SetContext(ctx)
	if limit > 0 {
		req.SetQueryParam("limit", strconv.Itoa(limit))
	}
	resp, err := req.Get(path)
	return c.print(resp, err)
}

func (c *apiClient) search(ctx context.Context, query string, limit int) error {
	if strings.TrimSpace(query) == "" {
		return fmt.Errorf("query cannot be empty")
	}
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(map[string]any{"query": query, "limit": limit}).
		Post("/api/search")
	return c.print(resp, err)
}

func (c *apiClient) trigger(ctx context.Context, app string) error {
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(map[string]string{"app": app}).
		Post("/api/triggers")
	return c.print(resp, err)
}

// print writes the indented JSON body, or returns the server's error.
func (c *apiClient) print(resp *resty.Response, err error) error {
	if err != nil {
		return err
	}
	if !resp.IsSuccess() {
		return fmt.Errorf("http %d: %s", resp.StatusCode(), strings.TrimSpace(resp.String()))
	}
	var buf bytes.Buffer
	if err := json.Indent(&buf, bytes.TrimSpace(resp.Body()), "", "  "); err != nil {
		_, err = c.out.Write(resp.Body())
		return err
	}
	buf.WriteByte('\n')
	_, err = buf.WriteTo(c.out)
	return err
}
