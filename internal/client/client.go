// Package client 为 ESP 数据服务提供类型化的 HTTP 客户端，供 espctl 与 e2e 使用。
package client

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"espdata/internal/services"
	"espdata/internal/storage"
)

// ErrNotFound 对应服务端 404。
var ErrNotFound = errors.New("not found")

// APIError 为服务端返回的错误信封。
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("http %d: %s", e.StatusCode, e.Message)
}

// Options 描述客户端连接参数。
type Options struct {
	BaseURL   string
	DeviceKey string
	Timeout   time.Duration
	Retries   int
	Debug     bool
}

// Client 封装 resty 客户端。
type Client struct {
	rc *resty.Client
}

type envelope[T any] struct {
	Status  string `json:"status"`
	Message string `json:"message"`
	Data    T      `json:"data"`
}

// New 校验 BaseURL 并构造客户端。
func New(opts Options) (*Client, error) {
	base := strings.TrimRight(opts.BaseURL, "/")
	u, err := url.Parse(base)
	if err != nil {
		return nil, fmt.Errorf("invalid base URL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("base URL scheme must be http or https, got: %q", u.Scheme)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("base URL must have a host, got: %s", base)
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}
	rc := resty.New().
		SetBaseURL(base).
		SetTimeout(opts.Timeout).
		SetHeader("Accept", "application/json").
		SetRetryCount(opts.Retries).
		SetRetryWaitTime(200 * time.Millisecond).
		SetRetryMaxWaitTime(2 * time.Second).
		SetDebug(opts.Debug)
	if opts.DeviceKey != "" {
		rc.SetHeader("X-Device-Key", opts.DeviceKey)
	}
	rc.AddRetryCondition(retryCondition)
	return &Client{rc: rc}, nil
}

// retryCondition 对读请求在网络错误与 5xx 时重试；上报只在 429/503 时重试，避免重复写入。
func retryCondition(r *resty.Response, err error) bool {
	if r == nil {
		return err != nil
	}
	code := r.StatusCode()
	if r.Request != nil && r.Request.Method != http.MethodGet {
		return code == http.StatusTooManyRequests || code == http.StatusServiceUnavailable
	}
	return err != nil || code >= 500 || code == http.StatusTooManyRequests
}

func asError(resp *resty.Response, msg string) error {
	if resp.StatusCode() == http.StatusNotFound {
		return ErrNotFound
	}
	if msg == "" {
		msg = strings.TrimSpace(resp.String())
	}
	return &APIError{StatusCode: resp.StatusCode(), Message: msg}
}

func getData[T any](ctx context.Context, c *Client, path string, pathParams, query map[string]string) (T, error) {
	var ok envelope[T]
	var bad envelope[struct{}]
	req := c.rc.R().SetContext(ctx).SetResult(&ok).SetError(&bad)
	if len(pathParams) > 0 {
		req.SetPathParams(pathParams)
	}
	if len(query) > 0 {
		req.SetQueryParams(query)
	}
	resp, err := req.Get(path)
	if err != nil {
		var zero T
		return zero, fmt.Errorf("GET %s: %w", path, err)
	}
	if resp.IsError() {
		var zero T
		return zero, asError(resp, bad.Message)
	}
	return ok.Data, nil
}

// Send 上报一条读数。
func (c *Client) Send(ctx context.Context, galon string, value float64) error {
	var res envelope[struct{}]
	resp, err := c.rc.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(map[string]interface{}{"galon": galon, "value": value}).
		SetResult(&res).
		SetError(&res).
		Post("/data")
	if err != nil {
		return fmt.Errorf("POST /data: %w", err)
	}
	if resp.IsError() {
		return asError(resp, res.Message)
	}
	return nil
}

// ListQuery 对应 GET /data 的查询参数，零值字段不发送。
type ListQuery struct {
	Galon  string
	From   string
	To     string
	Limit  int
	Offset int
	Asc    bool
}

func (q ListQuery) params() map[string]string {
	p := map[string]string{}
	if q.Galon != "" {
		p["galon"] = q.Galon
	}
	if q.From != "" {
		p["from"] = q.From
	}
	if q.To != "" {
		p["to"] = q.To
	}
	if q.Limit > 0 {
		p["limit"] = strconv.Itoa(q.Limit)
	}
	if q.Offset > 0 {
		p["offset"] = strconv.Itoa(q.Offset)
	}
	if q.Asc {
		p["order"] = "asc"
	}
	return p
}

// List 查询读数。
func (c *Client) List(ctx context.Context, q ListQuery) ([]storage.GalonData, error) {
	return getData[[]storage.GalonData](ctx, c, "/data", nil, q.params())
}

// LatestAll 返回每个 galon 的最新读数。
func (c *Client) LatestAll(ctx context.Context) ([]storage.GalonData, error) {
	return getData[[]storage.GalonData](ctx, c, "/data/latest", nil, nil)
}

// Latest 返回单个 galon 的最新读数；无数据时返回 ErrNotFound。
func (c *Client) Latest(ctx context.Context, galon string) (*storage.GalonData, error) {
	rec, err := getData[storage.GalonData](ctx, c, "/galons/{galon}/latest", map[string]string{"galon": galon}, nil)
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// Galons 返回 galon 概要列表。
func (c *Client) Galons(ctx context.Context) ([]services.GalonSummary, error) {
	return getData[[]services.GalonSummary](ctx, c, "/galons", nil, nil)
}

// Stats 返回 galon 在窗口内的统计；from/to 为空表示不限。
func (c *Client) Stats(ctx context.Context, galon, from, to string) (*services.Stats, error) {
	q := map[string]string{}
	if from != "" {
		q["from"] = from
	}
	if to != "" {
		q["to"] = to
	}
	st, err := getData[services.Stats](ctx, c, "/galons/{galon}/stats", map[string]string{"galon": galon}, q)
	if err != nil {
		return nil, err
	}
	return &st, nil
}

// Ready 探测 /readyz。
func (c *Client) Ready(ctx context.Context) error {
	var bad envelope[struct{}]
	resp, err := c.rc.R().SetContext(ctx).SetError(&bad).Get("/readyz")
	if err != nil {
		return fmt.Errorf("GET /readyz: %w", err)
	}
	if resp.IsError() {
		return asError(resp, bad.Message)
	}
	return nil
}

// Metrics 返回 Prometheus 文本。
func (c *Client) Metrics(ctx context.Context) (string, error) {
	resp, err := c.rc.R().SetContext(ctx).SetHeader("Accept", "text/plain").Get("/metrics")
	if err != nil {
		return "", fmt.Errorf("GET /metrics: %w", err)
	}
	if resp.IsError() {
		return "", asError(resp, "")
	}
	return resp.String(), nil
}
