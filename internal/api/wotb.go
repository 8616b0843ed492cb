package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"blitz-tracker/internal/config"
	"blitz-tracker/internal/constants"
	"blitz-tracker/internal/domain"
	"blitz-tracker/internal/metrics"

	"github.com/rs/zerolog"
	"github.com/valyala/fasthttp"
	"golang.org/x/time/rate"
)

var regionHosts = map[string]string{
	"eu":   "https://api.wotblitz.eu/wotb",
	"na":   "https://api.wotblitz.com/wotb",
	"com":  "https://api.wotblitz.com/wotb",
	"asia": "https://api.wotblitz.asia/wotb",
	"as":   "https://api.wotblitz.asia/wotb",
}

// Entity selects which not-found error an empty search result maps to.
type Entity int

const (
	EntityPlayer Entity = iota
	EntityClan
)

type FetchOptions struct {
	// ExpectCount fails with a not-found error when meta.count is 0.
	ExpectCount bool
	// ExpectStatusOK maps a non-"ok" payload status to a typed error.
	ExpectStatusOK bool
	Entity         Entity
	// Query is the search term reported in not-found errors.
	Query string
	// Form switches the call to a form-encoded POST.
	Form map[string]string
}

// Client performs every call to the game API through one shared limiter.
type Client struct {
	appID     string
	baseURL   string
	ratingURL string
	client    *fasthttp.Client
	limiter   *rate.Limiter
	metrics   *metrics.Metrics
	logger    zerolog.Logger
}

func NewClient(cfg *config.Config, m *metrics.Metrics, logger zerolog.Logger) *Client {
	return &Client{
		appID:     cfg.WGAppID,
		baseURL:   strings.TrimRight(cfg.APIBaseURL, "/"),
		ratingURL: cfg.RatingURL,
		client: &fasthttp.Client{
			MaxConnsPerHost:     100,
			ReadTimeout:         constants.ExternalAPITimeout,
			WriteTimeout:        constants.ExternalAPITimeout,
			MaxIdleConnDuration: 1 * time.Minute,
		},
		limiter: rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), 1),
		metrics: m,
		logger:  logger,
	}
}

func (c *Client) Close() {
	c.client.CloseIdleConnections()
}

// Fetch waits for a limiter slot, performs the call and classifies the
// response. The returned body is owned by the caller.
func (c *Client) Fetch(ctx context.Context, endpoint, url string, opts FetchOptions) ([]byte, error) {
	start := time.Now()
	outcome := "ok"
	defer func() {
		took := time.Since(start)
		c.metrics.ObserveExternalCall(endpoint, outcome, took)
		c.logger.Debug().
			Str("endpoint", endpoint).
			Str("outcome", outcome).
			Dur("took", took).
			Msg("upstream call")
	}()

	if err := c.limiter.Wait(ctx); err != nil {
		outcome = "cancelled"
		return nil, fmt.Errorf("failed to acquire rate limit slot for %s: %w", endpoint, err)
	}

	status, body, err := c.do(ctx, url, opts.Form)
	if err != nil {
		outcome = "transport_error"
		return nil, fmt.Errorf("failed to call %s: %w", endpoint, err)
	}

	if err := classifyStatus(status, endpoint); err != nil {
		outcome = string(err.Code)
		return nil, err
	}

	if opts.ExpectStatusOK || opts.ExpectCount {
		if err := checkEnvelope(body, endpoint, opts); err != nil {
			outcome = "error"
			var de *domain.Error
			if errors.As(err, &de) {
				outcome = string(de.Code)
			}
			return nil, err
		}
	}
	return body, nil
}

func (c *Client) do(ctx context.Context, url string, form map[string]string) (int, []byte, error) {
	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	req.SetRequestURI(url)
	req.Header.SetMethod(fasthttp.MethodGet)
	if form != nil {
		req.Header.SetMethod(fasthttp.MethodPost)
		req.Header.SetContentType("application/x-www-form-urlencoded")
		args := req.PostArgs()
		for k, v := range form {
			args.Set(k, v)
		}
	}

	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(constants.ExternalAPITimeout)
	}
	if err := c.client.DoDeadline(req, resp, deadline); err != nil {
		return 0, nil, err
	}

	return resp.StatusCode(), append([]byte(nil), resp.Body()...), nil
}

func classifyStatus(status int, endpoint string) *domain.Error {
	args := []domain.Arg{domain.A("endpoint", endpoint), domain.A("status", status)}
	switch {
	case status >= 200 && status < 300:
		return nil
	case status >= 300 && status < 400:
		return domain.NewError(domain.CodeRedirect, "", args...)
	case status == fasthttp.StatusGatewayTimeout:
		return domain.NewError(domain.CodeServerUnavailable, "", args...)
	case status >= 400 && status < 500:
		e := domain.NewError(domain.CodeRequest, "", args...)
		e.Value = strconv.Itoa(status)
		return e
	default:
		return domain.NewError(domain.CodeServer, "", args...)
	}
}

type envelopeHeader struct {
	Status string    `json:"status"`
	Meta   *Meta     `json:"meta"`
	Error  *APIError `json:"error"`
}

func checkEnvelope(body []byte, endpoint string, opts FetchOptions) error {
	var h envelopeHeader
	if err := json.Unmarshal(body, &h); err != nil {
		return fmt.Errorf("failed to decode %s response: %w", endpoint, err)
	}

	if opts.ExpectStatusOK && h.Status != "ok" {
		return payloadError(h.Error, endpoint)
	}

	if opts.ExpectCount && h.Meta != nil && h.Meta.Count != nil && *h.Meta.Count == 0 {
		code := domain.CodePlayerNotFound
		if opts.Entity == EntityClan {
			code = domain.CodeClanNotFound
		}
		return domain.NewError(code, "", domain.A("query", opts.Query))
	}
	return nil
}

var payloadCodes = map[string]domain.Code{
	"INVALID_ACCESS_TOKEN":   domain.CodeInvalidAccessToken,
	"INVALID_IP_ADDRESS":     domain.CodeInvalidIPAddress,
	"REQUEST_LIMIT_EXCEEDED": domain.CodeRequestLimitExceeded,
	"APPLICATION_IS_BLOCKED": domain.CodeApplicationBlocked,
	"SOURCE_NOT_AVAILABLE":   domain.CodeSourceUnavailable,
}

func payloadError(apiErr *APIError, endpoint string) *domain.Error {
	if apiErr == nil {
		return domain.NewError(domain.CodeRequest, "unexpected response status", domain.A("endpoint", endpoint))
	}
	if code, ok := payloadCodes[apiErr.Message]; ok {
		e := domain.NewError(code, "", domain.A("endpoint", endpoint))
		e.Value = apiErr.ValueString()
		return e
	}
	e := domain.NewError(domain.CodeRequest, apiErr.Message, domain.A("endpoint", endpoint), domain.A("field", apiErr.Field))
	e.Value = apiErr.ValueString()
	return e
}

func fetch[T any](ctx context.Context, c *Client, endpoint, url string, opts FetchOptions) (*Envelope[T], error) {
	body, err := c.Fetch(ctx, endpoint, url, opts)
	if err != nil {
		return nil, err
	}
	var env Envelope[T]
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, fmt.Errorf("failed to decode %s response: %w", endpoint, err)
	}
	return &env, nil
}

func (c *Client) regionURL(region string) (string, error) {
	if c.baseURL != "" {
		if _, ok := regionHosts[strings.ToLower(region)]; !ok {
			return "", domain.NewError(domain.CodeInvalidArgument, "unknown region", domain.A("region", region))
		}
		return c.baseURL, nil
	}
	host, ok := regionHosts[strings.ToLower(region)]
	if !ok {
		return "", domain.NewError(domain.CodeInvalidArgument, "unknown region", domain.A("region", region))
	}
	return host, nil
}
