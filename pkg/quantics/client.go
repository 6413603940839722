package quantics

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"

	"github.com/strataquant/strata/internal/observability"
	"github.com/strataquant/strata/internal/tracing"
	"github.com/strataquant/strata/pkg/analysis"
	"github.com/strataquant/strata/pkg/stats"
)

// Executor runs one validated statistic request. Implemented by Client
// and by CachedExecutor.
type Executor interface {
	Execute(ctx context.Context, desc stats.Descriptor, req *analysis.Request) (*Result, error)
}

// statsPathPrefix is the endpoint family for statistic calls.
const statsPathPrefix = "/api/stats/"

// Client issues authenticated statistic calls against the Quantics
// service. Remote failures of any kind are normalized into a Result; the
// returned error is reserved for login failures and context cancellation.
type Client struct {
	http   *resty.Client
	creds  *CredentialCache
	logger zerolog.Logger
}

// NewClient creates a client that authenticates through creds.
func NewClient(cfg Config, creds *CredentialCache) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	client := resty.New()
	client.SetBaseURL(cfg.BaseURL)
	client.SetTimeout(timeout)

	return &Client{
		http:   client,
		creds:  creds,
		logger: cfg.Logger,
	}
}

// statRequest is the wire body of one statistic call.
type statRequest struct {
	UserID       string                `json:"user_id"`
	Asset        string                `json:"asset"`
	StartDate    int                   `json:"start_date"`
	EndDate      int                   `json:"end_date"`
	BarPeriod    int                   `json:"bar_period"`
	TimeFilters  analysis.TimeFilters  `json:"time_filters"`
	TradingHours analysis.TradingHours `json:"trading_hours"`
}

// Execute runs one statistic call. A session rejected by the remote is
// refreshed and the call retried exactly once; retry policy beyond that
// belongs to the caller.
func (c *Client) Execute(ctx context.Context, desc stats.Descriptor, req *analysis.Request) (*Result, error) {
	ctx, span := tracing.StartSpan(
		ctx,
		"strata.quantics",
		"quantics.execute",
		attribute.String("statistic", desc.Name),
		attribute.String("asset", req.Asset),
	)
	defer span.End()

	logger := tracing.LoggerFromContext(ctx, c.logger)
	start := time.Now()

	session, err := c.creds.Token(ctx)
	if err != nil {
		observability.RecordStatRequest(desc.Name, time.Since(start), false)
		return nil, err
	}

	result, expired, err := c.call(ctx, desc, req, session)
	if err != nil {
		return nil, err
	}
	if expired {
		logger.Debug().Str("statistic", desc.Name).Msg("Session rejected, retrying with a fresh token")
		observability.RecordAuthRetry()
		c.creds.InvalidateToken(session.Token)

		session, err = c.creds.Token(ctx)
		if err != nil {
			observability.RecordStatRequest(desc.Name, time.Since(start), false)
			return nil, err
		}

		result, _, err = c.call(ctx, desc, req, session)
		if err != nil {
			return nil, err
		}
	}

	if result.Success {
		result.OutputDescription = desc.OutputDescription
		logger.Debug().
			Str("statistic", desc.Name).
			Dur("elapsed", time.Since(start)).
			Msg("Statistic call succeeded")
	} else {
		logger.Warn().
			Str("statistic", desc.Name).
			Str("error", result.Error).
			Msg("Statistic call failed")
	}

	observability.RecordStatRequest(desc.Name, time.Since(start), result.Success)
	return result, nil
}

// call issues a single attempt. The expired flag is set on an
// auth-rejected status so Execute can refresh and retry; the attached
// Result stands on its own if the retry is already spent.
func (c *Client) call(ctx context.Context, desc stats.Descriptor, req *analysis.Request, session *AuthSession) (*Result, bool, error) {
	body := statRequest{
		UserID:       session.UserID,
		Asset:        req.Asset,
		StartDate:    req.StartDate,
		EndDate:      req.EndDate,
		BarPeriod:    req.BarPeriod,
		TimeFilters:  req.TimeFilters,
		TradingHours: req.TradingHours,
	}

	resp, err := c.http.R().
		SetContext(ctx).
		SetHeader("Authorization", "Bearer "+session.Token).
		SetBody(body).
		Post(statsPathPrefix + desc.Endpoint)
	if err != nil {
		if ctx.Err() != nil {
			return nil, false, ctx.Err()
		}
		return &Result{Success: false, Error: fmt.Sprintf("transport error: %v", err)}, false, nil
	}

	switch {
	case resp.StatusCode() == http.StatusUnauthorized:
		return &Result{
			Success: false,
			Error:   fmt.Sprintf("authentication expired (status %d)", resp.StatusCode()),
		}, true, nil
	case resp.StatusCode() != http.StatusOK:
		return &Result{
			Success: false,
			Error:   fmt.Sprintf("remote call failed with status %d", resp.StatusCode()),
		}, false, nil
	}

	var payload struct {
		Success    *bool                  `json:"success"`
		ChartsHTML string                 `json:"charts_html"`
		Metadata   map[string]interface{} `json:"metadata"`
		Error      string                 `json:"error"`
	}
	if err := json.Unmarshal(resp.Body(), &payload); err != nil || payload.Success == nil {
		return &Result{Success: false, Error: "malformed response"}, false, nil
	}

	return &Result{
		Success:    *payload.Success,
		ChartsHTML: payload.ChartsHTML,
		Metadata:   payload.Metadata,
		Error:      payload.Error,
	}, false, nil
}
