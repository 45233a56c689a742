package directory

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/avast/retry-go/v5"
	"github.com/google/uuid"
	"github.com/sony/gobreaker"
	"github.com/xela07ax/groupflow/internal/domain"
	"github.com/xela07ax/groupflow/internal/metrics"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// ClientConfig: настройки HTTP-клиента каталога.
type ClientConfig struct {
	URL     string        `mapstructure:"url"`
	Timeout time.Duration `mapstructure:"timeout"`

	RateLimit float64 `mapstructure:"rate_limit"`
	RateBurst int     `mapstructure:"rate_burst"`

	// Настройки Circuit Breaker
	CBMaxRequests uint32        `mapstructure:"cb_max_requests"`
	CBInterval    time.Duration `mapstructure:"cb_interval"`
	CBTimeout     time.Duration `mapstructure:"cb_timeout"`
	CBFailures    uint32        `mapstructure:"cb_failures"`

	// Повторы только для идемпотентного GET
	RetryAttempts uint `mapstructure:"retry_attempts"`
}

// envelope: формат тела любой мутации каталога.
type envelope struct {
	ID   string         `json:"id"`
	Type string         `json:"type"`
	Data map[string]any `json:"data"`
}

// Client обращается к каталогу по HTTP.
// Все вызовы идут через rate limiter и circuit breaker. Повторяется только GetGroup:
// мутации не идемпотентны, и решение о повторе остается за вызывающим.
type Client struct {
	baseURL  string
	http     *http.Client
	cb       *gobreaker.CircuitBreaker
	limiter  *rate.Limiter
	attempts uint
	metrics  *metrics.Metrics
	logger   *zap.Logger
}

func NewClient(cfg ClientConfig, httpClient *http.Client, m *metrics.Metrics, logger *zap.Logger) *Client {
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 10 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	if m == nil {
		m = metrics.NewMetrics(nil)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("directory")

	failures := cfg.CBFailures
	if failures == 0 {
		failures = 5
	}
	cbTimeout := cfg.CBTimeout
	if cbTimeout <= 0 {
		cbTimeout = 30 * time.Second // Время, через которое CB попробует "закрыться"
	}
	maxReq := cfg.CBMaxRequests
	if maxReq == 0 {
		maxReq = 3
	}

	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "directory",
		MaxRequests: maxReq,
		Interval:    cfg.CBInterval,
		Timeout:     cbTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= failures
		},
		// Отказ каталога по существу запроса не говорит о его недоступности
		IsSuccessful: func(err error) bool {
			return err == nil || !isOutage(err)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			m.CircuitBreakerState.WithLabelValues(name).Set(float64(to))
			logger.Warn("circuit breaker state changed",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()))
		},
	})

	limit := rate.Limit(cfg.RateLimit)
	if cfg.RateLimit <= 0 {
		limit = rate.Limit(100)
	}
	burst := cfg.RateBurst
	if burst <= 0 {
		burst = 20
	}
	attempts := cfg.RetryAttempts
	if attempts == 0 {
		attempts = 3
	}

	return &Client{
		baseURL:  strings.TrimRight(cfg.URL, "/"),
		http:     httpClient,
		cb:       cb,
		limiter:  rate.NewLimiter(limit, burst),
		attempts: attempts,
		metrics:  m,
		logger:   logger,
	}
}

func (c *Client) CreateGroup(ctx context.Context, spec domain.CreateGroupPayload) (Result, error) {
	data := map[string]any{
		"groupId":        spec.GroupID,
		"groupName":      spec.GroupName,
		"displayName":    spec.DisplayName,
		"hierarchy":      spec.Hierarchy,
		"classification": spec.Classification,
		"owner":          spec.Owner,
		"members":        strings.Join(spec.Members, ";"),
	}
	res, err := c.mutate(ctx, "create", http.MethodPost, "/Group", createOp(spec.Type), data)
	if err == nil && res.GroupID == "" {
		res.GroupID = spec.GroupID
	}
	return res, err
}

func (c *Client) AddMembers(ctx context.Context, groupID string, users []string) (Result, error) {
	path, data, err := membersRequest(groupID, users)
	if err != nil {
		return Result{}, err
	}
	return c.mutate(ctx, "add_members", http.MethodPut, path, OpAdd, data)
}

func (c *Client) RemoveMembers(ctx context.Context, groupID string, users []string) (Result, error) {
	path, data, err := membersRequest(groupID, users)
	if err != nil {
		return Result{}, err
	}
	return c.mutate(ctx, "remove_members", http.MethodDelete, path, OpRemove, data)
}

func (c *Client) DeleteGroup(ctx context.Context, groupID string) (Result, error) {
	return c.mutate(ctx, "delete", http.MethodDelete, "/Group", OpDeleteDistribution,
		map[string]any{"groupId": groupID})
}

func (c *Client) UpdateField(ctx context.Context, groupID, field, value string) (Result, error) {
	if field == "" {
		return Result{}, domain.Invalid("field", "required")
	}
	return c.mutate(ctx, "update_field", http.MethodPut, "/Group/"+url.PathEscape(field), updateOp(field),
		map[string]any{"groupId": groupID, "value": value})
}

func (c *Client) ChangeOwner(ctx context.Context, groupID, newOwner string) (Result, error) {
	return c.mutate(ctx, "change_owner", http.MethodPut, "/Group/owner", OpChangeOwner,
		map[string]any{"groupId": groupID, "value": newOwner})
}

// GetGroup: единственная операция с повторами. 404 не повторяется и
// возвращается как domain.ErrNotFound.
func (c *Client) GetGroup(ctx context.Context, groupID string) (*domain.Group, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limit exceeded: %w", err)
	}

	var (
		group    *domain.Group
		notFound bool
		rejected error
	)

	_, err := c.cb.Execute(func() (interface{}, error) {
		r := retry.New(
			retry.Context(ctx),
			retry.Attempts(c.attempts),
			retry.DelayType(func(n uint, err error, config retry.DelayContext) time.Duration {
				var tErr *ThrottleError
				if errors.As(err, &tErr) {
					return tErr.RetryAfter
				}
				return retry.BackOffDelay(n, err, config)
			}),
		)

		retryErr := r.Do(func() error {
			g, callErr := c.fetchGroup(ctx, groupID)
			var (
				tErr *ThrottleError
				rErr *RemoteError
			)
			switch {
			case errors.Is(callErr, domain.ErrNotFound):
				notFound = true
				return nil
			case errors.As(callErr, &tErr):
				return callErr
			case errors.As(callErr, &rErr) && !rErr.Temporary():
				// 4xx: повтор ничего не изменит
				rejected = callErr
				return nil
			case callErr != nil:
				return callErr
			}
			group = g
			return nil
		})
		return nil, retryErr
	})

	switch {
	case err != nil:
		c.observe("get", err)
		return nil, c.classify(err)
	case notFound:
		c.observe("get", domain.ErrNotFound)
		return nil, fmt.Errorf("group %s: %w", groupID, domain.ErrNotFound)
	case rejected != nil:
		c.observe("get", rejected)
		return nil, rejected
	}
	c.observe("get", nil)
	return group, nil
}

func (c *Client) fetchGroup(ctx context.Context, groupID string) (*domain.Group, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/Group/"+url.PathEscape(groupID), nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrGatewayUnavailable, err)
	}
	defer resp.Body.Close()

	if err := statusError("get", resp); err != nil {
		return nil, err
	}
	var g domain.Group
	if err := json.NewDecoder(resp.Body).Decode(&g); err != nil {
		return nil, fmt.Errorf("decode group %s: %w", groupID, err)
	}
	return &g, nil
}

// mutate отправляет мутацию ровно один раз.
func (c *Client) mutate(ctx context.Context, op, method, path, opType string, data map[string]any) (Result, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return Result{}, fmt.Errorf("rate limit exceeded: %w", err)
	}

	out, err := c.cb.Execute(func() (interface{}, error) {
		return c.send(ctx, op, method, path, envelope{ID: uuid.NewString(), Type: opType, Data: data})
	})
	c.observe(op, err)
	if err != nil {
		return Result{}, c.classify(err)
	}
	return out.(Result), nil
}

func (c *Client) send(ctx context.Context, op, method, path string, body envelope) (Result, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return Result{}, fmt.Errorf("encode %s: %w", op, err)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return Result{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Request-ID", body.ID)

	resp, err := c.http.Do(req)
	if err != nil {
		return Result{}, fmt.Errorf("%w: %v", domain.ErrGatewayUnavailable, err)
	}
	defer resp.Body.Close()

	if err := statusError(op, resp); err != nil {
		return Result{}, err
	}

	var res Result
	if err := json.NewDecoder(resp.Body).Decode(&res); err != nil {
		return Result{}, fmt.Errorf("decode %s response: %w", op, err)
	}
	if !res.Success {
		return Result{}, &RemoteError{Op: op, Message: res.Message}
	}
	c.logger.Debug("directory call ok", zap.String("op", op), zap.String("message_id", body.ID))
	return res, nil
}

func (c *Client) classify(err error) error {
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return fmt.Errorf("%w: %v", domain.ErrGatewayUnavailable, err)
	}
	return err
}

func (c *Client) observe(op string, err error) {
	result := "ok"
	switch {
	case err == nil:
	case errors.Is(err, domain.ErrNotFound):
		result = "not_found"
	case isOutage(err):
		result = "unavailable"
	default:
		result = "rejected"
	}
	c.metrics.DirectoryCalls.WithLabelValues(op, result).Inc()
}

func membersRequest(groupID string, users []string) (string, map[string]any, error) {
	switch len(users) {
	case 0:
		return "", nil, domain.Invalid("users", "at least one user required")
	case 1:
		return "/Group/user", map[string]any{"groupId": groupID, "userId": users[0]}, nil
	default:
		return "/Group/users", map[string]any{"groupId": groupID, "userId": strings.Join(users, ";")}, nil
	}
}

func statusError(op string, resp *http.Response) error {
	if resp.StatusCode < 400 {
		return nil
	}
	if resp.StatusCode == http.StatusNotFound {
		return fmt.Errorf("directory %s: %w", op, domain.ErrNotFound)
	}

	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	msg := strings.TrimSpace(string(raw))
	var res Result
	if json.Unmarshal(raw, &res) == nil && res.Message != "" {
		msg = res.Message
	}
	rErr := &RemoteError{Op: op, Status: resp.StatusCode, Message: msg}

	if resp.StatusCode == http.StatusTooManyRequests {
		after := time.Second
		if s, err := strconv.Atoi(resp.Header.Get("Retry-After")); err == nil && s > 0 {
			after = time.Duration(s) * time.Second
		}
		return &ThrottleError{RetryAfter: after, Cause: rErr}
	}
	return rErr
}

// isOutage: ошибки, говорящие о недоступности каталога, а не об отказе по существу.
func isOutage(err error) bool {
	if errors.Is(err, domain.ErrGatewayUnavailable) ||
		errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return true
	}
	var tErr *ThrottleError
	if errors.As(err, &tErr) {
		return true
	}
	var rErr *RemoteError
	return errors.As(err, &rErr) && rErr.Temporary()
}
