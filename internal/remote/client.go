package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"kassir/internal/config"
	"kassir/internal/models"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

// Client — HTTP-клиент удалённой системы учёта. Все вызовы проходят
// через общий rate limiter, чтобы дренаж очередей не заваливал бэкенд.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	limiter    *rate.Limiter
	logger     *zerolog.Logger
}

// RemoteError — структурированный ответ об ошибке удалённой системы.
type RemoteError struct {
	StatusCode int    `json:"-"`
	Code       string `json:"code"`
	Message    string `json:"message"`
}

func (e *RemoteError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("remote error %d (%s): %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("remote error %d: %s", e.StatusCode, e.Message)
}

// Transient reports whether the failure class is worth retrying.
// Очереди пока не ветвятся по этому признаку, но клиент его различает,
// чтобы решение можно было принять в одном месте.
func (e *RemoteError) Transient() bool {
	return e.StatusCode >= 500 || e.StatusCode == http.StatusTooManyRequests
}

// SaleResult — ответ на отправку продажи.
type SaleResult struct {
	RemoteID      string `json:"id"`
	InvoiceNumber string `json:"invoice_number"`
}

// InvoiceResult — ответ на создание счёта.
type InvoiceResult struct {
	InvoiceID     string `json:"id"`
	InvoiceNumber string `json:"invoice_number"`
}

func NewClient(cfg config.RemoteConfig, timeout time.Duration, logger *zerolog.Logger) *Client {
	burst := cfg.Burst
	if burst <= 0 {
		burst = 5
	}
	rps := cfg.RPS
	if rps <= 0 {
		rps = 10
	}

	return &Client{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:     cfg.APIKey,
		httpClient: &http.Client{Timeout: timeout},
		limiter:    rate.NewLimiter(rate.Limit(rps), burst),
		logger:     logger,
	}
}

type saleSubmission struct {
	LocalID  string               `json:"local_id"`
	Lines    []models.SaleLine    `json:"lines"`
	Customer *models.CustomerInfo `json:"customer,omitempty"`
	Payments []models.Payment     `json:"payments"`
	Discount string               `json:"discount"`
	Total    string               `json:"total"`
	Note     string               `json:"note,omitempty"`
	SoldAt   time.Time            `json:"sold_at"`
}

// SubmitSale отправляет продажу. local_id передаётся для идемпотентности
// на стороне учёта: повторная отправка того же чека не создаёт дубль.
func (c *Client) SubmitSale(ctx context.Context, sale *models.PendingSale) (*SaleResult, error) {
	body := saleSubmission{
		LocalID:  sale.ID,
		Lines:    sale.Lines,
		Customer: sale.Customer,
		Payments: sale.Payments,
		Discount: sale.DiscountTotal.String(),
		Total:    sale.Total.String(),
		Note:     sale.Note,
		SoldAt:   sale.CreatedAt,
	}

	var result SaleResult
	if err := c.do(ctx, http.MethodPost, "/api/v1/sales", body, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

type invoiceRequest struct {
	SaleID string           `json:"sale_id"`
	Buyer  models.BuyerInfo `json:"buyer"`
}

// CreateInvoice выставляет электронный счёт по продаже.
func (c *Client) CreateInvoice(ctx context.Context, saleID string, buyer models.BuyerInfo) (*InvoiceResult, error) {
	var result InvoiceResult
	if err := c.do(ctx, http.MethodPost, "/api/v1/invoices", invoiceRequest{SaleID: saleID, Buyer: buyer}, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

type cancelRequest struct {
	Reason string `json:"reason"`
}

// CancelInvoice отменяет выставленный счёт.
func (c *Client) CancelInvoice(ctx context.Context, invoiceID, reason string) error {
	path := fmt.Sprintf("/api/v1/invoices/%s/cancel", invoiceID)
	return c.do(ctx, http.MethodPost, path, cancelRequest{Reason: reason}, nil)
}

// FetchProducts возвращает полный набор активных товаров.
func (c *Client) FetchProducts(ctx context.Context) ([]models.Product, error) {
	var products []models.Product
	if err := c.do(ctx, http.MethodGet, "/api/v1/products", nil, &products); err != nil {
		return nil, err
	}
	return products, nil
}

// FetchCategories возвращает полный набор категорий.
func (c *Client) FetchCategories(ctx context.Context) ([]models.Category, error) {
	var categories []models.Category
	if err := c.do(ctx, http.MethodGet, "/api/v1/categories", nil, &categories); err != nil {
		return nil, err
	}
	return categories, nil
}

// Ping проверяет доступность удалённой системы. Используется монитором связи.
func (c *Client) Ping(ctx context.Context) error {
	return c.do(ctx, http.MethodGet, "/api/v1/ping", nil, nil)
}

func (c *Client) do(ctx context.Context, method, path string, body, out interface{}) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limiter: %w", err)
	}

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("X-Api-Key", c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		// Таймауты и сетевые ошибки идут тем же путём, что и явные отказы
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		remoteErr := &RemoteError{StatusCode: resp.StatusCode, Message: resp.Status}
		if data, readErr := io.ReadAll(io.LimitReader(resp.Body, 64<<10)); readErr == nil && len(data) > 0 {
			var parsed RemoteError
			if json.Unmarshal(data, &parsed) == nil && parsed.Message != "" {
				remoteErr.Code = parsed.Code
				remoteErr.Message = parsed.Message
			}
		}
		c.logger.Warn().Str("method", method).Str("path", path).Int("status", resp.StatusCode).Msg("Remote call failed")
		return remoteErr
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
