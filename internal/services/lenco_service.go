package services

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"go.uber.org/zap"
)

// LencoConfig holds credentials for the Lenco collections API.
type LencoConfig struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
}

// LencoService is the SettlementAdapter backed by Lenco mobile-money
// collections.
type LencoService struct {
	cfg    LencoConfig
	client *http.Client
	logger *zap.Logger
}

func NewLencoService(cfg LencoConfig, logger *zap.Logger) *LencoService {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	return &LencoService{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
		logger: logger.Named("lenco"),
	}
}

type lencoEnvelope struct {
	Status  bool            `json:"status"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

type lencoCollection struct {
	ID               string `json:"id"`
	Reference        string `json:"reference"`
	Status           string `json:"status"`
	ReasonForFailure string `json:"reasonForFailure"`
}

type lencoCollectionRequest struct {
	Amount    json.Number `json:"amount"`
	Currency  string      `json:"currency"`
	Phone     string      `json:"phone"`
	Operator  string      `json:"operator"`
	Reference string      `json:"reference"`
	Email     string      `json:"email,omitempty"`
}

func settlementError(format string, args ...any) error {
	return &ServiceError{Info: InfoSettlementAdapter, Err: fmt.Errorf(format, args...)}
}

// Initiate starts a collection; the customer then authorizes it on their
// phone and the outcome arrives by callback or Verify.
func (s *LencoService) Initiate(ctx context.Context, req SettlementRequest) (*SettlementInitiation, error) {
	body := lencoCollectionRequest{
		Amount:    json.Number(req.Amount.StringFixed(2)),
		Currency:  req.Currency,
		Phone:     req.Phone,
		Operator:  req.Operator,
		Reference: req.Reference,
		Email:     req.Email,
	}

	s.logger.Info("initiating mobile money collection",
		zap.String("reference", req.Reference),
		zap.String("operator", req.Operator))

	col, _, err := s.do(ctx, http.MethodPost, "/collections/mobile-money", body)
	if err != nil {
		return nil, err
	}
	return &SettlementInitiation{ProviderID: col.ID, Status: col.Status}, nil
}

// Verify fetches the current status of a collection by our reference.
func (s *LencoService) Verify(ctx context.Context, reference string) (*SettlementStatus, error) {
	col, raw, err := s.do(ctx, http.MethodGet, "/collections/status/"+reference, nil)
	if err != nil {
		return nil, err
	}
	return &SettlementStatus{
		Status:           col.Status,
		ReasonForFailure: col.ReasonForFailure,
		ProviderID:       col.ID,
		Raw:              raw,
	}, nil
}

func (s *LencoService) do(ctx context.Context, method, path string, payload any) (*lencoCollection, map[string]any, error) {
	var bodyReader io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, nil, settlementError("lenco request encode: %w", err)
		}
		bodyReader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, s.cfg.BaseURL+path, bodyReader)
	if err != nil {
		return nil, nil, settlementError("lenco request build: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+s.cfg.APIKey)
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := s.client.Do(req)
	if err != nil {
		s.logger.Warn("lenco request failed", zap.String("path", path), zap.Error(err))
		return nil, nil, settlementError("lenco request: %w", err)
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		s.logger.Warn("lenco returned error status",
			zap.String("path", path),
			zap.Int("status", resp.StatusCode),
			zap.ByteString("body", respBody))
		return nil, nil, settlementError("lenco %s %s: status %d", method, path, resp.StatusCode)
	}

	var env lencoEnvelope
	if err := json.Unmarshal(respBody, &env); err != nil {
		return nil, nil, settlementError("lenco response decode: %w", err)
	}
	if !env.Status {
		return nil, nil, settlementError("lenco rejected request: %s", env.Message)
	}

	var col lencoCollection
	var raw map[string]any
	if len(env.Data) > 0 {
		if err := json.Unmarshal(env.Data, &col); err != nil {
			return nil, nil, settlementError("lenco data decode: %w", err)
		}
		_ = json.Unmarshal(env.Data, &raw)
	}
	return &col, raw, nil
}
