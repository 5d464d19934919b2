package notification

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"lead_lifecycle_engine/platform/config"
	"lead_lifecycle_engine/platform/phone"
)

// SMSSender posts text messages to an HTTP SMS gateway.
type SMSSender struct {
	baseURL string
	apiKey  string
	region  string
	http    *http.Client
}

type smsRequest struct {
	To      string `json:"to"`
	Message string `json:"message"`
}

// NewSMSSender returns nil when no gateway is configured.
func NewSMSSender(cfg config.SMSConfig) *SMSSender {
	if !cfg.IsSMSEnabled() {
		return nil
	}
	return &SMSSender{
		baseURL: strings.TrimRight(cfg.GetSMSGatewayURL(), "/"),
		apiKey:  cfg.GetSMSGatewayKey(),
		region:  cfg.GetSMSDefaultRegion(),
		http:    &http.Client{Timeout: 10 * time.Second},
	}
}

func (s *SMSSender) Send(ctx context.Context, m Message) error {
	if !phone.IsValid(m.Recipient, s.region) {
		return fmt.Errorf("invalid sms recipient %q", m.Recipient)
	}

	body, err := json.Marshal(smsRequest{
		To:      phone.NormalizeE164(m.Recipient, s.region),
		Message: m.Body,
	})
	if err != nil {
		return fmt.Errorf("marshal sms payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+"/messages", bytes.NewBuffer(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if s.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+s.apiKey)
	}

	resp, err := s.http.Do(req)
	if err != nil {
		return fmt.Errorf("sms request failed: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode >= http.StatusBadRequest {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("sms gateway returned %d: %s", resp.StatusCode, strings.TrimSpace(string(data)))
	}
	return nil
}
