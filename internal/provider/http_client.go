package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/kursadbilgin/sms-dispatch/internal/domain"
	"github.com/sony/gobreaker"
)

const (
	defaultSendTimeout = 10 * time.Second
	messagesPath       = "/messages"
)

type sendRequest struct {
	To                string `json:"to"`
	From              string `json:"from"`
	Body              string `json:"body"`
	ProfileID         string `json:"profileId,omitempty"`
	SendingLocationID string `json:"sendingLocationId,omitempty"`
	ClientReference   string `json:"clientReference,omitempty"`
}

type sendResponse struct {
	ID      string `json:"id"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

type HTTPClientConfig struct {
	BaseURL           string
	APIKey            domain.SecretValue
	ProfileID         string
	SendingLocationID string
	Timeout           time.Duration
	Breaker           *gobreaker.CircuitBreaker
}

// HTTPClient posts messages to a tenant's provider endpoint with bearer auth.
type HTTPClient struct {
	client            *resty.Client
	baseURL           string
	apiKey            domain.SecretValue
	profileID         string
	sendingLocationID string
	breaker           *gobreaker.CircuitBreaker
}

var _ Client = (*HTTPClient)(nil)

func NewHTTPClient(cfg HTTPClientConfig) (*HTTPClient, error) {
	client := resty.New()
	client.SetTimeout(cfg.Timeout)
	return NewHTTPClientWithResty(cfg, client)
}

func NewHTTPClientWithResty(cfg HTTPClientConfig, client *resty.Client) (*HTTPClient, error) {
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		return nil, fmt.Errorf("provider base url is required")
	}
	if _, err := url.ParseRequestURI(baseURL); err != nil {
		return nil, fmt.Errorf("invalid provider base url: %w", err)
	}
	if cfg.APIKey.IsEmpty() {
		return nil, fmt.Errorf("%w: provider api key is empty", domain.ErrCredentialsMissing)
	}
	if client == nil {
		return nil, fmt.Errorf("resty client is required")
	}

	if client.GetClient().Timeout == 0 {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = defaultSendTimeout
		}
		client.SetTimeout(timeout)
	}
	client.SetRetryCount(0)

	return &HTTPClient{
		client:            client,
		baseURL:           baseURL,
		apiKey:            cfg.APIKey,
		profileID:         strings.TrimSpace(cfg.ProfileID),
		sendingLocationID: strings.TrimSpace(cfg.SendingLocationID),
		breaker:           cfg.Breaker,
	}, nil
}

func (c *HTTPClient) BaseURL() string { return c.baseURL }

func (c *HTTPClient) Send(ctx context.Context, msg domain.OutboundMessage) (*SendResult, error) {
	if c == nil || c.client == nil {
		return nil, fmt.Errorf("provider client is not initialized")
	}
	if err := msg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid message: %w", err)
	}

	if c.breaker == nil {
		return c.post(ctx, msg)
	}

	res, err := c.breaker.Execute(func() (any, error) {
		return c.post(ctx, msg)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return nil, fmt.Errorf("%w: %w", ErrCircuitOpen, err)
	}
	if err != nil {
		return nil, err
	}
	return res.(*SendResult), nil
}

func (c *HTTPClient) post(ctx context.Context, msg domain.OutboundMessage) (*SendResult, error) {
	reqBody := sendRequest{
		To:                msg.ToNumber,
		From:              msg.FromNumber,
		Body:              msg.Body,
		ProfileID:         c.profileID,
		SendingLocationID: c.sendingLocationID,
		ClientReference:   msg.ID,
	}

	response, err := c.client.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetAuthToken(c.apiKey.Reveal()).
		SetBody(reqBody).
		Post(c.baseURL + messagesPath)
	if err != nil {
		return nil, &ProviderError{
			Message:   "provider request failed",
			Transient: !errors.Is(err, context.Canceled),
			Cause:     err,
		}
	}
	if response == nil {
		return nil, &ProviderError{
			Message:   "provider returned empty response",
			Transient: true,
		}
	}

	statusCode := response.StatusCode()
	responseBody := strings.TrimSpace(response.String())

	var parsed sendResponse
	if responseBody != "" {
		_ = json.Unmarshal(response.Body(), &parsed)
	}

	if statusCode >= http.StatusOK && statusCode < http.StatusMultipleChoices {
		messageID := strings.TrimSpace(parsed.ID)
		if messageID == "" {
			messageID = headerMessageID(response)
		}
		if messageID == "" {
			// Callbacks then correlate through the client reference we sent.
			messageID = msg.ID
		}
		return &SendResult{
			StatusCode: statusCode,
			Body:       responseBody,
			MessageID:  messageID,
		}, nil
	}

	return nil, &ProviderError{
		StatusCode: statusCode,
		Code:       strings.TrimSpace(parsed.Code),
		Message:    providerErrorMessage(statusCode, parsed.Message),
		Transient:  isTransientHTTPStatus(statusCode),
	}
}

func isTransientHTTPStatus(statusCode int) bool {
	return statusCode == http.StatusTooManyRequests || (statusCode >= http.StatusInternalServerError && statusCode <= 599)
}

func providerErrorMessage(statusCode int, detail string) string {
	base := fmt.Sprintf("provider returned status %d", statusCode)
	if detail = strings.TrimSpace(detail); detail == "" {
		return base
	}
	return fmt.Sprintf("%s: %s", base, detail)
}

func headerMessageID(response *resty.Response) string {
	if response == nil {
		return ""
	}

	for _, key := range []string{"X-Message-ID", "X-Request-ID"} {
		if value := strings.TrimSpace(response.Header().Get(key)); value != "" {
			return value
		}
	}

	return ""
}
