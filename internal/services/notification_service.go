package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/clubtokens/console-backend/internal/models"
	"github.com/sirupsen/logrus"
)

// NotificationRequest is a push notification addressed to member accounts.
type NotificationRequest struct {
	Title      string   `json:"title" validate:"required,max=100"`
	Body       string   `json:"body" validate:"required,max=1000"`
	AccountIDs []string `json:"accountIds" validate:"required,min=1,max=500,dive,required,max=32"`
}

// NotificationResult is what the provider accepted.
type NotificationResult struct {
	ProviderMessageID string `json:"providerMessageId"`
	Accepted          int    `json:"accepted"`
}

type PushMessage struct {
	Title      string   `json:"title"`
	Body       string   `json:"body"`
	Recipients []string `json:"recipients"`
}

type PushReceipt struct {
	ID       string `json:"id"`
	Accepted int    `json:"accepted"`
}

// PushProvider delivers notifications. Delivery itself is the provider's concern.
type PushProvider interface {
	Send(ctx context.Context, req PushMessage) (*PushReceipt, error)
}

// HTTPPushProvider posts to the provider's send endpoint.
type HTTPPushProvider struct {
	url    string
	apiKey string
	client *http.Client
}

func NewHTTPPushProvider(url, apiKey string, timeout time.Duration) *HTTPPushProvider {
	return &HTTPPushProvider{
		url:    url,
		apiKey: apiKey,
		client: &http.Client{Timeout: timeout},
	}
}

func (p *HTTPPushProvider) Send(ctx context.Context, body PushMessage) (*PushReceipt, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.url, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("build provider request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if p.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+p.apiKey)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrProviderUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("%w: provider returned %s", ErrProviderUnavailable, resp.Status)
	}

	var result PushReceipt
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("decode provider response: %w", err)
	}
	return &result, nil
}

type NotificationService struct {
	provider  PushProvider
	audit     *AuditTrailService
	gate      *AuthorizationGate
	validator *ValidationHelper
	logger    logrus.FieldLogger
}

func NewNotificationService(provider PushProvider, audit *AuditTrailService, gate *AuthorizationGate, logger logrus.FieldLogger) *NotificationService {
	return &NotificationService{
		provider:  provider,
		audit:     audit,
		gate:      gate,
		validator: NewValidationHelper(),
		logger:    logger.WithField("component", "notifications"),
	}
}

// Send authorizes every recipient, hands the message to the provider and then
// audits it. The provider call cannot be rolled back, so an audit failure
// after a successful send is returned as a *PartialFailureError together with
// the result.
func (s *NotificationService) Send(ctx context.Context, actor *models.Administrator, req NotificationRequest) (*NotificationResult, error) {
	if err := s.gate.Check(actor, OpSendNotification, OperationContext{}); err != nil {
		return nil, err
	}
	if err := s.validator.ValidateStruct(req); err != nil {
		return nil, newValidationError(err)
	}
	for _, accountID := range req.AccountIDs {
		if err := s.gate.Check(actor, OpSendNotification, OperationContext{AccountID: accountID}); err != nil {
			return nil, err
		}
	}

	resp, err := s.provider.Send(ctx, PushMessage{
		Title:      req.Title,
		Body:       req.Body,
		Recipients: req.AccountIDs,
	})
	if err != nil {
		s.logger.WithError(err).WithField("actor", actor.Email).Warn("notification provider call failed")
		return nil, err
	}

	result := &NotificationResult{ProviderMessageID: resp.ID, Accepted: resp.Accepted}

	_, err = s.audit.Record(ctx, RecordInput{
		Action: models.AuditNotificationSent,
		Actor:  actor.AsActor(),
		Details: models.Metadata{
			"title":             req.Title,
			"recipientCount":    len(req.AccountIDs),
			"accepted":          resp.Accepted,
			"providerMessageId": resp.ID,
		},
		CorrelationID: &resp.ID,
	})
	if err != nil {
		s.logger.WithError(err).WithFields(logrus.Fields{
			"actor":               actor.Email,
			"provider_message_id": resp.ID,
		}).Error("notification sent without audit record")
		return result, &PartialFailureError{Action: string(models.AuditNotificationSent), Err: err}
	}

	return result, nil
}
