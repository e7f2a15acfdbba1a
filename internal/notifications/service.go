package notifications

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/sendgrid/sendgrid-go"
	"github.com/sendgrid/sendgrid-go/helpers/mail"

	"github.com/IuriGuerreiro/Designia-backend-sub000/pkg/config"
	"github.com/IuriGuerreiro/Designia-backend-sub000/pkg/db/models"
	"github.com/IuriGuerreiro/Designia-backend-sub000/pkg/logger"
)

// UserDirectory resolves recipient addresses for order-level emails.
type UserDirectory interface {
	FindUserByID(ctx context.Context, id uuid.UUID) (*models.User, error)
}

// Service sends transactional emails around terminal payment states. Every
// send is best effort: failures are logged and never propagated, so a mail
// outage cannot abort a settlement transaction.
type Service struct {
	client *sendgrid.Client
	from   string
	users  UserDirectory
	logg   *logger.Logger
}

// NewService builds the email notifier. Without an API key the service
// degrades to log-only mode, which is also what tests run against.
func NewService(cfg config.SendgridConfig, users UserDirectory, logg *logger.Logger) (*Service, error) {
	if users == nil {
		return nil, fmt.Errorf("user directory required")
	}
	svc := &Service{
		from:  cfg.DefaultFrom,
		users: users,
		logg:  logg,
	}
	if cfg.APIKey != "" {
		svc.client = sendgrid.NewSendClient(cfg.APIKey)
	}
	return svc, nil
}

// SendOrderCancellationReceipt tells the buyer their refund settled.
func (s *Service) SendOrderCancellationReceipt(ctx context.Context, order *models.Order) {
	subject := "Your order was refunded"
	body := fmt.Sprintf(
		"Your order %s has been cancelled and %s %s has been refunded to your original payment method.",
		order.ID, order.TotalAmount.StringFixed(2), order.Currency,
	)
	s.sendToBuyer(ctx, order, subject, body)
}

// SendFailedRefundNotification tells the buyer a refund needs attention.
func (s *Service) SendFailedRefundNotification(ctx context.Context, order *models.Order) {
	subject := "Problem refunding your order"
	body := fmt.Sprintf(
		"The refund for order %s could not be completed automatically. Our support team has been notified and will follow up.",
		order.ID,
	)
	s.sendToBuyer(ctx, order, subject, body)
}

func (s *Service) sendToBuyer(ctx context.Context, order *models.Order, subject, body string) {
	if order == nil {
		return
	}
	buyer, err := s.users.FindUserByID(ctx, order.BuyerID)
	if err != nil {
		s.logError(ctx, order, "resolve buyer email", err)
		return
	}

	if s.client == nil {
		if s.logg != nil {
			logCtx := s.logg.WithFields(ctx, map[string]any{
				"order_id": order.ID,
				"to":       buyer.Email,
				"subject":  subject,
			})
			s.logg.Info(logCtx, "email suppressed, sendgrid not configured")
		}
		return
	}

	message := mail.NewSingleEmail(
		mail.NewEmail("", s.from),
		subject,
		mail.NewEmail("", buyer.Email),
		body,
		"",
	)
	resp, err := s.client.SendWithContext(ctx, message)
	if err != nil {
		s.logError(ctx, order, "send email", err)
		return
	}
	if resp.StatusCode >= 400 {
		s.logError(ctx, order, "send email", fmt.Errorf("sendgrid status %d", resp.StatusCode))
	}
}

func (s *Service) logError(ctx context.Context, order *models.Order, action string, err error) {
	if s.logg == nil {
		return
	}
	logCtx := s.logg.WithField(ctx, "order_id", order.ID)
	s.logg.Error(logCtx, action+" failed", err)
}
