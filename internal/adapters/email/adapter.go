package email

import (
	"context"
	"errors"
	"net"
	"reflect"

	"github.com/rs/zerolog"

	"github.com/example/mail-courier/internal/adapters/common"
	"github.com/example/mail-courier/internal/mailer"
	"github.com/example/mail-courier/internal/models"
	"github.com/example/mail-courier/internal/smtp"
)

// Adapter implements worker.Adapter for the email channel: it converts
// validated requests into mailer messages, delegates delivery to the
// configured sender, and classifies failures into the transient/permanent
// taxonomy the worker engine retries on.
type Adapter struct {
	logger zerolog.Logger
	sender mailer.Sender
}

// NewAdapter constructs an email adapter over the supplied sender.
func NewAdapter(sender mailer.Sender, logger zerolog.Logger) (*Adapter, error) {
	if sender == nil {
		return nil, errors.New("email adapter: sender dependency is required")
	}
	if reflect.ValueOf(logger).IsZero() {
		logger = zerolog.Nop()
	}
	return &Adapter{logger: logger, sender: sender}, nil
}

// Send delivers the validated message and returns the normalized provider
// response. Errors are wrapped with sentinel markers so the worker can
// distinguish transient from permanent failures.
func (a *Adapter) Send(ctx context.Context, msg *common.ValidatedMessage) (*models.ProviderResponse, error) {
	if msg == nil || msg.Request == nil {
		return nil, common.WrapPermanent(errors.New("email adapter: message request is nil"))
	}
	req := msg.Request

	err := a.sender.Send(ctx, buildMessage(req))
	if err != nil {
		resp := errorResponse(err)
		a.logger.Info().
			Str("message_id", req.MessageID).
			Str("status", resp.Status).
			Err(err).
			Msg("email adapter send failed")
		return resp, classify(err)
	}

	a.logger.Debug().
		Str("message_id", req.MessageID).
		Msg("email adapter send succeeded")
	return &models.ProviderResponse{Status: "ok", Message: "sent"}, nil
}

func buildMessage(req *models.EmailRequest) *mailer.Message {
	headers := make(map[string]string, len(req.Headers)+2)
	for key, value := range req.Headers {
		headers[key] = value
	}
	if req.TraceID != "" {
		headers["X-Trace-ID"] = req.TraceID
	}
	if req.TenantID != "" {
		headers["X-Tenant-ID"] = req.TenantID
	}

	return &mailer.Message{
		ID:       req.MessageID,
		Sender:   req.Sender,
		From:     append([]string(nil), req.From...),
		To:       append([]string(nil), req.To...),
		Cc:       append([]string(nil), req.CC...),
		Bcc:      append([]string(nil), req.BCC...),
		Subject:  req.Subject,
		BodyType: req.Body.Type,
		Body:     req.Body.Content,
		Headers:  headers,
	}
}

// classify maps protocol errors onto the worker taxonomy: 5xx server replies
// and unsendable messages are permanent, everything else (4xx, connection
// trouble, timeouts) is worth retrying.
func classify(err error) error {
	var reply *smtp.ReplyError
	if errors.As(err, &reply) {
		if reply.Permanent() {
			return common.WrapPermanent(err)
		}
		return common.WrapTransient(err)
	}

	if errors.Is(err, mailer.ErrNoSender) || errors.Is(err, mailer.ErrNoRecipients) {
		return common.WrapPermanent(err)
	}

	return common.WrapTransient(err)
}

func errorResponse(err error) *models.ProviderResponse {
	resp := &models.ProviderResponse{
		Status:  "error",
		Message: err.Error(),
	}

	var reply *smtp.ReplyError
	switch {
	case errors.As(err, &reply):
		code := reply.Code
		resp.Code = &code
		if reply.Permanent() {
			resp.Status = "rejected"
		} else {
			resp.Status = "deferred"
		}
	case isTimeout(err):
		resp.Status = "timeout"
	}

	return resp
}

func isTimeout(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
