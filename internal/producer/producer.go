// Package producer writes rows the way a backend job or another client
// would. It backs the development commands of inboxctl.
package producer

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/moely/inbox/internal/gateway"
	"go.uber.org/zap"
)

var ErrNoProfile = errors.New("producer: no profile with that email")

type Producer struct {
	gw     gateway.Gateway
	logger *zap.Logger
}

func New(gw gateway.Gateway, logger *zap.Logger) *Producer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Producer{gw: gw, logger: logger.Named("producer")}
}

// Notify inserts a system notification for the user owning toEmail.
func (p *Producer) Notify(ctx context.Context, toEmail, title, content string) (string, error) {
	if strings.TrimSpace(title) == "" && strings.TrimSpace(content) == "" {
		return "", errors.New("producer: notification needs a title or content")
	}
	userID, err := p.profile(ctx, toEmail)
	if err != nil {
		return "", err
	}
	id := uuid.NewString()
	if err := p.gw.Insert(ctx, gateway.Notifications, gateway.Row{
		"id": id, "user_id": userID, "title": title, "content": content,
	}); err != nil {
		return "", err
	}
	p.logger.Info("notification written", zap.String("id", id), zap.String("user_id", userID))
	return id, nil
}

// Message inserts a private message between two existing profiles.
func (p *Producer) Message(ctx context.Context, fromEmail, toEmail, content string) (string, error) {
	if strings.TrimSpace(content) == "" {
		return "", errors.New("producer: message is empty")
	}
	from, err := p.profile(ctx, fromEmail)
	if err != nil {
		return "", err
	}
	to, err := p.profile(ctx, toEmail)
	if err != nil {
		return "", err
	}
	id := uuid.NewString()
	if err := p.gw.Insert(ctx, gateway.PrivateMessages, gateway.Row{
		"id": id, "sender_id": from, "receiver_id": to, "content": content,
	}); err != nil {
		return "", err
	}
	p.logger.Info("message written", zap.String("id", id), zap.String("sender_id", from), zap.String("receiver_id", to))
	return id, nil
}

func (p *Producer) profile(ctx context.Context, email string) (string, error) {
	email = strings.TrimSpace(email)
	rows, err := p.gw.Query(ctx, gateway.Profiles, gateway.Query{
		Filter: gateway.Where(gateway.Eq("email", email)),
		Limit:  1,
	})
	if err != nil {
		return "", err
	}
	if len(rows) == 0 {
		return "", fmt.Errorf("%w: %q", ErrNoProfile, email)
	}
	return rows[0].String("id"), nil
}
