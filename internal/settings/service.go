// Package settings manages the collaborator records the bootstrap reads besides task
// definitions: the mail-sender identity used for MAILFROM and the listener of the
// web service used by the proxy and banner steps.
package settings

import (
	"context"
	"log/slog"
	"net/mail"
	"strings"

	"rockinit/internal/core"
)

// DefaultSMTPPort is used when a mail sender is saved without a port.
const DefaultSMTPPort = 587

// Store persists mail senders and service listeners.
type Store interface {
	InsertEmailClient(ctx context.Context, c *core.EmailClient) error
	LatestEmailClient(ctx context.Context) (*core.EmailClient, error)
	ServiceListener(ctx context.Context, name string) (*core.ServiceListener, error)
	SaveServiceListener(ctx context.Context, name string, l *core.ServiceListener) error
}

// Refresher regenerates the derived crontab.
type Refresher interface {
	Refresh(ctx context.Context) (bool, error)
}

// MailSenderInput is the body of a mail sender update.
type MailSenderInput struct {
	SMTPServer string `json:"smtp_server"`
	Port       *int   `json:"port"`
	Sender     string `json:"sender"`
	Receiver   string `json:"receiver"`
	Username   string `json:"username"`
}

// ListenerInput is the body of a service listener update.
type ListenerInput struct {
	NetworkInterface string `json:"network_interface"`
	ListenerPort     int    `json:"listener_port"`
}

// Service validates and stores settings records.
type Service struct {
	store   Store
	crontab Refresher
	logger  *slog.Logger
}

// New creates a Service. crontab is refreshed after every mail sender change.
func New(store Store, crontab Refresher, logger *slog.Logger) *Service {
	return &Service{store: store, crontab: crontab, logger: logger}
}

// MailSender returns the active mail sender, or nil when none is configured.
func (s *Service) MailSender(ctx context.Context) (*core.EmailClient, error) {
	return s.store.LatestEmailClient(ctx)
}

// SetMailSender records a new mail sender identity. The newest record wins, so the
// crontab picks up its sender on the refresh that follows.
func (s *Service) SetMailSender(ctx context.Context, in MailSenderInput) (*core.EmailClient, error) {
	c := &core.EmailClient{
		SMTPServer: strings.TrimSpace(in.SMTPServer),
		Port:       DefaultSMTPPort,
		Username:   strings.TrimSpace(in.Username),
	}
	if c.SMTPServer == "" || strings.ContainsAny(c.SMTPServer, " \t\r\n") {
		return nil, &core.ValidationError{Field: "smtp_server", Message: "must be a host name"}
	}
	if in.Port != nil {
		if !core.ValidPort(*in.Port) {
			return nil, &core.ValidationError{Field: "port", Message: "must be between 1 and 65535"}
		}
		c.Port = *in.Port
	}
	var err error
	if c.Sender, err = bareAddress("sender", in.Sender); err != nil {
		return nil, err
	}
	if c.Receiver, err = bareAddress("receiver", in.Receiver); err != nil {
		return nil, err
	}

	if err := s.store.InsertEmailClient(ctx, c); err != nil {
		return nil, err
	}
	s.logger.Info("mail sender saved", "id", c.ID, "sender", c.Sender, "smtp_server", c.SMTPServer)

	if changed, err := s.crontab.Refresh(ctx); err != nil {
		s.logger.Error("refresh crontab", "err", err)
	} else if changed {
		s.logger.Info("crontab regenerated")
	}
	return c, nil
}

// Listener returns the listener of the named service. store.ErrServiceNotFound is
// returned for an unknown service and (nil, nil) when no listener is set.
func (s *Service) Listener(ctx context.Context, name string) (*core.ServiceListener, error) {
	if err := serviceName(name); err != nil {
		return nil, err
	}
	return s.store.ServiceListener(ctx, name)
}

// SetListener stores the listener of the named service, creating the service record
// when needed. It takes effect on the next bootstrap run.
func (s *Service) SetListener(ctx context.Context, name string, in ListenerInput) (*core.ServiceListener, error) {
	if err := serviceName(name); err != nil {
		return nil, err
	}
	l := &core.ServiceListener{
		NetworkInterface: strings.TrimSpace(in.NetworkInterface),
		ListenerPort:     in.ListenerPort,
	}
	if l.NetworkInterface == "" || strings.ContainsAny(l.NetworkInterface, " \t\r\n/") {
		return nil, &core.ValidationError{Field: "network_interface", Message: "must be an interface name"}
	}
	if !core.ValidPort(l.ListenerPort) {
		return nil, &core.ValidationError{Field: "listener_port", Message: "must be between 1 and 65535"}
	}
	if err := s.store.SaveServiceListener(ctx, name, l); err != nil {
		return nil, err
	}
	s.logger.Info("service listener saved", "service", name, "iface", l.NetworkInterface, "port", l.ListenerPort)
	return l, nil
}

// ClearListener removes the explicit listener so the defaults apply again.
func (s *Service) ClearListener(ctx context.Context, name string) error {
	if err := serviceName(name); err != nil {
		return err
	}
	if err := s.store.SaveServiceListener(ctx, name, nil); err != nil {
		return err
	}
	s.logger.Info("service listener cleared", "service", name)
	return nil
}

func serviceName(name string) error {
	if strings.TrimSpace(name) == "" || strings.ContainsAny(name, " \t\r\n/") {
		return &core.ValidationError{Field: "service", Message: "must be a service name"}
	}
	return nil
}

// bareAddress accepts a plain address only. Display names would end up inside the
// MAILFROM line of the crontab.
func bareAddress(field, value string) (string, error) {
	value = strings.TrimSpace(value)
	addr, err := mail.ParseAddress(value)
	if err != nil || addr.Address != value {
		return "", &core.ValidationError{Field: field, Message: "must be an email address"}
	}
	return value, nil
}
