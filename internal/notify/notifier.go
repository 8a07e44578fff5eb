package notify

import (
	"context"
	"errors"

	"rockinit/internal/config"
)

// Notifier defines the interface for sending notifications.
type Notifier interface {
	Send(ctx context.Context, title, body string) error
}

// MultiNotifier fans a notification out to several notifiers.
type MultiNotifier struct {
	notifiers []Notifier
}

func NewMultiNotifier(notifiers ...Notifier) *MultiNotifier {
	return &MultiNotifier{notifiers: notifiers}
}

// Send delivers to every notifier, even after one fails, and joins the errors.
func (m *MultiNotifier) Send(ctx context.Context, title, body string) error {
	var errs []error
	for _, n := range m.notifiers {
		if err := n.Send(ctx, title, body); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// NoOpNotifier does nothing.
type NoOpNotifier struct{}

func (n *NoOpNotifier) Send(ctx context.Context, title, body string) error {
	return nil
}

// FromConfig builds the notifier the configuration enables. It returns a no-op
// notifier when nothing is enabled.
func FromConfig(cfg config.NotificationConfig) (Notifier, error) {
	var notifiers []Notifier
	if cfg.Bark.Enabled {
		bark, err := NewBarkNotifier(cfg.Bark.URL)
		if err != nil {
			return nil, err
		}
		notifiers = append(notifiers, bark)
	}
	switch len(notifiers) {
	case 0:
		return &NoOpNotifier{}, nil
	case 1:
		return notifiers[0], nil
	default:
		return NewMultiNotifier(notifiers...), nil
	}
}
