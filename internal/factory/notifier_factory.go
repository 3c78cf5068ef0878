package factory

import (
	"Go2NetIDS/internal/config"
	"Go2NetIDS/internal/model"
	"Go2NetIDS/internal/notification"
	"fmt"

	"go.uber.org/zap"
)

// CreateNotifiers builds the enabled alert sinks. When none is enabled the
// log notifier is used. The returned func releases notifier connections.
func CreateNotifiers(cfg config.NotifiersConfig, logger *zap.Logger) ([]model.Notifier, func(), error) {
	var (
		notifiers []model.Notifier
		closers   []func()
	)
	closeFn := func() {
		for _, c := range closers {
			c()
		}
	}

	if cfg.NATS.Enabled {
		n, err := notification.NewNATSNotifier(cfg.NATS, logger.Named("nats"))
		if err != nil {
			return nil, closeFn, fmt.Errorf("failed to create NATS notifier: %w", err)
		}
		notifiers = append(notifiers, n)
		closers = append(closers, n.Close)
	}
	if cfg.SMTP.Enabled {
		if cfg.SMTP.Host == "" || cfg.SMTP.To == "" {
			closeFn()
			return nil, func() {}, fmt.Errorf("smtp notifier requires host and to")
		}
		notifiers = append(notifiers, notification.NewEmailNotifier(cfg.SMTP))
	}
	if cfg.Webhook.Enabled {
		if cfg.Webhook.URL == "" {
			closeFn()
			return nil, func() {}, fmt.Errorf("webhook notifier requires url")
		}
		notifiers = append(notifiers, notification.NewWebhookNotifier(cfg.Webhook))
	}

	if len(notifiers) == 0 {
		logger.Info("No notifiers configured, alerts will only be logged.")
		notifiers = append(notifiers, notification.NewLogNotifier(logger.Named("alerts")))
	}
	return notifiers, closeFn, nil
}
