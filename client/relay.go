package client

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"bloodlink-push/push"
)

// RelayConfig posts the Firebase config to the active service worker. It is
// best effort: without push support or an active worker it does nothing, and
// nothing orders it against push events the worker is already handling.
func RelayConfig(ctx context.Context, caps Capabilities, container ServiceWorkerContainer, cfg push.FirebaseConfig, logger *zap.SugaredLogger) error {
	if caps.Push() == Unsupported {
		return nil
	}

	reg, err := container.Ready(ctx)
	if err != nil {
		return fmt.Errorf("wait for service worker: %w", err)
	}

	worker := reg.Active()
	if worker == nil {
		logger.Debug("no active service worker, config not relayed")
		return nil
	}

	if err := worker.PostMessage(ctx, push.NewConfigMessage(cfg)); err != nil {
		return fmt.Errorf("post config message: %w", err)
	}
	return nil
}
