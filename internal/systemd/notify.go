package systemd

import (
	"github.com/coreos/go-systemd/v22/daemon"
	"github.com/rs/zerolog"
)

// NotifyReady tells systemd the daemon finished startup. Outside systemd
// (no NOTIFY_SOCKET) this is a no-op.
func NotifyReady(logger zerolog.Logger) {
	sent, err := daemon.SdNotify(false, daemon.SdNotifyReady)
	if err != nil {
		logger.Warn().Err(err).Msg("Failed to notify systemd readiness")
		return
	}
	if sent {
		logger.Debug().Msg("Notified systemd: ready")
	}
}

// NotifyStopping tells systemd the daemon began shutting down.
func NotifyStopping(logger zerolog.Logger) {
	if _, err := daemon.SdNotify(false, daemon.SdNotifyStopping); err != nil {
		logger.Warn().Err(err).Msg("Failed to notify systemd stopping")
	}
}
