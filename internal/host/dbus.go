package host

import (
	"context"
	"fmt"

	"github.com/godbus/dbus/v5"
	"github.com/goodtune/intentgate/internal/metrics"
	"github.com/goodtune/intentgate/internal/scheduler"
	"github.com/rs/zerolog"
)

// DBusNotifier surfaces launch requests as desktop notifications over
// org.freedesktop.Notifications. Fallback for hosts without a webhook
// endpoint; the notification body names the app and the reason so the user
// can open the surface manually.
type DBusNotifier struct {
	conn   *dbus.Conn
	logger zerolog.Logger
}

// NewDBusNotifier connects to the user session bus.
func NewDBusNotifier(logger zerolog.Logger) (*DBusNotifier, error) {
	conn, err := dbus.ConnectSessionBus()
	if err != nil {
		return nil, fmt.Errorf("failed to connect to session bus: %w", err)
	}
	return &DBusNotifier{
		conn:   conn,
		logger: logger.With().Str("component", "host-dbus").Logger(),
	}, nil
}

// Close releases the bus connection.
func (n *DBusNotifier) Close() error {
	return n.conn.Close()
}

// NotifyLaunch implements Notifier.
func (n *DBusNotifier) NotifyLaunch(_ context.Context, app string, reason scheduler.Reason) error {
	summary, body := notificationText(app, reason)

	obj := n.conn.Object("org.freedesktop.Notifications", "/org/freedesktop/Notifications")
	call := obj.Call("org.freedesktop.Notifications.Notify", 0,
		"intentgate",     // app_name
		uint32(0),        // replaces_id
		"dialog-warning", // app_icon
		summary,
		body,
		[]string{}, // actions
		map[string]dbus.Variant{ // hints
			"urgency": dbus.MakeVariant(byte(2)), // critical urgency
		},
		int32(10000), // expire_timeout (10 seconds)
	)
	if call.Err != nil {
		metrics.HostNotifyFailuresTotal.WithLabelValues("dbus").Inc()
		return fmt.Errorf("failed to send notification: %w", call.Err)
	}

	n.logger.Debug().
		Str("app", app).
		Str("reason", string(reason)).
		Msg("Launch notification sent over D-Bus")
	return nil
}

func notificationText(app string, reason scheduler.Reason) (summary, body string) {
	switch reason {
	case scheduler.ReasonPostExpiryChoice:
		return "Bypass expired", fmt.Sprintf("Your exception for %s ended. Choose how to continue.", app)
	case scheduler.ReasonOfferBypass:
		return "Quick exception available", fmt.Sprintf("You can take a short bypass for %s.", app)
	case scheduler.ReasonStartIntervention:
		return "Time for a pause", fmt.Sprintf("An intervention is starting for %s.", app)
	default:
		return "intentgate", app
	}
}
