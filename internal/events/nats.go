package events

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/modelgen/internal/model"
)

// NATSConfig holds connection settings for the NATS sink.
type NATSConfig struct {
	URL     string `mapstructure:"url" yaml:"url"`
	Subject string `mapstructure:"subject" yaml:"subject"`

	ConnectTimeout time.Duration `mapstructure:"connect_timeout" yaml:"connect_timeout"`
	ReconnectWait  time.Duration `mapstructure:"reconnect_wait" yaml:"reconnect_wait"`
	MaxReconnects  int           `mapstructure:"max_reconnects" yaml:"max_reconnects"`
}

// NATSNotifier publishes events to a NATS subject tree. Publishing writes
// to the connection's outbound buffer, so it does not wait on the broker.
type NATSNotifier struct {
	conn    *nats.Conn
	subject string
}

// NewNATS connects to the broker and returns a notifier publishing under
// cfg.Subject (default "modelgen.jobs").
func NewNATS(cfg NATSConfig) (*NATSNotifier, error) {
	if cfg.Subject == "" {
		cfg.Subject = "modelgen.jobs"
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = 2 * time.Second
	}
	if cfg.ReconnectWait <= 0 {
		cfg.ReconnectWait = 2 * time.Second
	}
	if cfg.MaxReconnects <= 0 {
		cfg.MaxReconnects = 60
	}

	conn, err := nats.Connect(
		cfg.URL,
		nats.Name("modelgen"),
		nats.Timeout(cfg.ConnectTimeout),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.RetryOnFailedConnect(true),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			zap.L().Warn("events: nats disconnected", zap.Error(err))
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			zap.L().Info("events: nats reconnected", zap.String("url", nc.ConnectedUrl()))
		}),
	)
	if err != nil {
		return nil, eris.Wrapf(err, "events: connect nats %s", cfg.URL)
	}

	return &NATSNotifier{conn: conn, subject: cfg.Subject}, nil
}

// Publish implements Notifier. Failures are logged, never surfaced to the
// job that emitted the event.
func (n *NATSNotifier) Publish(ev model.Event) {
	data, err := json.Marshal(ev)
	if err != nil {
		zap.L().Error("events: marshal event", zap.Error(err))
		return
	}
	if err := n.conn.Publish(subjectFor(n.subject, ev.Type), data); err != nil {
		zap.L().Warn("events: nats publish failed",
			zap.String("event", string(ev.Type)),
			zap.String("job_id", ev.JobID),
			zap.Error(err),
		)
	}
}

// Close drains buffered messages and closes the connection.
func (n *NATSNotifier) Close() {
	if n.conn == nil {
		return
	}
	if err := n.conn.Drain(); err != nil {
		zap.L().Warn("events: nats drain", zap.Error(err))
	}
}

// subjectFor maps an event type onto the subject tree: "job:completed"
// under base "modelgen.jobs" becomes "modelgen.jobs.completed".
func subjectFor(base string, t model.EventType) string {
	leaf := strings.TrimPrefix(string(t), "job:")
	leaf = strings.ReplaceAll(leaf, ":", ".")
	return base + "." + leaf
}
