package perforce

import (
	"context"

	"github.com/sirupsen/logrus"

	"depotci/internal/errs"
	"depotci/internal/metrics"
)

// State is the lifecycle position of a Connection.
type State int

const (
	Disconnected State = iota
	Connecting
	Authenticated
)

func (s State) String() string {
	switch s {
	case Connecting:
		return "connecting"
	case Authenticated:
		return "authenticated"
	default:
		return "disconnected"
	}
}

// Connection owns one authenticated session. It is never shared between
// handlers.
type Connection struct {
	depot   Depot
	trust   bool
	state   State
	opened  bool
	log     *logrus.Entry
	metrics *metrics.Recorder
}

// NewConnection wraps depot. When trust is set the server fingerprint is
// reset and accepted before every login.
func NewConnection(depot Depot, trust bool, log *logrus.Entry, m *metrics.Recorder) *Connection {
	return &Connection{depot: depot, trust: trust, log: log, metrics: m}
}

// State reports the current lifecycle state.
func (c *Connection) State() State {
	return c.state
}

// Connect opens and authenticates the session. It is a no-op when already
// authenticated. Trust and login failures are not retried.
func (c *Connection) Connect(ctx context.Context) error {
	if c.state == Authenticated {
		return nil
	}
	c.state = Connecting

	if err := c.depot.Connect(ctx); err != nil {
		c.state = Disconnected
		c.metrics.DepotOperation("connect", "error")
		return errs.Wrap(errs.CodeAuthentication, err, "connect to depot")
	}
	c.opened = true

	if c.trust {
		if err := c.depot.TrustReset(ctx); err != nil {
			c.metrics.DepotOperation("trust", "error")
			return errs.Wrap(errs.CodeAuthentication, err, "reset server trust")
		}
		if err := c.depot.TrustAccept(ctx); err != nil {
			c.metrics.DepotOperation("trust", "error")
			return errs.Wrap(errs.CodeAuthentication, err, "accept server trust")
		}
	}

	if err := c.depot.Login(ctx); err != nil {
		c.metrics.DepotOperation("login", "error")
		return errs.Wrap(errs.CodeAuthentication, err, "login")
	}
	c.metrics.DepotOperation("login", "ok")

	c.state = Authenticated
	c.log.Debug("Depot session authenticated")
	return nil
}

// Disconnect logs out and closes the session. Failures are logged and
// swallowed so they never replace an error already on its way out.
func (c *Connection) Disconnect(ctx context.Context) {
	if !c.opened {
		c.state = Disconnected
		return
	}

	if err := c.depot.Logout(ctx); err != nil {
		c.log.WithError(err).Warn("Depot logout failed")
	}
	if err := c.depot.Disconnect(ctx); err != nil {
		c.log.WithError(err).Warn("Depot disconnect failed")
	}
	c.opened = false
	c.state = Disconnected
}
