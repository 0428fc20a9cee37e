// ABOUTME: Credential variants for agents: a static bot token or a phone-bound user session
// ABOUTME: Each variant opens and reconnects its transport and decides which capabilities it exposes

package agent

import (
	"context"
	"errors"
	"fmt"

	"github.com/Secret297-CODER-SOURCE/openclaw/internal/store"
	"github.com/Secret297-CODER-SOURCE/openclaw/internal/transport"
)

// Dialer builds transports for each credential variant.
type Dialer struct {
	Token   func(token string) (transport.Transport, error)
	Session func(phone, session string) (transport.SessionTransport, error)
}

// credential is the per-variant capability set, chosen once from the credential tag.
type credential interface {
	kind() store.CredentialKind

	// open returns a connected, authorized transport.
	open(ctx context.Context, a *Agent) (transport.Transport, error)

	// reconnect replaces old with a fresh connection for a hot-swap.
	reconnect(ctx context.Context, a *Agent, old transport.Transport) (transport.Transport, error)

	// session exposes the session-only capabilities of conn, or ErrUnsupported.
	session(conn transport.Transport) (transport.SessionTransport, error)

	startAuth(ctx context.Context, a *Agent) error
	submitAuth(ctx context.Context, a *Agent, code, password string) error

	// close releases anything the credential holds outside a running connection.
	close(ctx context.Context)
}

func newCredential(kind store.CredentialKind) (credential, error) {
	switch kind {
	case store.CredentialToken:
		return &tokenCredential{}, nil
	case store.CredentialSession:
		return &sessionCredential{}, nil
	}
	return nil, fmt.Errorf("%w: unknown credential type %q", ErrInvalidCredentials, kind)
}

// tokenCredential is the stateless bot-token variant.
type tokenCredential struct{}

func (tokenCredential) kind() store.CredentialKind { return store.CredentialToken }

func (tokenCredential) open(ctx context.Context, a *Agent) (transport.Transport, error) {
	if a.deps.dialer.Token == nil {
		return nil, fmt.Errorf("%w: no bot transport configured", ErrConfiguration)
	}
	creds := a.credentials()
	conn, err := a.deps.dialer.Token(creds.Token)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConfiguration, err)
	}
	if err := conn.Connect(ctx); err != nil {
		return nil, transportErr("connect", err)
	}

	ok, err := conn.IsAuthorized(ctx)
	if err == nil && !ok {
		err = errors.New("bot token was rejected")
	}
	if err != nil {
		a.disconnect(ctx, conn)
		return nil, transportErr("authorize", err)
	}
	return conn, nil
}

// reconnect always builds a brand-new client so no handler from the old one survives.
func (c tokenCredential) reconnect(ctx context.Context, a *Agent, old transport.Transport) (transport.Transport, error) {
	a.disconnect(ctx, old)
	return c.open(ctx, a)
}

func (tokenCredential) session(transport.Transport) (transport.SessionTransport, error) {
	return nil, ErrUnsupported
}

func (tokenCredential) startAuth(context.Context, *Agent) error { return ErrUnsupported }

func (tokenCredential) submitAuth(context.Context, *Agent, string, string) error {
	return ErrUnsupported
}

func (tokenCredential) close(context.Context) {}

// sessionCredential is the phone-bound variant with interactive login.
type sessionCredential struct {
	// pending is the unauthenticated client between AuthStart and AuthSubmit.
	// Guarded by the agent lifecycle lock.
	pending transport.SessionTransport
}

func (*sessionCredential) kind() store.CredentialKind { return store.CredentialSession }

func (c *sessionCredential) dial(a *Agent, session string) (transport.SessionTransport, error) {
	if a.deps.dialer.Session == nil {
		return nil, fmt.Errorf("%w: no session transport configured", ErrConfiguration)
	}
	conn, err := a.deps.dialer.Session(a.credentials().Phone, session)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConfiguration, err)
	}
	return conn, nil
}

func (c *sessionCredential) open(ctx context.Context, a *Agent) (transport.Transport, error) {
	conn, err := c.dial(a, a.credentials().Session)
	if err != nil {
		return nil, err
	}
	if err := conn.Connect(ctx); err != nil {
		return nil, transportErr("connect", err)
	}
	if err := c.confirm(ctx, a, conn); err != nil {
		a.disconnect(ctx, conn)
		return nil, err
	}
	return conn, nil
}

// reconnect cycles the same session client so the stored session carries over.
func (c *sessionCredential) reconnect(ctx context.Context, a *Agent, old transport.Transport) (transport.Transport, error) {
	st, err := c.session(old)
	if old == nil || err != nil {
		a.disconnect(ctx, old)
		return c.open(ctx, a)
	}
	a.disconnect(ctx, old)
	if err := old.Connect(ctx); err != nil {
		return nil, transportErr("reconnect", err)
	}
	if err := c.confirm(ctx, a, st); err != nil {
		a.disconnect(ctx, old)
		return nil, err
	}
	return old, nil
}

// confirm checks prior authorization and persists a rotated session export.
func (c *sessionCredential) confirm(ctx context.Context, a *Agent, conn transport.SessionTransport) error {
	ok, err := conn.IsAuthorized(ctx)
	if err != nil {
		return transportErr("authorize", err)
	}
	if !ok {
		return errNeedsAuth
	}
	a.refreshSession(ctx, conn)
	return nil
}

func (*sessionCredential) session(conn transport.Transport) (transport.SessionTransport, error) {
	st, ok := conn.(transport.SessionTransport)
	if !ok {
		return nil, ErrUnsupported
	}
	return st, nil
}

// startAuth opens an unauthenticated client and requests a login code.
func (c *sessionCredential) startAuth(ctx context.Context, a *Agent) error {
	c.close(ctx)

	conn, err := c.dial(a, "")
	if err != nil {
		return err
	}
	if err := conn.Connect(ctx); err != nil {
		return transportErr("connect", err)
	}
	if err := conn.SendCode(ctx, a.credentials().Phone); err != nil {
		a.disconnect(ctx, conn)
		return transportErr("send code", err)
	}
	c.pending = conn
	return nil
}

// submitAuth signs in with the code and persists the resulting session.
// A missing 2FA password or a bad code keeps the pending login so the caller can retry.
func (c *sessionCredential) submitAuth(ctx context.Context, a *Agent, code, password string) error {
	if c.pending == nil {
		return ErrAuthNotStarted
	}
	if err := c.pending.SignIn(ctx, code, password); err != nil {
		if errors.Is(err, transport.ErrPasswordRequired) {
			return ErrPasswordRequired
		}
		return transportErr("sign in", err)
	}

	session, err := c.pending.ExportSession()
	if err != nil {
		return transportErr("export session", err)
	}
	if err := a.saveSession(ctx, session); err != nil {
		return err
	}
	c.close(ctx)
	return nil
}

func (c *sessionCredential) close(ctx context.Context) {
	if c.pending == nil {
		return
	}
	_ = c.pending.Disconnect(ctx)
	c.pending = nil
}
