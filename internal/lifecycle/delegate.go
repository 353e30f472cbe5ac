package lifecycle

import (
	"context"
	"io"
	"strings"
)

// Target is the agent being brought up or torn down.
type Target interface {
	// Name is the agent name; it keys the cloud's online reservation.
	Name() string
	// Connected reports whether the remote agent channel is established.
	Connected() bool
	// SetChannel attaches the agent channel established by a launcher. Nil detaches it.
	SetChannel(ch io.Closer)
}

// Launcher bootstraps and stops the remote agent once the machine is running.
type Launcher interface {
	Launch(ctx context.Context, target Target, out io.Writer) error
	BeforeDisconnect(ctx context.Context, target Target, out io.Writer) error
	Disconnect(ctx context.Context, target Target, out io.Writer) error
	LaunchSupported() bool
}

// AddressAwareLauncher is a Launcher that connects to the machine's network address.
type AddressAwareLauncher interface {
	Launcher
	// Address is the configured host address.
	Address() string
	// WithAddress returns a copy bound to addr. The receiver is left unchanged.
	WithAddress(addr string) Launcher
}

// Delegate wraps the launch collaborator with its address capability,
// chosen once at construction.
type Delegate struct {
	launcher Launcher
	aware    AddressAwareLauncher
}

// AddressAgnostic wraps a launcher that does not track machine addresses.
func AddressAgnostic(l Launcher) Delegate {
	return Delegate{launcher: l}
}

// AddressAware wraps a launcher whose address follows the machine's external IP.
func AddressAware(l AddressAwareLauncher) Delegate {
	return Delegate{launcher: l, aware: l}
}

// Launcher returns the configured launcher.
func (d Delegate) Launcher() Launcher {
	return d.launcher
}

// TracksAddress reports whether the delegate is address-aware.
func (d Delegate) TracksAddress() bool {
	return d.aware != nil
}

// ForAddress returns the launcher to use for a machine reporting addr.
// A new launcher is built only for address-aware delegates whose configured
// address differs from a non-empty addr; otherwise the configured launcher is returned.
func (d Delegate) ForAddress(addr string) (Launcher, bool) {
	addr = strings.TrimSpace(addr)
	if d.aware == nil || addr == "" || d.aware.Address() == addr {
		return d.launcher, false
	}
	return d.aware.WithAddress(addr), true
}
