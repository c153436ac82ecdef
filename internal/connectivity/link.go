package connectivity

import (
	"context"
	"log"
	"net"
	"os/exec"
	"strings"

	"github.com/google/shlex"
	"github.com/pkg/errors"
)

// A Prober reports whether a network interface is usable.
type Prober interface {
	LinkUp(iface string) (bool, error)
}

// A Runner executes the association command.
type Runner interface {
	Run(ctx context.Context, argv []string) error
}

// InterfaceProber checks the interface flags and addresses of the host.
type InterfaceProber struct{}

// LinkUp is true when the interface is up and has a routable unicast address.
func (InterfaceProber) LinkUp(name string) (bool, error) {
	iface, err := net.InterfaceByName(name)
	if err != nil {
		return false, err
	}
	if iface.Flags&net.FlagUp == 0 {
		return false, nil
	}
	addrs, err := iface.Addrs()
	if err != nil {
		return false, err
	}
	for _, a := range addrs {
		ipnet, ok := a.(*net.IPNet)
		if !ok {
			continue
		}
		ip := ipnet.IP
		if ip.IsGlobalUnicast() && !ip.IsLinkLocalUnicast() {
			return true, nil
		}
	}
	return false, nil
}

// ExecRunner runs commands on the host.
type ExecRunner struct{}

func (ExecRunner) Run(ctx context.Context, argv []string) error {
	if len(argv) == 0 {
		return errors.New("empty command")
	}
	out, err := exec.CommandContext(ctx, argv[0], argv[1:]...).CombinedOutput()
	if len(out) > 0 {
		log.Printf("debug: %s: %s", argv[0], strings.TrimSpace(string(out)))
	}
	if err != nil {
		return errors.Wrapf(err, "running %s", argv[0])
	}
	return nil
}

// BuildCommand splits template with shell quoting rules and then replaces
// {ssid}, {password} and {interface} in every argument. Substituting after
// splitting keeps credentials with spaces or quotes in a single argument.
func BuildCommand(template, ssid, password, iface string) ([]string, error) {
	argv, err := shlex.Split(template)
	if err != nil {
		return nil, errors.Wrap(err, "parsing connect command")
	}
	if len(argv) == 0 {
		return nil, errors.New("empty connect command")
	}
	r := strings.NewReplacer("{ssid}", ssid, "{password}", password, "{interface}", iface)
	for i := range argv {
		argv[i] = r.Replace(argv[i])
	}
	return argv, nil
}

// redact hides the password in log output.
func redact(argv []string, password string) string {
	s := strings.Join(argv, " ")
	if password == "" {
		return s
	}
	return strings.ReplaceAll(s, password, "***")
}
