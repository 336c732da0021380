package config

//
// Parse SSH options.
//
// The configuration file uses a line oriented format where each line
// contains an option name followed by space separated arguments, in
// the spirit of the OpenSSH client configuration. We only support the
// options that the connection establishment needs.
//

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/pkg/errors"

	"github.com/ooni/minissh/internal/kex"
	"github.com/ooni/minissh/internal/packet"
)

// ErrBadConfig is the generic error returned for invalid config files.
var ErrBadConfig = errors.New("ssh: bad config")

// SSHOptions make all the relevant ssh configuration options accessible
// to the different modules that need them.
type SSHOptions struct {
	// Remote is the remote hostname or IP address.
	Remote string

	// Port is the remote port, "22" when unset.
	Port string

	// User is the remote username.
	User string

	// ClientVersion is the software version announced in the
	// identification string, without the "SSH-2.0-" prefix.
	ClientVersion string

	// AllowV1 and AllowV2 select the acceptable protocol versions.
	AllowV1 bool
	AllowV2 bool

	// KexAlgorithms, HostKeyAlgorithms, Ciphers and MACs override the
	// default algorithm preferences when not empty.
	KexAlgorithms     []string
	HostKeyAlgorithms []string
	Ciphers           []string
	MACs              []string

	// ServiceName is the service requested after the key exchange.
	ServiceName string

	// ProxySOCKS5 is the optional address of a SOCKS5 proxy to use
	// to reach the remote endpoint.
	ProxySOCKS5 string
}

// NewSSHOptions returns options with the library defaults.
func NewSSHOptions() *SSHOptions {
	return &SSHOptions{
		Port:          "22",
		ClientVersion: "minissh_0.1.0",
		AllowV1:       false,
		AllowV2:       true,
		ServiceName:   "ssh-userauth",
	}
}

// HasRemoteInfo returns true when the options carry enough information
// to reach a remote endpoint.
func (o *SSHOptions) HasRemoteInfo() bool {
	return o.Remote != "" && o.Port != ""
}

// Preferences maps the configured algorithm lists onto the negotiation
// preferences, falling back to the defaults for empty lists.
func (o *SSHOptions) Preferences() *kex.Preferences {
	prefs := kex.NewPreferences()
	if len(o.KexAlgorithms) > 0 {
		prefs.KexAlgos = o.KexAlgorithms
	}
	if len(o.HostKeyAlgorithms) > 0 {
		prefs.HostKeyAlgos = o.HostKeyAlgorithms
	}
	if len(o.Ciphers) > 0 {
		prefs.Ciphers = o.Ciphers
	}
	if len(o.MACs) > 0 {
		prefs.MACs = o.MACs
	}
	return prefs
}

// ReadConfigFile expects a string with a path to a valid config file,
// and returns a pointer to an SSHOptions struct after parsing the file,
// and an error if the operation could not be completed.
func ReadConfigFile(filePath string) (*SSHOptions, error) {
	lines, err := getLinesFromFile(filePath)
	if err != nil {
		return nil, err
	}
	return getOptionsFromLines(lines)
}

func parseHost(p []string, o *SSHOptions) error {
	if len(p) != 1 {
		return fmt.Errorf("%w: %s", ErrBadConfig, "host needs one arg")
	}
	o.Remote = p[0]
	return nil
}

func parsePort(p []string, o *SSHOptions) error {
	if len(p) != 1 {
		return fmt.Errorf("%w: %s", ErrBadConfig, "port needs one arg")
	}
	if _, err := strconv.ParseUint(p[0], 10, 16); err != nil {
		return fmt.Errorf("%w: bad port: %s", ErrBadConfig, p[0])
	}
	o.Port = p[0]
	return nil
}

func parseUser(p []string, o *SSHOptions) error {
	if len(p) != 1 {
		return fmt.Errorf("%w: %s", ErrBadConfig, "user needs one arg")
	}
	o.User = p[0]
	return nil
}

func parseProtocol(p []string, o *SSHOptions) error {
	if len(p) != 1 {
		return fmt.Errorf("%w: %s", ErrBadConfig, "protocol needs one arg")
	}
	o.AllowV1, o.AllowV2 = false, false
	for _, version := range strings.Split(p[0], ",") {
		switch version {
		case "1":
			o.AllowV1 = true
		case "2":
			o.AllowV2 = true
		default:
			return fmt.Errorf("%w: bad protocol: %s", ErrBadConfig, version)
		}
	}
	return nil
}

func parseAlgoList(what string, p []string, supported []string) ([]string, error) {
	if len(p) != 1 {
		return nil, fmt.Errorf("%w: %s needs one arg", ErrBadConfig, what)
	}
	names := strings.Split(p[0], ",")
	for _, name := range names {
		if !hasElement(name, supported) {
			return nil, fmt.Errorf("%w: unsupported %s: %s", ErrBadConfig, what, name)
		}
	}
	return names, nil
}

func parseKexAlgorithms(p []string, o *SSHOptions) error {
	names, err := parseAlgoList("kexalgorithms", p, kex.DefaultKexAlgos)
	if err != nil {
		return err
	}
	o.KexAlgorithms = names
	return nil
}

func parseHostKeyAlgorithms(p []string, o *SSHOptions) error {
	names, err := parseAlgoList("hostkeyalgorithms", p, kex.DefaultHostKeyAlgos)
	if err != nil {
		return err
	}
	o.HostKeyAlgorithms = names
	return nil
}

func parseCiphers(p []string, o *SSHOptions) error {
	names, err := parseAlgoList("ciphers", p, packet.SupportedCiphers())
	if err != nil {
		return err
	}
	o.Ciphers = names
	return nil
}

func parseMACs(p []string, o *SSHOptions) error {
	names, err := parseAlgoList("macs", p, packet.SupportedMACs())
	if err != nil {
		return err
	}
	o.MACs = names
	return nil
}

func parseProxySOCKS5(p []string, o *SSHOptions) error {
	if len(p) != 1 {
		return fmt.Errorf("%w: %s", ErrBadConfig, "proxy-socks5 needs one arg")
	}
	o.ProxySOCKS5 = p[0]
	return nil
}

var pMap = map[string]func([]string, *SSHOptions) error{
	"host":              parseHost,
	"port":              parsePort,
	"user":              parseUser,
	"protocol":          parseProtocol,
	"kexalgorithms":     parseKexAlgorithms,
	"hostkeyalgorithms": parseHostKeyAlgorithms,
	"ciphers":           parseCiphers,
	"macs":              parseMACs,
	"proxy-socks5":      parseProxySOCKS5,
}

// getOptionsFromLines tries to parse all the lines coming from a config
// file and raises validation errors if the values do not conform to the
// expected format.
func getOptionsFromLines(lines []string) (*SSHOptions, error) {
	opt := NewSSHOptions()
	for lineno, l := range lines {
		l = strings.TrimSpace(l)
		if l == "" || strings.HasPrefix(l, "#") {
			continue
		}
		p := strings.Fields(l)
		key, parts := strings.ToLower(p[0]), p[1:]
		fn, ok := pMap[key]
		if !ok {
			return nil, fmt.Errorf("%w: unsupported key in line %d", ErrBadConfig, lineno+1)
		}
		if err := fn(parts, opt); err != nil {
			return nil, err
		}
	}
	return opt, nil
}

// hasElement checks if a given string is present in a string array.
func hasElement(el string, arr []string) bool {
	for _, v := range arr {
		if v == el {
			return true
		}
	}
	return false
}

// getLinesFromFile accepts a path parameter, and returns a string array
// with its content and an error if the operation cannot be completed.
func getLinesFromFile(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "cannot open config file")
	}
	defer f.Close()

	lines := make([]string, 0)
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}
	if err := scanner.Err(); err != nil {
		return nil, errors.Wrap(err, "cannot read config file")
	}
	return lines, nil
}
