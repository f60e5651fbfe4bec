package config

import (
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/muurk/udpdiscovery/internal/discovery"
	"github.com/muurk/udpdiscovery/internal/netif"
)

// Registry represents the entire user configuration file.
// It stores named scan profiles and application preferences.
type Registry struct {
	Version     int                 `yaml:"version"`
	Profiles    map[string]*Profile `yaml:"profiles,omitempty"` // Keyed by profile name
	Preferences *Preferences        `yaml:"preferences,omitempty"`
}

// Profile is a saved set of scan options for one device family.
type Profile struct {
	Description  string `yaml:"description,omitempty"`   // Free text shown by "profile list"
	Port         int    `yaml:"port"`                    // Device listening port
	Hello        string `yaml:"hello,omitempty"`         // Hello payload as hex (e.g., "02 35 38 2e 30 03 10")
	HelloText    string `yaml:"hello_text,omitempty"`    // Hello payload as text; used when Hello is empty
	SendPort     int    `yaml:"send_port,omitempty"`     // Local send port, 0 for ephemeral
	ResponsePort string `yaml:"response_port,omitempty"` // "send" (default) or "listen"
	AnyInterface bool   `yaml:"any_interface,omitempty"` // Accept replies addressed to any local interface
	TimeoutMS    int    `yaml:"timeout_ms,omitempty"`    // Listening window, 0 for the default
	Interface    string `yaml:"interface,omitempty"`     // Fixed interface IP instead of auto-detection
	SubnetMask   string `yaml:"subnet_mask,omitempty"`   // Mask for Interface
	Directed     bool   `yaml:"directed,omitempty"`      // Use subnet broadcast instead of 255.255.255.255
}

// Preferences represents application-wide user preferences.
type Preferences struct {
	DefaultProfile string `yaml:"default_profile,omitempty"` // Profile used when scan gets no --profile or --port
	Format         string `yaml:"format,omitempty"`          // Default scan output format
	ServeAddr      string `yaml:"serve_addr,omitempty"`      // Listen address for "serve"
}

// NewRegistry creates a new Registry with default values.
func NewRegistry() *Registry {
	return &Registry{
		Version:     1,
		Profiles:    make(map[string]*Profile),
		Preferences: defaultPreferences(),
	}
}

func defaultPreferences() *Preferences {
	return &Preferences{
		Format:    "detailed",
		ServeAddr: ":8787",
	}
}

// BuiltinProfiles returns the profiles shipped with the tool. A user
// profile with the same name takes precedence.
func BuiltinProfiles() map[string]*Profile {
	return map[string]*Profile{
		"nager-demo": {
			Description: "STX-framed version query on port 12000",
			Port:        12000,
			Hello:       "02 35 38 2e 30 03 10",
		},
		"brd": {
			Description:  "$BRD,# probe answered on the listening port",
			Port:         65535,
			HelloText:    "$BRD,#",
			ResponsePort: "listen",
		},
	}
}

// GetProfile retrieves a profile by name, falling back to the built-in ones.
// Returns nil if no profile has that name.
func (r *Registry) GetProfile(name string) *Profile {
	if p, ok := r.Profiles[name]; ok {
		return p
	}
	return BuiltinProfiles()[name]
}

// SetProfile adds or replaces a user profile.
func (r *Registry) SetProfile(name string, p *Profile) error {
	if strings.TrimSpace(name) == "" {
		return fmt.Errorf("profile name must not be empty")
	}
	if _, err := p.ScanRequest(); err != nil {
		return fmt.Errorf("invalid profile %q: %w", name, err)
	}
	if r.Profiles == nil {
		r.Profiles = make(map[string]*Profile)
	}
	r.Profiles[name] = p
	return nil
}

// DeleteProfile removes a user profile. Built-in profiles cannot be deleted.
func (r *Registry) DeleteProfile(name string) error {
	if _, ok := r.Profiles[name]; !ok {
		if _, builtin := BuiltinProfiles()[name]; builtin {
			return fmt.Errorf("profile %q is built in and cannot be deleted", name)
		}
		return fmt.Errorf("profile %q not found", name)
	}
	delete(r.Profiles, name)
	return nil
}

// ProfileNames returns every known profile name, user and built-in, sorted.
func (r *Registry) ProfileNames() []string {
	seen := make(map[string]bool)
	for name := range BuiltinProfiles() {
		seen[name] = true
	}
	for name := range r.Profiles {
		seen[name] = true
	}

	names := make([]string, 0, len(seen))
	for name := range seen {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// IsBuiltin reports whether name resolves to a built-in profile.
func (r *Registry) IsBuiltin(name string) bool {
	if _, ok := r.Profiles[name]; ok {
		return false
	}
	_, ok := BuiltinProfiles()[name]
	return ok
}

// Payload decodes the hello payload. Hex input may separate bytes with
// spaces, colons or dashes and may carry a 0x prefix.
func (p *Profile) Payload() ([]byte, error) {
	if p.Hello == "" {
		return []byte(p.HelloText), nil
	}
	return ParseHex(p.Hello)
}

// ParseHex decodes a loosely formatted hex string.
func ParseHex(s string) ([]byte, error) {
	clean := strings.NewReplacer(" ", "", ":", "", "-", "", "\t", "").Replace(strings.TrimSpace(s))
	clean = strings.TrimPrefix(strings.TrimPrefix(clean, "0x"), "0X")

	data, err := hex.DecodeString(clean)
	if err != nil {
		return nil, fmt.Errorf("invalid hex payload %q: %w", s, err)
	}
	return data, nil
}

// ScanRequest converts the profile into a validated discovery request.
func (p *Profile) ScanRequest() (discovery.ScanRequest, error) {
	payload, err := p.Payload()
	if err != nil {
		return discovery.ScanRequest{}, err
	}

	policy, err := discovery.ParseResponsePort(p.ResponsePort)
	if err != nil {
		return discovery.ScanRequest{}, err
	}

	req := discovery.NewScanRequest(p.Port, payload)
	req.HostSendPort = p.SendPort
	req.ResponsePort = policy
	req.RequireSameInterface = !p.AnyInterface
	req.DirectedBroadcast = p.Directed
	if p.TimeoutMS > 0 {
		req.ReceiveTimeout = time.Duration(p.TimeoutMS) * time.Millisecond
	}

	if err := req.Validate(); err != nil {
		return discovery.ScanRequest{}, err
	}
	return req, nil
}

// Source returns the interface source the profile scans: the fixed
// interface when one is set, otherwise auto-detection.
func (p *Profile) Source() (netif.Source, error) {
	if p.Interface == "" {
		return netif.NewAutoDetect(), nil
	}

	mask := p.SubnetMask
	if mask == "" {
		mask = "255.255.255.0"
	}
	d := netif.Descriptor{IPAddress: p.Interface, SubnetMask: mask}
	if err := d.Validate(); err != nil {
		return nil, err
	}
	return netif.NewStatic(d.IPAddress, d.SubnetMask), nil
}
