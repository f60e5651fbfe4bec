package config

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/muurk/udpdiscovery/internal/discovery"
	"github.com/muurk/udpdiscovery/internal/netif"
)

func TestGetConfigDir(t *testing.T) {
	if runtime.GOOS == "linux" {
		t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	}

	configDir, err := GetConfigDir()
	if err != nil {
		t.Fatalf("GetConfigDir() error = %v", err)
	}

	if !strings.Contains(configDir, "udpdiscover") {
		t.Errorf("GetConfigDir() = %v, should contain 'udpdiscover'", configDir)
	}

	switch runtime.GOOS {
	case "windows":
		if !strings.Contains(configDir, "AppData") && !strings.Contains(configDir, "Local") {
			t.Errorf("Windows config dir should contain 'AppData' or 'Local', got: %v", configDir)
		}
	case "linux":
		if !strings.HasPrefix(configDir, os.Getenv("XDG_CONFIG_HOME")) {
			t.Errorf("config dir %v ignores XDG_CONFIG_HOME", configDir)
		}
	case "darwin":
		if !strings.Contains(configDir, ".config") {
			t.Errorf("macOS config dir should contain '.config', got: %v", configDir)
		}
	}
}

func TestGetConfigPath(t *testing.T) {
	configPath, err := GetConfigPath()
	if err != nil {
		t.Fatalf("GetConfigPath() error = %v", err)
	}

	if filepath.Base(configPath) != "config.yaml" {
		t.Errorf("GetConfigPath() should end with 'config.yaml', got: %v", configPath)
	}
}

func TestNewRegistry(t *testing.T) {
	reg := NewRegistry()

	if reg.Version != 1 {
		t.Errorf("NewRegistry().Version = %v, want 1", reg.Version)
	}
	if reg.Profiles == nil {
		t.Error("NewRegistry().Profiles should not be nil")
	}
	if reg.Preferences == nil || reg.Preferences.Format != "detailed" {
		t.Errorf("NewRegistry().Preferences = %+v", reg.Preferences)
	}
}

func TestBuiltinProfiles(t *testing.T) {
	tests := []struct {
		name        string
		wantPort    int
		wantPayload []byte
		wantPolicy  discovery.ResponsePort
	}{
		{"nager-demo", 12000, []byte{0x02, 0x35, 0x38, 0x2E, 0x30, 0x03, 0x10}, discovery.SendPort},
		{"brd", 65535, []byte("$BRD,#"), discovery.ListeningPort},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := NewRegistry().GetProfile(tt.name)
			if p == nil {
				t.Fatalf("built-in profile %q missing", tt.name)
			}

			req, err := p.ScanRequest()
			if err != nil {
				t.Fatalf("ScanRequest() error = %v", err)
			}
			if req.DeviceListeningPort != tt.wantPort {
				t.Errorf("port = %d, want %d", req.DeviceListeningPort, tt.wantPort)
			}
			if !bytes.Equal(req.HelloPayload, tt.wantPayload) {
				t.Errorf("payload = % x, want % x", req.HelloPayload, tt.wantPayload)
			}
			if req.ResponsePort != tt.wantPolicy {
				t.Errorf("response port = %v, want %v", req.ResponsePort, tt.wantPolicy)
			}
			if !req.RequireSameInterface || req.ReceiveTimeout != discovery.DefaultReceiveTimeout {
				t.Errorf("defaults not applied: %+v", req)
			}
		})
	}
}

func TestProfileScanRequest(t *testing.T) {
	p := &Profile{
		Port:         4000,
		HelloText:    "ping",
		SendPort:     4001,
		ResponsePort: "listen",
		AnyInterface: true,
		TimeoutMS:    250,
		Directed:     true,
	}

	req, err := p.ScanRequest()
	if err != nil {
		t.Fatalf("ScanRequest() error = %v", err)
	}

	if string(req.HelloPayload) != "ping" {
		t.Errorf("payload = %q", req.HelloPayload)
	}
	if req.HostSendPort != 4001 {
		t.Errorf("HostSendPort = %d", req.HostSendPort)
	}
	if req.ResponsePort != discovery.ListeningPort {
		t.Errorf("ResponsePort = %v", req.ResponsePort)
	}
	if req.RequireSameInterface {
		t.Error("RequireSameInterface should be false with any_interface")
	}
	if req.ReceiveTimeout != 250*time.Millisecond {
		t.Errorf("ReceiveTimeout = %v", req.ReceiveTimeout)
	}
	if !req.DirectedBroadcast {
		t.Error("DirectedBroadcast not set")
	}
}

func TestProfileScanRequestErrors(t *testing.T) {
	tests := []struct {
		name    string
		profile Profile
		wantErr error
	}{
		{"no payload", Profile{Port: 1}, discovery.ErrEmptyPayload},
		{"bad port", Profile{Port: 70000, HelloText: "x"}, discovery.ErrInvalidPort},
		{"unknown policy", Profile{Port: 1, HelloText: "x", ResponsePort: "both"}, discovery.ErrUnsupportedResponsePort},
		{"bad hex", Profile{Port: 1, Hello: "zz"}, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := tt.profile.ScanRequest()
			if err == nil {
				t.Fatal("ScanRequest() returned no error")
			}
			if tt.wantErr != nil && !errors.Is(err, tt.wantErr) {
				t.Errorf("error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestParseHex(t *testing.T) {
	tests := []struct {
		in      string
		want    []byte
		wantErr bool
	}{
		{"0235382e300310", []byte{0x02, 0x35, 0x38, 0x2E, 0x30, 0x03, 0x10}, false},
		{"02 35 38", []byte{0x02, 0x35, 0x38}, false},
		{"02:35:38", []byte{0x02, 0x35, 0x38}, false},
		{"0x0a0B", []byte{0x0A, 0x0B}, false},
		{"abc", nil, true},
		{"xyz", nil, true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseHex(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseHex(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			}
			if !tt.wantErr && !bytes.Equal(got, tt.want) {
				t.Errorf("ParseHex(%q) = % x, want % x", tt.in, got, tt.want)
			}
		})
	}
}

func TestProfileSource(t *testing.T) {
	auto, err := (&Profile{}).Source()
	if err != nil {
		t.Fatalf("Source() error = %v", err)
	}
	if _, ok := auto.(*netif.AutoDetect); !ok {
		t.Errorf("Source() = %T, want *netif.AutoDetect", auto)
	}

	fixed, err := (&Profile{Interface: "10.0.0.5"}).Source()
	if err != nil {
		t.Fatalf("Source() error = %v", err)
	}
	ifaces, _ := fixed.NetworkInterfaces()
	if len(ifaces) != 1 || ifaces[0].IPAddress != "10.0.0.5" || ifaces[0].SubnetMask != "255.255.255.0" {
		t.Errorf("NetworkInterfaces() = %v", ifaces)
	}

	if _, err := (&Profile{Interface: "bogus"}).Source(); err == nil {
		t.Error("Source() accepted an invalid interface")
	}
}

func TestRegistryProfiles(t *testing.T) {
	reg := NewRegistry()

	if err := reg.SetProfile("lab", &Profile{Port: 9000, HelloText: "hi"}); err != nil {
		t.Fatalf("SetProfile() error = %v", err)
	}
	if err := reg.SetProfile("", &Profile{Port: 9000, HelloText: "hi"}); err == nil {
		t.Error("SetProfile() accepted an empty name")
	}
	if err := reg.SetProfile("broken", &Profile{Port: 9000}); err == nil {
		t.Error("SetProfile() accepted a profile without payload")
	}

	// a user profile shadows the built-in one
	if err := reg.SetProfile("brd", &Profile{Port: 1234, HelloText: "mine"}); err != nil {
		t.Fatalf("SetProfile() error = %v", err)
	}
	if reg.GetProfile("brd").Port != 1234 {
		t.Error("user profile does not shadow the built-in profile")
	}
	if reg.IsBuiltin("brd") {
		t.Error("shadowed profile reported as built in")
	}

	want := []string{"brd", "lab", "nager-demo"}
	if got := reg.ProfileNames(); strings.Join(got, ",") != strings.Join(want, ",") {
		t.Errorf("ProfileNames() = %v, want %v", got, want)
	}

	if err := reg.DeleteProfile("brd"); err != nil {
		t.Fatalf("DeleteProfile() error = %v", err)
	}
	if reg.GetProfile("brd").Port != 65535 {
		t.Error("built-in profile not restored after deleting the user profile")
	}
	if err := reg.DeleteProfile("brd"); err == nil {
		t.Error("DeleteProfile() removed a built-in profile")
	}
	if err := reg.DeleteProfile("missing"); err == nil {
		t.Error("DeleteProfile() on unknown profile returned nil")
	}
	if reg.GetProfile("missing") != nil {
		t.Error("GetProfile() on unknown profile returned non-nil")
	}
}

func TestRegistrySaveAndLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")

	reg := NewRegistry()
	reg.Preferences.DefaultProfile = "lab"
	if err := reg.SetProfile("lab", &Profile{
		Description: "bench devices",
		Port:        12000,
		Hello:       "02 35",
		TimeoutMS:   1500,
	}); err != nil {
		t.Fatalf("SetProfile() error = %v", err)
	}

	if err := reg.SaveTo(path); err != nil {
		t.Fatalf("SaveTo() error = %v", err)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("config file not written: %v", err)
	}
	if runtime.GOOS != "windows" && info.Mode().Perm() != 0600 {
		t.Errorf("config file mode = %v, want 0600", info.Mode().Perm())
	}
	if _, err := os.Stat(path + ".tmp"); !os.IsNotExist(err) {
		t.Error("temporary file left behind")
	}

	loaded, err := LoadRegistryFrom(path)
	if err != nil {
		t.Fatalf("LoadRegistryFrom() error = %v", err)
	}
	if loaded.Preferences.DefaultProfile != "lab" {
		t.Errorf("DefaultProfile = %q", loaded.Preferences.DefaultProfile)
	}
	p := loaded.GetProfile("lab")
	if p == nil || p.Port != 12000 || p.Hello != "02 35" || p.TimeoutMS != 1500 {
		t.Errorf("loaded profile = %+v", p)
	}
}

func TestLoadRegistryFrom(t *testing.T) {
	dir := t.TempDir()
	write := func(name, content string) string {
		path := filepath.Join(dir, name)
		if err := os.WriteFile(path, []byte(content), 0600); err != nil {
			t.Fatal(err)
		}
		return path
	}

	t.Run("missing file yields defaults", func(t *testing.T) {
		reg, err := LoadRegistryFrom(filepath.Join(dir, "absent.yaml"))
		if err != nil {
			t.Fatalf("error = %v", err)
		}
		if reg.Version != 1 || reg.Preferences == nil {
			t.Errorf("registry = %+v", reg)
		}
	})

	t.Run("missing sections are initialized", func(t *testing.T) {
		reg, err := LoadRegistryFrom(write("bare.yaml", "version: 1\n"))
		if err != nil {
			t.Fatalf("error = %v", err)
		}
		if reg.Profiles == nil || reg.Preferences == nil {
			t.Errorf("registry = %+v", reg)
		}
	})

	t.Run("unsupported version", func(t *testing.T) {
		_, err := LoadRegistryFrom(write("v2.yaml", "version: 2\n"))
		if err == nil || !strings.Contains(err.Error(), "unsupported config version") {
			t.Errorf("error = %v", err)
		}
	})

	t.Run("malformed yaml", func(t *testing.T) {
		if _, err := LoadRegistryFrom(write("bad.yaml", "version: [\n")); err == nil {
			t.Error("expected parse error")
		}
	})

	t.Run("invalid profile", func(t *testing.T) {
		_, err := LoadRegistryFrom(write("badprofile.yaml", "version: 1\nprofiles:\n  x:\n    port: 12000\n"))
		if !errors.Is(err, discovery.ErrEmptyPayload) {
			t.Errorf("error = %v, want ErrEmptyPayload", err)
		}
	})
}

func TestLoadRegistryUsesConfigDir(t *testing.T) {
	if runtime.GOOS != "linux" {
		t.Skip("XDG_CONFIG_HOME only applies on Linux")
	}
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())

	reg := NewRegistry()
	if err := reg.SetProfile("env", &Profile{Port: 1, HelloText: "x"}); err != nil {
		t.Fatal(err)
	}
	if err := reg.Save(); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	loaded, err := ReloadRegistry()
	if err != nil {
		t.Fatalf("ReloadRegistry() error = %v", err)
	}
	if loaded.GetProfile("env") == nil {
		t.Error("profile saved to the config dir not loaded")
	}
	t.Cleanup(func() { globalRegistryOnce = sync.Once{} })
}

func BenchmarkParseHex(b *testing.B) {
	for i := 0; i < b.N; i++ {
		_, _ = ParseHex("02 35 38 2e 30 03 10")
	}
}
