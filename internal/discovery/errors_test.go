package discovery

import (
	"errors"
	"fmt"
	"net"
	"os"
	"strings"
	"syscall"
	"testing"
)

func TestScanError_Error(t *testing.T) {
	tests := []struct {
		name string
		err  *ScanError
		want string
	}{
		{
			name: "message only",
			err:  &ScanError{Type: ErrTypeConfiguration, Message: "hello payload must not be empty"},
			want: "Configuration Error: hello payload must not be empty",
		},
		{
			name: "with cause",
			err:  &ScanError{Type: ErrTypeSource, Message: "failed to get network interfaces", Err: errors.New("boom")},
			want: "Interface Source Error: failed to get network interfaces (caused by: boom)",
		},
		{
			name: "with interface",
			err:  &ScanError{Type: ErrTypeBind, Message: "failed to bind", Interface: "10.0.0.2", Err: errors.New("boom")},
			want: "Bind Error: failed to bind [interface 10.0.0.2] (caused by: boom)",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.want {
				t.Errorf("Error() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestErrorType_String(t *testing.T) {
	if got := ErrorType(42).String(); got != "ErrorType(42)" {
		t.Errorf("String() = %q", got)
	}
	if got := ErrTypeTransport.String(); got != "Transport Error" {
		t.Errorf("String() = %q", got)
	}
}

func TestNewBindError_Classification(t *testing.T) {
	addr := &net.UDPAddr{IP: net.ParseIP("10.0.0.2"), Port: 12000}
	wrap := func(errno syscall.Errno) error {
		return &net.OpError{Op: "listen", Net: "udp4", Err: os.NewSyscallError("bind", errno)}
	}

	tests := []struct {
		name    string
		err     error
		wantMsg string
	}{
		{"in use", wrap(syscall.EADDRINUSE), "already in use"},
		{"not available", wrap(syscall.EADDRNOTAVAIL), "not available on this host"},
		{"permission", wrap(syscall.EACCES), "permission denied"},
		{"other", errors.New("weird"), "failed to bind"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := newBindError(addr, tt.err)
			if !IsBindError(err) {
				t.Fatal("IsBindError() = false")
			}
			if IsConfigurationError(err) {
				t.Error("bind error reported as configuration error")
			}
			if !strings.Contains(err.Message, tt.wantMsg) {
				t.Errorf("Message = %q, want it to contain %q", err.Message, tt.wantMsg)
			}
			if err.Addr != "10.0.0.2:12000" {
				t.Errorf("Addr = %q", err.Addr)
			}
			if !errors.Is(err, tt.err) {
				t.Error("cause not reachable through Unwrap")
			}
		})
	}
}

func TestWithInterface(t *testing.T) {
	err := withInterface(newTransportError("send hello", nil, errors.New("x")), "10.0.0.2")

	var scanErr *ScanError
	if !errors.As(err, &scanErr) {
		t.Fatalf("got %T", err)
	}
	if scanErr.Interface != "10.0.0.2" {
		t.Errorf("Interface = %q", scanErr.Interface)
	}

	// existing tag is kept
	withInterface(err, "10.0.0.3")
	if scanErr.Interface != "10.0.0.2" {
		t.Errorf("Interface overwritten to %q", scanErr.Interface)
	}

	plain := fmt.Errorf("plain")
	if got := withInterface(plain, "10.0.0.2"); got != plain {
		t.Error("non-ScanError was replaced")
	}
}
