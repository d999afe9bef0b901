//go:build !linux

package firecracker

import (
	"context"
	"errors"
)

// ErrNotSupported is returned on platforms without a Firecracker runtime.
var ErrNotSupported = errors.New("firecracker native boot is only supported on Linux")

type NativeConfig struct {
	KernelPath string
	RootFSPath string
	SocketPath string
	VCPUs      int64
	MemSizeMB  int64
}

func LocateNativeConfig(string) (*NativeConfig, bool) { return nil, false }

type Handle struct{}

func Boot(context.Context, NativeConfig) (*Handle, error) { return nil, ErrNotSupported }

func (h *Handle) Stop(context.Context) error { return ErrNotSupported }
