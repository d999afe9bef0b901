//go:build linux

package firecracker

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	sdk "github.com/firecracker-microvm/firecracker-go-sdk"
)

// NativeConfig is the on-disk shape of sandbox/firecracker/vmconfig.json, an
// optional accelerated alternative to a start.sh wrapper script: when
// present, the executor boots the microVM directly through the Firecracker
// SDK instead of shelling out to a wrapper.
type NativeConfig struct {
	KernelPath string `json:"kernel_path"`
	RootFSPath string `json:"rootfs_path"`
	SocketPath string `json:"socket_path"`
	VCPUs      int64  `json:"vcpus"`
	MemSizeMB  int64  `json:"mem_size_mb"`
}

// nativeConfigFile is where LocateNativeConfig looks, sibling to the
// wrapper-script candidates.
const nativeConfigFile = "vmconfig.json"

// LocateNativeConfig reports whether cwd has an accelerated-boot config for
// the microvm sandbox kind.
func LocateNativeConfig(cwd string) (*NativeConfig, bool) {
	path := filepath.Join(cwd, "sandbox", "firecracker", nativeConfigFile)
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, false
	}
	var cfg NativeConfig
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return nil, false
	}
	if cfg.VCPUs <= 0 {
		cfg.VCPUs = 1
	}
	if cfg.MemSizeMB <= 0 {
		cfg.MemSizeMB = 512
	}
	return &cfg, true
}

// Handle is a running microVM booted via NativeConfig.
type Handle struct {
	machine *sdk.Machine
	cancel  context.CancelFunc
}

// Boot starts a microVM per cfg and blocks until it reports ready. The
// caller is responsible for calling Stop.
func Boot(ctx context.Context, cfg NativeConfig) (*Handle, error) {
	bootCtx, cancel := context.WithCancel(ctx)

	machineCfg := sdk.Config{
		SocketPath:      cfg.SocketPath,
		KernelImagePath: cfg.KernelPath,
		MachineCfg: sdk.MachineConfiguration{
			VcpuCount:  intPtr(cfg.VCPUs),
			MemSizeMib: intPtr(cfg.MemSizeMB),
		},
		Drives: []sdk.Drive{
			sdk.NewDrive("rootfs", cfg.RootFSPath, false),
		},
	}

	machine, err := sdk.NewMachine(bootCtx, machineCfg)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("firecracker: new machine: %w", err)
	}
	if err := machine.Start(bootCtx); err != nil {
		cancel()
		return nil, fmt.Errorf("firecracker: start: %w", err)
	}

	return &Handle{machine: machine, cancel: cancel}, nil
}

// Stop shuts the microVM down.
func (h *Handle) Stop(ctx context.Context) error {
	defer h.cancel()
	return h.machine.StopVMM()
}

func intPtr(v int64) *int64 { return &v }
