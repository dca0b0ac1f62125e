// Package permission implements the Permission Mapper (spec §4.3): a pure
// function from a named PermissionSet to concrete flags consumed by either
// path. On the isolate path the flags are informational only — the isolate
// itself is always bound to "none" and routes all I/O through the RPC
// bridge. On the subprocess path the flags become real OS-level permission
// arguments, grounded on the teacher's internal/secureenv allow-list idiom
// and the Deno-style `--allow-*`/`--deny-*` permission flag vocabulary the
// subprocess runner's wrapped script targets.
package permission

import (
	"fmt"
	"path/filepath"

	"github.com/smart-mcp-proxy/sandboxrt/internal/config"
	"github.com/smart-mcp-proxy/sandboxrt/internal/secureenv"
)

// Flags is the concrete, path-agnostic permission grant produced for one
// PermissionSet. Subprocess Runner always additionally denies process
// spawn, FFI, and interactive prompts regardless of the input set.
type Flags struct {
	Set PermissionSet

	AllowReadAll   bool
	AllowReadPaths []string
	AllowWritePaths []string
	AllowNet       bool

	// EnvAllowlist is nil when env access is denied outright, and a
	// (possibly empty) slice of variable names when env access is
	// restricted to that set.
	EnvAllowlist []string

	DenySubprocessSpawn bool
	DenyFFI             bool
	DenyPrompt           bool
}

// PermissionSet mirrors config.PermissionSet to keep this package's public
// API self-contained; the two are interchangeable by value.
type PermissionSet = config.PermissionSet

const (
	Minimal     = config.PermissionMinimal
	Readonly    = config.PermissionReadonly
	Filesystem  = config.PermissionFilesystem
	NetworkAPI  = config.PermissionNetworkAPI
	MCPStandard = config.PermissionMCPStandard
)

// Mapper translates permission sets into Flags, given the data/tmp roots
// configured for the "readonly" set.
type Mapper struct {
	dataDir string
	tmpDir  string
}

// New builds a Mapper. dataDir is the root "readonly" may read from in
// addition to tmpDir; tmpDir defaults to the OS temp directory when empty.
func New(dataDir, tmpDir string) *Mapper {
	if tmpDir == "" {
		tmpDir = filepath.Clean("/tmp")
	}
	return &Mapper{dataDir: dataDir, tmpDir: tmpDir}
}

// Map is the pure permissionSet -> flags[] function (§4.3). An unknown
// PermissionSet is treated as minimal (deny-everything) rather than erroring,
// since the Security Validator is the authoritative gate on input shape.
func (m *Mapper) Map(set PermissionSet) *Flags {
	f := &Flags{
		Set:                 set,
		DenySubprocessSpawn: true,
		DenyFFI:             true,
		DenyPrompt:          true,
	}

	switch set {
	case Readonly:
		f.AllowReadPaths = []string{m.dataDir, m.tmpDir}
	case Filesystem:
		f.AllowReadAll = true
		f.AllowWritePaths = []string{m.tmpDir}
	case NetworkAPI:
		f.AllowNet = true
	case MCPStandard:
		f.AllowReadAll = true
		f.AllowWritePaths = []string{m.tmpDir, "./output"}
		f.AllowNet = true
		f.EnvAllowlist = []string{"HOME", "PATH"}
	case Minimal:
		// no allows; env and net denied by omission, no write paths.
	default:
		// unrecognized set: fail closed, same shape as minimal.
	}

	return f
}

// BuildEnv renders the subprocess environment for these flags using the
// Permission Mapper's env-allowlist collaborator. nil EnvAllowlist denies
// env entirely (an empty slice, not nil).
func (f *Flags) BuildEnv(envMgr *secureenv.Manager) []string {
	if f.EnvAllowlist == nil {
		return []string{}
	}
	return envMgr.BuildRestrictedEnvironment(f.EnvAllowlist...)
}

// ToArgs renders Flags as Deno-style `--allow-*`/`--deny-*` subprocess
// arguments for the wrapped script the Subprocess Runner spawns.
func (f *Flags) ToArgs() []string {
	var args []string

	switch {
	case f.AllowReadAll:
		args = append(args, "--allow-read")
	case len(f.AllowReadPaths) > 0:
		args = append(args, fmt.Sprintf("--allow-read=%s", joinPaths(f.AllowReadPaths)))
	}

	if len(f.AllowWritePaths) > 0 {
		args = append(args, fmt.Sprintf("--allow-write=%s", joinPaths(f.AllowWritePaths)))
	}

	if f.AllowNet {
		args = append(args, "--allow-net")
	}

	if f.EnvAllowlist != nil {
		if len(f.EnvAllowlist) == 0 {
			args = append(args, "--deny-env")
		} else {
			args = append(args, fmt.Sprintf("--allow-env=%s", joinPaths(f.EnvAllowlist)))
		}
	} else {
		args = append(args, "--deny-env")
	}

	if f.DenySubprocessSpawn {
		args = append(args, "--deny-run")
	}
	if f.DenyFFI {
		args = append(args, "--deny-ffi")
	}
	if f.DenyPrompt {
		args = append(args, "--no-prompt")
	}

	return args
}

func joinPaths(paths []string) string {
	out := ""
	for i, p := range paths {
		if i > 0 {
			out += ","
		}
		out += p
	}
	return out
}
