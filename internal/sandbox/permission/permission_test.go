package permission

import "testing"

func TestMapMinimalDeniesEverything(t *testing.T) {
	m := New("/data", "/tmp")
	f := m.Map(Minimal)

	if f.AllowReadAll || len(f.AllowReadPaths) != 0 {
		t.Errorf("minimal must not allow read, got %+v", f)
	}
	if len(f.AllowWritePaths) != 0 {
		t.Errorf("minimal must not allow write, got %+v", f)
	}
	if f.AllowNet {
		t.Errorf("minimal must not allow net")
	}
	if f.EnvAllowlist != nil {
		t.Errorf("minimal must deny env entirely, got %+v", f.EnvAllowlist)
	}
	if !f.DenySubprocessSpawn || !f.DenyFFI || !f.DenyPrompt {
		t.Errorf("expected subprocess spawn/FFI/prompt always denied, got %+v", f)
	}
}

func TestMapReadonlyAllowsConfiguredPathsOnly(t *testing.T) {
	m := New("/data", "/tmp")
	f := m.Map(Readonly)

	if f.AllowReadAll {
		t.Errorf("readonly must not allow unrestricted read")
	}
	if len(f.AllowReadPaths) != 2 {
		t.Errorf("expected data+tmp read paths, got %+v", f.AllowReadPaths)
	}
}

func TestMapFilesystemAllowsReadAllWriteTmp(t *testing.T) {
	m := New("/data", "/tmp")
	f := m.Map(Filesystem)

	if !f.AllowReadAll {
		t.Errorf("filesystem must allow read anywhere")
	}
	if len(f.AllowWritePaths) != 1 || f.AllowWritePaths[0] != "/tmp" {
		t.Errorf("filesystem must allow write to tmp only, got %+v", f.AllowWritePaths)
	}
}

func TestMapNetworkAPIAllowsNetOnly(t *testing.T) {
	m := New("/data", "/tmp")
	f := m.Map(NetworkAPI)

	if !f.AllowNet {
		t.Errorf("network-api must allow net")
	}
	if f.AllowReadAll || len(f.AllowWritePaths) != 0 {
		t.Errorf("network-api must not grant filesystem access, got %+v", f)
	}
}

func TestMapMCPStandardRestrictsEnv(t *testing.T) {
	m := New("/data", "/tmp")
	f := m.Map(MCPStandard)

	if !f.AllowReadAll || !f.AllowNet {
		t.Errorf("mcp-standard must allow read and net, got %+v", f)
	}
	if len(f.EnvAllowlist) != 2 {
		t.Fatalf("expected exactly {HOME, PATH}, got %+v", f.EnvAllowlist)
	}
	want := map[string]bool{"HOME": true, "PATH": true}
	for _, name := range f.EnvAllowlist {
		if !want[name] {
			t.Errorf("unexpected env var in mcp-standard allowlist: %s", name)
		}
	}
}

func TestToArgsAlwaysDeniesSpawnFFIPrompt(t *testing.T) {
	m := New("/data", "/tmp")
	for _, set := range []PermissionSet{Minimal, Readonly, Filesystem, NetworkAPI, MCPStandard} {
		args := m.Map(set).ToArgs()
		joined := ""
		for _, a := range args {
			joined += a + " "
		}
		for _, want := range []string{"--deny-run", "--deny-ffi", "--no-prompt"} {
			if !contains(args, want) {
				t.Errorf("set %s: expected %s in args %v", set, want, args)
			}
		}
	}
}

func contains(haystack []string, needle string) bool {
	for _, s := range haystack {
		if s == needle {
			return true
		}
	}
	return false
}
