package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/voxlane/voicebridge/pkg/provider"
)

func TestFactoryBuildsEveryKnownType(t *testing.T) {
	factory := newFactory()
	for _, typ := range []provider.Type{
		provider.TypeOpenAIRealtime,
		provider.TypeGeminiLive,
		provider.TypeDeepgramAgent,
		provider.TypePipeline,
	} {
		a, err := factory(provider.Config{Type: typ, APIKey: "k"})
		if err != nil {
			t.Fatalf("factory(%s): %v", typ, err)
		}
		if a.Type() != typ {
			t.Errorf("adapter type = %v, want %v", a.Type(), typ)
		}
	}
}

func TestFactoryRejectsUnknownType(t *testing.T) {
	if _, err := newFactory()(provider.Config{Type: "acme_voice"}); err == nil {
		t.Fatal("unknown type accepted")
	}
}

func TestRootCommandHasSubcommands(t *testing.T) {
	root := newRootCmd()
	want := map[string]bool{"serve": false, "migrate": false, "check-config": false}
	for _, cmd := range root.Commands() {
		if _, ok := want[cmd.Name()]; ok {
			want[cmd.Name()] = true
		}
	}
	for name, found := range want {
		if !found {
			t.Errorf("missing subcommand %q", name)
		}
	}
}

func TestCheckConfigCommand(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "tenants.yaml")
	tenants := `tenants:
  - tenant_id: acme
    name: Acme
    providers:
      - type: pipeline
        api_key: sk-test
        turn_detection:
          mode: local
          sensitivity: medium
`
	if err := os.WriteFile(path, []byte(tenants), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("VOICEBRIDGE_TENANT_STORE", "file")
	t.Setenv("VOICEBRIDGE_TENANT_FILE", path)

	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs([]string{"check-config"})
	if err := root.Execute(); err != nil {
		t.Fatalf("check-config: %v (output %q)", err, out.String())
	}
	if !bytes.Contains(out.Bytes(), []byte("configuration ok")) {
		t.Errorf("output = %q", out.String())
	}
}
