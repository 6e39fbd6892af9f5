package cli

import (
	"testing"

	"github.com/rs/zerolog"

	"dart-trader/internal/config"
)

func TestNewConfigCmdReturnsCommand(t *testing.T) {
	cmd := newConfigCmd(&App{Config: &config.Config{}})
	if cmd == nil {
		t.Fatal("newConfigCmd returned nil")
	}
	if cmd.Use != "config" {
		t.Fatalf("use = %q", cmd.Use)
	}

	want := map[string]bool{"path": false, "validate": false, "show": false}
	for _, sub := range cmd.Commands() {
		if _, ok := want[sub.Name()]; ok {
			want[sub.Name()] = true
		}
	}
	for name, found := range want {
		if !found {
			t.Errorf("missing %q subcommand", name)
		}
	}
}

func TestRootCommandRegistration(t *testing.T) {
	root := NewRootCmd(zerolog.Nop())

	counts := make(map[string]int)
	for _, sub := range root.Commands() {
		counts[sub.Name()]++
	}
	for _, name := range []string{"run", "status", "balance", "position", "trades", "config", "version"} {
		if counts[name] != 1 {
			t.Errorf("command %q registered %d times, want 1", name, counts[name])
		}
	}

	if root.PersistentFlags().Lookup("config") == nil {
		t.Error("missing --config persistent flag")
	}
	if root.PersistentFlags().Lookup("json") == nil {
		t.Error("missing --json persistent flag")
	}
}

func TestVersionRunsWithoutConfig(t *testing.T) {
	// PersistentPreRunE must not demand a config file for version.
	root := NewRootCmd(zerolog.Nop())
	versionCmd, _, err := root.Find([]string{"version"})
	if err != nil {
		t.Fatalf("Find: %v", err)
	}
	if err := root.PersistentPreRunE(versionCmd, nil); err != nil {
		t.Fatalf("version pre-run: %v", err)
	}
}
