package cmd

import (
	"bytes"
	"strings"
	"testing"
)

func TestRootCommandHelp(t *testing.T) {
	root := newRootCommand()
	buf := new(bytes.Buffer)
	root.SetOut(buf)
	root.SetErr(buf)
	root.SetArgs([]string{"--help"})

	if err := root.Execute(); err != nil {
		t.Fatalf("root --help failed: %v", err)
	}

	output := buf.String()
	for _, sub := range []string{"serve", "ingest", "export", "migrate", "mcp", "healthcheck", "version"} {
		if !strings.Contains(output, sub) {
			t.Errorf("expected help to list subcommand %q, got:\n%s", sub, output)
		}
	}
	for _, flag := range []string{"--config", "--log-level", "--log-format"} {
		if !strings.Contains(output, flag) {
			t.Errorf("expected help to list global flag %q, got:\n%s", flag, output)
		}
	}
}

func TestRootCommandUnknownSubcommand(t *testing.T) {
	root := newRootCommand()
	buf := new(bytes.Buffer)
	root.SetOut(buf)
	root.SetErr(buf)
	root.SetArgs([]string{"definitely-not-a-command"})

	err := root.Execute()
	if err == nil {
		t.Fatal("expected an error for unknown subcommand")
	}
	if !strings.Contains(err.Error(), "unknown command") {
		t.Errorf("unexpected error: %v", err)
	}
}
