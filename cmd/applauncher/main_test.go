package main

import (
	"bytes"
	"strings"
	"testing"

	"github.com/spf13/cobra"
)

func TestHelpListsCommands(t *testing.T) {
	var out bytes.Buffer
	root := buildRoot(&out, &out)
	root.SetOut(&out)
	root.SetArgs([]string{"--help"})
	if err := execute(root); err != nil {
		t.Fatalf("help should succeed: %v", err)
	}
	for _, want := range []string{"applauncher", "serve", "launch", "stop-all", "profile", "app"} {
		if !strings.Contains(out.String(), want) {
			t.Fatalf("help output lacks %q: %s", want, out.String())
		}
	}
}

func TestExecuteRecoversPanic(t *testing.T) {
	root := &cobra.Command{
		Use:           "boom",
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			panic("kaput")
		},
	}
	root.SetArgs([]string{})
	err := execute(root)
	if err == nil || !strings.Contains(err.Error(), "kaput") {
		t.Fatalf("expected recovered panic error, got %v", err)
	}
}

func TestArgumentValidation(t *testing.T) {
	cases := [][]string{
		{"launch"},
		{"app", "remove", "Dev", "x"},
		{"app", "move", "Dev", "0", "-1"},
		{"app", "add", "Dev"},
		{"history", "--limit", "0"},
	}
	for _, args := range cases {
		var out bytes.Buffer
		root := buildRoot(&out, &out)
		root.SetOut(&out)
		root.SetErr(&out)
		// unreachable daemon: argument errors must come first
		root.SetArgs(append([]string{"--api-url", "http://127.0.0.1:1/api", "--api-timeout", "200ms"}, args...))
		if err := execute(root); err == nil {
			t.Fatalf("%v: expected an error", args)
		}
	}
}

func TestParseIndex(t *testing.T) {
	if i, err := parseIndex("3"); err != nil || i != 3 {
		t.Fatalf("parseIndex(3) = %d, %v", i, err)
	}
	for _, s := range []string{"", "-1", "a"} {
		if _, err := parseIndex(s); err == nil {
			t.Fatalf("parseIndex(%q) should fail", s)
		}
	}
}
