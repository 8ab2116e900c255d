package main

import (
	"runtime"
	"strings"
	"testing"
)

func TestVersionCommand(t *testing.T) {
	origVersion, origCommit, origDate := Version, GitCommit, BuildDate
	t.Cleanup(func() { Version, GitCommit, BuildDate = origVersion, origCommit, origDate })

	Version = "0.1.0-test"
	GitCommit = "abc123"
	BuildDate = "2026-01-02"

	out, err := execute(t, "version")
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	for _, want := range []string{
		"Turnstile 0.1.0-test",
		"Git Commit: abc123",
		"Build Date: 2026-01-02",
		"Go Version: " + runtime.Version(),
		"OS/Arch: " + runtime.GOOS + "/" + runtime.GOARCH,
	} {
		if !strings.Contains(out, want) {
			t.Errorf("Expected output to contain %q, got:\n%s", want, out)
		}
	}
}

func TestBuildInfo(t *testing.T) {
	info := buildInfo()
	if info.Version != Version {
		t.Errorf("Expected version %q, got %q", Version, info.Version)
	}
	if info.Commit != GitCommit {
		t.Errorf("Expected commit %q, got %q", GitCommit, info.Commit)
	}
	if info.BuildTime != BuildDate {
		t.Errorf("Expected build time %q, got %q", BuildDate, info.BuildTime)
	}
}

func TestCommandsRegistered(t *testing.T) {
	want := map[string]bool{"run": false, "validate": false, "config": false, "check": false, "version": false}
	for _, c := range rootCmd.Commands() {
		if _, ok := want[c.Name()]; ok {
			want[c.Name()] = true
		}
	}
	for name, found := range want {
		if !found {
			t.Errorf("Expected %q command to be registered", name)
		}
	}
}
