package cli

import (
	"bytes"
	"flag"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestParseWrongArgumentCountPrintsUsage(t *testing.T) {
	var out bytes.Buffer
	fs := flag.NewFlagSet("thresholdinplace", flag.ContinueOnError)

	inv, err := parse("thresholdinplace", "<filename>", 1, fs, []string{}, &out)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if inv != nil {
		t.Fatal("expected no invocation for a wrong argument count")
	}
	if !strings.Contains(out.String(), "Usage: thresholdinplace <filename>") {
		t.Errorf("usage not printed, got %q", out.String())
	}
}

func TestParseFlagErrorsReturnInsteadOfExiting(t *testing.T) {
	if NewFlagSet().ErrorHandling() != flag.ContinueOnError {
		t.Fatal("driver flag sets must return parse errors")
	}

	var out bytes.Buffer
	inv, err := parse("segmentationviz", "<in>", 1, NewFlagSet(), []string{"-h"}, &out)
	if err != nil || inv != nil {
		t.Errorf("-h: expected usage only, got %v %v", inv, err)
	}
	if !strings.Contains(out.String(), "Usage: segmentationviz [flags] <in>") {
		t.Errorf("usage not printed for -h, got %q", out.String())
	}

	out.Reset()
	inv, err = parse("segmentationviz", "<in>", 1, NewFlagSet(), []string{"-bogus", "a"}, &out)
	if err != nil || inv != nil {
		t.Errorf("-bogus: expected usage only, got %v %v", inv, err)
	}
	if !strings.Contains(out.String(), "flag provided but not defined: -bogus") {
		t.Errorf("bad flag not reported, got %q", out.String())
	}
}

func TestParseAppliesOverrides(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "cfg.yaml")
	if err := os.WriteFile(cfgPath, []byte("processing:\n  numCores: 2\n"), 0644); err != nil {
		t.Fatal(err)
	}

	var out bytes.Buffer
	fs := flag.NewFlagSet("meshtoimage", flag.ContinueOnError)
	argv := []string{"-config", cfgPath, "-cores", "5", "-v", "a", "b", "c"}

	inv, err := parse("meshtoimage", "<a> <b> <c>", 3, fs, argv, &out)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if inv == nil {
		t.Fatalf("expected an invocation, output: %s", out.String())
	}
	if got := inv.Config.Processing.NumCores; got != 5 {
		t.Errorf("expected -cores to override config, got %d", got)
	}
	if !inv.Config.Output.Verbose {
		t.Error("expected -v to enable verbose output")
	}
	if len(inv.Args) != 3 || inv.Args[2] != "c" {
		t.Errorf("unexpected positional args %v", inv.Args)
	}
}

func TestParseKeepsConfigCores(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "cfg.yaml")
	if err := os.WriteFile(cfgPath, []byte("processing:\n  numCores: 2\n"), 0644); err != nil {
		t.Fatal(err)
	}

	fs := flag.NewFlagSet("x", flag.ContinueOnError)
	inv, err := parse("x", "<a>", 1, fs, []string{"-config", cfgPath, "a"}, &bytes.Buffer{})
	if err != nil || inv == nil {
		t.Fatalf("parse failed: %v", err)
	}
	if inv.Config.Processing.NumCores != 2 {
		t.Errorf("expected config cores 2, got %d", inv.Config.Processing.NumCores)
	}
}
