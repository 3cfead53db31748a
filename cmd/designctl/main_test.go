package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/danmuck/designctl/internal/config"
	"github.com/danmuck/designctl/internal/testutil/testlog"
)

func TestFlagsOverrideConfig(t *testing.T) {
	testlog.Start(t)
	path := filepath.Join(t.TempDir(), "designctl.toml")
	if err := config.WriteTemplate(path, false); err != nil {
		t.Fatalf("write template: %v", err)
	}

	opts, err := parseFlags([]string{"--config", path, "--listen", ":7000", "--engine", "engine.lab:43234"})
	if err != nil {
		t.Fatalf("parse flags: %v", err)
	}
	cfg, err := loadConfig(opts)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.ListenAddr != ":7000" || cfg.Engine.Address != "engine.lab:43234" {
		t.Fatalf("flags not applied: listen=%q engine=%q", cfg.ListenAddr, cfg.Engine.Address)
	}
}

func TestFlagsRequirePDBAndXMLTogether(t *testing.T) {
	testlog.Start(t)
	if _, err := parseFlags([]string{"--pdb", "start.pdb"}); err == nil {
		t.Fatalf("expected error for --pdb without --xml")
	}
	if _, err := parseFlags([]string{"stray"}); err == nil {
		t.Fatalf("expected error for positional argument")
	}
}

func TestLoadAutorunReadsFiles(t *testing.T) {
	testlog.Start(t)
	dir := t.TempDir()
	pdb := filepath.Join(dir, "start.pdb")
	xml := filepath.Join(dir, "run.xml")
	if err := os.WriteFile(pdb, []byte("ATOM"), 0o600); err != nil {
		t.Fatalf("write pdb: %v", err)
	}
	if err := os.WriteFile(xml, []byte("<ROSETTASCRIPTS/>"), 0o600); err != nil {
		t.Fatalf("write xml: %v", err)
	}

	auto, err := loadAutorun(options{pdb: pdb, xml: xml})
	if err != nil {
		t.Fatalf("load autorun: %v", err)
	}
	if auto.Snapshot != "ATOM" || auto.Script != "<ROSETTASCRIPTS/>" {
		t.Fatalf("unexpected autorun: %+v", auto)
	}
	if auto, err := loadAutorun(options{}); err != nil || auto != nil {
		t.Fatalf("expected no autorun without files, got %+v err=%v", auto, err)
	}
	if _, err := loadAutorun(options{pdb: filepath.Join(dir, "missing.pdb"), xml: xml}); err == nil {
		t.Fatalf("expected read error")
	}
}
