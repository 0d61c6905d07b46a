package main

import (
	"os"
	"path/filepath"
	"testing"
)

func TestValidateAcceptsAPrivateNonEmptyFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "remotepass")
	if err := os.WriteFile(path, []byte("hunter2\n"), 0600); err != nil {
		t.Fatalf("write fixture: %v", err)
	}
	if err := validate(path); err != nil {
		t.Errorf("validate: %v", err)
	}
}

func TestValidateRejectsGroupReadableFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "remotepass")
	if err := os.WriteFile(path, []byte("hunter2\n"), 0640); err != nil {
		t.Fatalf("write fixture: %v", err)
	}
	if err := validate(path); err == nil {
		t.Error("validate: want an error for a group-readable file")
	}
}

func TestValidateRejectsEmptyFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "remotepass")
	if err := os.WriteFile(path, nil, 0600); err != nil {
		t.Fatalf("write fixture: %v", err)
	}
	if err := validate(path); err == nil {
		t.Error("validate: want an error for an empty file")
	}
}

func TestValidateRejectsMissingFile(t *testing.T) {
	if err := validate(filepath.Join(t.TempDir(), "missing")); err == nil {
		t.Error("validate: want an error for a missing file")
	}
}
