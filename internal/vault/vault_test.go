package vault

import (
	"testing"
)

func TestDisabledVaultIsOpen(t *testing.T) {
	v, err := New(false)
	if err != nil {
		t.Fatal(err)
	}
	if v.IsLocked() {
		t.Error("disabled vault should not report locked")
	}
	if err := v.Unlock([]byte("anything")); err != nil {
		t.Errorf("unlock on disabled vault should be a no-op: %v", err)
	}
}

func TestLockedVaultRejectsAccess(t *testing.T) {
	v, _ := New(true)
	if !v.IsLocked() {
		t.Fatal("enabled vault should start locked")
	}
	if err := v.Set("anthropic", "sk-ant-secret"); err == nil {
		t.Error("expected error writing to locked vault")
	}
	if _, err := v.Encrypt([]byte("x")); err == nil {
		t.Error("expected error encrypting with locked vault")
	}
}

func TestUnlockShortPassword(t *testing.T) {
	v, _ := New(true)
	if err := v.Unlock([]byte("short")); err == nil {
		t.Error("expected error for short password")
	}
}

func TestSetGetRoundTrip(t *testing.T) {
	v, _ := New(true)
	if err := v.Unlock([]byte("correct horse battery")); err != nil {
		t.Fatalf("unlock failed: %v", err)
	}

	if err := v.Set("anthropic", "sk-ant-secret"); err != nil {
		t.Fatalf("set failed: %v", err)
	}
	got, err := v.Get("anthropic")
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if got != "sk-ant-secret" {
		t.Errorf("got %q", got)
	}

	if _, err := v.Get("missing"); err == nil {
		t.Error("expected error for missing key")
	}

	v.Delete("anthropic")
	if _, err := v.Get("anthropic"); err == nil {
		t.Error("expected error after delete")
	}
}

func TestLockClearsKey(t *testing.T) {
	v, _ := New(true)
	if err := v.Unlock([]byte("correct horse battery")); err != nil {
		t.Fatal(err)
	}
	if err := v.Set("k", "v"); err != nil {
		t.Fatal(err)
	}

	v.Lock()
	if !v.IsLocked() {
		t.Error("expected locked after Lock")
	}
	if _, err := v.Get("k"); err == nil {
		t.Error("expected error reading from re-locked vault")
	}

	// Unlocking with the same password and salt restores access.
	if err := v.Unlock([]byte("correct horse battery")); err != nil {
		t.Fatal(err)
	}
	got, err := v.Get("k")
	if err != nil {
		t.Fatalf("get after re-unlock failed: %v", err)
	}
	if got != "v" {
		t.Errorf("got %q", got)
	}
}

func TestExportImportWithSalt(t *testing.T) {
	v1, _ := New(true)
	if err := v1.Unlock([]byte("master-password")); err != nil {
		t.Fatal(err)
	}
	if err := v1.Set("openai", "sk-openai"); err != nil {
		t.Fatal(err)
	}

	exported := v1.Export()
	salt := v1.Salt()
	if len(salt) == 0 {
		t.Fatal("expected non-empty salt after unlock")
	}

	// Restore into a fresh vault: salt first, then unlock, then import.
	v2, _ := New(true)
	v2.SetSalt(salt)
	if err := v2.Unlock([]byte("master-password")); err != nil {
		t.Fatal(err)
	}
	if err := v2.Import(exported); err != nil {
		t.Fatalf("import failed: %v", err)
	}

	got, err := v2.Get("openai")
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if got != "sk-openai" {
		t.Errorf("got %q", got)
	}
}

func TestWrongPasswordFailsDecrypt(t *testing.T) {
	v1, _ := New(true)
	if err := v1.Unlock([]byte("master-password")); err != nil {
		t.Fatal(err)
	}
	if err := v1.Set("k", "v"); err != nil {
		t.Fatal(err)
	}

	v2, _ := New(true)
	v2.SetSalt(v1.Salt())
	if err := v2.Unlock([]byte("different-password")); err != nil {
		t.Fatal(err)
	}
	if err := v2.Import(v1.Export()); err != nil {
		t.Fatal(err)
	}
	if _, err := v2.Get("k"); err == nil {
		t.Error("expected decryption failure with wrong password")
	}
}
