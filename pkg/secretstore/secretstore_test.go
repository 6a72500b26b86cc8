package secretstore

import (
	"strings"
	"testing"
)

func TestStore_SetGetDelete(t *testing.T) {
	key, err := ParseKey(strings.Repeat("ab", 32))
	if err != nil {
		t.Fatalf("ParseKey: %v", err)
	}
	s, err := Open(OpenOptions{Path: t.TempDir(), EncryptionKey: key})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer s.Close()

	if _, found, err := s.Get("missing"); err != nil || found {
		t.Fatalf("expected not found, got found=%v err=%v", found, err)
	}
	if err := s.SetString("k", ""); err != nil {
		t.Fatalf("SetString: %v", err)
	}
	if v, found, err := s.GetString("k"); err != nil || !found || v != "" {
		t.Fatalf("empty value must be found: %q %v %v", v, found, err)
	}
	if err := s.Set("k", []byte("v1")); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if v, _, _ := s.GetString("k"); v != "v1" {
		t.Fatalf("got %q", v)
	}
	if err := s.Delete("k"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, found, _ := s.Get("k"); found {
		t.Fatalf("expected deleted")
	}
	if err := s.Delete("k"); err != nil {
		t.Fatalf("Delete missing key: %v", err)
	}
}

func TestParseKey(t *testing.T) {
	if k, err := ParseKey(""); err != nil || k != nil {
		t.Fatalf("empty input must return nil key")
	}
	if _, err := ParseKey("abcd"); err == nil {
		t.Fatalf("short key must fail")
	}
}
