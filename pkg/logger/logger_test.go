package logger

import (
	"bytes"
	"strings"
	"testing"

	"github.com/sirupsen/logrus"
)

func TestRedactHook_MasksPrivateKeys(t *testing.T) {
	var buf bytes.Buffer
	l := logrus.New()
	l.SetOutput(&buf)
	l.SetFormatter(&logrus.TextFormatter{DisableColors: true})
	l.AddHook(&redactHook{})

	key := strings.Repeat("1f", 32)
	l.WithField("agent", "0x"+key).Infof("loaded key %s", key)

	out := buf.String()
	if strings.Contains(out, key) {
		t.Fatalf("private key leaked: %s", out)
	}
	if !strings.Contains(out, redacted) {
		t.Fatalf("expected redaction marker: %s", out)
	}
}

func TestRedact_KeepsAddresses(t *testing.T) {
	addr := "0x7b4497c1b70de6546b551bdf8f951da53b71b97d"
	if got := Redact(addr); got != addr {
		t.Fatalf("address must not be redacted: %s", got)
	}
}
