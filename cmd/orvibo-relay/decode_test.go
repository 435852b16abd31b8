package main

import (
	"bytes"
	"encoding/hex"
	"strings"
	"testing"

	"github.com/muurk/orvibo-relay/internal/protocol"
)

func TestKeyStore(t *testing.T) {
	store, err := keyStore([]string{"S1=0123456789abcdef"})
	if err != nil {
		t.Fatalf("keyStore() error = %v", err)
	}
	if key, ok := store.Key("S1"); !ok || string(key) != "0123456789abcdef" {
		t.Errorf("Key(S1) = %q, %v", key, ok)
	}

	for _, bad := range []string{"S1", "=key", "S1="} {
		if _, err := keyStore([]string{bad}); err == nil {
			t.Errorf("keyStore(%q) should fail", bad)
		}
	}
}

func TestDecodeLines(t *testing.T) {
	hello, err := protocol.Encode(protocol.BuildHello(), "", nil)
	if err != nil {
		t.Fatalf("Encode(hello) error = %v", err)
	}
	heartbeat, err := protocol.Encode(protocol.BuildHeartbeat(), "S1", []byte("0123456789abcdef"))
	if err != nil {
		t.Fatalf("Encode(heartbeat) error = %v", err)
	}

	spaced := strings.Join(splitEvery(hex.EncodeToString(heartbeat), 2), " ")
	input := strings.Join([]string{
		"# capture",
		hex.EncodeToString(hello),
		"",
		spaced,
		"zz",
	}, "\n")

	store, _ := keyStore([]string{"S1=0123456789abcdef"})
	var out bytes.Buffer
	failed, err := decodeLines(strings.NewReader(input), &out, store)
	if err != nil {
		t.Fatalf("decodeLines() error = %v", err)
	}
	if failed != 1 {
		t.Errorf("failed = %d, want 1 (the invalid hex line)", failed)
	}

	got := out.String()
	for _, want := range []string{
		"#1: ", protocol.CommandName(protocol.CmdHello),
		"#2: ", protocol.CommandName(protocol.CmdHeartbeat), `"cmd": 32`,
		"#3: invalid hex",
	} {
		if !strings.Contains(got, want) {
			t.Errorf("output missing %q:\n%s", want, got)
		}
	}
}

func TestDecodeLinesUnknownSession(t *testing.T) {
	pkt, err := protocol.Encode(protocol.BuildHeartbeat(), "S9", []byte("0123456789abcdef"))
	if err != nil {
		t.Fatalf("Encode() error = %v", err)
	}
	store, _ := keyStore(nil)

	var out bytes.Buffer
	failed, err := decodeLines(strings.NewReader(hex.EncodeToString(pkt)), &out, store)
	if err != nil {
		t.Fatalf("decodeLines() error = %v", err)
	}
	if failed != 1 {
		t.Errorf("failed = %d, want 1", failed)
	}
}

func splitEvery(s string, n int) []string {
	var parts []string
	for len(s) > n {
		parts = append(parts, s[:n])
		s = s[n:]
	}
	return append(parts, s)
}
