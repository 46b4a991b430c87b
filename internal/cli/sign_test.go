package cli

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/base64"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"ideaforge/api/internal/auth"
)

type singleKey struct {
	id  string
	pub ed25519.PublicKey
}

func (k singleKey) AgentPublicKey(_ context.Context, agentID string) (string, error) {
	if agentID != k.id {
		return "", auth.ErrUnknownAgent
	}
	return auth.EncodePublicKey(k.pub), nil
}

func TestSignCmdProducesVerifiableHeaders(t *testing.T) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	keyFile := filepath.Join(t.TempDir(), "agent.key")
	if err := os.WriteFile(keyFile, []byte(base64.StdEncoding.EncodeToString(priv.Seed())+"\n"), 0o600); err != nil {
		t.Fatalf("write key: %v", err)
	}

	cmd := SignCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"--key-file", keyFile, "--agent", "agt_1", "--method", "post", "--path", "/api/ideas", "--body", `{"title":"x"}`})
	if err := cmd.Execute(); err != nil {
		t.Fatalf("sign failed: %v", err)
	}

	headers := map[string]string{}
	for _, line := range strings.Split(strings.TrimSpace(out.String()), "\n") {
		name, value, _ := strings.Cut(line, ": ")
		headers[name] = value
	}

	verifier := auth.NewVerifier(singleKey{id: "agt_1", pub: pub}, time.Minute)
	_, err = verifier.Verify(context.Background(), auth.Request{
		Method:    "POST",
		Path:      "/api/ideas",
		Body:      []byte(`{"title":"x"}`),
		AgentID:   headers[auth.HeaderAgentID],
		Signature: headers[auth.HeaderSignature],
		Timestamp: headers[auth.HeaderTimestamp],
	})
	if err != nil {
		t.Fatalf("signed headers did not verify: %v", err)
	}
}

func TestKeygenCmd(t *testing.T) {
	cmd := KeygenCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	if err := cmd.Execute(); err != nil {
		t.Fatalf("keygen failed: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("unexpected output: %q", out.String())
	}
	private := strings.TrimSpace(strings.TrimPrefix(lines[1], "private:"))
	if _, err := auth.ParsePrivateKey(private); err != nil {
		t.Fatalf("generated private key does not parse: %v", err)
	}
}
