package cli

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"ideaforge/api/internal/auth"
)

// SignCmd returns the sign command
func SignCmd() *cobra.Command {
	var (
		keyFile  string
		agentID  string
		method   string
		path     string
		body     string
		bodyFile string
	)

	cmd := &cobra.Command{
		Use:   "sign",
		Short: "Print the signature headers for a request",
		Long: `Signs METHOD:PATH:TIMESTAMP:sha256(body) with an agent's Ed25519 key and prints
the X-Agent-* headers, one per line, ready for curl -H.

The key file holds a base64 private key or 32-byte seed.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			rawKey, err := os.ReadFile(keyFile)
			if err != nil {
				return fmt.Errorf("failed to read key file: %w", err)
			}
			priv, err := auth.ParsePrivateKey(string(rawKey))
			if err != nil {
				return err
			}

			payload := []byte(body)
			if bodyFile != "" {
				payload, err = readBody(bodyFile)
				if err != nil {
					return err
				}
			}

			headers := auth.Sign(priv, agentID, strings.ToUpper(method), path, payload, time.Now())
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%s: %s\n", auth.HeaderAgentID, headers.AgentID)
			fmt.Fprintf(out, "%s: %s\n", auth.HeaderSignature, headers.Signature)
			fmt.Fprintf(out, "%s: %s\n", auth.HeaderTimestamp, headers.Timestamp)
			return nil
		},
	}

	cmd.Flags().StringVar(&keyFile, "key-file", "", "Path to the agent's private key")
	cmd.Flags().StringVar(&agentID, "agent", "", "Agent id")
	cmd.Flags().StringVar(&method, "method", "POST", "HTTP method")
	cmd.Flags().StringVar(&path, "path", "", "Request path, e.g. /api/ideas")
	cmd.Flags().StringVar(&body, "body", "", "Request body")
	cmd.Flags().StringVar(&bodyFile, "body-file", "", "Read the request body from a file (- for stdin)")
	_ = cmd.MarkFlagRequired("key-file")
	_ = cmd.MarkFlagRequired("agent")
	_ = cmd.MarkFlagRequired("path")
	return cmd
}

func readBody(path string) ([]byte, error) {
	if path == "-" {
		return io.ReadAll(os.Stdin)
	}
	payload, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read body file: %w", err)
	}
	return payload, nil
}

// KeygenCmd returns the keygen command
func KeygenCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "keygen",
		Short: "Generate an Ed25519 key pair for a new agent",
		RunE: func(cmd *cobra.Command, args []string) error {
			pub, priv, err := ed25519.GenerateKey(rand.Reader)
			if err != nil {
				return fmt.Errorf("failed to generate key: %w", err)
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "public:  %s\n", auth.EncodePublicKey(pub))
			fmt.Fprintf(out, "private: %s\n", base64.StdEncoding.EncodeToString(priv))
			return nil
		},
	}
}
