package main

import (
	"bufio"
	"bytes"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/muurk/orvibo-relay/internal/protocol"
	"github.com/muurk/orvibo-relay/internal/session"
)

var sessionKeys []string

// decodeCmd decodes captured relay packets
var decodeCmd = &cobra.Command{
	Use:   "decode [file]",
	Short: "Decode captured relay packets",
	Long: `Decode relay packets given as hex, one packet per line, from a file or
stdin. Bootstrap (pk) packets are decrypted with the default key; session
(dk) packets need their session key passed with --key.

Blank lines and lines starting with '#' are skipped. Whitespace and ':'
inside a line are ignored, so Wireshark style dumps can be pasted as is.`,
	Example: `  # Decode a capture file
  orvibo-relay decode capture.txt --key S1=0123456789abcdef

  # Decode a single packet
  echo 6864... | orvibo-relay decode`,
	Args: cobra.MaximumNArgs(1),
	RunE: runDecode,
}

func init() {
	decodeCmd.Flags().StringArrayVar(&sessionKeys, "key", nil, "Session key as <session-id>=<key> (repeatable)")
	rootCmd.AddCommand(decodeCmd)
}

func runDecode(cmd *cobra.Command, args []string) error {
	store, err := keyStore(sessionKeys)
	if err != nil {
		return err
	}

	in := cmd.InOrStdin()
	if len(args) == 1 {
		f, err := os.Open(args[0])
		if err != nil {
			return fmt.Errorf("failed to open capture: %w", err)
		}
		defer func() { _ = f.Close() }()
		in = f
	}

	failed, err := decodeLines(in, cmd.OutOrStdout(), store)
	if err != nil {
		return err
	}
	if failed > 0 {
		return fmt.Errorf("%d packet(s) could not be decoded", failed)
	}
	return nil
}

func keyStore(pairs []string) (*session.Store, error) {
	store := session.NewStore()
	for _, kv := range pairs {
		id, key, ok := strings.Cut(kv, "=")
		if !ok || id == "" || key == "" {
			return nil, fmt.Errorf("invalid --key %q (expected <session-id>=<key>)", kv)
		}
		store.Put(id, []byte(key))
	}
	return store, nil
}

// decodeLines decodes every packet line from r and reports how many failed.
func decodeLines(r io.Reader, w io.Writer, keys protocol.KeyResolver) (int, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*protocol.MaxPacketSize)

	n, failed := 0, 0
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		n++

		raw, err := hex.DecodeString(strings.NewReplacer(" ", "", "\t", "", ":", "").Replace(line))
		if err != nil {
			fmt.Fprintf(w, "#%d: invalid hex: %v\n\n", n, err)
			failed++
			continue
		}

		pkt, err := protocol.Decode(raw, keys)
		if err != nil {
			fmt.Fprintf(w, "#%d: %d bytes: %v\n\n", n, len(raw), err)
			failed++
			continue
		}

		fmt.Fprintf(w, "#%d: %s %s\n", n, pkt, protocol.CommandName(pkt.Message.Cmd))
		var pretty bytes.Buffer
		if err := json.Indent(&pretty, pkt.Payload, "", "  "); err != nil {
			pretty.Reset()
			pretty.Write(pkt.Payload)
		}
		fmt.Fprintf(w, "%s\n\n", pretty.String())
	}
	if err := scanner.Err(); err != nil {
		return failed, fmt.Errorf("failed to read capture: %w", err)
	}
	return failed, nil
}
