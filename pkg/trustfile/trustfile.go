// Package trustfile loads the OpenSSH-format public key list that seeds an
// executord server's trust store with the peers it accepts signed bundles
// from, matching the original implementation's "ssh-ed25519 <base64>
// comment" convention (crypto_utils.rs's format_public_key/from_openssh).
package trustfile

import (
	"bytes"
	"crypto/ed25519"
	"fmt"
	"os"
	"strings"

	"golang.org/x/crypto/ssh"

	"github.com/Jeffrey-P-McAteer/weverywhere/pkg/utils"
)

// Load reads path, a newline-delimited authorized_keys-style file of
// "ssh-ed25519 <base64> [label]" lines, and returns a label -> verifying-key
// map suitable for populating a core.TrustStore. Blank lines and "#"
// comments are skipped by the underlying OpenSSH parser. An entry with no
// comment field is labelled "peer-N" by its 1-based position in the file.
func Load(path string) (map[string]ed25519.PublicKey, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, utils.Wrap(err, "read trust file")
	}

	out := make(map[string]ed25519.PublicKey)
	rest := raw
	n := 0
	for len(bytes.TrimSpace(rest)) > 0 {
		n++
		pub, comment, _, remainder, err := ssh.ParseAuthorizedKey(rest)
		if err != nil {
			return nil, fmt.Errorf("trustfile: entry %d: %w", n, err)
		}

		cryptoPub, ok := pub.(ssh.CryptoPublicKey)
		if !ok {
			return nil, fmt.Errorf("trustfile: entry %d: key type %s exposes no usable public key", n, pub.Type())
		}
		edPub, ok := cryptoPub.CryptoPublicKey().(ed25519.PublicKey)
		if !ok {
			return nil, fmt.Errorf("trustfile: entry %d: expected an ed25519 key, got %s", n, pub.Type())
		}

		label := strings.TrimSpace(comment)
		if label == "" {
			label = fmt.Sprintf("peer-%d", n)
		}
		out[label] = edPub
		rest = remainder
	}
	return out, nil
}

// FormatLine renders pub as a single OpenSSH-compatible authorized_keys
// line labelled with label, for operators assembling a peer's trust file.
func FormatLine(label string, pub ed25519.PublicKey) (string, error) {
	sshPub, err := ssh.NewPublicKey(pub)
	if err != nil {
		return "", utils.Wrap(err, "marshal ssh public key")
	}
	line := strings.TrimSuffix(string(ssh.MarshalAuthorizedKey(sshPub)), "\n")
	if label != "" {
		line += " " + label
	}
	return line, nil
}
