// Package idmap implements the pure translation rules between NNTP
// identities and BP7 identities. Every function here is
// total and deterministic; none of them touch the network or the store.
package idmap

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"

	"golang.org/x/text/unicode/norm"
)

// GroupEndpoint maps a newsgroup name to its BP7 subscription endpoint.
func GroupEndpoint(group string) string {
	return fmt.Sprintf("dtn://%s/~news", group)
}

// EmailToSenderURI maps an NNTP sender address to a BP7 source URI, given
// the node-id reported by the Control Client (form "dtn://<nodeid>/",
// trailing slash preserved).
func EmailToSenderURI(nodeID, email string) (string, error) {
	at := strings.LastIndex(email, "@")
	if at < 0 {
		return "", fmt.Errorf("idmap: %q is not a valid email address", email)
	}
	name, domain := email[:at], email[at+1:]
	return fmt.Sprintf("%smail/%s/%s", nodeID, domain, name), nil
}

// SenderURIToEmail is the inverse of EmailToSenderURI: it strips the
// leading "dtn://" or "//" scheme, splits on "/", and takes the last
// segment as the local part and the second-to-last as the domain.
func SenderURIToEmail(uri string) (string, error) {
	trimmed := strings.TrimPrefix(uri, "dtn://")
	if trimmed == uri {
		trimmed = strings.TrimPrefix(uri, "//")
		if trimmed == uri {
			return "", fmt.Errorf("idmap: %q does not begin with dtn:// or //", uri)
		}
	}
	parts := strings.Split(trimmed, "/")
	if len(parts) < 2 {
		return "", fmt.Errorf("idmap: %q has too few path segments for a sender URI", uri)
	}
	name := parts[len(parts)-1]
	domain := parts[len(parts)-2]
	if name == "" || domain == "" {
		return "", fmt.Errorf("idmap: %q yields an empty name or domain", uri)
	}
	return fmt.Sprintf("%s@%s", name, domain), nil
}

// BundleIDToMessageID derives the canonical NNTP message-id from a DTND
// bundle-id of the form "<src>-<ts>-<seq>" (rsplit on "-" with at most 2
// splits). This is the single join key used by both ingestion and the
// backchannel reconciler.
func BundleIDToMessageID(bundleID string) (string, error) {
	src, ts, seq, err := splitBundleID(bundleID)
	if err != nil {
		return "", err
	}
	srcLike := srcToDashForm(src)
	return fmt.Sprintf("<%s-%s@%s.dtn>", ts, seq, srcLike), nil
}

// splitBundleID performs the rsplit-on-"-" with a maximum of 2 splits:
// the final two "-"-delimited fields are the timestamp and sequence
// number, and everything before them is the source, verbatim, even if
// the source itself contains "-".
func splitBundleID(bundleID string) (src, ts, seq string, err error) {
	lastDash := strings.LastIndex(bundleID, "-")
	if lastDash < 0 {
		return "", "", "", fmt.Errorf("idmap: %q is not a valid bundle-id", bundleID)
	}
	seq = bundleID[lastDash+1:]
	rest := bundleID[:lastDash]

	secondDash := strings.LastIndex(rest, "-")
	if secondDash < 0 {
		return "", "", "", fmt.Errorf("idmap: %q is not a valid bundle-id", bundleID)
	}
	ts = rest[secondDash+1:]
	src = rest[:secondDash]
	if src == "" || ts == "" || seq == "" {
		return "", "", "", fmt.Errorf("idmap: %q yields an empty field", bundleID)
	}
	return src, ts, seq, nil
}

// srcToDashForm strips a leading "dtn://" or "//" and replaces every
// remaining "/" with "-", producing the src-like component of a message-id.
func srcToDashForm(src string) string {
	s := strings.TrimPrefix(src, "dtn://")
	s = strings.TrimPrefix(s, "//")
	return strings.ReplaceAll(s, "/", "-")
}

// SpoolHash computes the deterministic join key between an outbound post
// and its backchannel acknowledgement. Text is
// normalized to NFC first so that a body that round-trips through a
// Unicode-insensitive transport (which may re-encode combining sequences)
// still hashes identically on both sides.
func SpoolHash(source, destination, subject, body, references string) string {
	joined := norm.NFC.String(source) + "+" +
		norm.NFC.String(destination) + "+" +
		norm.NFC.String(subject) + "+" +
		norm.NFC.String(body) + "+" +
		norm.NFC.String(references)
	sum := sha256.Sum256([]byte(joined))
	return hex.EncodeToString(sum[:])
}
