package store

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"
)

const (
	trustStoreMagic   = "MI_TRUST1"
	trustStoreEntropy = "mi_e2ee_trust_store_v1"
)

// TrustEntry is one endpoint's pinned certificate fingerprint and
// whether TLS is required for it.
type TrustEntry struct {
	FingerprintHex string
	TLSRequired    bool
}

// TrustStore is the line-oriented server_trust.ini: one
// "host:port = fp_hex[,tls=1]" per endpoint, comments prefixed with
// "#" or ";", keys lowercased when the file is parsed (Put and Get use
// the host as given), sorted by endpoint on rewrite.
// It implements transport.PinStore directly.
type TrustStore struct {
	path   string
	secret SecretStore

	mu      sync.Mutex
	entries map[string]TrustEntry
}

// LoadTrustStore loads and parses path, or starts empty if it does
// not exist yet. secret wraps/unwraps the file on disk; pass
// PassthroughSecretStore{} if no real OS keystore is bound in.
func LoadTrustStore(path string, secret SecretStore) (*TrustStore, error) {
	ts := &TrustStore{path: path, secret: secret, entries: make(map[string]TrustEntry)}

	wrapped, err := ReadFileChecked(path)
	if err != nil {
		if isNotExist(err) {
			return ts, nil
		}
		return nil, err
	}
	if len(wrapped) == 0 {
		return ts, nil
	}
	text, err := secret.Unprotect(trustStoreMagic, trustStoreEntropy, wrapped)
	if err != nil {
		return nil, fmt.Errorf("store: trust store unwrap: %w", err)
	}
	ts.entries = parseTrustStoreText(string(text))

	// Reloaded-and-rewrapped on every load to keep the platform wrap
	// fresh, even when nothing in the content changed.
	if err := ts.saveLocked(); err != nil {
		return nil, err
	}
	return ts, nil
}

// Get implements transport.PinStore.
func (ts *TrustStore) Get(host string) (fingerprintHex string, tlsRequired bool, ok bool) {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	entry, ok := ts.entries[host]
	if !ok {
		return "", false, false
	}
	return entry.FingerprintHex, entry.TLSRequired, true
}

// Put implements transport.PinStore.
func (ts *TrustStore) Put(host, fingerprintHex string, tlsRequired bool) error {
	fp := normalizeFingerprint(fingerprintHex)
	if !isHex64(fp) {
		return fmt.Errorf("store: invalid fingerprint for %s", host)
	}
	ts.mu.Lock()
	defer ts.mu.Unlock()
	ts.entries[host] = TrustEntry{FingerprintHex: fp, TLSRequired: tlsRequired}
	return ts.saveLocked()
}

// saveLocked rewrites the whole file, sorted by endpoint key. Callers
// hold ts.mu.
func (ts *TrustStore) saveLocked() error {
	keys := make([]string, 0, len(ts.entries))
	for k := range ts.entries {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteString("# mi_e2ee client trust store\n")
	b.WriteString("# format: host:port=sha256(cert_der)_hex[,tls=1]\n")
	for _, k := range keys {
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(buildTrustValue(ts.entries[k]))
		b.WriteByte('\n')
	}

	wrapped, err := ts.secret.Protect(trustStoreMagic, trustStoreEntropy, []byte(b.String()))
	if err != nil {
		return fmt.Errorf("store: trust store wrap: %w", err)
	}
	return AtomicWriteFile(ts.path, wrapped)
}

func parseTrustStoreText(text string) map[string]TrustEntry {
	entries := make(map[string]TrustEntry)
	for _, line := range strings.Split(text, "\n") {
		t := strings.TrimSpace(stripInlineComment(line))
		if t == "" {
			continue
		}
		pos := strings.IndexByte(t, '=')
		if pos < 0 {
			continue
		}
		key := strings.TrimSpace(t[:pos])
		val := strings.TrimSpace(t[pos+1:])
		if key == "" || val == "" {
			continue
		}
		entry, ok := parseTrustValue(val)
		if !ok {
			continue
		}
		entries[strings.ToLower(key)] = entry
	}
	return entries
}

func stripInlineComment(line string) string {
	for i, ch := range line {
		if ch != '#' && ch != ';' {
			continue
		}
		if i == 0 || line[i-1] == ' ' || line[i-1] == '\t' {
			return line[:i]
		}
	}
	return line
}

func parseTrustValue(value string) (TrustEntry, bool) {
	parts := strings.Split(value, ",")
	if len(parts) == 0 || strings.TrimSpace(parts[0]) == "" {
		return TrustEntry{}, false
	}
	fp := normalizeFingerprint(parts[0])
	if !isHex64(fp) {
		return TrustEntry{}, false
	}
	entry := TrustEntry{FingerprintHex: fp}
	for _, p := range parts[1:] {
		switch strings.ToLower(strings.TrimSpace(p)) {
		case "tls=1", "tls=true", "tls=on", "tls_required=1", "tls_required=true":
			entry.TLSRequired = true
		}
	}
	return entry, true
}

func buildTrustValue(entry TrustEntry) string {
	if entry.TLSRequired {
		return entry.FingerprintHex + ",tls=1"
	}
	return entry.FingerprintHex
}

func normalizeFingerprint(v string) string {
	return strings.ToLower(strings.TrimSpace(v))
}

func isHex64(v string) bool {
	if len(v) != 64 {
		return false
	}
	for _, c := range v {
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			return false
		}
	}
	return true
}

func isNotExist(err error) bool {
	return errors.Is(err, os.ErrNotExist)
}
