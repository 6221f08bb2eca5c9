package secmem

import (
	"fmt"
	"io"
	"sync"
	"sync/atomic"

	"github.com/framefault/recorder/internal/logging"
)

var log = logging.L("secmem")

// SecureString holds sensitive data (the database passphrase) with
// best-effort memory zeroing. Go's GC may copy the backing array before a
// Zero() call reaches it, so this is defense-in-depth, not a guarantee.
//
// Every formatting/serialization path (String, GoString, MarshalJSON,
// MarshalText) is redacted by design so a SecureString can be embedded in
// a Config struct or logged with %+v without leaking the passphrase.
// Reveal is the one escape hatch, used only at the point the plaintext is
// actually needed (building the DB DSN).
type SecureString struct {
	mu         sync.Mutex
	data       []byte
	warnedOnce atomic.Bool
}

// NewSecureString creates a SecureString from the given string.
func NewSecureString(s string) *SecureString {
	b := make([]byte, len(s))
	copy(b, s)
	return &SecureString{data: b}
}

// Reveal returns the plaintext value. Returns "" once the token has been
// zeroed, logging a one-time warning so a caller relying on a post-Zero
// value notices in its logs instead of silently getting an empty string.
func (s *SecureString) Reveal() string {
	if s == nil {
		return ""
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.data == nil {
		if !s.warnedOnce.Swap(true) {
			log.Warn("secure string revealed after it was zeroed")
		}
		return ""
	}
	return string(s.data)
}

// IsZeroed reports whether Zero has been called.
func (s *SecureString) IsZeroed() bool {
	if s == nil {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.data == nil
}

// String always returns a redacted placeholder; use Reveal for the
// plaintext.
func (s *SecureString) String() string { return "[REDACTED]" }

// GoString redacts %#v formatting the same way String redacts %v/%s.
func (s *SecureString) GoString() string { return "[REDACTED]" }

// Format implements fmt.Formatter so every verb (%s, %v, %+v, %#v, %q)
// redacts identically instead of %q additionally quoting Stringer output.
func (s *SecureString) Format(f fmt.State, verb rune) {
	io.WriteString(f, "[REDACTED]")
}

// MarshalJSON redacts the value so it never round-trips through a config
// dump or API response.
func (s *SecureString) MarshalJSON() ([]byte, error) {
	return []byte(`"[REDACTED]"`), nil
}

// UnmarshalJSON always fails: a SecureString is never meant to be
// populated from serialized config/API input, only from an environment
// variable via NewSecureString.
func (s *SecureString) UnmarshalJSON(b []byte) error {
	return fmt.Errorf("secmem: SecureString cannot be unmarshaled from JSON")
}

// MarshalText redacts the value for encoding.TextMarshaler consumers
// (YAML/TOML libraries that fall back to it).
func (s *SecureString) MarshalText() ([]byte, error) {
	return []byte("[REDACTED]"), nil
}

// Zero overwrites the backing byte slice with zeros and clears it.
func (s *SecureString) Zero() {
	if s == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.data {
		s.data[i] = 0
	}
	s.data = nil
}
