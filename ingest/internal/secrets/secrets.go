// Package secrets resolves the shared secret registered for each webhook
// kind.
package secrets

import (
	"crypto/subtle"
	"fmt"
	"os"
	"strings"

	"golang.org/x/crypto/bcrypt"
	"gopkg.in/yaml.v3"

	"github.com/telhawk-systems/crm-ingest/common/event"
)

// Lookup returns the secret registered for kind, or false when none is.
type Lookup interface {
	SecretFor(kind event.Kind) (string, bool)
}

// Static is an in-memory registry keyed by webhook_id.
type Static map[event.Kind]string

func (s Static) SecretFor(kind event.Kind) (string, bool) {
	v, ok := s[kind]
	return v, ok && v != ""
}

// FromMap converts a config map into a Static registry.
func FromMap(m map[string]string) Static {
	s := make(Static, len(m))
	for k, v := range m {
		s[event.Kind(k)] = v
	}
	return s
}

// file is the on-disk layout:
//
//	secrets:
//	  lead_ingest: super-secret-123
//	  billing_update: $2a$10$...
type file struct {
	Secrets map[string]string `yaml:"secrets"`
}

// LoadFile reads a YAML secrets file. Kinds outside the closed set are
// rejected so a typo cannot silently disable a webhook.
func LoadFile(path string) (Static, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read secrets file: %w", err)
	}
	var f file
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse secrets file: %w", err)
	}
	for k := range f.Secrets {
		if !event.Kind(k).Valid() {
			return nil, fmt.Errorf("secrets file: unknown webhook_id %q", k)
		}
	}
	return FromMap(f.Secrets), nil
}

// Chain consults each Lookup in order and returns the first hit.
type Chain []Lookup

func (c Chain) SecretFor(kind event.Kind) (string, bool) {
	for _, l := range c {
		if l == nil {
			continue
		}
		if v, ok := l.SecretFor(kind); ok {
			return v, true
		}
	}
	return "", false
}

// Matches reports whether supplied is the registered secret. Registered
// values that look like bcrypt hashes are verified as such; everything else
// is compared in constant time.
func Matches(registered, supplied string) bool {
	if isBcrypt(registered) {
		return bcrypt.CompareHashAndPassword([]byte(registered), []byte(supplied)) == nil
	}
	return subtle.ConstantTimeCompare([]byte(registered), []byte(supplied)) == 1
}

func isBcrypt(s string) bool {
	return strings.HasPrefix(s, "$2a$") || strings.HasPrefix(s, "$2b$") || strings.HasPrefix(s, "$2y$")
}
