// Package sqlguard validates identifiers before they are interpolated into
// SQL text. Table and column names come from Dataverse metadata and config
// files, and identifiers cannot be bound as query parameters, so every
// dynamic name passes through here before reaching a statement.
package sqlguard

import (
	"fmt"
	"regexp"

	libinjection "github.com/corazawaf/libinjection-go"

	"github.com/vantera-data/dataverse-sync/pkg/apperrors"
)

// identPattern is the only shape an identifier may take. Everything that
// could terminate or extend a statement (quotes, semicolons, whitespace,
// comment markers) is outside this set.
var identPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// maxIdentifierLength matches PostgreSQL's NAMEDATALEN-1. SQLite is more
// permissive but the shared bound keeps DDL portable.
const maxIdentifierLength = 63

// ValidIdentifier returns nil when name is safe to interpolate into SQL as
// a table or column name, or an error wrapping apperrors.ErrUnsafeIdentifier.
func ValidIdentifier(name string) error {
	if name == "" {
		return fmt.Errorf("%w: empty identifier", apperrors.ErrUnsafeIdentifier)
	}
	if len(name) > maxIdentifierLength {
		return fmt.Errorf("%w: %q exceeds %d characters", apperrors.ErrUnsafeIdentifier, name, maxIdentifierLength)
	}
	if !identPattern.MatchString(name) {
		return fmt.Errorf("%w: %q contains characters outside [A-Za-z0-9_]", apperrors.ErrUnsafeIdentifier, name)
	}
	// The charset check above already excludes injection syntax; libinjection
	// is a second opinion in case the pattern ever loosens.
	if isSQLi, fingerprint := libinjection.IsSQLi(name); isSQLi {
		return fmt.Errorf("%w: %q matched injection fingerprint %s", apperrors.ErrUnsafeIdentifier, name, string(fingerprint))
	}
	return nil
}

// ValidateAll checks every name and returns the first failure.
func ValidateAll(names ...string) error {
	for _, name := range names {
		if err := ValidIdentifier(name); err != nil {
			return err
		}
	}
	return nil
}
