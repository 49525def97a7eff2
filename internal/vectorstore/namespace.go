package vectorstore

import (
	"fmt"
	"regexp"

	"github.com/iapropria/iapropria/internal/config"
)

// tenantIDPattern bounds what may become a namespace. It rejects path
// separators so chromem directories cannot escape their root.
var tenantIDPattern = regexp.MustCompile(`^[a-zA-Z0-9_.@-]{1,64}$`)

// NamespaceResolver maps a tenant to its namespace.
type NamespaceResolver struct {
	mode  string
	fixed string
}

// NewNamespaceResolver returns a resolver for the given mode. Unknown modes
// behave as tenant mode.
func NewNamespaceResolver(mode, fixed string) NamespaceResolver {
	return NamespaceResolver{mode: mode, fixed: fixed}
}

// Namespace returns the namespace for tenantID. The tenant id is required
// in both modes so records always carry their owner.
func (r NamespaceResolver) Namespace(tenantID string) (string, error) {
	if tenantID == "" {
		return "", ErrMissingTenant
	}
	if !tenantIDPattern.MatchString(tenantID) {
		return "", fmt.Errorf("%w: %q", ErrInvalidTenant, tenantID)
	}
	if r.mode == config.NamespaceModeFixed {
		return r.fixed, nil
	}
	return tenantID, nil
}
