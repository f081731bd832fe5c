package aggregator

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/nradchenko/mcp-aggregator-go/pkg/backend"
)

// DefaultSeparator joins a namespace prefix to a native identifier.
const DefaultSeparator = "_"

const maxDerivedPrefixLen = 30

// PrefixPolicy decides the namespace prefix for each mounted backend and
// converts between native and namespaced identifiers. The zero value uses
// DefaultSeparator.
type PrefixPolicy struct {
	Separator string
}

func (p PrefixPolicy) sep() string {
	if p.Separator == "" {
		return DefaultSeparator
	}
	return p.Separator
}

// Compute returns the prefix for a descriptor. An explicitly configured
// prefix is used as-is and must not contain the separator. Otherwise the
// prefix is derived from the backend name with every character the
// namespacing scheme cannot carry stripped; derivation never fails.
func (p PrefixPolicy) Compute(desc backend.Descriptor) (string, error) {
	sep := p.sep()
	if desc.Prefix != "" {
		if strings.Contains(desc.Prefix, sep) {
			return "", fmt.Errorf("%w: %q contains separator %q", ErrInvalidPrefix, desc.Prefix, sep)
		}
		return desc.Prefix, nil
	}
	return derivePrefix(desc.Name), nil
}

// derivePrefix maps an arbitrary backend name to a safe prefix: lowercase
// alphanumerics only, "srv" prepended when the result would start with a
// digit, "server" when nothing survives, capped at 30 characters.
func derivePrefix(name string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(name) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		}
	}
	out := b.String()
	if out == "" {
		return "server"
	}
	if out[0] >= '0' && out[0] <= '9' {
		out = "srv" + out
	}
	if len(out) > maxDerivedPrefixLen {
		out = out[:maxDerivedPrefixLen]
	}
	return out
}

// Namespaced joins prefix and native name. An empty prefix exposes the name
// unchanged.
func (p PrefixPolicy) Namespaced(prefix, name string) string {
	if prefix == "" {
		return name
	}
	return prefix + p.sep() + name
}

// Split inverts Namespaced on the first separator occurrence. Names without
// a separator belong to an unprefixed backend: the prefix comes back empty.
func (p PrefixPolicy) Split(namespaced string) (prefix, name string) {
	before, after, found := strings.Cut(namespaced, p.sep())
	if !found {
		return "", namespaced
	}
	return before, after
}

// NamespacedURI maps a backend resource URI to the URI exposed on the
// frontend. Resource URIs cannot take the plain prefix+separator form (the
// result would not parse as a URI), so they are wrapped in a dedicated
// scheme carrying the prefix. An empty prefix exposes the URI unchanged.
func (p PrefixPolicy) NamespacedURI(prefix, uri string) string {
	if prefix == "" {
		return uri
	}
	return fmt.Sprintf("mcpaggregator+%s/resources::%s", url.PathEscape(prefix), uri)
}

// NativeURI inverts NamespacedURI for the given prefix, reporting whether
// the URI carried that prefix.
func (p PrefixPolicy) NativeURI(prefix, namespacedURI string) (string, bool) {
	if prefix == "" {
		return namespacedURI, true
	}
	marker := fmt.Sprintf("mcpaggregator+%s/resources::", url.PathEscape(prefix))
	if !strings.HasPrefix(namespacedURI, marker) {
		return "", false
	}
	return strings.TrimPrefix(namespacedURI, marker), true
}
