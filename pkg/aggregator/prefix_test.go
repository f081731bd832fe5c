package aggregator

import (
	"errors"
	"net/url"
	"strings"
	"testing"

	"github.com/nradchenko/mcp-aggregator-go/pkg/backend"
)

func TestPrefixPolicyCompute(t *testing.T) {
	t.Parallel()

	policy := PrefixPolicy{}

	cases := []struct {
		name string
		desc backend.Descriptor
		want string
	}{
		{"explicit prefix", backend.Descriptor{Name: "calc", Prefix: "math"}, "math"},
		{"derived simple", backend.Descriptor{Name: "calc"}, "calc"},
		{"derived strips separator", backend.Descriptor{Name: "my_calc"}, "mycalc"},
		{"derived strips punctuation", backend.Descriptor{Name: "web-search.v2"}, "websearchv2"},
		{"derived lowercases", backend.Descriptor{Name: "WebSearch"}, "websearch"},
		{"digit leading", backend.Descriptor{Name: "7zip"}, "srv7zip"},
		{"nothing survives", backend.Descriptor{Name: "___"}, "server"},
		{"caps length", backend.Descriptor{Name: strings.Repeat("a", 64)}, strings.Repeat("a", 30)},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			got, err := policy.Compute(tc.desc)
			if err != nil {
				t.Fatalf("Compute: %v", err)
			}
			if got != tc.want {
				t.Errorf("Compute(%q) = %q, want %q", tc.desc.Name, got, tc.want)
			}
		})
	}
}

func TestPrefixPolicyComputeRejectsSeparatorInExplicitPrefix(t *testing.T) {
	t.Parallel()

	policy := PrefixPolicy{}
	_, err := policy.Compute(backend.Descriptor{Name: "calc", Prefix: "my_calc"})
	if !errors.Is(err, ErrInvalidPrefix) {
		t.Fatalf("Compute = %v, want ErrInvalidPrefix", err)
	}
}

func TestPrefixPolicyNamespacedSplitRoundTrip(t *testing.T) {
	t.Parallel()

	policy := PrefixPolicy{}

	cases := []struct {
		prefix, name string
	}{
		{"calc", "add"},
		{"calc", "add_numbers"}, // separator inside the native name
		{"", "add"},
	}
	for _, tc := range cases {
		namespaced := policy.Namespaced(tc.prefix, tc.name)
		prefix, name := policy.Split(namespaced)
		if prefix != tc.prefix || name != tc.name {
			t.Errorf("Split(Namespaced(%q, %q)) = (%q, %q)", tc.prefix, tc.name, prefix, name)
		}
	}

	if got := policy.Namespaced("", "add"); got != "add" {
		t.Errorf("Namespaced with empty prefix = %q, want %q", got, "add")
	}
}

func TestPrefixPolicySplitFirstOccurrence(t *testing.T) {
	t.Parallel()

	policy := PrefixPolicy{}
	prefix, name := policy.Split("calc_add_numbers")
	if prefix != "calc" || name != "add_numbers" {
		t.Errorf("Split = (%q, %q), want (calc, add_numbers)", prefix, name)
	}
}

func TestPrefixPolicyNamespacedURIRoundTrip(t *testing.T) {
	t.Parallel()

	policy := PrefixPolicy{}

	namespaced := policy.NamespacedURI("calc", "file:///readme.md")
	if namespaced != "mcpaggregator+calc/resources::file:///readme.md" {
		t.Fatalf("NamespacedURI = %q", namespaced)
	}
	// The exposed form must stay parseable: a scheme-bearing native URI
	// cannot simply get a name prefix glued on.
	if _, err := url.Parse(namespaced); err != nil {
		t.Fatalf("namespaced URI does not parse: %v", err)
	}

	native, ok := policy.NativeURI("calc", namespaced)
	if !ok || native != "file:///readme.md" {
		t.Errorf("NativeURI = (%q, %v), want original URI", native, ok)
	}
	if _, ok := policy.NativeURI("docs", namespaced); ok {
		t.Error("NativeURI accepted a foreign prefix")
	}

	if got := policy.NamespacedURI("", "file:///readme.md"); got != "file:///readme.md" {
		t.Errorf("NamespacedURI with empty prefix = %q, want unchanged", got)
	}
}

func TestPrefixPolicyCustomSeparator(t *testing.T) {
	t.Parallel()

	policy := PrefixPolicy{Separator: "__"}
	namespaced := policy.Namespaced("calc", "add")
	if namespaced != "calc__add" {
		t.Fatalf("Namespaced = %q", namespaced)
	}
	prefix, name := policy.Split(namespaced)
	if prefix != "calc" || name != "add" {
		t.Errorf("Split = (%q, %q)", prefix, name)
	}
}
