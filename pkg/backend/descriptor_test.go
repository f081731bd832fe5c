package backend

import (
	"errors"
	"testing"
	"time"
)

func TestDescriptorKind(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		desc Descriptor
		want TransportKind
	}{
		{
			name: "command only",
			desc: Descriptor{Name: "calc", Command: "python", Args: []string{"-m", "calc"}},
			want: TransportStdio,
		},
		{
			name: "endpoint only",
			desc: Descriptor{Name: "remote", Endpoint: "http://localhost:8080/mcp"},
			want: TransportHTTP,
		},
		{
			name: "command wins over endpoint",
			desc: Descriptor{Name: "both", Command: "server", Endpoint: "http://x/mcp"},
			want: TransportStdio,
		},
		{
			name: "neither",
			desc: Descriptor{Name: "empty"},
			want: "",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			if got := tc.desc.Kind(); got != tc.want {
				t.Errorf("Kind() = %q, want %q", got, tc.want)
			}
		})
	}
}

func TestDescriptorValidate(t *testing.T) {
	t.Parallel()

	valid := Descriptor{Name: "calc", Command: "python", Timeout: 5 * time.Second}
	if err := valid.Validate(); err != nil {
		t.Fatalf("Validate() on valid descriptor: %v", err)
	}

	if err := (Descriptor{Command: "python"}).Validate(); err == nil {
		t.Error("Validate() accepted descriptor without a name")
	}
	if err := (Descriptor{Name: "calc"}).Validate(); err == nil {
		t.Error("Validate() accepted descriptor without a transport")
	}
}

func TestDialRejectsInvalidDescriptor(t *testing.T) {
	t.Parallel()

	_, err := Dial(t.Context(), Descriptor{Name: "no-transport"}, NotificationHandlers{})
	if err == nil {
		t.Fatal("Dial succeeded for descriptor with no transport")
	}
	if errors.Is(err, ErrClosed) {
		t.Errorf("Dial returned ErrClosed for validation failure: %v", err)
	}
}
