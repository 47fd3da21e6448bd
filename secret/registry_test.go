package secret

import (
	"errors"
	"slices"
	"testing"
)

func stubFactory(opts map[string]string) (Provider, error) {
	return &stubProvider{name: "stub", values: opts}, nil
}

func TestRegistry_Register(t *testing.T) {
	tests := []struct {
		name    string
		factory ProviderFactory
		want    error
	}{
		{name: "vault", factory: stubFactory},
		{name: "VAULT", factory: stubFactory, want: ErrDuplicateProvider},
		{name: " ", factory: stubFactory, want: ErrInvalidProvider},
		{name: "nil-factory", want: ErrInvalidProvider},
	}

	reg := NewRegistry()
	for _, tt := range tests {
		if err := reg.Register(tt.name, tt.factory); !errors.Is(err, tt.want) {
			t.Errorf("Register(%q) = %v, want %v", tt.name, err, tt.want)
		}
	}
	if got := reg.List(); !slices.Equal(got, []string{"vault"}) {
		t.Errorf("List() = %v", got)
	}
}

func TestRegistry_Create(t *testing.T) {
	reg := NewRegistry()
	_ = reg.Register("vault", stubFactory)
	_ = reg.Register("broken", func(map[string]string) (Provider, error) {
		return nil, errors.New("no token")
	})

	p, err := reg.Create(" Vault ", map[string]string{"k": "v"})
	if err != nil || p.Name() != "stub" {
		t.Fatalf("Create(vault) = %v, %v", p, err)
	}
	if _, err := reg.Create("missing", nil); !errors.Is(err, ErrProviderNotRegistered) {
		t.Errorf("Create(missing) error = %v", err)
	}
	if _, err := reg.Create("broken", nil); err == nil || err.Error() != `secret: provider "broken": no token` {
		t.Errorf("Create(broken) error = %v", err)
	}
}

func TestNewBuiltinRegistry(t *testing.T) {
	reg := NewBuiltinRegistry()
	if got := reg.List(); !slices.Equal(got, []string{"env", "file"}) {
		t.Errorf("List() = %v, want [env file]", got)
	}

	tests := []struct {
		provider string
		opts     map[string]string
		want     error
	}{
		{provider: "env"},
		{provider: "file", opts: map[string]string{"dir": t.TempDir()}},
		{provider: "file"},
		{provider: "file", opts: map[string]string{"directory": "/tmp"}, want: ErrInvalidProvider},
		{provider: "env", opts: map[string]string{"prefix": "X_"}, want: ErrInvalidProvider},
	}
	for _, tt := range tests {
		p, err := reg.Create(tt.provider, tt.opts)
		if !errors.Is(err, tt.want) {
			t.Errorf("Create(%s, %v) error = %v, want %v", tt.provider, tt.opts, err, tt.want)
			continue
		}
		if err == nil && p.Name() != tt.provider {
			t.Errorf("Create(%s).Name() = %q", tt.provider, p.Name())
		}
	}
}
