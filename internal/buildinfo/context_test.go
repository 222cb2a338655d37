package buildinfo

import (
	"testing"
)

func TestContext_Version(t *testing.T) {
	tests := []struct {
		name string
		ctx  *Context
		want string
	}{
		{
			name: "nil context",
			ctx:  nil,
			want: UnknownValue,
		},
		{
			name: "empty version",
			ctx:  NewContext("", "2024-01-01"),
			want: UnknownValue,
		},
		{
			name: "whitespace only",
			ctx:  NewContext("  \n", "2024-01-01"),
			want: UnknownValue,
		},
		{
			name: "valid version",
			ctx:  NewContext("1.0.0", "2024-01-01"),
			want: "1.0.0",
		},
		{
			name: "version with pre-release tag",
			ctx:  NewContext("1.0.0-beta.1", "2024-01-01"),
			want: "1.0.0-beta.1",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tt.ctx.Version()
			if got != tt.want {
				t.Errorf("Context.Version() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestContext_BuildDate(t *testing.T) {
	tests := []struct {
		name string
		ctx  *Context
		want string
	}{
		{
			name: "nil context",
			ctx:  nil,
			want: UnknownValue,
		},
		{
			name: "empty build date",
			ctx:  NewContext("1.0.0", ""),
			want: UnknownValue,
		},
		{
			name: "valid build date",
			ctx:  NewContext("1.0.0", "2024-01-01T12:00:00Z"),
			want: "2024-01-01T12:00:00Z",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tt.ctx.BuildDate()
			if got != tt.want {
				t.Errorf("Context.BuildDate() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestContext_UserAgentAndRelease(t *testing.T) {
	ctx := NewContext("2.3.1", "")
	if got := ctx.UserAgent(); got != "pam-client/2.3.1" {
		t.Errorf("UserAgent() = %v", got)
	}
	if got := ctx.Release(); got != "pam-client@2.3.1" {
		t.Errorf("Release() = %v", got)
	}

	var unset *Context
	if got := unset.UserAgent(); got != "pam-client/unknown" {
		t.Errorf("nil UserAgent() = %v", got)
	}
}

func TestContext_ImplementsBuildInfo(t *testing.T) {
	var info BuildInfo = NewContext("1.0.0", "today")
	if info.Version() != "1.0.0" || info.BuildDate() != "today" {
		t.Errorf("unexpected build info %v %v", info.Version(), info.BuildDate())
	}
}
