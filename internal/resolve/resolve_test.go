package resolve

import (
	"testing"

	"github.com/apex/log"
	"github.com/apex/log/handlers/memory"
	"github.com/blacktop/ilcov/pkg/il"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeModule(t *testing.T, fs afero.Fs, path, name, ver string) {
	t.Helper()
	m := il.NewModule(name+".dll", il.AssemblyName{Name: name, Version: ver}, &il.AssemblyRef{Name: "System.Runtime", Version: "6.0.0.0"})
	img, err := il.Encode(m, nil)
	require.NoError(t, err)
	require.NoError(t, afero.WriteFile(fs, path, img.Module, 0o644))
}

func newResolver(t *testing.T, fs afero.Fs, dirs ...string) (*Resolver, *memory.Handler) {
	t.Helper()
	h := memory.New()
	r, err := New(fs, dirs, &log.Logger{Handler: h, Level: log.DebugLevel})
	require.NoError(t, err)
	return r, h
}

func TestResolveOrder(t *testing.T) {
	fs := afero.NewMemMapFs()
	writeModule(t, fs, "/sdk/Lib.dll", "Lib", "2.0.0.0")
	writeModule(t, fs, "/old/Lib.dll", "Lib", "1.0.0.0")
	writeModule(t, fs, "/out/Ilcov.Support.dll", "Ilcov.Support", "1.0.0.0")
	writeModule(t, fs, "/app/Local.dll", "Local", "0.1.0.0")

	tests := []struct {
		name    string
		dirs    []string
		req     Request
		version string
		wantErr bool
	}{
		{
			name:    "SearchDirectory",
			dirs:    []string{"/old", "/sdk"},
			req:     Request{Ref: &il.AssemblyRef{Name: "Lib", Version: "1.5.0.0"}, From: "/app/App.dll"},
			version: "2.0.0.0",
		},
		{
			name:    "SupportLocation",
			req:     Request{Ref: &il.AssemblyRef{Name: "Ilcov.Support", Version: "1.0.0.0"}, From: "/app/App.dll", Support: "/out/Ilcov.Support.dll"},
			version: "1.0.0.0",
		},
		{
			name:    "SupportVersionMismatch",
			req:     Request{Ref: &il.AssemblyRef{Name: "Ilcov.Support", Version: "9.0.0.0"}, From: "/app/App.dll", Support: "/out/Ilcov.Support.dll"},
			wantErr: true,
		},
		{
			name:    "SameDirectory",
			req:     Request{Ref: &il.AssemblyRef{Name: "Local", Version: "1.0.0.0"}, From: "/app/App.dll"},
			version: "0.1.0.0",
		},
		{
			name:    "Unresolved",
			dirs:    []string{"/sdk"},
			req:     Request{Ref: &il.AssemblyRef{Name: "Missing", Version: "1.0.0.0"}, From: "/app/App.dll"},
			wantErr: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, _ := newResolver(t, fs, tt.dirs...)
			m, err := r.Resolve(tt.req)
			if tt.wantErr {
				var rerr *Error
				require.ErrorAs(t, err, &rerr)
				assert.Equal(t, tt.req.Ref.FullName(), rerr.Reference)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.req.Ref.Name, m.Assembly.Name)
			assert.Equal(t, tt.version, m.Assembly.Version)
		})
	}
}

func TestResolveCache(t *testing.T) {
	fs := afero.NewMemMapFs()
	writeModule(t, fs, "/app/Local.dll", "Local", "1.0.0.0")
	r, _ := newResolver(t, fs)
	req := Request{Ref: &il.AssemblyRef{Name: "Local", Version: "1.0.0.0"}, From: "/app/App.dll"}

	first, err := r.Resolve(req)
	require.NoError(t, err)
	writeModule(t, fs, "/app/Local.dll", "Local", "2.0.0.0")
	second, err := r.Resolve(req)
	require.NoError(t, err)
	assert.Same(t, first, second)

	r.Forget("/app/Local.dll")
	third, err := r.Resolve(req)
	require.NoError(t, err)
	assert.Equal(t, "2.0.0.0", third.Assembly.Version)
}

func TestResolveLogsFailure(t *testing.T) {
	r, h := newResolver(t, afero.NewMemMapFs())
	_, err := r.Resolve(Request{Ref: &il.AssemblyRef{Name: "Missing", Version: "1.0.0.0"}, From: "/app/App.dll"})
	require.Error(t, err)
	require.NotEmpty(t, h.Entries)
	last := h.Entries[len(h.Entries)-1]
	assert.Equal(t, log.ErrorLevel, last.Level)
	assert.Contains(t, last.Message, "Missing")
}
