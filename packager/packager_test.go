package packager

import (
	"io"
	"sort"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/klauspost/compress/zip"
	"github.com/rs/zerolog"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// readArchive returns entry name -> contents for the zip at path.
func readArchive(t *testing.T, fsys afero.Fs, path string) map[string]string {
	t.Helper()
	f, err := fsys.Open(path)
	require.NoError(t, err)
	defer f.Close()

	info, err := f.Stat()
	require.NoError(t, err)

	zr, err := zip.NewReader(f, info.Size())
	require.NoError(t, err)

	contents := make(map[string]string)
	for _, entry := range zr.File {
		assert.Equal(t, zip.Deflate, entry.Method, "entry %s should be deflated", entry.Name)
		rc, err := entry.Open()
		require.NoError(t, err)
		data, err := io.ReadAll(rc)
		rc.Close()
		require.NoError(t, err)
		contents[entry.Name] = string(data)
	}
	return contents
}

func writeTree(t *testing.T, fsys afero.Fs, files map[string]string) {
	t.Helper()
	for path, body := range files {
		require.NoError(t, afero.WriteFile(fsys, path, []byte(body), 0644))
	}
}

func TestBuild(t *testing.T) {
	fsys := afero.NewMemMapFs()
	writeTree(t, fsys, map[string]string{
		"/src/travel_concierge/__init__.py":            "",
		"/src/travel_concierge/agent.py":               "root_agent = None",
		"/src/travel_concierge/sub_agents/planning.py": "# planning",
		"/src/travel_concierge/prompt.txt":             "not python",
		"/src/pyproject.toml":                          "[project]",
		"/src/README.md":                               "# Travel Concierge",
		"/src/deployment/deploy.py":                    "outside the package",
	})

	archive, err := Build(fsys, "/src", DefaultLayout, zerolog.Nop())
	require.NoError(t, err)

	want := map[string]string{
		"travel_concierge/__init__.py":            "",
		"travel_concierge/agent.py":               "root_agent = None",
		"travel_concierge/sub_agents/planning.py": "# planning",
		"pyproject.toml":                          "[project]",
		"README.md":                               "# Travel Concierge",
	}
	got := readArchive(t, fsys, archive.Path)
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("archive contents mismatch (-want +got):\n%s", diff)
	}

	entries := append([]string(nil), archive.Entries...)
	sort.Strings(entries)
	assert.Equal(t, []string{
		"README.md",
		"pyproject.toml",
		"travel_concierge/__init__.py",
		"travel_concierge/agent.py",
		"travel_concierge/sub_agents/planning.py",
	}, entries)
}

func TestBuild_CountsSourcesAndPresentMetadata(t *testing.T) {
	fsys := afero.NewMemMapFs()
	writeTree(t, fsys, map[string]string{
		"/src/travel_concierge/a.py":     "a",
		"/src/travel_concierge/b.py":     "b",
		"/src/travel_concierge/x/c.py":   "c",
		"/src/travel_concierge/x/y/d.py": "d",
		"/src/README.md":                 "readme",
	})

	archive, err := Build(fsys, "/src", DefaultLayout, zerolog.Nop())
	require.NoError(t, err)

	// 4 sources + 1 of the 2 metadata files.
	assert.Len(t, readArchive(t, fsys, archive.Path), 5)
	assert.Len(t, archive.Entries, 5)
}

func TestBuild_MissingPackageDir(t *testing.T) {
	fsys := afero.NewMemMapFs()
	writeTree(t, fsys, map[string]string{
		"/src/pyproject.toml": "[project]",
	})

	archive, err := Build(fsys, "/src", DefaultLayout, zerolog.Nop())
	require.NoError(t, err)

	assert.Equal(t, []string{"pyproject.toml"}, archive.Entries)
	exists, err := afero.Exists(fsys, archive.Path)
	require.NoError(t, err)
	assert.True(t, exists)
}

func TestBuild_EmptyRoot(t *testing.T) {
	fsys := afero.NewMemMapFs()
	require.NoError(t, fsys.MkdirAll("/src", 0755))

	archive, err := Build(fsys, "/src", DefaultLayout, zerolog.Nop())
	require.NoError(t, err)
	assert.Empty(t, archive.Entries)
	assert.Empty(t, readArchive(t, fsys, archive.Path))
}

func TestBuild_CustomLayout(t *testing.T) {
	fsys := afero.NewMemMapFs()
	writeTree(t, fsys, map[string]string{
		"/src/app/main.go":  "package main",
		"/src/app/main.py":  "ignored",
		"/src/go.mod":       "module app",
		"/src/pyproject.ok": "ignored",
	})

	layout := Layout{PackageDir: "app", Extension: ".go", MetadataFiles: []string{"go.mod"}}
	archive, err := Build(fsys, "/src", layout, zerolog.Nop())
	require.NoError(t, err)

	got := readArchive(t, fsys, archive.Path)
	assert.Equal(t, map[string]string{"app/main.go": "package main", "go.mod": "module app"}, got)
}
