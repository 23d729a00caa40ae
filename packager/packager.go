// Package packager bundles the agent's source tree into a zip archive that
// Agent Engine can install from Cloud Storage.
package packager

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"
	"github.com/spf13/afero"
)

// Layout selects which files end up in the archive.
type Layout struct {
	// PackageDir is walked recursively, relative to the root.
	PackageDir string
	// Extension filters files under PackageDir, including the dot.
	Extension string
	// MetadataFiles are taken from the root when present and stored by bare name.
	MetadataFiles []string
}

// DefaultLayout packages the travel concierge agent.
var DefaultLayout = Layout{
	PackageDir:    "travel_concierge",
	Extension:     ".py",
	MetadataFiles: []string{"pyproject.toml", "README.md"},
}

// Archive is a freshly written temporary zip file. The caller owns Path and
// must remove it.
type Archive struct {
	Path    string
	Entries []string
}

// Build writes a new archive for the tree at root into a temporary file on fsys.
//
// A missing PackageDir is not an error: the archive is produced without source
// entries and a warning is logged.
func Build(fsys afero.Fs, root string, layout Layout, log zerolog.Logger) (archive *Archive, err error) {
	tmp, err := afero.TempFile(fsys, "", "agentdeploy-*.zip")
	if err != nil {
		return nil, fmt.Errorf("packager: failed to create temporary archive: %w", err)
	}
	defer func() {
		if err != nil {
			tmp.Close()
			fsys.Remove(tmp.Name())
		}
	}()

	zfs := newZipFS(tmp)

	packageRoot := filepath.Join(root, layout.PackageDir)
	walkErr := afero.Walk(fsys, packageRoot, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			if path == packageRoot && errors.Is(err, fs.ErrNotExist) {
				log.Warn().Str("dir", packageRoot).Msg("package directory not found, archive will contain no sources")
				return nil
			}
			return err
		}
		if !info.Mode().IsRegular() || filepath.Ext(path) != layout.Extension {
			return nil
		}

		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		return addFile(fsys, zfs, path, filepath.ToSlash(rel), info.Mode().Perm())
	})
	if walkErr != nil {
		return nil, fmt.Errorf("packager: failed to walk %s: %w", packageRoot, walkErr)
	}

	for _, name := range layout.MetadataFiles {
		path := filepath.Join(root, name)
		info, statErr := fsys.Stat(path)
		if statErr != nil || !info.Mode().IsRegular() {
			log.Debug().Str("file", path).Msg("metadata file not present, skipping")
			continue
		}
		if err := addFile(fsys, zfs, path, name, info.Mode().Perm()); err != nil {
			return nil, fmt.Errorf("packager: %w", err)
		}
	}

	if err := zfs.Close(); err != nil {
		return nil, fmt.Errorf("packager: failed to finish archive: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return nil, fmt.Errorf("packager: failed to close archive: %w", err)
	}

	log.Debug().Str("path", tmp.Name()).Int("entries", len(zfs.Entries())).Msg("archive written")
	return &Archive{Path: tmp.Name(), Entries: zfs.Entries()}, nil
}

func addFile(fsys afero.Fs, zfs *zipFS, path, name string, perm fs.FileMode) error {
	data, err := afero.ReadFile(fsys, path)
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", path, err)
	}
	return zfs.WriteFile(name, data, perm)
}
