package indexcache

import (
	"os"
	"path/filepath"
	"sort"
	"strings"
	"unicode"

	"github.com/spf13/afero"
)

// PkgEntry is one catalog item discovered under a root: a single package
// distribution file. The cache treats a root's []PkgEntry as an immutable
// value once stored.
type PkgEntry struct {
	Name    string `json:"name"`
	Version string `json:"version"`
	Path    string `json:"path"`    // absolute path to the file
	RelPath string `json:"relPath"` // path relative to the root
}

// archiveSuffixes are the distribution file formats ListPackages indexes,
// longest first so ".tar.gz" wins over ".gz".
var archiveSuffixes = []string{
	".tar.gz",
	".tar.bz2",
	".whl",
	".egg",
	".tgz",
	".zip",
}

// ListPackages walks root and returns an entry for every distribution file
// found, ordered by name, version, then relative path. Dot-directories are
// skipped. It is a ready-made ListFunc producer:
//
//	fn := func(root string) ([]indexcache.PkgEntry, error) {
//	    return indexcache.ListPackages(fs, root)
//	}
func ListPackages(fsys afero.Fs, root string) ([]PkgEntry, error) {
	var entries []PkgEntry

	err := afero.Walk(fsys, root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			if path != root && strings.HasPrefix(info.Name(), ".") {
				return filepath.SkipDir
			}
			return nil
		}

		name, version, ok := ParsePkgFilename(info.Name())
		if !ok {
			return nil
		}

		rel := strings.TrimPrefix(strings.TrimPrefix(path, root), string(os.PathSeparator))
		entries = append(entries, PkgEntry{
			Name:    name,
			Version: version,
			Path:    path,
			RelPath: rel,
		})
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(entries, func(i, j int) bool {
		if entries[i].Name != entries[j].Name {
			return entries[i].Name < entries[j].Name
		}
		if entries[i].Version != entries[j].Version {
			return entries[i].Version < entries[j].Version
		}
		return entries[i].RelPath < entries[j].RelPath
	})
	return entries, nil
}

// ParsePkgFilename extracts the package name and version from a
// distribution filename. Wheels and eggs encode both in fixed positions;
// source archives are split at the first dash followed by a digit.
// Returns ok=false for filenames that are not recognized distributions.
func ParsePkgFilename(filename string) (name, version string, ok bool) {
	var stem, suffix string
	for _, s := range archiveSuffixes {
		if strings.HasSuffix(filename, s) {
			stem = strings.TrimSuffix(filename, s)
			suffix = s
			break
		}
	}
	if suffix == "" {
		return "", "", false
	}

	switch suffix {
	case ".whl", ".egg":
		// name-version-tags...
		fields := strings.SplitN(stem, "-", 3)
		if len(fields) < 2 || fields[0] == "" || fields[1] == "" {
			return "", "", false
		}
		return fields[0], fields[1], true
	default:
		// name-version, where the version starts with a digit
		for i := 1; i+1 < len(stem); i++ {
			if stem[i] == '-' && unicode.IsDigit(rune(stem[i+1])) {
				return stem[:i], stem[i+1:], true
			}
		}
		return "", "", false
	}
}
