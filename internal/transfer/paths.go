package transfer

import (
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// entry is one file or directory that will appear in a Download tar stream,
// named relative to its resolved logical root.
type entry struct {
	archiveName string // "/"-separated, trailing "/" for directories
	fsPath      string
	size        int64
	isDir       bool
}

// resolveEntries implements the path-resolution rules shared by Download
// and the Size Probe:
//
//	(a) a name containing '*' or '?' is expanded as a glob rooted at the
//	    parent directory; matching directories are expanded recursively.
//	(b) a plain directory includes all descendants, rooted at itself.
//	(c) a plain file is the single entry, rooted at its parent directory.
func resolveEntries(path string) ([]entry, error) {
	if strings.ContainsAny(filepath.Base(path), "*?") {
		return resolveGlob(path)
	}

	info, err := os.Lstat(path)
	if err != nil {
		return nil, err
	}

	if info.IsDir() {
		var entries []entry
		if err := walkChildren(path, "", &entries); err != nil {
			return nil, err
		}
		return entries, nil
	}

	return []entry{{
		archiveName: filepath.Base(path),
		fsPath:      path,
		size:        info.Size(),
		isDir:       false,
	}}, nil
}

// resolveGlob expands a glob pattern rooted at its parent directory.
func resolveGlob(pattern string) ([]entry, error) {
	root := filepath.Dir(pattern)

	matches, err := filepath.Glob(pattern)
	if err != nil {
		return nil, err
	}
	sort.Strings(matches)

	var entries []entry
	for _, m := range matches {
		rel, err := filepath.Rel(root, m)
		if err != nil {
			return nil, err
		}
		if err := addEntry(m, rel, &entries); err != nil {
			return nil, err
		}
	}
	return entries, nil
}

// addEntry adds fsPath (named archRel, "/"-separated) to entries. If
// fsPath is a directory, it recurses into its children.
func addEntry(fsPath, archRel string, entries *[]entry) error {
	info, err := os.Lstat(fsPath)
	if err != nil {
		return err
	}

	name := filepath.ToSlash(archRel)

	if info.IsDir() {
		*entries = append(*entries, entry{archiveName: name + "/", fsPath: fsPath, isDir: true})
		return walkChildren(fsPath, archRel, entries)
	}

	*entries = append(*entries, entry{archiveName: name, fsPath: fsPath, size: info.Size(), isDir: false})
	return nil
}

// walkChildren lists dirPath's immediate children and adds an entry (and,
// for subdirectories, recurses) for each, under archBase joined with the
// child's own name. archBase is "" when dirPath is itself the logical root.
func walkChildren(dirPath, archBase string, entries *[]entry) error {
	children, err := os.ReadDir(dirPath)
	if err != nil {
		return err
	}
	sort.Slice(children, func(i, j int) bool { return children[i].Name() < children[j].Name() })

	for _, c := range children {
		childArchRel := c.Name()
		if archBase != "" {
			childArchRel = filepath.Join(archBase, c.Name())
		}
		if err := addEntry(filepath.Join(dirPath, c.Name()), childArchRel, entries); err != nil {
			return err
		}
	}
	return nil
}
