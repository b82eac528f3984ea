package fs

import (
	"errors"
	"strings"

	"github.com/nelson137/blockfs/inode"
)

// ErrInvalidPath is returned for a path that does not start with '/', or
// otherwise fails the basic shape checks in spec.md §4.5/§4.6.
var ErrInvalidPath = errors.New("fs: invalid path")

// splitPath breaks an absolute path into its non-empty components. "/" and
// "///a//b" both split sensibly; empty components from repeated slashes are
// discarded, matching the original's dyn_array-based tokenizer.
func splitPath(path string) ([]string, error) {
	if path == "" || path[0] != '/' {
		return nil, ErrInvalidPath
	}
	parts := strings.Split(path, "/")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p != "" {
			out = append(out, p)
		}
	}
	return out, nil
}

// dirname returns the path of all but the last component. It fails for the
// root, which has no parent.
func dirname(path string) (string, error) {
	parts, err := splitPath(path)
	if err != nil {
		return "", err
	}
	if len(parts) == 0 {
		return "", ErrInvalidPath // root has no parent
	}
	if len(parts) == 1 {
		return "/", nil
	}
	return "/" + strings.Join(parts[:len(parts)-1], "/"), nil
}

// basename returns the last path component. It fails for the root, which
// has no name.
func basename(path string) (string, error) {
	parts, err := splitPath(path)
	if err != nil {
		return "", err
	}
	if len(parts) == 0 {
		return "", ErrInvalidPath // root has no name
	}
	return parts[len(parts)-1], nil
}

// resolve walks from the root inode (inum 0) through find_child for every
// path component, failing if any component is missing or a non-terminal
// component is not a directory.
func (f *FS) resolve(path string) (*inode.Inode, error) {
	parts, err := splitPath(path)
	if err != nil {
		return nil, err
	}

	cur, err := f.readInode(rootInum)
	if err != nil {
		return nil, err
	}

	for _, name := range parts {
		if !cur.IsDir() {
			return nil, ErrNotDir
		}
		childInum, found, err := f.findChild(cur, name)
		if err != nil {
			return nil, err
		}
		if !found {
			return nil, ErrNotFound
		}
		cur, err = f.readInode(int(childInum))
		if err != nil {
			return nil, err
		}
	}
	return cur, nil
}
