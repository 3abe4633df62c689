package modsrc

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// DefaultExt is the file extension of compiled module images.
const DefaultExt = ".o"

// DirSource reads module images from files named <module><Ext> in a list of
// directories. Earlier directories win.
type DirSource struct {
	Dirs []string
	Ext  string
}

// NewDirSource returns a source over dirs using DefaultExt.
func NewDirSource(dirs ...string) *DirSource {
	return &DirSource{Dirs: dirs, Ext: DefaultExt}
}

func (d *DirSource) ext() string {
	if d.Ext == "" {
		return DefaultExt
	}
	return d.Ext
}

// Image implements Source. File names are matched case-insensitively.
func (d *DirSource) Image(name string) ([]byte, error) {
	if name == "" || strings.ContainsAny(name, `/\`) {
		return nil, notFound(name)
	}
	for _, dir := range d.Dirs {
		path, err := d.find(dir, name)
		if err != nil {
			return nil, err
		}
		if path == "" {
			continue
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading module %s: %w", name, err)
		}
		log.Debugf("module %s from %s", name, path)
		return data, nil
	}
	return nil, notFound(name)
}

// find returns the path of the module file in dir, or "" if there is none.
func (d *DirSource) find(dir, name string) (string, error) {
	want := name + d.ext()
	exact := filepath.Join(dir, want)
	if _, err := os.Stat(exact); err == nil {
		return exact, nil
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return "", nil
		}
		return "", fmt.Errorf("scanning %s: %w", dir, err)
	}
	for _, e := range entries {
		if !e.IsDir() && strings.EqualFold(e.Name(), want) {
			return filepath.Join(dir, e.Name()), nil
		}
	}
	return "", nil
}

// Names implements Lister. Names shadowed by an earlier directory are
// listed once.
func (d *DirSource) Names() ([]string, error) {
	var names []string
	seen := make(map[string]bool)
	for _, dir := range d.Dirs {
		entries, err := os.ReadDir(dir)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return nil, fmt.Errorf("scanning %s: %w", dir, err)
		}
		for _, e := range entries {
			if e.IsDir() || !strings.EqualFold(filepath.Ext(e.Name()), d.ext()) {
				continue
			}
			n := strings.TrimSuffix(e.Name(), filepath.Ext(e.Name()))
			if key := strings.ToLower(n); !seen[key] {
				seen[key] = true
				names = append(names, n)
			}
		}
	}
	sort.Strings(names)
	return names, nil
}
