package modsrc

import (
	"github.com/chazu/acsvm/manifest"
)

// Project is the module source of a project: its archive, if any, ahead of
// its module directories, behind an LRU cache.
type Project struct {
	*Cached
	Archive *SQLiteSource
	Dirs    *DirSource
}

// OpenProject builds the module source a manifest describes.
func OpenProject(m *manifest.Manifest) (*Project, error) {
	p := &Project{}
	var chain Chain
	if path := m.ArchivePath(); path != "" {
		archive, err := OpenSQLite(path)
		if err != nil {
			return nil, err
		}
		p.Archive = archive
		chain = append(chain, archive)
	}
	if dirs := m.ModuleDirPaths(); len(dirs) > 0 {
		p.Dirs = NewDirSource(dirs...)
		chain = append(chain, p.Dirs)
	}

	cached, err := NewCached(chain, m.Modules.CacheSize)
	if err != nil {
		p.Close()
		return nil, err
	}
	p.Cached = cached
	return p, nil
}

// Close releases the archive, if one is open.
func (p *Project) Close() error {
	if p.Archive == nil {
		return nil
	}
	return p.Archive.Close()
}
