// Package modsrc resolves module names to compiled module images. Sources
// plug into a vm.Host's LoadModule.
package modsrc

import (
	"errors"
	"fmt"
	"strings"

	"github.com/chazu/acsvm/vm"
	"github.com/tliron/commonlog"
)

var log = commonlog.GetLogger("acsvm.modsrc")

// Source returns the image bytes of a module. Names are case-insensitive.
// A missing module is reported with an error wrapping vm.ErrModuleNotFound.
type Source interface {
	Image(name string) ([]byte, error)
}

// Lister is implemented by sources that can enumerate their modules.
type Lister interface {
	Names() ([]string, error)
}

// Chain tries each source in order and returns the first image found.
type Chain []Source

// Image implements Source.
func (c Chain) Image(name string) ([]byte, error) {
	for _, src := range c {
		data, err := src.Image(name)
		if err == nil {
			return data, nil
		}
		if !errors.Is(err, vm.ErrModuleNotFound) {
			return nil, err
		}
	}
	return nil, notFound(name)
}

// Names returns the union of the names of every listing source, in source
// order without duplicates.
func (c Chain) Names() ([]string, error) {
	var names []string
	seen := make(map[string]bool)
	for _, src := range c {
		l, ok := src.(Lister)
		if !ok {
			continue
		}
		more, err := l.Names()
		if err != nil {
			return nil, err
		}
		for _, n := range more {
			key := strings.ToLower(n)
			if !seen[key] {
				seen[key] = true
				names = append(names, n)
			}
		}
	}
	return names, nil
}

func notFound(name string) error {
	return fmt.Errorf("%w: %s", vm.ErrModuleNotFound, name)
}
