// acsvm CLI - runs compiled script modules against a console host
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"time"

	"github.com/chazu/acsvm/manifest"
	"github.com/chazu/acsvm/modsrc"
	"github.com/chazu/acsvm/savegame"
	"github.com/chazu/acsvm/vm"
	"github.com/tliron/commonlog"
	_ "github.com/tliron/commonlog/simple"
)

var log = commonlog.GetLogger("acsvm")

func main() {
	projectDir := flag.String("C", ".", "Project directory (searched upwards for acsvm.toml)")
	verbosity := flag.Int("v", -1, "Log verbosity (overrides [log] verbosity)")
	mapNum := flag.Int("map", 0, "Map number to enter (overrides [modules] map)")
	level := flag.String("level", "", "Level module (overrides [modules] level)")
	tics := flag.Int("ticks", vm.TicRate, "Number of tics to run")
	realtime := flag.Bool("realtime", false, "Pace tics at the simulation rate until -ticks or interrupt")
	restore := flag.String("restore", "", "Restore a save file before running")
	save := flag.String("save", "", "Write a save file after running")
	label := flag.String("label", "", "Label stored in the save file")
	disasm := flag.String("disasm", "", "Print a listing of the named module and exit")
	list := flag.Bool("list", false, "List available modules and exit")
	pack := flag.Bool("pack", false, "Copy the module directories into the module archive and exit")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: acsvm [options]\n\n")
		fmt.Fprintf(os.Stderr, "Loads the project's modules, enters its map and runs scripts for a number of tics.\n\n")
		fmt.Fprintf(os.Stderr, "Options:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nExamples:\n")
		fmt.Fprintf(os.Stderr, "  acsvm -ticks 350                   # Run ten seconds of the default map\n")
		fmt.Fprintf(os.Stderr, "  acsvm -map 3 -level MAP03 -realtime # Run map 3 at 35 tics per second\n")
		fmt.Fprintf(os.Stderr, "  acsvm -ticks 100 -save slot1.sav    # Run, then save\n")
		fmt.Fprintf(os.Stderr, "  acsvm -restore slot1.sav -ticks 100 # Continue a save\n")
		fmt.Fprintf(os.Stderr, "  acsvm -disasm MAP01                 # Disassemble a module\n")
		fmt.Fprintf(os.Stderr, "  acsvm -pack                         # Build the module archive\n")
	}
	flag.Parse()

	m, err := loadManifest(*projectDir)
	if err != nil {
		fatal(err)
	}

	v := m.Log.Verbosity
	if *verbosity >= 0 {
		v = *verbosity
	}
	var logPath *string
	if p := m.LogPath(); p != "" {
		logPath = &p
	}
	commonlog.Configure(v, logPath)

	src, err := modsrc.OpenProject(m)
	if err != nil {
		fatal(err)
	}
	defer src.Close()

	switch {
	case *pack:
		err = packArchive(src)
	case *list:
		err = listModules(src)
	case *disasm != "":
		err = disassemble(src, m, *disasm)
	default:
		if *mapNum != 0 {
			m.Modules.Map = int32(*mapNum)
		}
		if *level != "" {
			m.Modules.Level = *level
		}
		err = run(src, m, runConfig{
			tics:     *tics,
			realtime: *realtime,
			restore:  *restore,
			save:     *save,
			label:    *label,
		})
	}
	if err != nil {
		src.Close()
		fatal(err)
	}
}

func fatal(err error) {
	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	os.Exit(1)
}

// loadManifest finds the project's acsvm.toml, falling back to a project
// whose modules are the directory itself.
func loadManifest(dir string) (*manifest.Manifest, error) {
	m, err := manifest.FindAndLoad(dir)
	if err != nil || m != nil {
		return m, err
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, err
	}
	return &manifest.Manifest{
		Dir: abs,
		Modules: manifest.Modules{
			Dirs:      []string{"."},
			Map:       1,
			CacheSize: manifest.DefaultCacheSize,
		},
	}, nil
}

func packArchive(src *modsrc.Project) error {
	if src.Archive == nil {
		return fmt.Errorf("no [modules] archive configured")
	}
	if src.Dirs == nil {
		return fmt.Errorf("no [modules] dirs to pack")
	}
	n, err := src.Archive.Import(src.Dirs)
	if err != nil {
		return err
	}
	fmt.Printf("Packed %d modules into %s\n", n, src.Archive.Path())
	return nil
}

func listModules(src *modsrc.Project) error {
	names, err := src.Names()
	if err != nil {
		return err
	}
	for _, n := range names {
		fmt.Println(n)
	}
	return nil
}

func disassemble(src *modsrc.Project, m *manifest.Manifest, name string) error {
	env := vm.NewEnvironment(&consoleHost{src: src, out: os.Stdout}, m.Options())
	if _, err := env.LoadModules(name); err != nil {
		return err
	}
	for _, mod := range env.Modules() {
		fmt.Print(vm.Disassemble(mod, env.Strings()))
	}
	return nil
}

type runConfig struct {
	tics     int
	realtime bool
	restore  string
	save     string
	label    string
}

func run(src *modsrc.Project, m *manifest.Manifest, cfg runConfig) error {
	host := &consoleHost{src: src, out: os.Stdout}
	env := vm.NewEnvironment(host, m.Options())

	var hdr savegame.Header
	if cfg.restore != "" {
		f, err := savegame.ReadFile(cfg.restore)
		if err != nil {
			return err
		}
		if err := f.Restore(env); err != nil {
			return err
		}
		hdr = f.Header
		host.tic = int64(hdr.Tic)
		log.Infof("restored %s at tic %d (session %s)", cfg.restore, hdr.Tic, hdr.Session)
	} else {
		if m.Modules.Level == "" && len(m.Modules.Load) == 0 {
			return fmt.Errorf("no level module: set [modules] level or pass -level")
		}
		if err := env.EnterMap(m.Modules.Map, m.Modules.Level, m.Modules.Load...); err != nil {
			return err
		}
	}

	ran := tick(env, host, cfg)
	log.Infof("ran %d tics, %d threads live", ran, len(env.Threads()))
	if hits, misses, size := src.Stats(); misses > 0 {
		log.Debugf("module cache: %d hits, %d misses, %d held", hits, misses, size)
	}

	if cfg.save != "" {
		hdr.Label = cfg.label
		hdr.Tic = uint64(host.tic)
		f, err := savegame.WriteFile(cfg.save, env, hdr)
		if err != nil {
			return err
		}
		fmt.Printf("Saved session %s at tic %d to %s\n", f.Header.Session, f.Header.Tic, cfg.save)
	}
	return nil
}

// tick runs up to cfg.tics tics and returns how many ran. In realtime mode
// tics are paced at vm.TicRate and an interrupt stops early.
func tick(env *vm.Environment, host *consoleHost, cfg runConfig) int {
	if !cfg.realtime {
		for range cfg.tics {
			env.Tick()
			host.tic++
		}
		return cfg.tics
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	ticker := time.NewTicker(time.Second / vm.TicRate)
	defer ticker.Stop()

	for n := 0; n < cfg.tics; n++ {
		select {
		case <-ctx.Done():
			return n
		case <-ticker.C:
			env.Tick()
			host.tic++
		}
	}
	return cfg.tics
}
