package main

import (
	"fmt"
	"io"

	"github.com/chazu/acsvm/modsrc"
	"github.com/chazu/acsvm/vm"
)

// consoleHost runs scripts without a world: messages go to out, specials
// and host functions are logged and return zero, and every tag is idle.
type consoleHost struct {
	vm.NopHost
	src     modsrc.Source
	out     io.Writer
	tic     int64
	gravity int32
}

func (h *consoleHost) LoadModule(name string) ([]byte, error) {
	return h.src.Image(name)
}

func (h *consoleHost) Message(text string, ch vm.Channel, th *vm.Thread) {
	switch ch {
	case vm.ChannelBold:
		fmt.Fprintf(h.out, "** %s **\n", text)
	case vm.ChannelError:
		log.Error(text)
	default:
		fmt.Fprintln(h.out, text)
	}
}

func (h *consoleHost) Log(text string) {
	log.Info(text)
}

func (h *consoleHost) ExecSpecial(spec int32, args []int32, th *vm.Thread) int32 {
	log.Debugf("%s: special %d %v", th, spec, args)
	return 0
}

func (h *consoleHost) CallFunc(fn int32, args []int32, th *vm.Thread) []int32 {
	log.Debugf("%s: host function %d %v", th, fn, args)
	return nil
}

func (h *consoleHost) PlayerCount() int32 { return 1 }

func (h *consoleHost) PlayerName(n int32) (string, bool) {
	switch n {
	case 0:
		return "Console", true
	case 1:
		return "Player", true
	}
	return "", false
}

func (h *consoleHost) GameProperty(p vm.GameProperty) int32 {
	if p == vm.PropLevelTime {
		return int32(h.tic)
	}
	return 0
}

func (h *consoleHost) SetGravity(g int32) {
	log.Debugf("gravity %d", g)
	h.gravity = g
}
