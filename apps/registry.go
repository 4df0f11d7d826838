// Package apps is the application registry: the map from program name
// to ELF image the kernel launches from. The programs are assembled in
// package, so every image the registry serves is a real RV64 executable.
package apps

import (
	"sort"
	"sync"
)

// userTextBase is where program text loads in every app.
const userTextBase = 0x10000

type app struct {
	name  string
	build func(*asm)
}

// The link table. Images are built once, on first registry access.
var table = []app{
	{"initproc", progInit},
	{"shell", progShell},
	{"hello", progHello},
	{"seven", progSeven},
	{"spawner", progSpawner},
	{"yieldtwice", progYieldTwice},
	{"echo3", progEcho3},
	{"badaccess", progBadAccess},
	{"pidexit", progPidExit},
	{"execpid", progExecPid},
	{"execbad", progExecBad},
}

var (
	buildOnce sync.Once
	images    map[string][]byte
)

func assemble(build func(*asm)) []byte {
	a := newAsm(userTextBase)
	build(a)

	dataBase := userTextBase + pageUp(uint64(len(a.words))*4)
	text, data := a.build(dataBase)

	return elfImage(userTextBase, text, dataBase, data)
}

func buildAll() {
	images = make(map[string][]byte, len(table))
	for _, e := range table {
		images[e.name] = assemble(e.build)
	}
}

// Get returns the ELF image for name.
func Get(name string) ([]byte, bool) {
	buildOnce.Do(buildAll)

	img, ok := images[name]
	return img, ok
}

// Keys lists every registered application, sorted.
func Keys() []string {
	buildOnce.Do(buildAll)

	out := make([]string, 0, len(images))
	for name := range images {
		out = append(out, name)
	}

	sort.Strings(out)
	return out
}
