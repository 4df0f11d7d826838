package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/pflag"

	"github.com/klamath-os/klamath/apps"
	"github.com/klamath-os/klamath/arch"
	"github.com/klamath-os/klamath/device"
	"github.com/klamath-os/klamath/emu"
	"github.com/klamath-os/klamath/kernel"
	clog "github.com/klamath-os/klamath/log"
	"github.com/klamath-os/klamath/syscalls"
)

var (
	fInit      = pflag.String("init", "initproc", "registry name of the first process")
	fTrace     = pflag.Bool("trace", false, "enable trace logging")
	fTimeslice = pflag.Uint64("timeslice", 10000, "timer quantum in instructions")
	fFrames    = pflag.Int("frames", 4096, "physical frame budget")
	fBatch     = pflag.Bool("batch", false, "read console input from stdin instead of a raw tty")
	fBudget    = pflag.Uint64("max-dispatches", 0, "stop after this many dispatches (0 = run forever)")
	fList      = pflag.Bool("list", false, "list registered applications and exit")
)

func main() {
	pflag.Parse()

	if *fTrace {
		os.Setenv("KLAMATH_TRACE", "1")
		clog.EnableDebug()
	}

	if *fList {
		fmt.Println(strings.Join(apps.Keys(), "\n"))
		return
	}

	var console device.Console

	if *fBatch {
		con := device.NewBufferedConsole(os.Stdout)

		buf := make([]byte, 4096)
		n, _ := os.Stdin.Read(buf)
		con.Push(buf[:n])

		console = con
	} else {
		tc, err := device.NewTTYConsole()
		if err != nil {
			clog.L.Error("cannot open tty", "error", err)
			os.Exit(1)
		}

		defer tc.Close()
		console = tc
	}

	k, err := kernel.NewKernel(kernel.Config{
		Frames:        *fFrames,
		Quantum:       *fTimeslice,
		Console:       console,
		MaxDispatches: *fBudget,
	}, func(res kernel.SpaceResolver, timer *device.Timer) arch.Hart {
		return emu.New(res, timer)
	})
	if err != nil {
		clog.L.Error("kernel construction failed", "error", err)
		os.Exit(1)
	}

	k.Invoker = syscalls.Invoker{}

	if _, err := k.Boot(*fInit); err != nil {
		clog.L.Error("boot failed", "init", *fInit, "error", err)
		os.Exit(1)
	}

	if err := k.Run(); err != nil {
		clog.L.Error("kernel stopped", "error", err)
		os.Exit(1)
	}
}
