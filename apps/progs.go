package apps

import "github.com/klamath-os/klamath/abi"

func sys(a *asm, call abi.Syscall) {
	a.li(a7, int32(call))
	a.ecall()
}

// initproc forks the shell and then sits in a waitpid loop adopting
// every orphan the kernel reparents to it.
func progInit(a *asm) {
	sys(a, abi.SysFork)
	a.bne(a0, zero, "parent")

	a.la(a0, "shellname")
	a.li(a1, 5)
	sys(a, abi.SysExec)

	// exec failed; nothing sensible left to do.
	a.li(a0, 1)
	sys(a, abi.SysExit)

	a.label("parent")
	a.li(a0, -1)
	a.la(a1, "code")
	sys(a, abi.SysWaitpid)
	a.j("parent")

	a.stringAt("shellname", "shell")
	a.spaceAt("code", 4)
}

// shell reads a program name per line, runs it, and waits for it.
func progShell(a *asm) {
	a.label("loop")
	a.li(a0, abi.Stdout)
	a.la(a1, "prompt")
	a.li(a2, 2)
	sys(a, abi.SysWrite)

	a.la(s1, "buf")

	a.label("readch")
	a.li(a0, abi.Stdin)
	a.mv(a1, s1)
	a.li(a2, 1)
	sys(a, abi.SysRead)

	a.lbu(t0, s1, 0)
	a.li(t1, '\n')
	a.beq(t0, t1, "gotline")

	a.li(a0, abi.Stdout)
	a.mv(a1, s1)
	a.li(a2, 1)
	sys(a, abi.SysWrite)

	a.addi(s1, s1, 1)
	a.j("readch")

	a.label("gotline")
	a.li(a0, abi.Stdout)
	a.la(a1, "nl")
	a.li(a2, 1)
	sys(a, abi.SysWrite)

	a.la(t0, "buf")
	a.beq(s1, t0, "loop")

	sys(a, abi.SysFork)
	a.bne(a0, zero, "waitchild")

	a.la(a0, "buf")
	a.sub(a1, s1, a0)
	sys(a, abi.SysExec)

	a.li(a0, abi.Stdout)
	a.la(a1, "errmsg")
	a.li(a2, 2)
	sys(a, abi.SysWrite)
	a.li(a0, 1)
	sys(a, abi.SysExit)

	a.label("waitchild")
	a.la(a1, "code")
	sys(a, abi.SysWaitpid)
	a.j("loop")

	a.stringAt("prompt", "$ ")
	a.stringAt("nl", "\n")
	a.stringAt("errmsg", "?\n")
	a.spaceAt("buf", 64)
	a.spaceAt("code", 4)
}

func progHello(a *asm) {
	a.li(a0, abi.Stdout)
	a.la(a1, "msg")
	a.li(a2, 19)
	sys(a, abi.SysWrite)

	a.li(a0, 0)
	sys(a, abi.SysExit)

	a.stringAt("msg", "hello from klamath\n")
}

func progSeven(a *asm) {
	a.li(a0, 7)
	sys(a, abi.SysExit)
}

// spawner forks, the child execs seven, and the parent exits with the
// code it reaps.
func progSpawner(a *asm) {
	sys(a, abi.SysFork)
	a.bne(a0, zero, "parent")

	a.la(a0, "childname")
	a.li(a1, 5)
	sys(a, abi.SysExec)

	a.li(a0, 1)
	sys(a, abi.SysExit)

	a.label("parent")
	a.li(a0, -1)
	a.la(a1, "code")
	sys(a, abi.SysWaitpid)

	a.la(t0, "code")
	a.lw(a0, t0, 0)
	sys(a, abi.SysExit)

	a.stringAt("childname", "seven")
	a.spaceAt("code", 4)
}

func progYieldTwice(a *asm) {
	sys(a, abi.SysYield)
	sys(a, abi.SysYield)

	a.li(a0, 0)
	sys(a, abi.SysExit)
}

// echo3 reads three bytes from stdin, writes them back, and exits with
// the read return value.
func progEcho3(a *asm) {
	a.li(a0, abi.Stdin)
	a.la(a1, "buf")
	a.li(a2, 3)
	sys(a, abi.SysRead)

	a.mv(s0, a0)

	a.li(a0, abi.Stdout)
	a.la(a1, "buf")
	a.li(a2, 3)
	sys(a, abi.SysWrite)

	a.mv(a0, s0)
	sys(a, abi.SysExit)

	a.spaceAt("buf", 4)
}

// badaccess stores through an unmapped address.
func progBadAccess(a *asm) {
	a.lui(t0, 0x40000)
	a.sd(zero, t0, 0)

	a.li(a0, 0)
	sys(a, abi.SysExit)
}

// pidexit exits with its own pid as the exit code.
func progPidExit(a *asm) {
	sys(a, abi.SysGetpid)
	sys(a, abi.SysExit)
}

// execpid replaces itself with pidexit.
func progExecPid(a *asm) {
	a.la(a0, "name")
	a.li(a1, 7)
	sys(a, abi.SysExec)

	a.li(a0, 99)
	sys(a, abi.SysExit)

	a.stringAt("name", "pidexit")
}

// execbad execs a name the registry does not know and checks the -1.
func progExecBad(a *asm) {
	a.la(a0, "name")
	a.li(a1, 14)
	sys(a, abi.SysExec)

	a.li(t0, -1)
	a.beq(a0, t0, "ok")

	a.li(a0, 13)
	sys(a, abi.SysExit)

	a.label("ok")
	a.li(a0, 42)
	sys(a, abi.SysExit)

	a.stringAt("name", "does_not_exist")
}
