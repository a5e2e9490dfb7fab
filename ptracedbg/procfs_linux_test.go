package ptracedbg

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"

	"crashDbg/elfsym"
)

const sampleMaps = `555555554000-555555556000 r--p 00000000 08:01 1311 /usr/bin/demo
555555556000-55555555a000 r-xp 00002000 08:01 1311 /usr/bin/demo
55555555a000-55555555c000 rw-p 00006000 08:01 1311 /usr/bin/demo
55555555c000-55555557d000 rw-p 00000000 00:00 0    [heap]
7ffff7d80000-7ffff7da8000 r--p 00000000 08:01 2201 /usr/lib/x86_64-linux-gnu/libc.so.6
7ffff7da8000-7ffff7f3d000 r-xp 00028000 08:01 2201 /usr/lib/x86_64-linux-gnu/libc.so.6
7ffff7fc0000-7ffff7fc1000 r--p 00000000 08:01 3301 /tmp/gone.so (deleted)
7ffff7fc3000-7ffff7fc5000 r--p 00004000 08:01 4401 /usr/lib/partial.so
7ffffffde000-7ffffffff000 rw-p 00000000 00:00 0    [stack]
garbage line
`

func TestParseMaps(t *testing.T) {
	maps, err := parseMaps(strings.NewReader(sampleMaps))
	require.NoError(t, err)
	require.Len(t, maps, 9)

	require.Equal(t, mapping{
		start: 0x555555556000, end: 0x55555555a000, perms: "r-xp", offset: 0x2000, path: "/usr/bin/demo",
	}, maps[1])
	require.Equal(t, "[heap]", maps[3].path)
	require.Equal(t, "/tmp/gone.so (deleted)", maps[6].path)
}

func TestImages(t *testing.T) {
	maps, err := parseMaps(strings.NewReader(sampleMaps))
	require.NoError(t, err)

	require.Equal(t, []elfsym.ModuleInfo{
		{Path: "/usr/bin/demo", Base: 0x555555554000, End: 0x55555555c000},
		{Path: "/usr/lib/x86_64-linux-gnu/libc.so.6", Base: 0x7ffff7d80000, End: 0x7ffff7f3d000},
	}, images(maps))
}

func TestCaughtSignals(t *testing.T) {
	status := "Name:\tdemo\nSigBlk:\t0000000000000000\nSigIgn:\t0000000000001000\nSigCgt:\t0000000180000400\n"
	mask := caughtSignals([]byte(status))
	require.NotZero(t, mask&(1<<(uint(unix.SIGSEGV)-1)))
	require.Zero(t, mask&(1<<(uint(unix.SIGABRT)-1)))
	require.Zero(t, caughtSignals([]byte("Name:\tdemo\n")))
}

func TestModulesOfSelf(t *testing.T) {
	mods, err := Modules(unix.Getpid())
	require.NoError(t, err)
	require.NotEmpty(t, mods)
	for _, m := range mods {
		require.True(t, strings.HasPrefix(m.Path, "/"))
		require.Less(t, m.Base, m.End)
	}
}
