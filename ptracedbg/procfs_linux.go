package ptracedbg

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"os"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"golang.org/x/sys/unix"

	"crashDbg/elfsym"
)

type mapping struct {
	start  uint64
	end    uint64
	perms  string
	offset uint64
	path   string
}

var mapsLine = regexp.MustCompile(`^([0-9a-f]+)-([0-9a-f]+)\s+([rwxps-]+)\s+([0-9a-f]+)\s+([0-9a-f]+:[0-9a-f]+)\s+(\d+)(?:\s+(.*))?$`)

func parseMaps(r io.Reader) ([]mapping, error) {
	var maps []mapping
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		match := mapsLine.FindStringSubmatch(scanner.Text())
		if len(match) < 7 {
			continue
		}
		start, _ := strconv.ParseUint(match[1], 16, 64)
		end, _ := strconv.ParseUint(match[2], 16, 64)
		offset, _ := strconv.ParseUint(match[4], 16, 64)
		path := ""
		if len(match) > 7 {
			path = strings.TrimSpace(match[7])
		}
		maps = append(maps, mapping{start: start, end: end, perms: match[3], offset: offset, path: path})
	}
	return maps, scanner.Err()
}

func readMaps(pid int) ([]mapping, error) {
	f, err := os.Open(fmt.Sprintf("/proc/%d/maps", pid))
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return parseMaps(f)
}

// images groups file-backed mappings by path. An image's base is the
// mapping of its first page.
func images(maps []mapping) []elfsym.ModuleInfo {
	byPath := map[string]*elfsym.ModuleInfo{}
	var order []string
	for _, m := range maps {
		if !strings.HasPrefix(m.path, "/") || strings.HasSuffix(m.path, " (deleted)") {
			continue
		}
		info, ok := byPath[m.path]
		if !ok {
			if m.offset != 0 {
				continue
			}
			info = &elfsym.ModuleInfo{Path: m.path, Base: m.start, End: m.end}
			byPath[m.path] = info
			order = append(order, m.path)
			continue
		}
		if m.end > info.End {
			info.End = m.end
		}
	}

	out := make([]elfsym.ModuleInfo, 0, len(order))
	for _, path := range order {
		out = append(out, *byPath[path])
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Base < out[j].Base })
	return out
}

func isELF(path string) bool {
	f, err := os.Open(path)
	if err != nil {
		return false
	}
	defer f.Close()
	magic := make([]byte, 4)
	if _, err := io.ReadFull(f, magic); err != nil {
		return false
	}
	return bytes.Equal(magic, []byte("\x7fELF"))
}

// Modules lists the ELF images mapped into pid.
func Modules(pid int) ([]elfsym.ModuleInfo, error) {
	maps, err := readMaps(pid)
	if err != nil {
		return nil, err
	}
	var out []elfsym.ModuleInfo
	for _, info := range images(maps) {
		if isELF(info.Path) {
			out = append(out, info)
		}
	}
	return out, nil
}

func tasks(pid int) ([]int, error) {
	entries, err := os.ReadDir(fmt.Sprintf("/proc/%d/task", pid))
	if err != nil {
		return nil, err
	}
	var tids []int
	for _, e := range entries {
		if tid, err := strconv.Atoi(e.Name()); err == nil {
			tids = append(tids, tid)
		}
	}
	sort.Ints(tids)
	return tids, nil
}

func processAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	_, err := os.Stat(fmt.Sprintf("/proc/%d", pid))
	return err == nil
}

func processTraced(pid int) bool {
	data, err := os.ReadFile(fmt.Sprintf("/proc/%d/status", pid))
	if err != nil {
		return false
	}
	return !strings.Contains(string(data), "TracerPid:\t0")
}

// caughtSignals parses the SigCgt mask out of a /proc status file.
func caughtSignals(status []byte) uint64 {
	for _, line := range strings.Split(string(status), "\n") {
		if v, ok := strings.CutPrefix(line, "SigCgt:"); ok {
			mask, _ := strconv.ParseUint(strings.TrimSpace(v), 16, 64)
			return mask
		}
	}
	return 0
}

// hasHandler reports whether the thread has a handler installed for sig.
func hasHandler(pid, tid int, sig unix.Signal) bool {
	data, err := os.ReadFile(fmt.Sprintf("/proc/%d/task/%d/status", pid, tid))
	if err != nil {
		return false
	}
	return caughtSignals(data)&(1<<(uint(sig)-1)) != 0
}
