package classic

import (
	"bufio"
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/srg/vibro/internal/device"
)

// BlueZStore reads bonded devices from BlueZ storage:
// <Dir>/<adapter address>/<device address>/info, an INI file with a
// [General] Name= entry and a [LinkKey] section for bonded devices.
type BlueZStore struct {
	Dir string
}

func (s *BlueZStore) Bonded(ctx context.Context) ([]device.Target, error) {
	adapters, err := os.ReadDir(s.Dir)
	if err != nil {
		if errors.Is(err, fs.ErrPermission) {
			return nil, &device.PermissionDeniedError{Permission: "read " + s.Dir, Err: err}
		}
		return nil, err
	}

	var out []device.Target
	for _, adapter := range adapters {
		if !adapter.IsDir() || !isBDAddr(adapter.Name()) {
			continue
		}
		devices, err := os.ReadDir(filepath.Join(s.Dir, adapter.Name()))
		if err != nil {
			return nil, err
		}
		for _, d := range devices {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			if !d.IsDir() || !isBDAddr(d.Name()) {
				continue
			}
			name, bonded, err := readInfo(filepath.Join(s.Dir, adapter.Name(), d.Name(), "info"))
			if err != nil || !bonded {
				continue
			}
			out = append(out, device.Target{Name: name, Address: d.Name()})
		}
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Address < out[j].Address })
	return out, nil
}

func readInfo(path string) (name string, bonded bool, err error) {
	f, err := os.Open(path)
	if err != nil {
		return "", false, err
	}
	defer f.Close()

	section := ""
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		switch {
		case line == "" || strings.HasPrefix(line, "#"):
		case strings.HasPrefix(line, "[") && strings.HasSuffix(line, "]"):
			section = line[1 : len(line)-1]
			if section == "LinkKey" {
				bonded = true
			}
		case section == "General" && strings.HasPrefix(line, "Name="):
			name = strings.TrimPrefix(line, "Name=")
		}
	}
	return name, bonded, sc.Err()
}
