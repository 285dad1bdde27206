package pipe

import (
	"bufio"
	"context"
	"io"
	"net"
	"os"
	"path/filepath"
	"strings"

	"github.com/fsnotify/fsnotify"
	"github.com/pkg/errors"
)

// ReadIPList parses a whitelist: one IP literal per line, blank lines and
// lines starting with '#' ignored.
func ReadIPList(r io.Reader) ([]string, error) {
	var ips []string

	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		ips = append(ips, line)
	}

	if err := scanner.Err(); err != nil {
		return nil, errors.Wrap(err, "read ip list")
	}

	return ips, nil
}

// ReloadIPList replaces the whitelist with the contents of the file at path.
// An empty file disables the whitelist. On error the current list is kept.
func (m *Module) ReloadIPList(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return errors.Wrap(err, "open ip list")
	}
	defer f.Close()

	ips, err := ReadIPList(f)
	if err != nil {
		return err
	}

	m.SetIPList(ips)
	m.logger.Info("ip list reloaded", "path", path, "count", len(ips))
	return nil
}

// SetIPList replaces the whitelist. An empty list allows every address.
// Connections already established are not affected.
func (m *Module) SetIPList(ips []string) {
	var whitelist map[string]struct{}
	if len(ips) > 0 {
		whitelist = make(map[string]struct{}, len(ips))
		for _, ip := range ips {
			whitelist[normalizeIP(ip)] = struct{}{}
		}
	}

	m.mu.Lock()
	m.whitelist = whitelist
	m.mu.Unlock()
}

// WatchIPList loads the whitelist from path and reloads it whenever the file
// changes, until ctx is done. The directory is watched so that editors
// replacing the file by rename are followed.
func (m *Module) WatchIPList(ctx context.Context, path string) error {
	path = filepath.Clean(path)

	if err := m.ReloadIPList(path); err != nil {
		return err
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return errors.Wrap(err, "watch ip list")
	}
	defer watcher.Close()

	if err = watcher.Add(filepath.Dir(path)); err != nil {
		return errors.Wrap(err, "watch ip list")
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != path {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			if err := m.ReloadIPList(path); err != nil {
				m.logger.Warn("ip list reload failed", "path", path, "error", err)
			}

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			m.logger.Warn("ip list watch error", "path", path, "error", err)
		}
	}
}

func (m *Module) allowedLocked(ip string) bool {
	if m.whitelist == nil {
		return true
	}
	_, ok := m.whitelist[normalizeIP(ip)]
	return ok
}

func normalizeIP(ip string) string {
	if parsed := net.ParseIP(ip); parsed != nil {
		return parsed.String()
	}
	return ip
}
