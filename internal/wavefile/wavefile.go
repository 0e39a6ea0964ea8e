// Package wavefile stores synthesized waveforms as NumPy .npy files, one file
// per output port, so they can be inspected offline.
package wavefile

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/sbinet/npyio"
)

// Filename returns the file name used for one port of one task. Slashes in
// port names (such as "port0/line1") become underscores.
func Filename(task, port string) string {
	clean := strings.NewReplacer("/", "_", "\\", "_", " ", "_").Replace(port)
	return fmt.Sprintf("%s_%s.npy", task, clean)
}

// Export writes each waveform to dir/<task>_<port>.npy and returns the paths
// written, sorted. The directory is created if needed.
func Export(dir, task string, waveforms map[string][]float64) ([]string, error) {
	if task == "" {
		return nil, fmt.Errorf("task name is required")
	}
	if len(waveforms) == 0 {
		return nil, fmt.Errorf("task %q has no waveforms to export", task)
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, err
	}
	ports := make([]string, 0, len(waveforms))
	for port := range waveforms {
		ports = append(ports, port)
	}
	sort.Strings(ports)

	paths := make([]string, 0, len(ports))
	for _, port := range ports {
		path := filepath.Join(dir, Filename(task, port))
		if err := writeOne(path, waveforms[port]); err != nil {
			return paths, fmt.Errorf("port %s: %w", port, err)
		}
		paths = append(paths, path)
	}
	return paths, nil
}

func writeOne(path string, data []float64) error {
	fp, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := npyio.Write(fp, data); err != nil {
		fp.Close()
		return err
	}
	return fp.Close()
}

// Load reads back one waveform written by Export.
func Load(path string) ([]float64, error) {
	fp, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer fp.Close()
	var data []float64
	if err := npyio.Read(fp, &data); err != nil {
		return nil, err
	}
	return data, nil
}
