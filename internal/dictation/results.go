package dictation

import (
	"errors"
	"os"
	"strings"
)

// ListeningSentinel is written to the partial file as soon as capture begins.
const ListeningSentinel = "LISTENING"

const (
	partialSuffix = ".partial"
	errSuffix     = ".err"
	stopSuffix    = ".stop"
)

// ResultSet holds the four paths derived from one output path.
type ResultSet struct {
	Output  string
	Partial string
	Err     string
	Stop    string
}

// NewResultSet derives the result paths for output.
func NewResultSet(output string) ResultSet {
	return ResultSet{
		Output:  output,
		Partial: output + partialSuffix,
		Err:     output + errSuffix,
		Stop:    output + stopSuffix,
	}
}

// All lists every path in the set.
func (r ResultSet) All() []string {
	return []string{r.Output, r.Partial, r.Err, r.Stop}
}

// RemoveAll deletes every file in the set, ignoring failures.
func (r ResultSet) RemoveAll() {
	for _, path := range r.All() {
		removeQuiet(path)
	}
}

// fileExists reports whether path exists. Stat errors other than not-exist
// count as existing so a terminal artifact is never overwritten blindly.
func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil || !errors.Is(err, os.ErrNotExist)
}

// writeQuiet is the fire-and-forget write used for every protocol file.
func writeQuiet(path, content string) error {
	return os.WriteFile(path, []byte(content), 0o644)
}

func removeQuiet(path string) {
	_ = os.Remove(path)
}

func readTrimmed(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(data)), nil
}
