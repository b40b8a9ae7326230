package driver

import (
	"fmt"
	"os"
	"time"

	"github.com/BurntSushi/toml"
)

type HostResult struct {
	Host      string        `toml:"host"`
	Commands  int           `toml:"commands"`
	Flushed   bool          `toml:"flushed"`
	TempFiles int           `toml:"tempfiles"`
	Error     string        `toml:"error,omitempty"`
	Duration  time.Duration `toml:"duration"`
}

func (r HostResult) Failed() bool {
	return r.Error != ""
}

type Report struct {
	Task      string       `toml:"task"`
	Timestamp time.Time    `toml:"timestamp"`
	Results   []HostResult `toml:"results"`
}

func NewReport(task string) *Report {
	return &Report{Task: task, Timestamp: time.Now()}
}

// Failed counts hosts that recorded a failure.
func (r *Report) Failed() int {
	count := 0
	for _, res := range r.Results {
		if res.Failed() {
			count++
		}
	}
	return count
}

func (r *Report) Save(path string) error {
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("unable to create file %s: %w", path, err)
	}
	defer func() { _ = file.Close() }()

	if err := toml.NewEncoder(file).Encode(r); err != nil {
		return fmt.Errorf("failed to encode report to TOML: %w", err)
	}
	return nil
}
