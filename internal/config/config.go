// Package config loads stagepipe settings from the environment.
package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/kelseyhightower/envconfig"
)

const (
	// Prefix is prepended to every CLI variable (e.g. STAGEPIPE_LOG_LEVEL).
	Prefix = "STAGEPIPE"

	// WorkerPrefix is prepended to the variables that describe a
	// process worker to the re-executed binary.
	WorkerPrefix = Prefix + "_WORKER"
)

// CLI holds the defaults of the `stagepipe` command. Flags override
// them.
type CLI struct {
	LogFormat   string `envconfig:"LOG_FORMAT" default:"text"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"warn"`
	MetricsAddr string `envconfig:"METRICS_ADDR"`
}

// LoadCLI loads the CLI defaults from the environment.
func LoadCLI() (*CLI, error) {
	var cfg CLI
	if err := envconfig.Process(Prefix, &cfg); err != nil {
		return nil, fmt.Errorf("loading %s environment: %w", Prefix, err)
	}
	return &cfg, nil
}

// Worker is what a pipeline tells a process worker about the slot it
// fills: which registered function to run, its rank, and how the stage
// is wired.
type Worker struct {
	Stage     string `envconfig:"STAGE" required:"true"`
	Rank      int    `envconfig:"RANK"`
	ID        string `envconfig:"ID"`
	HasInput  bool   `envconfig:"HAS_INPUT"`
	HasOutput bool   `envconfig:"HAS_OUTPUT"`

	// Downstream is the number of workers of the next stage, or -1 if
	// there is no next stage.
	Downstream int `envconfig:"DOWNSTREAM" default:"-1"`
}

// IsWorker reports whether the current process was started as a
// process worker.
func IsWorker() bool {
	_, ok := os.LookupEnv(WorkerPrefix + "_STAGE")
	return ok
}

// LoadWorker reads the worker description from the environment.
func LoadWorker() (*Worker, error) {
	var w Worker
	if err := envconfig.Process(WorkerPrefix, &w); err != nil {
		return nil, fmt.Errorf("loading worker environment: %w", err)
	}
	return &w, nil
}

// Environ renders `w` as `KEY=value` pairs suitable for appending to
// `exec.Cmd.Env`.
func (w Worker) Environ() []string {
	return []string{
		WorkerPrefix + "_STAGE=" + w.Stage,
		WorkerPrefix + "_RANK=" + strconv.Itoa(w.Rank),
		WorkerPrefix + "_ID=" + w.ID,
		WorkerPrefix + "_HAS_INPUT=" + strconv.FormatBool(w.HasInput),
		WorkerPrefix + "_HAS_OUTPUT=" + strconv.FormatBool(w.HasOutput),
		WorkerPrefix + "_DOWNSTREAM=" + strconv.Itoa(w.Downstream),
	}
}
