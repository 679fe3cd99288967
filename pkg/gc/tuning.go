package gc

import (
	"os"

	"github.com/kristofer/smog/pkg/state"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// TuningFile is the on-disk shape of a GC tuning override (spec §4.8's
// user-tunable knobs), loaded from a YAML file named on the command
// line (cmd/smog's --gc-config flag).
type TuningFile struct {
	PausePercent   *int `yaml:"pause_percent"`
	StepMultiplier *int `yaml:"step_multiplier"`
	StepSizeLog2   *int `yaml:"step_size_log2"`
}

// LoadTuning reads a YAML tuning file and applies any fields it sets on
// top of state.DefaultGCParams(), leaving unset fields at their default.
func LoadTuning(path string) (state.GCParams, error) {
	params := state.DefaultGCParams()
	b, err := os.ReadFile(path)
	if err != nil {
		return params, errors.Wrap(err, "reading gc tuning file")
	}
	var tf TuningFile
	if err := yaml.Unmarshal(b, &tf); err != nil {
		return params, errors.Wrap(err, "parsing gc tuning file")
	}
	if tf.PausePercent != nil {
		params.PausePercent = *tf.PausePercent
	}
	if tf.StepMultiplier != nil {
		params.StepMultiplier = *tf.StepMultiplier
	}
	if tf.StepSizeLog2 != nil {
		params.StepSizeLog2 = uint(*tf.StepSizeLog2)
	}
	return params, nil
}

// Stats is a point-in-time snapshot of collector bookkeeping, rendered
// by cmd/smog's gc-stats subcommand with go-humanize for the byte count.
type Stats struct {
	Phase      state.GCPhase
	TotalBytes uint64
	Debt       int64
	ObjectCount int
	GrayCount   int
	FinCount    int
}

func (c *Collector) Stats() Stats {
	return Stats{
		Phase:       c.g.Phase,
		TotalBytes:  c.g.TotalBytes,
		Debt:        c.g.GCDebt,
		ObjectCount: len(c.g.Objects),
		GrayCount:   len(c.g.Gray),
		FinCount:    len(c.g.Fin) + len(c.g.ToBeFin),
	}
}
