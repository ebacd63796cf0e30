package tuning

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

type Tuning struct {
	TickRateHz         int `yaml:"tick_rate_hz"`
	ChunkSize          int `yaml:"chunk_size"`
	SnapshotEveryTicks int `yaml:"snapshot_every_ticks"`
	ObserverQueue      int `yaml:"observer_queue"`
	// SnapshotKeep bounds the snapshots directory; 0 keeps everything.
	SnapshotKeep       int `yaml:"snapshot_keep"`
	ArchiveEveryTicks  int `yaml:"archive_every_ticks"`

	Tank TankLimits `yaml:"tank"`
}

type TankLimits struct {
	MinSize           [3]int `yaml:"min_size"`
	MaxSize           [3]int `yaml:"max_size"`
	InteriorAllowance int    `yaml:"interior_allowance"`
	// RefuseBridging rejects placements that would join two formed tanks.
	RefuseBridging *bool `yaml:"refuse_bridging"`
}

func Defaults() Tuning {
	refuse := true
	return Tuning{
		TickRateHz:         5,
		ChunkSize:          16,
		SnapshotEveryTicks: 3000,
		ObserverQueue:      64,
		SnapshotKeep:       8,
		ArchiveEveryTicks:  72000,
		Tank: TankLimits{
			MinSize:           [3]int{3, 3, 3},
			MaxSize:           [3]int{5, 10, 5},
			InteriorAllowance: 7,
			RefuseBridging:    &refuse,
		},
	}
}

func Load(path string) (Tuning, error) {
	t := Defaults()
	raw, err := os.ReadFile(path)
	if err != nil {
		return t, err
	}
	var in Tuning
	if err := yaml.Unmarshal(raw, &in); err != nil {
		return t, fmt.Errorf("tuning.yaml: %w", err)
	}
	applyDefaults(&in, t)
	if err := in.validate(); err != nil {
		return t, fmt.Errorf("tuning.yaml: %w", err)
	}
	return in, nil
}

func applyDefaults(t *Tuning, d Tuning) {
	if t.TickRateHz <= 0 {
		t.TickRateHz = d.TickRateHz
	}
	if t.ChunkSize <= 0 {
		t.ChunkSize = d.ChunkSize
	}
	if t.SnapshotEveryTicks <= 0 {
		t.SnapshotEveryTicks = d.SnapshotEveryTicks
	}
	if t.ObserverQueue <= 0 {
		t.ObserverQueue = d.ObserverQueue
	}
	if t.SnapshotKeep < 0 {
		t.SnapshotKeep = 0
	}
	if t.ArchiveEveryTicks < 0 {
		t.ArchiveEveryTicks = 0
	}
	if t.Tank.MinSize == [3]int{} {
		t.Tank.MinSize = d.Tank.MinSize
	}
	if t.Tank.MaxSize == [3]int{} {
		t.Tank.MaxSize = d.Tank.MaxSize
	}
	if t.Tank.InteriorAllowance == 0 {
		t.Tank.InteriorAllowance = d.Tank.InteriorAllowance
	}
	if t.Tank.RefuseBridging == nil {
		t.Tank.RefuseBridging = d.Tank.RefuseBridging
	}
}

func (t Tuning) validate() error {
	for i, axis := range [3]string{"x", "y", "z"} {
		lo, hi := t.Tank.MinSize[i], t.Tank.MaxSize[i]
		if lo < 1 {
			return fmt.Errorf("tank.min_size.%s must be >= 1", axis)
		}
		if hi != 0 && hi < lo {
			return fmt.Errorf("tank.max_size.%s (%d) < min_size.%s (%d)", axis, hi, axis, lo)
		}
	}
	if t.ChunkSize&(t.ChunkSize-1) != 0 {
		return fmt.Errorf("chunk_size must be a power of two")
	}
	return nil
}
