// Package config loads the optional per-user configuration directory:
// reconciliation.json tunes the golden-reference correlator, passwords.json
// supplies statement passwords. Both files are hand-edited, so parsing is
// lenient: strict JSON first, then a repair pass for the usual trailing
// commas and unquoted keys.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	jsonrepair "github.com/RealAlexandreAI/json-repair"
	"github.com/sirupsen/logrus"

	"arthakosh/pkg/core/golden"
	"arthakosh/pkg/models"
)

// ReconMode says when reconciliation runs.
type ReconMode string

const (
	ModeManual    ReconMode = "manual"
	ModeScheduled ReconMode = "scheduled"
	ModeOnIngest  ReconMode = "on_ingest"
)

// ReconciliationConfig is the shape of reconciliation.json. Absent keys keep
// their defaults; the loader unmarshals over a default-populated value.
type ReconciliationConfig struct {
	Mode         ReconMode          `json:"mode"`
	Frequency    string             `json:"frequency"`
	Tolerances   golden.Tolerances  `json:"tolerances"`
	AssetClasses []models.AssetType `json:"asset_classes"`
}

// DefaultReconciliation reconciles on ingest with the correlator's stock
// tolerances, across every asset class.
func DefaultReconciliation() ReconciliationConfig {
	return ReconciliationConfig{
		Mode:       ModeOnIngest,
		Frequency:  "monthly",
		Tolerances: golden.DefaultTolerances(),
	}
}

// Enabled reports whether an asset class takes part in reconciliation. An
// empty list means all classes.
func (c ReconciliationConfig) Enabled(asset models.AssetType) bool {
	if len(c.AssetClasses) == 0 {
		return true
	}
	for _, a := range c.AssetClasses {
		if a == asset {
			return true
		}
	}
	return false
}

func (c ReconciliationConfig) validate() error {
	switch c.Mode {
	case ModeManual, ModeScheduled, ModeOnIngest:
	default:
		return fmt.Errorf("%w: reconciliation mode %q", models.ErrInvalid, c.Mode)
	}
	if c.Tolerances.Absolute.IsNegative() || c.Tolerances.Percent.IsNegative() {
		return fmt.Errorf("%w: tolerances must not be negative", models.ErrInvalid)
	}
	return nil
}

// LoadReconciliation reads reconciliation.json. A missing file yields the
// defaults; a file that cannot be parsed even after repair is an error.
func LoadReconciliation(path string) (ReconciliationConfig, error) {
	cfg := DefaultReconciliation()

	raw, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return cfg, nil
	}
	if err != nil {
		return cfg, err
	}

	if err := json.Unmarshal(raw, &cfg); err != nil {
		repaired, rerr := jsonrepair.RepairJSON(string(raw))
		if rerr != nil {
			return cfg, fmt.Errorf("%w: %s: %v", models.ErrInvalid, path, err)
		}
		cfg = DefaultReconciliation()
		if err := json.Unmarshal([]byte(repaired), &cfg); err != nil {
			return cfg, fmt.Errorf("%w: %s: %v", models.ErrInvalid, path, err)
		}
		logrus.WithField("path", path).Warn("config parsed only after JSON repair")
	}

	if err := cfg.validate(); err != nil {
		return DefaultReconciliation(), err
	}
	return cfg, nil
}

// UserConfig bundles everything the config directory holds.
type UserConfig struct {
	Reconciliation ReconciliationConfig
	Passwords      Passwords
}

// LoadDir reads a per-user config directory. Every file is optional.
func LoadDir(dir string) (UserConfig, error) {
	recon, err := LoadReconciliation(filepath.Join(dir, "reconciliation.json"))
	if err != nil {
		return UserConfig{}, err
	}
	passwords, err := LoadPasswords(filepath.Join(dir, "passwords.json"))
	if err != nil {
		return UserConfig{}, err
	}
	return UserConfig{Reconciliation: recon, Passwords: passwords}, nil
}
