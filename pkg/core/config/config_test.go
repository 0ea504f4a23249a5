package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"arthakosh/pkg/models"
)

func writeFile(t *testing.T, dir, name, body string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadReconciliationDefaults(t *testing.T) {
	cfg, err := LoadReconciliation(filepath.Join(t.TempDir(), "absent.json"))
	require.NoError(t, err)
	assert.Equal(t, ModeOnIngest, cfg.Mode)
	assert.Equal(t, "0.01", cfg.Tolerances.Absolute.String())
	assert.True(t, cfg.Tolerances.SuspenseEnabled)
	assert.True(t, cfg.Enabled(models.AssetPPF))
}

func TestLoadReconciliationOverrides(t *testing.T) {
	path := writeFile(t, t.TempDir(), "reconciliation.json", `{
		"mode": "scheduled",
		"frequency": "weekly",
		"tolerances": {"absolute": 0.05, "critical_units": 500},
		"asset_classes": ["mf_equity", "stock_in"]
	}`)

	cfg, err := LoadReconciliation(path)
	require.NoError(t, err)
	assert.Equal(t, ModeScheduled, cfg.Mode)
	assert.Equal(t, "weekly", cfg.Frequency)
	assert.Equal(t, "0.05", cfg.Tolerances.Absolute.String())
	assert.Equal(t, "500", cfg.Tolerances.CriticalUnits.String())
	// Keys the file does not mention keep their defaults.
	assert.Equal(t, "10", cfg.Tolerances.ErrorUnits.String())
	assert.True(t, cfg.Tolerances.SuspenseEnabled)

	assert.True(t, cfg.Enabled(models.AssetMutualFundEquity))
	assert.False(t, cfg.Enabled(models.AssetPPF))
}

func TestLoadReconciliationRepairsHandEditedJSON(t *testing.T) {
	// Trailing comma and single quotes, the usual hand-edit damage.
	path := writeFile(t, t.TempDir(), "reconciliation.json", `{
		'mode': 'manual',
		'tolerances': {'absolute': 0.02,},
	}`)

	cfg, err := LoadReconciliation(path)
	require.NoError(t, err)
	assert.Equal(t, ModeManual, cfg.Mode)
	assert.Equal(t, "0.02", cfg.Tolerances.Absolute.String())
}

func TestLoadReconciliationRejectsBadMode(t *testing.T) {
	path := writeFile(t, t.TempDir(), "reconciliation.json", `{"mode": "hourly"}`)
	_, err := LoadReconciliation(path)
	assert.ErrorIs(t, err, models.ErrInvalid)
}

func TestLoadPasswordsFlattensNesting(t *testing.T) {
	path := writeFile(t, t.TempDir(), "passwords.json", `{
		"golden.nsdl": "PAN1234X",
		"bank": {"icici": "secret1"}
	}`)

	p, err := LoadPasswords(path)
	require.NoError(t, err)
	assert.Equal(t, "PAN1234X", p["golden.nsdl"])
	assert.Equal(t, "secret1", p["bank.icici"])
}

func TestPasswordLookup(t *testing.T) {
	p := Passwords{
		"golden.nsdl": "PAN1234X",
		"bank.icici":  "secret1",
	}
	assert.Equal(t, "PAN1234X", p.Lookup("/in/NSDL_CAS_MAR2024.pdf"))
	assert.Equal(t, "secret1", p.Lookup("icici_stmt.xls"))
	assert.Equal(t, "", p.Lookup("cams.xlsx"))

	fn := p.Func()
	assert.Equal(t, "PAN1234X", fn("nsdl-cas.pdf"))
}

func TestLoadDirAllOptional(t *testing.T) {
	cfg, err := LoadDir(t.TempDir())
	require.NoError(t, err)
	assert.Equal(t, ModeOnIngest, cfg.Reconciliation.Mode)
	assert.Empty(t, cfg.Passwords)
}
