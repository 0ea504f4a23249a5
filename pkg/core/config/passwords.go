package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	jsonrepair "github.com/RealAlexandreAI/json-repair"

	"arthakosh/pkg/models"
)

// Passwords maps dot-notated keys ("golden.nsdl", "bank.icici") to statement
// passwords. Nested objects in the file flatten to the same notation.
type Passwords map[string]string

// LoadPasswords reads passwords.json. A missing file yields an empty map.
func LoadPasswords(path string) (Passwords, error) {
	raw, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return Passwords{}, nil
	}
	if err != nil {
		return nil, err
	}

	var tree map[string]interface{}
	if err := json.Unmarshal(raw, &tree); err != nil {
		repaired, rerr := jsonrepair.RepairJSON(string(raw))
		if rerr != nil {
			return nil, fmt.Errorf("%w: %s: %v", models.ErrInvalid, path, err)
		}
		if err := json.Unmarshal([]byte(repaired), &tree); err != nil {
			return nil, fmt.Errorf("%w: %s: %v", models.ErrInvalid, path, err)
		}
	}

	out := Passwords{}
	flatten("", tree, out)
	return out, nil
}

func flatten(prefix string, tree map[string]interface{}, out Passwords) {
	for key, value := range tree {
		full := key
		if prefix != "" {
			full = prefix + "." + key
		}
		switch v := value.(type) {
		case string:
			out[full] = v
		case map[string]interface{}:
			flatten(full, v, out)
		}
	}
}

// Lookup finds the password for a statement file. The base filename is
// matched against key segments, longest key winning, so "golden.nsdl"
// covers NSDL_CAS_MAR2024.pdf and "bank.icici" covers icici_stmt.xls.
func (p Passwords) Lookup(file string) string {
	base := strings.ToLower(filepath.Base(file))

	if pw, ok := p[base]; ok {
		return pw
	}

	keys := make([]string, 0, len(p))
	for k := range p {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return len(keys[i]) > len(keys[j]) })

	for _, key := range keys {
		for _, seg := range strings.Split(strings.ToLower(key), ".") {
			if seg != "" && strings.Contains(base, seg) {
				return p[key]
			}
		}
	}
	return ""
}

// Func adapts the map to the ingester's password callback.
func (p Passwords) Func() func(file string) string {
	return p.Lookup
}
