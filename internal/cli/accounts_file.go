package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/hamychatgpt/Rasad-v2/internal/models"
)

// accountEntry is one entry of an accounts file. Older files carry the
// secret as "password".
type accountEntry struct {
	Username string `json:"username" yaml:"username"`
	Secret   string `json:"secret" yaml:"secret"`
	Password string `json:"password" yaml:"password"`
	Email    string `json:"email" yaml:"email"`
	Active   *bool  `json:"active" yaml:"active"`
}

// ReadAccountsFile reads a JSON or YAML list of credentials. Entries are
// active unless they say otherwise.
func ReadAccountsFile(path string) ([]models.Credential, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return ParseAccounts(data, filepath.Ext(path))
}

// ParseAccounts decodes data as JSON when ext is ".json" and as YAML otherwise.
func ParseAccounts(data []byte, ext string) ([]models.Credential, error) {
	var entries []accountEntry
	var err error
	if strings.EqualFold(ext, ".json") {
		err = json.Unmarshal(data, &entries)
	} else {
		err = yaml.Unmarshal(data, &entries)
	}
	if err != nil {
		return nil, fmt.Errorf("parse accounts: %w", err)
	}

	out := make([]models.Credential, 0, len(entries))
	for _, e := range entries {
		c := models.Credential{
			Username: strings.TrimSpace(e.Username),
			Secret:   e.Secret,
			Email:    e.Email,
			Active:   e.Active == nil || *e.Active,
		}
		if c.Secret == "" {
			c.Secret = e.Password
		}
		out = append(out, c)
	}
	return out, nil
}
