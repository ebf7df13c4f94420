package auth

import (
	"fmt"
	"os"
	"regexp"

	"gopkg.in/yaml.v3"
)

// UsersFile is the top-level structure of users.yaml.
//
//	users:
//	  - id: 1b9d6bcd
//	    username: alice
//	    active: true
//	    max_history_items: 500
type UsersFile struct {
	Users []User `yaml:"users"`
}

// User is one account allowed to sync. ID is the owner key of every item
// and device the user has.
type User struct {
	ID              string `yaml:"id"`
	Username        string `yaml:"username"`
	Active          *bool  `yaml:"active,omitempty"`
	MaxHistoryItems int    `yaml:"max_history_items,omitempty"`
}

// IsActive reports whether the user may authenticate. Users without an
// explicit flag are active.
func (u User) IsActive() bool {
	return u.Active == nil || *u.Active
}

// Loader reads the users file.
type Loader struct {
	filePath string
}

// NewLoader creates a loader for filePath.
func NewLoader(filePath string) *Loader {
	return &Loader{filePath: filePath}
}

// Path returns the file the loader reads.
func (l *Loader) Path() string { return l.filePath }

// Load reads and parses the users file. ${VAR} placeholders are replaced
// with the environment value before parsing.
func (l *Loader) Load() ([]User, error) {
	data, err := os.ReadFile(l.filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to read users file: %w", err)
	}

	var file UsersFile
	if err := yaml.Unmarshal(expandEnv(data), &file); err != nil {
		return nil, fmt.Errorf("failed to parse users yaml: %w", err)
	}

	seenID := make(map[string]bool, len(file.Users))
	seenName := make(map[string]bool, len(file.Users))
	for i, u := range file.Users {
		if u.ID == "" || u.Username == "" {
			return nil, fmt.Errorf("user #%d: id and username are required", i+1)
		}
		if seenID[u.ID] {
			return nil, fmt.Errorf("user #%d: duplicate id %q", i+1, u.ID)
		}
		if seenName[u.Username] {
			return nil, fmt.Errorf("user #%d: duplicate username %q", i+1, u.Username)
		}
		if u.MaxHistoryItems < 0 {
			return nil, fmt.Errorf("user %q: max_history_items must not be negative", u.Username)
		}
		seenID[u.ID] = true
		seenName[u.Username] = true
	}

	return file.Users, nil
}

var envPlaceholder = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// expandEnv substitutes ${VAR} occurrences. Unset variables become empty.
func expandEnv(data []byte) []byte {
	return envPlaceholder.ReplaceAllFunc(data, func(m []byte) []byte {
		name := envPlaceholder.FindSubmatch(m)[1]
		return []byte(os.Getenv(string(name)))
	})
}
