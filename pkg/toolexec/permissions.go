package toolexec

import (
	"fmt"
	"os"

	"github.com/rs/zerolog/log"

	"github.com/selcan/mira/pkg/store"
)

// Permissions is the user's policy file, loaded once per process and
// immutable for the session. Absence of an entry means denial.
type Permissions struct {
	AllowPaths             []string `json:"allow_paths"`
	AllowCommands          []string `json:"allow_commands"`
	RequireConfirmationFor []string `json:"require_confirmation_for"`
	DenyTools              []string `json:"deny_tools"`

	// path is where the file lives, echoed in denial messages
	path string
}

// DefaultPermissions returns the policy used when no file exists yet:
// no extra path roots, a small read-only command set, confirmation on
// every mutating tool.
func DefaultPermissions(path string) *Permissions {
	return &Permissions{
		AllowPaths:             []string{},
		AllowCommands:          []string{"git", "ls", "cat", "grep", "find", "head", "tail", "wc", "date", "echo"},
		RequireConfirmationFor: []string{"fs_write", "fs_delete", "fs_move", "run_command"},
		DenyTools:              []string{},
		path:                   path,
	}
}

// LoadPermissions reads the policy file at path. A missing file yields
// the defaults; a present but unparseable file is an error, because
// silently substituting different policy for what the user wrote is
// worse than refusing to start.
func LoadPermissions(path string) (*Permissions, error) {
	var p Permissions
	if err := store.ReadJSON(path, &p); err != nil {
		if os.IsNotExist(err) {
			log.Info().Str("file", path).Msg("No permissions file, using defaults")
			return DefaultPermissions(path), nil
		}
		return nil, fmt.Errorf("failed to load permissions: %w", err)
	}

	p.path = path
	log.Info().
		Str("file", path).
		Int("allow_paths", len(p.AllowPaths)).
		Int("allow_commands", len(p.AllowCommands)).
		Int("require_confirmation", len(p.RequireConfirmationFor)).
		Int("deny_tools", len(p.DenyTools)).
		Msg("Permissions loaded")

	return &p, nil
}

// FilePath returns where the policy was loaded from
func (p *Permissions) FilePath() string {
	if p.path == "" {
		return "the permissions file"
	}
	return p.path
}

// IsToolDenied reports deny_tools membership
func (p *Permissions) IsToolDenied(tool string) bool {
	return contains(p.DenyTools, tool)
}

// RequiresConfirmation reports require_confirmation_for membership
func (p *Permissions) RequiresConfirmation(tool string) bool {
	return contains(p.RequireConfirmationFor, tool)
}

// IsCommandAllowed checks allow_commands by exact name
func (p *Permissions) IsCommandAllowed(command string) bool {
	return contains(p.AllowCommands, command)
}

func contains(set []string, s string) bool {
	for _, v := range set {
		if v == s {
			return true
		}
	}
	return false
}
