package toolexec

// ConfirmationGate decides whether a mutating tool may proceed.
// Handlers consult it before any path or command resolution, so a
// caller lacking confirmation cannot learn from the error code whether
// the target would otherwise have been denied.
type ConfirmationGate struct {
	perms *Permissions
}

// NewConfirmationGate builds a gate over the loaded permissions
func NewConfirmationGate(perms *Permissions) *ConfirmationGate {
	return &ConfirmationGate{perms: perms}
}

// RequiresConfirmation reports whether tool is gated
func (g *ConfirmationGate) RequiresConfirmation(tool string) bool {
	return g.perms.RequiresConfirmation(tool)
}

// Check fails with CONFIRMATION_REQUIRED when tool is gated and args
// does not carry confirm=true as a boolean. It performs no side effect
// and no filesystem probing.
func (g *ConfirmationGate) Check(tool string, args map[string]interface{}) error {
	if !g.perms.RequiresConfirmation(tool) {
		return nil
	}
	if confirmed, ok := args["confirm"].(bool); ok && confirmed {
		return nil
	}
	return ConfirmationRequiredError(tool)
}
