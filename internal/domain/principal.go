package domain

// Principal is the authenticated caller of an engine operation.
// It is implemented only by AdminPrincipal and TeamPrincipal.
type Principal interface {
	isPrincipal()
}

// AdminPrincipal is a quiz master managing games.
type AdminPrincipal struct {
	AdminID string
}

// TeamPrincipal is a signed-in team of one game.
type TeamPrincipal struct {
	TeamID string
	GameID string
}

func (AdminPrincipal) isPrincipal() {}
func (TeamPrincipal) isPrincipal()  {}

// ViewerTeamID returns the team id of p, or "" for admins and anonymous viewers.
func ViewerTeamID(p Principal) string {
	if t, ok := p.(TeamPrincipal); ok {
		return t.TeamID
	}
	return ""
}
