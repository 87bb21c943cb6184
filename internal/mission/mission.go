// Package mission defines the seam for the mission-text formatter, an
// external collaborator: a pure function from (mission-type, sub-type,
// integer) to the string logged for a team. Only the interface and a
// minimal passthrough default live here; the real formatter is injected.
package mission

import "fmt"

// Formatter turns a (teamType, missionType, value) triple into the
// human-readable string logged for a team.
type Formatter interface {
	Format(teamType, missionType string, value int) string
}

// Passthrough is the default Formatter: it renders a plain, uninterpreted
// description rather than mission-specific text.
type Passthrough struct{}

func (Passthrough) Format(teamType, missionType string, value int) string {
	return fmt.Sprintf("mission[%s/%s]=%d", teamType, missionType, value)
}
