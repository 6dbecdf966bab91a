package query

import (
	"fmt"
	"strings"

	"github.com/starford/vaultkeeper/internal/models"
)

// NoInformation is the whole answer when retrieval comes back empty.
const NoInformation = "No information found."

// Citation points at the stored data a statement was built from: a fact
// of an entity, or a passage of its note.
type Citation struct {
	Entity  string `json:"entity"`
	Fact    string `json:"fact,omitempty"`
	Passage int    `json:"passage,omitempty"`
}

func (c Citation) String() string {
	switch {
	case c.Fact != "":
		return c.Entity + "#" + shortID(c.Fact)
	case c.Passage > 0:
		return fmt.Sprintf("%s ¶%d", c.Entity, c.Passage)
	default:
		return c.Entity
	}
}

// Statement is one line of an answer.
type Statement struct {
	Text     string   `json:"text"`
	Citation Citation `json:"citation"`
}

// GroundedResponse is an answer assembled only from retrieved facts and
// passages.
type GroundedResponse struct {
	Query      string         `json:"query"`
	Entity     *models.Entity `json:"entity,omitempty"`
	Broad      bool           `json:"broad,omitempty"`
	Statements []Statement    `json:"statements"`
}

// Empty reports whether nothing was retrieved.
func (g *GroundedResponse) Empty() bool {
	return len(g.Statements) == 0
}

// Text renders the answer for a terminal or chat surface.
func (g *GroundedResponse) Text() string {
	if g.Empty() {
		return NoInformation
	}
	var b strings.Builder
	if g.Entity != nil {
		b.WriteString(g.Entity.Name)
		b.WriteString(":\n")
	}
	for i, s := range g.Statements {
		if i > 0 {
			b.WriteByte('\n')
		}
		fmt.Fprintf(&b, "- %s [%s]", s.Text, s.Citation)
	}
	return b.String()
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
