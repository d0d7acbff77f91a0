package weave

import (
	"fmt"
	"strings"

	ports "github.com/ZanzyTHEbar/loreweave/loom/weave/ports"
)

// Assembler turns stored messages into provider request messages.
type Assembler struct{}

func NewAssembler() *Assembler { return &Assembler{} }

// Assemble preserves order and roles. Name carries the author for user and
// assistant messages only.
func (a *Assembler) Assemble(msgs []ports.Message) ([]ports.RequestMessage, error) {
	norm := func(s string) string { return strings.ReplaceAll(s, "\r\n", "\n") }

	out := make([]ports.RequestMessage, 0, len(msgs))
	for i, m := range msgs {
		req := ports.RequestMessage{Role: m.Role, Content: norm(m.Content)}
		switch m.Role {
		case ports.RoleUser, ports.RoleAssistant:
			req.Name = m.Author
		case ports.RoleSystem, ports.RoleFunction:
		default:
			return nil, fmt.Errorf("%w: message %d has role %s", ErrInvalidRole, i, m.Role)
		}
		out = append(out, req)
	}
	return out, nil
}
