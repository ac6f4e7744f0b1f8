// Package classify walks a message's part tree, decodes leaf payloads and
// assigns each leaf a role: body, inline or attachment.
package classify

import (
	"errors"
	"fmt"
	"strings"

	"github.com/dhcgn/mail-extract/charsets"
	"github.com/dhcgn/mail-extract/model"
)

// ErrClassification marks a structurally invalid part tree. Well-formed
// input never triggers it; it exists to reject cycles and runaway depth.
var ErrClassification = errors.New("invalid part tree")

const maxDepth = 64

// leaf is a candidate collected during traversal, before roles are final.
type leaf struct {
	part *model.Part
	// altGroup is the nearest enclosing multipart/alternative container,
	// nil when the leaf is outside any alternative branch.
	altGroup *model.Part
}

// Classify returns the message's leaf parts in depth-first MIME order, each
// with its role and fully decoded payload.
func Classify(msg *model.Message) ([]model.ClassifiedPart, error) {
	if msg.Root == nil {
		return nil, fmt.Errorf("%w: message has no root part", ErrClassification)
	}

	leaves, err := collectLeaves(msg.Root)
	if err != nil {
		return nil, err
	}

	decoded := make([]model.ClassifiedPart, len(leaves))
	for i, l := range leaves {
		decoded[i] = decodeLeaf(l.part)
	}

	referenced := referencedContentIDs(leaves, decoded)
	assignRoles(leaves, decoded, referenced)

	return decoded, nil
}

// collectLeaves walks the tree depth-first left-to-right with an explicit
// stack, rejecting cycles and excessive depth.
func collectLeaves(root *model.Part) ([]leaf, error) {
	type frame struct {
		part     *model.Part
		altGroup *model.Part
		depth    int
	}

	var leaves []leaf
	seen := make(map[*model.Part]bool)
	stack := []frame{{part: root}}

	for len(stack) > 0 {
		top := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		if seen[top.part] {
			return nil, fmt.Errorf("%w: cycle detected", ErrClassification)
		}
		seen[top.part] = true

		if top.depth > maxDepth {
			return nil, fmt.Errorf("%w: nesting exceeds %d levels", ErrClassification, maxDepth)
		}

		if !top.part.IsMultipart() || len(top.part.Children) == 0 {
			leaves = append(leaves, leaf{part: top.part, altGroup: top.altGroup})
			continue
		}

		altGroup := top.altGroup
		if top.part.ContentType == "multipart/alternative" {
			altGroup = top.part
		}

		// Push in reverse so children pop left-to-right.
		for i := len(top.part.Children) - 1; i >= 0; i-- {
			stack = append(stack, frame{
				part:     top.part.Children[i],
				altGroup: altGroup,
				depth:    top.depth + 1,
			})
		}
	}

	return leaves, nil
}

// decodeLeaf resolves transfer-encoding and, for text parts, the declared
// charset. Decode failures downgrade fidelity instead of failing.
func decodeLeaf(part *model.Part) model.ClassifiedPart {
	payload, exact := DecodeTransfer(part.TransferEncoding, part.Payload)

	if strings.HasPrefix(part.ContentType, "text/") {
		text, charsetExact := charsets.Decode(part.Charset, payload)
		payload = []byte(text)
		exact = exact && charsetExact
	}

	fidelity := model.FidelityExact
	if !exact {
		fidelity = model.FidelityLossy
	}

	return model.ClassifiedPart{
		Part:     part,
		Payload:  payload,
		Name:     part.Filename,
		Fidelity: fidelity,
	}
}

// referencedContentIDs scans decoded text parts for cid: references so
// embedded resources can be recognized as inline content.
func referencedContentIDs(leaves []leaf, decoded []model.ClassifiedPart) map[string]bool {
	referenced := make(map[string]bool)
	for i, l := range leaves {
		if !strings.HasPrefix(l.part.ContentType, "text/") {
			continue
		}
		text := string(decoded[i].Payload)
		for {
			idx := strings.Index(text, "cid:")
			if idx < 0 {
				break
			}
			text = text[idx+len("cid:"):]
			end := strings.IndexFunc(text, func(r rune) bool {
				return r == '"' || r == '\'' || r == ')' || r == '>' || r == ' ' || r == '\r' || r == '\n'
			})
			if end < 0 {
				end = len(text)
			}
			if cid := text[:end]; cid != "" {
				referenced[cid] = true
			}
			text = text[end:]
		}
	}
	return referenced
}

func assignRoles(leaves []leaf, decoded []model.ClassifiedPart, referenced map[string]bool) {
	// claimed tracks which body content-types are already taken outside
	// alternative branches; alternative branches elect a single body below.
	claimed := make(map[string]bool)
	altSeen := make(map[*model.Part]bool)

	for i, l := range leaves {
		part := l.part

		switch {
		case part.Disposition == "attachment":
			decoded[i].Role = model.RoleAttachment
		case part.Disposition == "inline":
			decoded[i].Role = model.RoleInline
		case part.Filename != "" && !strings.HasPrefix(part.ContentType, "text/"):
			decoded[i].Role = model.RoleAttachment
		case part.ContentID != "" && referenced[part.ContentID]:
			decoded[i].Role = model.RoleInline
		case isBodyCandidate(part):
			if l.altGroup != nil {
				if !altSeen[l.altGroup] {
					altSeen[l.altGroup] = true
					electAlternativeBody(l.altGroup, leaves, decoded, claimed)
				}
				// Role set by the election pass.
			} else if claimed[part.ContentType] {
				decoded[i].Role = model.RoleInline
			} else {
				claimed[part.ContentType] = true
				decoded[i].Role = model.RoleBody
			}
		default:
			// Leftover payload with no name, disposition or reference.
			// Forensically relevant, so it is extracted rather than lost.
			decoded[i].Role = model.RoleAttachment
		}
	}
}

// electAlternativeBody picks exactly one body leaf within one
// multipart/alternative branch, preferring text/html over text/plain; the
// remaining candidates in the branch become inline.
func electAlternativeBody(altGroup *model.Part, leaves []leaf, decoded []model.ClassifiedPart, claimed map[string]bool) {
	best := -1
	for i, l := range leaves {
		if l.altGroup != altGroup || !isBodyCandidate(l.part) {
			continue
		}
		decoded[i].Role = model.RoleInline
		if best < 0 || richer(l.part.ContentType, leaves[best].part.ContentType) {
			best = i
		}
	}
	if best >= 0 {
		decoded[best].Role = model.RoleBody
		claimed[leaves[best].part.ContentType] = true
	}
}

func isBodyCandidate(part *model.Part) bool {
	if part.Disposition != "" || part.Filename != "" {
		return false
	}
	return part.ContentType == "text/plain" || part.ContentType == "text/html"
}

func richer(a, b string) bool {
	return a == "text/html" && b != "text/html"
}
