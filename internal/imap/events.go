package imap

import (
	"strconv"
	"strings"
	"time"

	"github.com/emersion/go-imap"
	"github.com/vdavid/mailingest/internal/models"
)

// EventType tells what an Event carries.
type EventType int

const (
	// EventAttributes carries the message attributes (UID, flags, size, structure).
	EventAttributes EventType = iota
	// EventBody carries one fetched body part.
	EventBody
	// EventEnd signals that no more events follow for the message.
	EventEnd
)

func (t EventType) String() string {
	switch t {
	case EventAttributes:
		return "attributes"
	case EventBody:
		return "body"
	case EventEnd:
		return "end"
	}
	return "unknown"
}

// PartKind classifies a fetched body part.
type PartKind int

const (
	PartUnknown PartKind = iota
	PartText
	PartHTML
	PartHeader
	// PartMessage is the whole RFC 5322 message (BODY[]), used in strict mode.
	PartMessage
)

func (k PartKind) String() string {
	switch k {
	case PartText:
		return "text"
	case PartHTML:
		return "html"
	case PartHeader:
		return "header"
	case PartMessage:
		return "message"
	}
	return "unknown"
}

// RawMessagePart is one fetched body part, still encoded.
// Which is the section specifier as the server reported it, e.g. "TEXT",
// "HEADER.FIELDS (FROM TO)" or "1.2".
type RawMessagePart struct {
	Which string
	Kind  PartKind
	Body  []byte
}

// Attributes are the non-body items of a fetched message.
type Attributes struct {
	UID          uint32
	Size         uint32
	Flags        []string
	InternalDate time.Time
	Attachments  []models.AttachmentRef
}

// Event is one step of a fetch stream. SeqNum identifies the message; events
// for different messages may interleave.
type Event struct {
	SeqNum     uint32
	Type       EventType
	Attributes *Attributes
	Part       *RawMessagePart
}

// sectionWhich formats a section the way it appears inside BODY[...].
func sectionWhich(section *imap.BodySectionName) string {
	parts := make([]string, 0, len(section.Path)+1)
	for _, n := range section.Path {
		parts = append(parts, strconv.Itoa(n))
	}
	specifier := string(section.Specifier)
	if len(section.Fields) > 0 && section.Specifier == imap.HeaderSpecifier {
		specifier += ".FIELDS"
		if section.NotFields {
			specifier += ".NOT"
		}
	}
	if specifier != "" {
		parts = append(parts, specifier)
	}

	which := strings.Join(parts, ".")
	if len(section.Fields) > 0 {
		which += " (" + strings.Join(section.Fields, " ") + ")"
	}
	return which
}

// kindOf derives the part kind from the section and, for numbered parts or
// single-part messages, from the body structure.
func kindOf(section *imap.BodySectionName, structure *imap.BodyStructure) PartKind {
	switch section.Specifier {
	case imap.HeaderSpecifier:
		if len(section.Path) == 0 {
			return PartHeader
		}
		return PartUnknown
	case imap.TextSpecifier:
		if len(section.Path) == 0 && isHTMLLeaf(structure) {
			return PartHTML
		}
		if len(section.Path) == 0 {
			return PartText
		}
		return PartUnknown
	case imap.EntireSpecifier:
		if len(section.Path) == 0 {
			return PartMessage
		}
	default:
		return PartUnknown
	}

	leaf := partAt(structure, section.Path)
	if leaf == nil || !strings.EqualFold(leaf.MIMEType, "text") || isAttachment(leaf) {
		return PartUnknown
	}
	if strings.EqualFold(leaf.MIMESubType, "html") {
		return PartHTML
	}
	return PartText
}

// partAt returns the body part at a 1-based section path.
func partAt(structure *imap.BodyStructure, path []int) *imap.BodyStructure {
	current := structure
	for i, n := range path {
		if current == nil {
			return nil
		}
		if len(current.Parts) == 0 {
			// A single-part body is its own part 1.
			if n == 1 && i == len(path)-1 {
				return current
			}
			return nil
		}
		if n < 1 || n > len(current.Parts) {
			return nil
		}
		current = current.Parts[n-1]
	}
	return current
}

func isHTMLLeaf(structure *imap.BodyStructure) bool {
	return structure != nil && len(structure.Parts) == 0 &&
		strings.EqualFold(structure.MIMEType, "text") &&
		strings.EqualFold(structure.MIMESubType, "html")
}
