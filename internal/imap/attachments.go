package imap

import (
	"strconv"
	"strings"

	"github.com/emersion/go-imap"
	"github.com/vdavid/mailingest/internal/models"
)

const defaultAttachmentName = "attachment"

// discoverAttachments lists the attachments and inline files described by a
// BODYSTRUCTURE, in part order.
func discoverAttachments(structure *imap.BodyStructure) []models.AttachmentRef {
	if structure == nil {
		return nil
	}

	var refs []models.AttachmentRef
	var walk func(part *imap.BodyStructure, path []int)
	walk = func(part *imap.BodyStructure, path []int) {
		if len(part.Parts) > 0 {
			for i, child := range part.Parts {
				if child == nil {
					continue
				}
				walk(child, append(path[:len(path):len(path)], i+1))
			}
			return
		}

		if !isAttachment(part) {
			return
		}
		refs = append(refs, models.AttachmentRef{
			Filename:    attachmentFilename(part),
			ContentType: strings.ToLower(part.MIMEType + "/" + part.MIMESubType),
			Size:        part.Size,
			ContentID:   strings.Trim(part.Id, "<>"),
			PartID:      partID(path),
			IsInline:    strings.EqualFold(part.Disposition, "inline"),
		})
	}
	walk(structure, nil)

	return refs
}

// isAttachment reports whether a leaf part is a file rather than message text.
// Inline text parts without a filename are the message body.
func isAttachment(part *imap.BodyStructure) bool {
	named := namedFilename(part) != ""
	switch strings.ToLower(part.Disposition) {
	case "attachment":
		return true
	case "inline":
		return named || (part.Id != "" && !strings.EqualFold(part.MIMEType, "text"))
	}
	return named && !strings.EqualFold(part.MIMEType, "text")
}

func namedFilename(part *imap.BodyStructure) string {
	if name := part.DispositionParams["filename"]; name != "" {
		return name
	}
	return part.Params["name"]
}

func attachmentFilename(part *imap.BodyStructure) string {
	if name := namedFilename(part); name != "" {
		return name
	}
	return defaultAttachmentName
}

// partID joins a section path; the body of a single-part message is part 1.
func partID(path []int) string {
	if len(path) == 0 {
		return "1"
	}
	ids := make([]string, len(path))
	for i, n := range path {
		ids[i] = strconv.Itoa(n)
	}
	return strings.Join(ids, ".")
}
