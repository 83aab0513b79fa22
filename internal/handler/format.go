package handler

import (
	"regexp"
	"strings"

	"moebot/internal/domain"
)

var (
	mentionToken   = regexp.MustCompile(`<@!?(\d+)>`)
	imageExtension = regexp.MustCompile(`(?i)\.(jpg|jpeg|png|gif|webp)$`)
)

// ImageAttachments keeps the attachments that are images, by content type
// or by file extension.
func ImageAttachments(atts []domain.Attachment) []domain.Attachment {
	var images []domain.Attachment
	for _, a := range atts {
		if !strings.HasPrefix(a.Type, "image/") && !imageExtension.MatchString(a.Name) {
			continue
		}
		if a.Type == "" {
			a.Type = "image/unknown"
		}
		if a.Name == "" {
			a.Name = "image"
		}
		images = append(images, a)
	}
	return images
}

// FormatUserContent resolves mention tokens to @names and notes each image
// so the model knows it was there.
func FormatUserContent(content string, mentions map[string]string, images []domain.Attachment) string {
	out := mentionToken.ReplaceAllStringFunc(content, func(tok string) string {
		id := mentionToken.FindStringSubmatch(tok)[1]
		if name, ok := mentions[id]; ok {
			return "@" + name
		}
		return tok
	})
	out = strings.TrimSpace(out)

	for _, img := range images {
		note := "[image: " + img.Name + "]"
		if out == "" {
			out = note
		} else {
			out += " " + note
		}
	}
	return out
}
