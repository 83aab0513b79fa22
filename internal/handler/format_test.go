package handler

import (
	"testing"

	"github.com/google/go-cmp/cmp"

	"moebot/internal/domain"
)

func TestImageAttachments(t *testing.T) {
	in := []domain.Attachment{
		{Name: "a.png", Type: "image/png"},
		{Name: "b.JPEG"},
		{Name: "c.txt", Type: "text/plain"},
		{Type: "image/gif"},
		{Name: "d.webp", Type: "application/octet-stream"},
	}
	want := []domain.Attachment{
		{Name: "a.png", Type: "image/png"},
		{Name: "b.JPEG", Type: "image/unknown"},
		{Name: "image", Type: "image/gif"},
		{Name: "d.webp", Type: "application/octet-stream"},
	}
	if diff := cmp.Diff(want, ImageAttachments(in)); diff != "" {
		t.Fatalf("images (-want +got):\n%s", diff)
	}
	if ImageAttachments(nil) != nil {
		t.Fatal("no attachments, no images")
	}
}

func TestFormatUserContent(t *testing.T) {
	mentions := map[string]string{"1": "alice", "2": "bob"}
	tests := []struct {
		name    string
		content string
		images  []domain.Attachment
		want    string
	}{
		{"plain", "hello", nil, "hello"},
		{"mentions", "<@1> and <@!2>", nil, "@alice and @bob"},
		{"unknown mention", "<@3> hi", nil, "<@3> hi"},
		{"image only", "", []domain.Attachment{{Name: "x.png"}}, "[image: x.png]"},
		{"text and images", " look ", []domain.Attachment{{Name: "x.png"}, {Name: "y.gif"}}, "look [image: x.png] [image: y.gif]"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := FormatUserContent(tt.content, mentions, tt.images); got != tt.want {
				t.Fatalf("got %q, want %q", got, tt.want)
			}
		})
	}
}
