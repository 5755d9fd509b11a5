package youtube

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractVideoID(t *testing.T) {
	tests := []struct {
		name    string
		url     string
		want    string
		wantErr bool
	}{
		{"watch url", "https://www.youtube.com/watch?v=dQw4w9WgXcQ", "dQw4w9WgXcQ", false},
		{"short url", "https://youtu.be/dQw4w9WgXcQ", "dQw4w9WgXcQ", false},
		{"embed url", "https://www.youtube.com/embed/dQw4w9WgXcQ", "dQw4w9WgXcQ", false},
		{"watch url with extra params", "https://www.youtube.com/watch?t=30&v=dQw4w9WgXcQ", "dQw4w9WgXcQ", false},
		{"bare video id", "dQw4w9WgXcQ", "dQw4w9WgXcQ", false},
		{"not a video url", "https://example.com/watch?v=nope", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := extractVideoID(tt.url)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseTranscriptXML(t *testing.T) {
	body := `<transcript>` +
		`<text start="0.5" dur="2.1">Hello world</text>` +
		`<text start="2.6" dur="3.0">Second line</text>` +
		`</transcript>`

	segments := parseTranscriptXML(body, "en")

	require.Len(t, segments, 2)
	assert.Equal(t, "Hello world", segments[0].Text)
	assert.InDelta(t, 0.5, segments[0].Offset, 1e-9)
	assert.InDelta(t, 2.1, segments[0].Duration, 1e-9)
	assert.Equal(t, "en", segments[0].Lang)
	assert.Equal(t, "Second line", segments[1].Text)
}

func TestParseTranscriptXMLEmpty(t *testing.T) {
	assert.Empty(t, parseTranscriptXML("<transcript></transcript>", ""))
}
