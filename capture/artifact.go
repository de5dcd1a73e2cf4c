package capture

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Artifact is a finished recording. It is produced once per recording and
// handed to the caller, who owns it from then on.
type Artifact struct {
	Data       []byte
	MimeType   string
	Filename   string
	SampleRate int
	Channels   int
	Elapsed    int           // seconds counted by the recording clock
	Duration   time.Duration // length of the encoded audio
}

// Image is the backend's generated picture.
type Image struct {
	Success bool   `json:"success"`
	DataURL string `json:"image_data,omitempty"`
	URL     string `json:"url,omitempty"`
	Service string `json:"service,omitempty"`
	Error   string `json:"error,omitempty"`
}

// UnmarshalJSON accepts either an image object or a bare data URL string;
// the backend sends both depending on which generator ran.
func (im *Image) UnmarshalJSON(b []byte) error {
	var url string
	if err := json.Unmarshal(b, &url); err == nil {
		*im = Image{Success: url != "", DataURL: url}
		return nil
	}
	type plain Image
	var p plain
	if err := json.Unmarshal(b, &p); err != nil {
		return err
	}
	*im = Image(p)
	return nil
}

// Decode returns the raw bytes and the file extension of a
// "data:image/<type>;base64," payload.
func (im Image) Decode() ([]byte, string, error) {
	header, payload, ok := strings.Cut(im.DataURL, ",")
	if !ok || !strings.HasPrefix(header, "data:image/") || !strings.HasSuffix(header, ";base64") {
		return nil, "", fmt.Errorf("not a base64 image data URL")
	}
	ext := strings.TrimSuffix(strings.TrimPrefix(header, "data:image/"), ";base64")
	switch ext {
	case "jpeg":
		ext = "jpg"
	case "svg+xml":
		ext = "svg"
	}
	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return nil, "", fmt.Errorf("decoding image: %w", err)
	}
	return data, ext, nil
}

// Generation is the backend's reply to a voice or text submission.
type Generation struct {
	Success        bool            `json:"success"`
	SessionID      string          `json:"session_id,omitempty"`
	Transcript     string          `json:"transcript"`
	Image          Image           `json:"image_data"`
	VisualConcepts json.RawMessage `json:"visual_concepts,omitempty"`
	EnhancedPrompt string          `json:"enhanced_prompt,omitempty"`
	ProcessingTime float64         `json:"processing_time,omitempty"`
	Error          string          `json:"error,omitempty"`
}

// Backend turns prompts into generated images.
type Backend interface {
	ProcessVoice(ctx context.Context, a Artifact) (Generation, error)
	TextToImage(ctx context.Context, text string) (Generation, error)
}
