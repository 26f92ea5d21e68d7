package domain

import (
	"slices"
	"time"
)

// ImageMetadata describes an uploaded reference image
type ImageMetadata struct {
	Uploader     string `json:"uploader"`
	Filename     string `json:"filename"`
	OriginalName string `json:"original_name,omitempty"`
	Size         int64  `json:"size,omitempty"`
	MimeType     string `json:"mime_type,omitempty"`
}

// LevelImage is one reference image in a level's pool
type LevelImage struct {
	ID       string        `json:"id"`
	URL      string        `json:"url"`
	Metadata ImageMetadata `json:"metadata"`
}

// Level is one stage of the hunt. Images may be appended to the pool but
// are never removed while the level is in use.
type Level struct {
	LevelNumber int          `json:"level_number"`
	IsFinal     bool         `json:"is_final"`
	Hint        string       `json:"hint"`
	Description string       `json:"description,omitempty"`
	ImagesPool  []LevelImage `json:"images_pool"`
	CreatedAt   time.Time    `json:"created_at"`
}

// Image looks up an image of the pool by ID
func (l *Level) Image(id string) (LevelImage, bool) {
	i := slices.IndexFunc(l.ImagesPool, func(img LevelImage) bool { return img.ID == id })
	if i < 0 {
		return LevelImage{}, false
	}
	return l.ImagesPool[i], true
}

// Clone returns a deep copy of the level
func (l *Level) Clone() *Level {
	c := *l
	c.ImagesPool = slices.Clone(l.ImagesPool)
	return &c
}

// NewLevelImage is an image to add to a level's pool
type NewLevelImage struct {
	URL      string        `json:"url"`
	Metadata ImageMetadata `json:"metadata"`
}

// CreateLevelRequest is the input for creating a level
type CreateLevelRequest struct {
	LevelNumber int             `json:"level_number"`
	Hint        string          `json:"hint"`
	Description string          `json:"description,omitempty"`
	Images      []NewLevelImage `json:"images,omitempty"`
}

// UpdateLevelRequest edits a level. Nil fields are left unchanged and
// Images are appended to the pool.
type UpdateLevelRequest struct {
	Hint        *string         `json:"hint,omitempty"`
	Description *string         `json:"description,omitempty"`
	Images      []NewLevelImage `json:"images,omitempty"`
}
