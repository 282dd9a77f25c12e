package document

import (
	"encoding/base64"
	"encoding/json"
	"errors"
)

// ErrBadLink marks a share link that cannot be decoded back to a
// document id.
var ErrBadLink = errors.New("unable to decode file link")

type linkPayload struct {
	FileID string `json:"file_id"`
}

// EncodeLink wraps a document id into the opaque share-link form used
// in invitation URLs.
func EncodeLink(docID string) string {
	b, _ := json.Marshal(linkPayload{FileID: docID})
	return base64.URLEncoding.EncodeToString(b)
}

// DecodeLink reverses EncodeLink. Any malformed input yields ErrBadLink.
func DecodeLink(link string) (string, error) {
	b, err := base64.URLEncoding.DecodeString(link)
	if err != nil {
		return "", ErrBadLink
	}
	var p linkPayload
	if err := json.Unmarshal(b, &p); err != nil || p.FileID == "" {
		return "", ErrBadLink
	}
	return p.FileID, nil
}
