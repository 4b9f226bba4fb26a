package models

import (
	"strconv"
)

// DocumentPermissions holds per-document access sets. Write implies read,
// admin implies write, and the owner holds every permission.
type DocumentPermissions struct {
	Owner string   `json:"owner"`
	Read  []string `json:"read"`
	Write []string `json:"write"`
	Admin []string `json:"admin"`
}

func contains(set []string, userID string) bool {
	for _, id := range set {
		if id == userID {
			return true
		}
	}
	return false
}

// CanRead reports whether the user may read the document
func (p *DocumentPermissions) CanRead(userID string) bool {
	return userID == p.Owner || contains(p.Read, userID) || p.CanWrite(userID)
}

// CanWrite reports whether the user may edit the document
func (p *DocumentPermissions) CanWrite(userID string) bool {
	return userID == p.Owner || contains(p.Write, userID) || p.CanAdmin(userID)
}

// CanAdmin reports whether the user may administer the document
func (p *DocumentPermissions) CanAdmin(userID string) bool {
	return userID == p.Owner || contains(p.Admin, userID)
}

// Clone returns a deep copy of the permission sets
func (p *DocumentPermissions) Clone() DocumentPermissions {
	return DocumentPermissions{
		Owner: p.Owner,
		Read:  append([]string(nil), p.Read...),
		Write: append([]string(nil), p.Write...),
		Admin: append([]string(nil), p.Admin...),
	}
}

// DocumentMetadata carries display information for a document
type DocumentMetadata struct {
	Title         string              `json:"title"`
	Collaborators []string            `json:"collaborators"`
	Permissions   DocumentPermissions `json:"permissions"`
}

// DocumentState is the materialized document at a version. Formatting is a
// sparse mapping from character position to attributes.
type DocumentState struct {
	ID           string             `json:"id"`
	Content      string             `json:"content"`
	Version      int64              `json:"version"`
	Checksum     string             `json:"checksum"`
	LastModified int64              `json:"lastModified"` // ms since epoch
	Formatting   map[int]Attributes `json:"formatting,omitempty"`
	Metadata     DocumentMetadata   `json:"metadata"`
}

// NewDocumentState builds a version-1 document with a computed checksum
func NewDocumentState(id, content string, owner string) *DocumentState {
	return &DocumentState{
		ID:           id,
		Content:      content,
		Version:      1,
		Checksum:     Checksum(content),
		LastModified: NowMillis(),
		Formatting:   make(map[int]Attributes),
		Metadata: DocumentMetadata{
			Collaborators: []string{owner},
			Permissions:   DocumentPermissions{Owner: owner},
		},
	}
}

// Clone returns a deep copy of the document state
func (d *DocumentState) Clone() *DocumentState {
	clone := *d
	clone.Formatting = make(map[int]Attributes, len(d.Formatting))
	for pos, attrs := range d.Formatting {
		clone.Formatting[pos] = attrs.Clone()
	}
	clone.Metadata.Collaborators = append([]string(nil), d.Metadata.Collaborators...)
	clone.Metadata.Permissions = d.Metadata.Permissions.Clone()
	return &clone
}

// Checksum computes a deterministic 32-bit rolling hash of the content,
// rendered in base-36. Two replicas with equal operation histories produce
// equal checksums regardless of implementation language.
func Checksum(content string) string {
	var h int32
	for _, r := range content {
		h = h*31 + int32(r)
	}
	v := int64(h)
	if v < 0 {
		v = -v
	}
	return strconv.FormatInt(v, 36)
}
