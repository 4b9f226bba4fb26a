package models

// userColorPalette is the fixed palette cursors and presence badges draw
// from. Assignment is deterministic per userID so every client renders the
// same color for the same collaborator.
var userColorPalette = [15]string{
	"#FF6B6B", "#4ECDC4", "#45B7D1", "#96CEB4", "#FFEAA7",
	"#DDA0DD", "#98D8C8", "#F7DC6F", "#BB8FCE", "#85C1E9",
	"#F1948A", "#82E0AA", "#F8C471", "#AED6F1", "#D7BDE2",
}

// GenerateUserColor deterministically picks a palette entry via a 32-bit
// string hash of the userID.
func GenerateUserColor(userID string) string {
	var h int32
	for _, r := range userID {
		h = h*31 + int32(r)
	}
	return userColorPalette[int(uint32(h))%len(userColorPalette)]
}
