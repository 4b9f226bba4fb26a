package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestChecksum(t *testing.T) {
	t.Run("Is deterministic", func(t *testing.T) {
		assert.Equal(t, Checksum("hello world"), Checksum("hello world"))
	})

	t.Run("Differs for different content", func(t *testing.T) {
		assert.NotEqual(t, Checksum("hello"), Checksum("hello!"))
	})

	t.Run("Empty content hashes to zero", func(t *testing.T) {
		assert.Equal(t, "0", Checksum(""))
	})

	t.Run("Renders in base-36", func(t *testing.T) {
		sum := Checksum("hello world")
		for _, r := range sum {
			assert.True(t, (r >= '0' && r <= '9') || (r >= 'a' && r <= 'z'))
		}
	})
}

func TestGenerateUserColor(t *testing.T) {
	t.Run("Is deterministic per user", func(t *testing.T) {
		assert.Equal(t, GenerateUserColor("alice"), GenerateUserColor("alice"))
	})

	t.Run("Draws from the fixed palette", func(t *testing.T) {
		color := GenerateUserColor("bob")
		assert.Contains(t, userColorPalette, color)
	})
}

func TestDocumentPermissions(t *testing.T) {
	perms := DocumentPermissions{
		Owner: "owner",
		Read:  []string{"reader"},
		Write: []string{"writer"},
		Admin: []string{"admin"},
	}

	t.Run("Owner has all permissions", func(t *testing.T) {
		assert.True(t, perms.CanRead("owner"))
		assert.True(t, perms.CanWrite("owner"))
		assert.True(t, perms.CanAdmin("owner"))
	})

	t.Run("Write implies read", func(t *testing.T) {
		assert.True(t, perms.CanRead("writer"))
		assert.True(t, perms.CanWrite("writer"))
		assert.False(t, perms.CanAdmin("writer"))
	})

	t.Run("Admin implies write", func(t *testing.T) {
		assert.True(t, perms.CanRead("admin"))
		assert.True(t, perms.CanWrite("admin"))
		assert.True(t, perms.CanAdmin("admin"))
	})

	t.Run("Reader cannot write", func(t *testing.T) {
		assert.True(t, perms.CanRead("reader"))
		assert.False(t, perms.CanWrite("reader"))
	})

	t.Run("Stranger has nothing", func(t *testing.T) {
		assert.False(t, perms.CanRead("stranger"))
	})
}

func TestDocumentStateClone(t *testing.T) {
	doc := NewDocumentState("doc-1", "hello", "alice")
	doc.Formatting[0] = Attributes{AttrBold: true}

	clone := doc.Clone()
	clone.Content = "changed"
	clone.Formatting[0][AttrBold] = false

	assert.Equal(t, "hello", doc.Content)
	assert.Equal(t, true, doc.Formatting[0][AttrBold])
}

func TestMergeAttributes(t *testing.T) {
	t.Run("Boolean attributes are OR-ed", func(t *testing.T) {
		merged := MergeAttributes(Attributes{AttrBold: true}, Attributes{AttrBold: false})
		assert.Equal(t, true, merged[AttrBold])
	})

	t.Run("Non-boolean attributes take the winner", func(t *testing.T) {
		merged := MergeAttributes(Attributes{AttrColor: "#111111"}, Attributes{AttrColor: "#222222"})
		assert.Equal(t, "#222222", merged[AttrColor])
	})

	t.Run("Disjoint keys are unioned", func(t *testing.T) {
		merged := MergeAttributes(Attributes{AttrBold: true}, Attributes{AttrItalic: true})
		assert.Equal(t, true, merged[AttrBold])
		assert.Equal(t, true, merged[AttrItalic])
	})

	t.Run("Nil inputs stay nil", func(t *testing.T) {
		assert.Nil(t, MergeAttributes(nil, nil))
	})
}
