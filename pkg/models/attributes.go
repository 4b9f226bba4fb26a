package models

// Attribute keys recognized on text ranges. An absent key means
// "unchanged/default".
const (
	AttrBold            = "bold"
	AttrItalic          = "italic"
	AttrUnderline       = "underline"
	AttrStrikethrough   = "strikethrough"
	AttrFontSize        = "fontSize"
	AttrFontFamily      = "fontFamily"
	AttrColor           = "color"
	AttrBackgroundColor = "backgroundColor"
	AttrLink            = "link"
	AttrHeading         = "heading" // level 1-6
	AttrAlign           = "align"
	AttrListType        = "listType"
	AttrListLevel       = "listLevel"
)

// Attributes describes text styling on a range or insertion. Values are
// either bool (toggles) or scalars (sizes, names, colors).
type Attributes map[string]interface{}

// Clone returns a copy of the attribute map
func (a Attributes) Clone() Attributes {
	if a == nil {
		return nil
	}
	clone := make(Attributes, len(a))
	for k, v := range a {
		clone[k] = v
	}
	return clone
}

// MergeAttributes combines two attribute maps. Boolean values present in both
// are OR-ed; for any other value type the winner's value is kept. winner may
// alias either input.
func MergeAttributes(loser, winner Attributes) Attributes {
	if loser == nil && winner == nil {
		return nil
	}
	merged := loser.Clone()
	if merged == nil {
		merged = make(Attributes, len(winner))
	}
	for k, wv := range winner {
		lv, ok := merged[k]
		if !ok {
			merged[k] = wv
			continue
		}
		lb, lIsBool := lv.(bool)
		wb, wIsBool := wv.(bool)
		if lIsBool && wIsBool {
			merged[k] = lb || wb
			continue
		}
		merged[k] = wv
	}
	return merged
}
