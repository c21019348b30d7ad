package memory

import (
	"errors"
	"testing"
)

func TestClassifyCategory(t *testing.T) {
	tests := []struct {
		content string
		want    Category
	}{
		{"My name is Ana and I live in São Paulo", CategoryUserInfo},
		{"remind me to call the dentist", CategoryTask},
		{"I really like spicy food", CategoryPreference},
		{"I feel a bit lonely tonight", CategoryEmotion},
		{"we went to a concert yesterday", CategoryEvent},
		{"Lisbon is the capital of Portugal", CategoryFact},
		{"hmm, let me think about that", CategoryContext},
	}
	for _, tt := range tests {
		if got := ClassifyCategory(tt.content); got != tt.want {
			t.Errorf("ClassifyCategory(%q) = %s, want %s", tt.content, got, tt.want)
		}
	}
}

func TestParseCategory(t *testing.T) {
	c, err := ParseCategory("  User_Info ")
	if err != nil || c != CategoryUserInfo {
		t.Errorf("ParseCategory = %s, %v", c, err)
	}
	if _, err := ParseCategory("gossip"); !errors.Is(err, ErrUnknownCategory) {
		t.Errorf("expected ErrUnknownCategory, got %v", err)
	}
	for _, c := range Categories() {
		if !c.Valid() {
			t.Errorf("category %s reported invalid", c)
		}
	}
}

func TestDefaultSource(t *testing.T) {
	tests := map[Category]Source{
		CategoryUserInfo:   SourceUserProfile,
		CategoryPreference: SourcePreference,
		CategoryFact:       SourceFact,
		CategoryEmotion:    SourceConversation,
		CategoryContext:    SourceConversation,
	}
	for c, want := range tests {
		if got := DefaultSource(c); got != want {
			t.Errorf("DefaultSource(%s) = %s, want %s", c, got, want)
		}
	}
}

func TestValidateEntityID(t *testing.T) {
	for _, id := range []string{"ana", "Bob_2", "persona.v1", "x-y"} {
		if err := ValidateEntityID(id); err != nil {
			t.Errorf("ValidateEntityID(%q) = %v", id, err)
		}
	}
	for _, id := range []string{"", "-ana", "has space", "a:b", "ünï"} {
		if err := ValidateEntityID(id); !errors.Is(err, ErrInvalidEntityID) {
			t.Errorf("ValidateEntityID(%q) = %v, want ErrInvalidEntityID", id, err)
		}
	}
}
