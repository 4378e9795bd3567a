package catalog

import (
	"math/rand"
	"strings"
)

// Letter is one tile of the alphabet grid.
type Letter struct {
	ID         string `json:"id" yaml:"id"`
	Glyph      string `json:"letter" yaml:"letter"`
	AnimalName string `json:"animal_name" yaml:"animal_name"`
	Emoji      string `json:"emoji" yaml:"emoji"`
}

// Character is a family member that can narrate the letters.
type Character struct {
	ID    string `json:"id" yaml:"id"`
	Name  string `json:"name" yaml:"name"`
	Emoji string `json:"emoji" yaml:"emoji"`
}

var letters = []Letter{
	{ID: "a", Glyph: "A", AnimalName: "Abelha", Emoji: "🐝"},
	{ID: "b", Glyph: "B", AnimalName: "Borboleta", Emoji: "🦋"},
	{ID: "c", Glyph: "C", AnimalName: "Cachorro", Emoji: "🐕"},
	{ID: "d", Glyph: "D", AnimalName: "Dromedário", Emoji: "🐪"},
	{ID: "e", Glyph: "E", AnimalName: "Elefante", Emoji: "🐘"},
	{ID: "f", Glyph: "F", AnimalName: "Formiga", Emoji: "🐜"},
	{ID: "g", Glyph: "G", AnimalName: "Gato", Emoji: "🐱"},
	{ID: "h", Glyph: "H", AnimalName: "Hipopótamo", Emoji: "🦛"},
	{ID: "i", Glyph: "I", AnimalName: "Iguana", Emoji: "🦎"},
	{ID: "j", Glyph: "J", AnimalName: "Jacaré", Emoji: "🐊"},
	{ID: "k", Glyph: "K", AnimalName: "Koala", Emoji: "🐨"},
	{ID: "l", Glyph: "L", AnimalName: "Leão", Emoji: "🦁"},
	{ID: "m", Glyph: "M", AnimalName: "Macaco", Emoji: "🐵"},
	{ID: "n", Glyph: "N", AnimalName: "Nandu", Emoji: "🐦"},
	{ID: "o", Glyph: "O", AnimalName: "Ovelha", Emoji: "🐑"},
	{ID: "p", Glyph: "P", AnimalName: "Pinguim", Emoji: "🐧"},
	{ID: "q", Glyph: "Q", AnimalName: "Quati", Emoji: "🦝"},
	{ID: "r", Glyph: "R", AnimalName: "Rato", Emoji: "🐀"},
	{ID: "s", Glyph: "S", AnimalName: "Sapo", Emoji: "🐸"},
	{ID: "t", Glyph: "T", AnimalName: "Tartaruga", Emoji: "🐢"},
	{ID: "u", Glyph: "U", AnimalName: "Urso", Emoji: "🐻"},
	{ID: "v", Glyph: "V", AnimalName: "Vaca", Emoji: "🐄"},
	{ID: "w", Glyph: "W", AnimalName: "Wallaby", Emoji: "🦘"},
	{ID: "x", Glyph: "X", AnimalName: "Xexéu", Emoji: "🐦"},
	{ID: "y", Glyph: "Y", AnimalName: "Yak", Emoji: "🐂"},
	{ID: "z", Glyph: "Z", AnimalName: "Zebra", Emoji: "🦓"},
}

var characters = []Character{
	{ID: "pai", Name: "Pai", Emoji: "👨"},
	{ID: "mae", Name: "Mãe", Emoji: "👩"},
	{ID: "vo", Name: "Vó", Emoji: "👵"},
	{ID: "vo2", Name: "Vô", Emoji: "👴"},
	{ID: "tio", Name: "Tio", Emoji: "👨"},
	{ID: "tia", Name: "Tia", Emoji: "👩"},
	{ID: "amigo", Name: "Amigo", Emoji: "🧒"},
}

var messages = []string{
	"Oba! Que letra linda!",
	"Tralalá! Muito bem!",
	"Isso aí, campeão(ã)!",
	"Eba! Você é demais!",
	"Tralalelu! Aprender é bom!",
}

// Letters returns the alphabet grid in display order.
func Letters() []Letter {
	return append([]Letter(nil), letters...)
}

// Characters returns the selectable narrators.
func Characters() []Character {
	return append([]Character(nil), characters...)
}

// LetterByID accepts either case.
func LetterByID(id string) (Letter, bool) {
	id = strings.ToLower(strings.TrimSpace(id))
	for _, l := range letters {
		if l.ID == id {
			return l, true
		}
	}
	return Letter{}, false
}

func CharacterByID(id string) (Character, bool) {
	for _, c := range characters {
		if c.ID == id {
			return c, true
		}
	}
	return Character{}, false
}

// Message picks an engagement message shown next to the letter.
func Message(r *rand.Rand) string {
	if r == nil {
		return messages[rand.Intn(len(messages))]
	}
	return messages[r.Intn(len(messages))]
}

// Messages lists every engagement message.
func Messages() []string {
	return append([]string(nil), messages...)
}
