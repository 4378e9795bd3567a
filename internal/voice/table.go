package voice

import (
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/loqalabs/alfa/internal/catalog"
)

// DefaultVoiceDir holds the clips every character falls back to.
const DefaultVoiceDir = "letters"

// Table resolves bundled letter clips laid out as <voice>/<LETTER>.<ext>.
type Table struct {
	fsys fs.FS
	root string
	exts []string
}

// NewTable reads clips from a directory on disk.
func NewTable(root string, exts []string) *Table {
	return NewTableFS(os.DirFS(root), root, exts)
}

// NewTableFS reads clips from fsys; resolved URIs are prefixed with root.
func NewTableFS(fsys fs.FS, root string, exts []string) *Table {
	if len(exts) == 0 {
		exts = []string{".wav", ".mp3", ".m4a"}
	}
	return &Table{fsys: fsys, root: root, exts: exts}
}

// Lookup prefers the character's own recording and falls back to the default
// voice. Letters missing from both report false.
func (t *Table) Lookup(characterID, letterID string) (string, bool) {
	if letterID == "" {
		return "", false
	}
	if characterID != "" && characterID != DefaultVoiceDir {
		if name, ok := t.find(characterID, letterID); ok {
			return t.uri(name), true
		}
	}
	if name, ok := t.find(DefaultVoiceDir, letterID); ok {
		return t.uri(name), true
	}
	return "", false
}

// Coverage lists the catalog letters that have a clip in the given voice.
func (t *Table) Coverage(voiceID string) []string {
	var covered []string
	for _, l := range catalog.Letters() {
		if _, ok := t.find(voiceID, l.ID); ok {
			covered = append(covered, l.ID)
		}
	}
	return covered
}

// Voices lists the voice directories present in the table.
func (t *Table) Voices() ([]string, error) {
	entries, err := fs.ReadDir(t.fsys, ".")
	if err != nil {
		return nil, err
	}
	var voices []string
	for _, e := range entries {
		if e.IsDir() {
			voices = append(voices, e.Name())
		}
	}
	return voices, nil
}

func (t *Table) find(dir, letterID string) (string, bool) {
	base := strings.ToUpper(letterID)
	for _, ext := range t.exts {
		name := path.Join(dir, base+ext)
		if info, err := fs.Stat(t.fsys, name); err == nil && !info.IsDir() {
			return name, true
		}
	}
	return "", false
}

func (t *Table) uri(name string) string {
	if t.root == "" {
		return name
	}
	return filepath.Join(t.root, filepath.FromSlash(name))
}
