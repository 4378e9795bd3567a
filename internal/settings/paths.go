package settings

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Paths builds the on-device layout for photos and recorded letters:
// <root>/<characterID>/photo.jpg and <root>/<characterID>/<LETTER>.m4a.
type Paths struct {
	Root string
}

func (p Paths) CharacterDir(characterID string) string {
	return filepath.Join(p.Root, characterID)
}

func (p Paths) PhotoPath(characterID string) string {
	return filepath.Join(p.CharacterDir(characterID), "photo.jpg")
}

// PhotoPathAt returns a unique photo name so viewers do not serve a cached
// image after the photo changes.
func (p Paths) PhotoPathAt(characterID string, at time.Time) string {
	return filepath.Join(p.CharacterDir(characterID), fmt.Sprintf("photo_%d.jpg", at.UnixMilli()))
}

func (p Paths) LetterSoundPath(characterID, letterID string) string {
	return filepath.Join(p.CharacterDir(characterID), strings.ToUpper(letterID)+".m4a")
}

// LetterSoundPathFor keeps the extension of an imported file so decoders can
// still pick a format. Files without one are stored as .m4a.
func (p Paths) LetterSoundPathFor(characterID, letterID, src string) string {
	ext := strings.ToLower(filepath.Ext(src))
	if ext == "" {
		return p.LetterSoundPath(characterID, letterID)
	}
	return filepath.Join(p.CharacterDir(characterID), strings.ToUpper(letterID)+ext)
}

// EnsureCharacterDir creates the character directory and its parents.
func (p Paths) EnsureCharacterDir(characterID string) (string, error) {
	dir := p.CharacterDir(characterID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create character dir: %w", err)
	}
	return dir, nil
}

// Import copies src into dst inside the character directory.
func (p Paths) Import(characterID, src, dst string) error {
	if _, err := p.EnsureCharacterDir(characterID); err != nil {
		return err
	}
	if samePath(src, dst) {
		if _, err := os.Stat(src); err != nil {
			return fmt.Errorf("open %s: %w", src, err)
		}
		return nil
	}
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("open %s: %w", src, err)
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return fmt.Errorf("create %s: %w", dst, err)
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return fmt.Errorf("copy to %s: %w", dst, err)
	}
	return out.Close()
}

func samePath(a, b string) bool {
	absA, errA := filepath.Abs(a)
	absB, errB := filepath.Abs(b)
	if errA != nil || errB != nil {
		return filepath.Clean(a) == filepath.Clean(b)
	}
	return absA == absB
}

// FileURI turns a local path into the file:// form stored in settings.
func FileURI(path string) string {
	if abs, err := filepath.Abs(path); err == nil {
		path = abs
	}
	return "file://" + filepath.ToSlash(path)
}
