package notes

import (
	"log/slog"
	"path"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/reshetovitsme/tg-vault-export/internal/modules/media/domain"
	msgdomain "github.com/reshetovitsme/tg-vault-export/internal/modules/message/domain"
	"github.com/samber/lo"
	"github.com/samber/oops"
	"github.com/spf13/afero"
	"gopkg.in/yaml.v3"
)

const maxTitleLength = 60

var (
	unsafeTitleChars = regexp.MustCompile(`[\\/*?:"<>|&!]`)

	// Windows reserved device names cannot be used as file name stems.
	reservedNames = map[string]bool{
		"CON": true, "PRN": true, "AUX": true, "NUL": true,
		"COM1": true, "COM2": true, "COM3": true, "COM4": true, "COM5": true,
		"COM6": true, "COM7": true, "COM8": true, "COM9": true,
		"LPT1": true, "LPT2": true, "LPT3": true, "LPT4": true, "LPT5": true,
		"LPT6": true, "LPT7": true, "LPT8": true, "LPT9": true,
	}
)

// Frontmatter is the YAML header of every exported note. The vault scanner
// reads it back to rebuild the processed index without the cache file.
type Frontmatter struct {
	MessageID int64  `yaml:"message_id"`
	Date      string `yaml:"date"`
	ReplyTo   int64  `yaml:"reply_to,omitempty"`
}

// Writer renders messages into markdown notes under per-year directories.
type Writer struct {
	fs  afero.Fs
	log *slog.Logger
}

func NewWriter(fs afero.Fs, log *slog.Logger) *Writer {
	return &Writer{fs: fs, log: log.With(slog.String("item", "NoteWriter"))}
}

// Write renders one message into <exportPath>/<year>/<date>.<title>.md and
// returns the note path relative to exportPath.
func (w *Writer) Write(msg msgdomain.Message, links []domain.MediaLink, exportPath string) (string, error) {
	relPath := NotePath(msg)
	fullPath := filepath.Join(exportPath, filepath.FromSlash(relPath))

	if err := w.fs.MkdirAll(filepath.Dir(fullPath), 0755); err != nil {
		return "", oops.With("path", fullPath, "context", "failed to create note directory").Wrap(err)
	}

	content, err := render(msg, links)
	if err != nil {
		return "", err
	}
	if err := afero.WriteFile(w.fs, fullPath, []byte(content), 0644); err != nil {
		return "", oops.With("path", fullPath, "context", "failed to write note").Wrap(err)
	}

	w.log.Debug("Note written",
		slog.Int64("message_id", msg.ID),
		slog.String("path", relPath))
	return relPath, nil
}

// NotePath returns the slash-separated note location relative to the entity
// export root: "<year>/<YYYY-MM-DD>.<title>.md", with "Message-<id>" standing
// in for messages without a usable title.
func NotePath(msg msgdomain.Message) string {
	date := msg.Date
	if date.IsZero() {
		date = time.Now().UTC()
	}
	stem := SanitizeTitle(msg.Title(), maxTitleLength)
	if stem == "" {
		stem = "Message-" + strconv.FormatInt(msg.ID, 10)
	}
	name := date.Format("2006-01-02") + "." + stem + ".md"
	return path.Join(strconv.Itoa(date.Year()), name)
}

// SanitizeTitle strips characters that are unsafe in filenames and trims the
// result to maxLen, preferring to cut at a word boundary.
func SanitizeTitle(text string, maxLen int) string {
	text = unsafeTitleChars.ReplaceAllString(text, "")
	text = strings.Trim(text, ". ")
	if reservedNames[strings.ToUpper(text)] {
		text += "_file"
	}
	if len(text) > maxLen {
		cut := text[:maxLen]
		if idx := strings.LastIndex(cut, " "); idx != -1 {
			cut = cut[:idx]
		}
		text = strings.Trim(cut, ". ")
	}
	return text
}

func render(msg msgdomain.Message, links []domain.MediaLink) (string, error) {
	fm := Frontmatter{
		MessageID: msg.ID,
		Date:      msg.Date.UTC().Format(time.RFC3339),
		ReplyTo:   msg.ReplyTo,
	}
	header, err := yaml.Marshal(fm)
	if err != nil {
		return "", oops.With("message_id", msg.ID, "context", "failed to encode frontmatter").Wrap(err)
	}

	var b strings.Builder
	b.WriteString("---\n")
	b.Write(header)
	b.WriteString("---\n")

	if text := strings.TrimSpace(msg.Text); text != "" {
		b.WriteString("\n")
		b.WriteString(text)
		b.WriteString("\n")
	}

	lines := lo.Map(links, func(link domain.MediaLink, _ int) string {
		return link.Markdown
	})
	if len(lines) > 0 {
		b.WriteString("\n")
		b.WriteString(strings.Join(lines, "\n"))
		b.WriteString("\n")
	}
	return b.String(), nil
}
