package notes

import (
	"bytes"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/samber/oops"
	"github.com/spf13/afero"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/parser"
	"go.abhg.dev/goldmark/frontmatter"
)

// NoteInfo is the identity of one exported note recovered from its
// frontmatter.
type NoteInfo struct {
	MessageID int64
	ReplyTo   int64
	// Path is slash-separated and relative to the scanned root.
	Path string
}

// Scanner rebuilds the processed-message index from the notes themselves, for
// vaults whose cache file was lost or deleted.
type Scanner struct {
	fs  afero.Fs
	md  goldmark.Markdown
	log *slog.Logger
}

func NewScanner(fs afero.Fs, log *slog.Logger) *Scanner {
	return &Scanner{
		fs: fs,
		md: goldmark.New(goldmark.WithExtensions(&frontmatter.Extender{
			Formats: []frontmatter.Format{frontmatter.YAML},
		})),
		log: log.With(slog.String("item", "VaultScanner")),
	}
}

// Scan walks root for markdown notes and returns one NoteInfo per note whose
// frontmatter carries a message ID. Notes without frontmatter are skipped.
func (s *Scanner) Scan(root string) ([]NoteInfo, error) {
	var found []NoteInfo
	err := afero.Walk(s.fs, root, func(path string, info fs.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() || !strings.HasSuffix(info.Name(), ".md") {
			return nil
		}

		note, ok := s.readNote(path)
		if !ok {
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return oops.With("path", path).Wrap(err)
		}
		note.Path = filepath.ToSlash(rel)
		found = append(found, note)
		return nil
	})
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, oops.With("root", root, "context", "vault scan failed").Wrap(err)
	}
	return found, nil
}

func (s *Scanner) readNote(path string) (NoteInfo, bool) {
	raw, err := afero.ReadFile(s.fs, path)
	if err != nil {
		s.log.Warn("Failed to read note", slog.String("path", path), slog.Any("error", err))
		return NoteInfo{}, false
	}

	ctx := parser.NewContext()
	if err := s.md.Convert(raw, io.Discard, parser.WithContext(ctx)); err != nil {
		s.log.Warn("Failed to parse note", slog.String("path", path), slog.Any("error", err))
		return NoteInfo{}, false
	}

	data := frontmatter.Get(ctx)
	if data == nil {
		return NoteInfo{}, false
	}
	var fm Frontmatter
	if err := data.Decode(&fm); err != nil || fm.MessageID == 0 {
		return NoteInfo{}, false
	}
	return NoteInfo{MessageID: fm.MessageID, ReplyTo: fm.ReplyTo}, true
}

// SplitFrontmatter separates a note's raw bytes into the frontmatter block
// (including both delimiter lines) and the body. Notes without a frontmatter
// block return an empty header.
func SplitFrontmatter(raw []byte) (header, body []byte) {
	const delim = "---\n"
	if !bytes.HasPrefix(raw, []byte(delim)) {
		return nil, raw
	}
	rest := raw[len(delim):]
	end := bytes.Index(rest, []byte(delim))
	if end == -1 {
		return nil, raw
	}
	cut := len(delim) + end + len(delim)
	return raw[:cut], raw[cut:]
}
