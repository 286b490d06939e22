package replylink

import (
	"log/slog"
	"path"
	"path/filepath"
	"strings"

	"github.com/reshetovitsme/tg-vault-export/internal/modules/exportcache"
	"github.com/reshetovitsme/tg-vault-export/internal/modules/notes"
	"github.com/samber/oops"
	"github.com/spf13/afero"
)

// unresolvedTarget marks a reply whose parent has no exported note.
const unresolvedTarget = "Unresolved"

// Linker is the reply back-reference pass: after all notes of an entity are
// written, every note whose message replied to another gets a
// "Reply to [[parent]]" line at the top of its body. It runs over the cache
// records, not the message stream, so replies to messages exported in earlier
// runs resolve too.
type Linker struct {
	fs  afero.Fs
	log *slog.Logger
}

func New(fs afero.Fs, log *slog.Logger) *Linker {
	return &Linker{fs: fs, log: log.With(slog.String("item", "ReplyLinker"))}
}

// LinkReplies annotates every reply note under exportPath. Per-note failures
// are logged and skipped so one unreadable file does not abort the pass.
func (l *Linker) LinkReplies(exportPath string, records map[int64]exportcache.ProcessedMessage) error {
	linked := 0
	for msgID, record := range records {
		if record.ReplyTo == 0 || record.Filename == "" {
			continue
		}

		target := unresolvedTarget
		if parent, ok := records[record.ReplyTo]; ok && parent.Filename != "" {
			exists, _ := afero.Exists(l.fs, filepath.Join(exportPath, filepath.FromSlash(parent.Filename)))
			if exists {
				target = noteStem(parent.Filename)
			}
		}

		changed, err := l.annotate(filepath.Join(exportPath, filepath.FromSlash(record.Filename)), target)
		if err != nil {
			l.log.Warn("Failed to add reply link",
				slog.Int64("message_id", msgID),
				slog.String("note", record.Filename),
				slog.Any("error", err))
			continue
		}
		if changed {
			linked++
		}
	}

	l.log.Info("Reply linking finished", slog.Int("linked", linked))
	return nil
}

// annotate inserts the reply line right after the note's frontmatter block.
// Notes whose body already starts with a reply line are left alone.
func (l *Linker) annotate(notePath, target string) (bool, error) {
	raw, err := afero.ReadFile(l.fs, notePath)
	if err != nil {
		return false, oops.With("path", notePath).Wrap(err)
	}

	header, body := notes.SplitFrontmatter(raw)
	if strings.HasPrefix(strings.TrimLeft(string(body), "\n"), "Reply to") {
		return false, nil
	}

	line := "Reply to [[" + target + "]]\n"
	if target == unresolvedTarget {
		line = "Reply to Unresolved\n"
	}

	var b strings.Builder
	b.Write(header)
	b.WriteString(line)
	b.Write(body)

	if err := afero.WriteFile(l.fs, notePath, []byte(b.String()), 0644); err != nil {
		return false, oops.With("path", notePath).Wrap(err)
	}
	return true, nil
}

// noteStem returns the wiki-link target for a note: its filename without
// directories or the .md suffix.
func noteStem(filename string) string {
	return strings.TrimSuffix(path.Base(filename), ".md")
}
