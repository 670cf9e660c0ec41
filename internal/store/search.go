package store

import (
	"strings"
	"unicode/utf8"

	"github.com/matheus3301/dmsync/internal/model"
)

const snippetRadius = 32

// SearchMessages finds archived messages whose text contains query,
// case-insensitively, newest first. peer > 0 restricts the search to the
// conversation between me and peer.
func (db *DB) SearchMessages(query string, me, peer int64, limit int) ([]SearchResult, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, nil
	}
	if limit <= 0 {
		limit = 50
	}

	q := `
		SELECT ` + messageColumns + `
		FROM messages
		WHERE body LIKE ? ESCAPE '\'`
	args := []any{"%" + escapeLike(query) + "%"}
	if peer > 0 {
		q += " AND MIN(sender_id, receiver_id) = ? AND MAX(sender_id, receiver_id) = ?"
		args = append(args, min(me, peer), max(me, peer))
	}
	q += " ORDER BY id DESC LIMIT ?"
	args = append(args, limit)

	rows, err := db.Query(q, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var results []SearchResult
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		results = append(results, SearchResult{Message: m, Peer: m.PeerOf(me), Snippet: snippet(m.Text, query)})
	}
	return results, rows.Err()
}

func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}

// snippet marks the first match of query in text with << >> and trims the
// surrounding text to a few words.
func snippet(text, query string) string {
	i := strings.Index(strings.ToLower(text), strings.ToLower(query))
	if i < 0 || len(strings.ToLower(text)) != len(text) {
		return text
	}
	end := i + len(query)
	start := max(0, i-snippetRadius)
	for start > 0 && !utf8.RuneStart(text[start]) {
		start--
	}
	stop := min(len(text), end+snippetRadius)
	for stop < len(text) && !utf8.RuneStart(text[stop]) {
		stop++
	}
	var b strings.Builder
	if start > 0 {
		b.WriteString("...")
	}
	b.WriteString(text[start:i])
	b.WriteString("<<")
	b.WriteString(text[i:end])
	b.WriteString(">>")
	b.WriteString(text[end:stop])
	if stop < len(text) {
		b.WriteString("...")
	}
	return b.String()
}

// SearchResult holds a message with a search snippet.
type SearchResult struct {
	Message model.Message
	Peer    int64
	Snippet string
}
