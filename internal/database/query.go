package database

import (
	"strings"
)

// TypeText selects messages that have no document classification.
const TypeText = "text"

// Filter restricts which indexed messages a search may return.
type Filter struct {
	OnlyUser       bool
	OnlyGroup      bool
	ExcludeForward bool
	ExcludeBots    bool
	// ChatID and UserID pin results to a single chat or sender when non-zero.
	ChatID int64
	UserID int64
}

// SearchQuery is a normalized keyword search over the message index.
type SearchQuery struct {
	Terms []string
	// TypeFilter is empty for every message, TypeText for plain messages, or
	// a document type.
	TypeFilter string
	Filter     Filter
}

type predicate struct {
	clause string
	args   []any
}

const searchFrom = `
        FROM message_index m
        LEFT JOIN document_index d ON d.chat_id = m.chat_id AND d.message_id = m.message_id`

func escapeLike(term string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(term)
}

func termPredicate(term string) predicate {
	return predicate{
		clause: `LOWER(m.body) LIKE ? ESCAPE '\'`,
		args:   []any{"%" + escapeLike(strings.ToLower(term)) + "%"},
	}
}

func chatSignPredicate(f Filter) (predicate, bool) {
	switch {
	case f.OnlyUser && !f.OnlyGroup:
		return predicate{clause: "m.chat_id > 0"}, true
	case f.OnlyGroup && !f.OnlyUser:
		return predicate{clause: "m.chat_id < 0"}, true
	default:
		return predicate{}, false
	}
}

func typePredicate(typeFilter string) (predicate, bool) {
	switch typeFilter {
	case "":
		return predicate{}, false
	case TypeText:
		return predicate{clause: "d.chat_id IS NULL"}, true
	default:
		return predicate{clause: "d.doc_type = ?", args: []any{typeFilter}}, true
	}
}

func searchPredicates(q SearchQuery) []predicate {
	preds := make([]predicate, 0, len(q.Terms)+5)
	for _, term := range q.Terms {
		preds = append(preds, termPredicate(term))
	}
	if p, ok := typePredicate(q.TypeFilter); ok {
		preds = append(preds, p)
	}
	if p, ok := chatSignPredicate(q.Filter); ok {
		preds = append(preds, p)
	}
	if q.Filter.ExcludeForward {
		preds = append(preds, predicate{clause: "m.forward_from IS NULL"})
	}
	if q.Filter.ExcludeBots {
		preds = append(preds, predicate{
			clause: "m.from_user NOT IN (SELECT user_id FROM user_index WHERE is_bot = ?)",
			args:   []any{true},
		})
	}
	if q.Filter.ChatID != 0 {
		preds = append(preds, predicate{clause: "m.chat_id = ?", args: []any{q.Filter.ChatID}})
	}
	if q.Filter.UserID != 0 {
		preds = append(preds, predicate{clause: "m.from_user = ?", args: []any{q.Filter.UserID}})
	}
	return preds
}

func whereClause(preds []predicate) (string, []any) {
	if len(preds) == 0 {
		return "", nil
	}
	clauses := make([]string, len(preds))
	var args []any
	for i, p := range preds {
		clauses[i] = p.clause
		args = append(args, p.args...)
	}
	return "\n        WHERE " + strings.Join(clauses, "\n          AND "), args
}

// buildCountQuery returns the unbound COUNT statement for q.
func buildCountQuery(q SearchQuery) (string, []any) {
	where, args := whereClause(searchPredicates(q))
	return "SELECT COUNT(*)" + searchFrom + where, args
}

// buildWindowQuery returns the unbound window SELECT for q, newest first.
func buildWindowQuery(q SearchQuery, offset, limit int) (string, []any) {
	where, args := whereClause(searchPredicates(q))
	query := `SELECT m.chat_id, m.message_id, m.from_user, m.forward_from, m.body, m.event_time,
               COALESCE(d.doc_type, 'text') AS doc_type, d.media_ref` +
		searchFrom + where + `
        ORDER BY m.event_time DESC, m.chat_id DESC, m.message_id DESC
        LIMIT ? OFFSET ?`
	return query, append(args, limit, offset)
}
