// ABOUTME: Retrieval legs for SQLite: cosine scan, FTS5 bm25 and recency
// ABOUTME: Vectors are compared in-process; lexical search falls back to LIKE without FTS5
package sqlite

import (
	"context"
	"sort"
	"strings"
	"unicode"

	"github.com/harper/recall/internal/models"
	"github.com/harper/recall/internal/storage"
)

// SearchStore answers vector, lexical and recency queries
type SearchStore struct {
	db *DB
}

// NewSearchStore creates a new SearchStore
func NewSearchStore(db *DB) *SearchStore {
	return &SearchStore{db: db}
}

// scopeClause renders the scope as a WHERE fragment over alias w
func scopeClause(scope models.SearchScope) (string, []interface{}) {
	clauses := []string{"w.user_id = ?"}
	args := []interface{}{scope.UserID}
	if scope.ConversationID != "" {
		clauses = append(clauses, "w.conversation_id = ?")
		args = append(args, scope.ConversationID)
	}
	if scope.TestGroup != nil {
		clauses = append(clauses, "w.test_group = ?")
		args = append(args, *scope.TestGroup)
	}
	if !scope.Since.IsZero() {
		clauses = append(clauses, "w.last_turn_at >= ?")
		args = append(args, toNanos(scope.Since))
	}
	if !scope.Until.IsZero() {
		clauses = append(clauses, "w.first_turn_at <= ?")
		args = append(args, toNanos(scope.Until))
	}
	return strings.Join(clauses, " AND "), args
}

// VectorSearch ranks ready windows in scope by cosine similarity
func (s *SearchStore) VectorSearch(ctx context.Context, scope models.SearchScope, query []float32, limit int) ([]models.Candidate, error) {
	where, args := scopeClause(scope)
	rows, err := s.db.Query(ctx, `
		SELECT `+windowColumns+`, w.embedding
		FROM windows w
		WHERE `+where+` AND w.state = 'ready' AND w.embedding IS NOT NULL
	`, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var results []models.Candidate
	for rows.Next() {
		var blob []byte
		w, err := scanWindow(rows, &blob)
		if err != nil {
			return nil, err
		}
		score := storage.CosineSimilarity(query, blobToVector(blob))
		results = append(results, models.Candidate{Window: w, Score: score})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	sort.Slice(results, func(i, j int) bool {
		return results[i].Score > results[j].Score
	})
	if limit > 0 && len(results) > limit {
		results = results[:limit]
	}
	return results, nil
}

// LexicalSearch ranks windows in scope by full-text relevance
func (s *SearchStore) LexicalSearch(ctx context.Context, scope models.SearchScope, text string, limit int) ([]models.Candidate, error) {
	terms := queryTerms(text)
	if len(terms) == 0 {
		return nil, nil
	}
	if !s.db.FTS() {
		return s.likeSearch(ctx, scope, terms, limit)
	}

	quoted := make([]string, len(terms))
	for i, t := range terms {
		quoted[i] = `"` + t + `"`
	}
	match := strings.Join(quoted, " OR ")

	where, args := scopeClause(scope)
	args = append([]interface{}{match}, args...)
	args = append(args, limit)

	rows, err := s.db.Query(ctx, `
		SELECT `+windowColumns+`, -bm25(windows_fts) AS score
		FROM windows_fts
		JOIN windows w ON w.id = windows_fts.rowid
		WHERE windows_fts MATCH ? AND `+where+`
		ORDER BY score DESC
		LIMIT ?
	`, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var results []models.Candidate
	for rows.Next() {
		var score float64
		w, err := scanWindow(rows, &score)
		if err != nil {
			return nil, err
		}
		results = append(results, models.Candidate{Window: w, Score: score})
	}
	return results, rows.Err()
}

// likeSearch scores windows by the number of query terms they contain
func (s *SearchStore) likeSearch(ctx context.Context, scope models.SearchScope, terms []string, limit int) ([]models.Candidate, error) {
	where, args := scopeClause(scope)
	likes := make([]string, len(terms))
	for i, t := range terms {
		likes[i] = "LOWER(w.text) LIKE ?"
		args = append(args, "%"+t+"%")
	}

	rows, err := s.db.Query(ctx, `
		SELECT `+windowColumns+`
		FROM windows w
		WHERE `+where+` AND (`+strings.Join(likes, " OR ")+`)
	`, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var results []models.Candidate
	for rows.Next() {
		w, err := scanWindow(rows)
		if err != nil {
			return nil, err
		}
		lower := strings.ToLower(w.Text)
		var score float64
		for _, t := range terms {
			score += float64(strings.Count(lower, t))
		}
		results = append(results, models.Candidate{Window: w, Score: score})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	sort.Slice(results, func(i, j int) bool {
		return results[i].Score > results[j].Score
	})
	if limit > 0 && len(results) > limit {
		results = results[:limit]
	}
	return results, nil
}

// RecentWindows returns windows in scope by last activity
func (s *SearchStore) RecentWindows(ctx context.Context, scope models.SearchScope, limit int) ([]models.Candidate, error) {
	where, args := scopeClause(scope)
	args = append(args, limit)
	rows, err := s.db.Query(ctx, `
		SELECT `+windowColumns+`
		FROM windows w
		WHERE `+where+`
		ORDER BY w.last_turn_at DESC, w.window_id DESC
		LIMIT ?
	`, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var results []models.Candidate
	for rows.Next() {
		w, err := scanWindow(rows)
		if err != nil {
			return nil, err
		}
		results = append(results, models.Candidate{Window: w})
	}
	return results, rows.Err()
}

// queryTerms lowercases the query and splits it into letter/digit runs
func queryTerms(text string) []string {
	fields := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	seen := make(map[string]bool, len(fields))
	var terms []string
	for _, f := range fields {
		if !seen[f] {
			seen[f] = true
			terms = append(terms, f)
		}
	}
	return terms
}
