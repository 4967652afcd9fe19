package sqlite

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"math"
	"regexp"
	"strings"

	"github.com/oceanbase/recallmem-go/pkg/storage"
)

var identifierPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// validIdentifier reports whether name is safe to splice into DDL.
func validIdentifier(name string) bool {
	return identifierPattern.MatchString(name)
}

// buildSearchWhere builds the owner, tier and expiry predicates shared by
// both search paths.
func buildSearchWhere(opts *storage.SearchOptions) (string, []interface{}) {
	conditions := []string{"owner_id = ?"}
	args := []interface{}{opts.OwnerID}

	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(opts.Tiers)), ",")
	conditions = append(conditions, fmt.Sprintf("tier IN (%s)", placeholders))
	for _, t := range opts.Tiers {
		args = append(args, string(t))
	}

	if !opts.EphemeralCutoff.IsZero() {
		conditions = append(conditions, "NOT (tier = ? AND created_at < ?)")
		args = append(args, string(storage.TierEphemeral), opts.EphemeralCutoff.UnixNano())
	}

	return "WHERE " + strings.Join(conditions, " AND "), args
}

// buildCountWhere builds a WHERE clause for Count.
func buildCountWhere(opts *storage.CountOptions) (string, []interface{}) {
	conditions := []string{}
	args := []interface{}{}

	if opts.OwnerID != "" {
		conditions = append(conditions, "owner_id = ?")
		args = append(args, opts.OwnerID)
	}
	if opts.Tier != "" {
		conditions = append(conditions, "tier = ?")
		args = append(args, string(opts.Tier))
	}

	if len(conditions) == 0 {
		return "", args
	}
	return "WHERE " + strings.Join(conditions, " AND "), args
}

func encodeAttributes(attrs map[string]interface{}) (string, error) {
	if attrs == nil {
		return "{}", nil
	}
	data, err := json.Marshal(attrs)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func decodeAttributes(s sql.NullString) (map[string]interface{}, error) {
	attrs := map[string]interface{}{}
	if !s.Valid || s.String == "" || s.String == "null" {
		return attrs, nil
	}
	if err := json.Unmarshal([]byte(s.String), &attrs); err != nil {
		return nil, fmt.Errorf("parse attributes: %w", err)
	}
	return attrs, nil
}

// cosineDistance returns 1 - cos(a, b), clamped to [0, 2].
// Mismatched or zero-norm vectors are treated as orthogonal.
func cosineDistance(a, b []float64) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 1
	}

	var dotProduct, normA, normB float64
	for i := range a {
		dotProduct += a[i] * b[i]
		normA += a[i] * a[i]
		normB += b[i] * b[i]
	}

	if normA == 0 || normB == 0 {
		return 1
	}

	d := 1 - dotProduct/(math.Sqrt(normA)*math.Sqrt(normB))
	return math.Max(0, math.Min(2, d))
}
