package postgres

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/lib/pq"
	"github.com/oceanbase/recallmem-go/pkg/storage"
	"github.com/pgvector/pgvector-go"
)

var identifierPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

func validIdentifier(name string) bool {
	return identifierPattern.MatchString(name)
}

// buildSearchWhere builds the search predicates starting from $startIndex.
func buildSearchWhere(opts *storage.SearchOptions, startIndex int) (string, []interface{}) {
	argIndex := startIndex
	conditions := []string{
		fmt.Sprintf("owner_id = $%d", argIndex),
		fmt.Sprintf("tier = ANY($%d)", argIndex+1),
	}
	args := []interface{}{opts.OwnerID, pq.Array(storage.TierStrings(opts.Tiers))}
	argIndex += 2

	if !opts.EphemeralCutoff.IsZero() {
		conditions = append(conditions,
			fmt.Sprintf("NOT (tier = '%s' AND created_at < $%d)", storage.TierEphemeral, argIndex))
		args = append(args, opts.EphemeralCutoff.UTC())
	}

	return "WHERE " + strings.Join(conditions, " AND "), args
}

// buildCountWhere builds a WHERE clause for Count starting from $1.
func buildCountWhere(opts *storage.CountOptions) (string, []interface{}) {
	conditions := []string{}
	args := []interface{}{}

	if opts.OwnerID != "" {
		args = append(args, opts.OwnerID)
		conditions = append(conditions, fmt.Sprintf("owner_id = $%d", len(args)))
	}
	if opts.Tier != "" {
		args = append(args, string(opts.Tier))
		conditions = append(conditions, fmt.Sprintf("tier = $%d", len(args)))
	}

	if len(conditions) == 0 {
		return "", args
	}
	return "WHERE " + strings.Join(conditions, " AND "), args
}

// toVector converts an embedding to a pgvector value; nil stays NULL.
func toVector(embedding []float64) interface{} {
	if embedding == nil {
		return nil
	}
	f32 := make([]float32, len(embedding))
	for i, v := range embedding {
		f32[i] = float32(v)
	}
	return pgvector.NewVector(f32)
}

func fromVector(v pgvector.Vector) []float64 {
	f32 := v.Slice()
	out := make([]float64, len(f32))
	for i, x := range f32 {
		out[i] = float64(x)
	}
	return out
}

func encodeAttributes(attrs map[string]interface{}) ([]byte, error) {
	if attrs == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(attrs)
}
