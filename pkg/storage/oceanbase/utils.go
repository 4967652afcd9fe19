package oceanbase

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/oceanbase/recallmem-go/pkg/storage"
)

var identifierPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

func validIdentifier(name string) bool {
	return identifierPattern.MatchString(name)
}

// vectorToString converts a float64 slice to an OceanBase VECTOR literal.
// Example: [0.1, 0.2, 0.3] -> "[0.1,0.2,0.3]"
func vectorToString(vector []float64) string {
	parts := make([]string, len(vector))
	for i, v := range vector {
		parts[i] = strconv.FormatFloat(v, 'g', -1, 32)
	}
	return "[" + strings.Join(parts, ",") + "]"
}

// stringToVector parses a VECTOR literal.
// Example: "[0.1,0.2,0.3]" -> [0.1, 0.2, 0.3]
func stringToVector(s string) ([]float64, error) {
	s = strings.Trim(strings.TrimSpace(s), "[]")
	if s == "" {
		return []float64{}, nil
	}

	parts := strings.Split(s, ",")
	result := make([]float64, len(parts))
	for i, part := range parts {
		val, err := strconv.ParseFloat(strings.TrimSpace(part), 64)
		if err != nil {
			return nil, err
		}
		result[i] = val
	}
	return result, nil
}

// buildSearchWhere builds the owner, tier and expiry predicates.
func buildSearchWhere(opts *storage.SearchOptions) (string, []interface{}) {
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(opts.Tiers)), ",")
	conditions := []string{
		"owner_id = ?",
		fmt.Sprintf("tier IN (%s)", placeholders),
	}
	args := []interface{}{opts.OwnerID}
	for _, t := range opts.Tiers {
		args = append(args, string(t))
	}

	if !opts.EphemeralCutoff.IsZero() {
		conditions = append(conditions,
			fmt.Sprintf("NOT (tier = '%s' AND created_at < ?)", storage.TierEphemeral))
		args = append(args, opts.EphemeralCutoff.UTC())
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
