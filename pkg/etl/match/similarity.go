package match

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/agnivade/levenshtein"

	model "github.com/tigerroll/etlcore/pkg/etl/core/domain/model"
)

// normalize prepares a value for hashing and comparison: lower case, trimmed,
// inner whitespace collapsed.
func normalize(v interface{}) string {
	return strings.Join(strings.Fields(strings.ToLower(model.StringValue(v))), " ")
}

// EntityHash is the SHA-256 over the normalized key fields in sorted field order.
// With no key fields every field of data takes part.
func EntityHash(data model.Fields, keyFields []string) string {
	fields := append([]string(nil), keyFields...)
	if len(fields) == 0 {
		fields = data.Keys()
	}
	sort.Strings(fields)

	h := sha256.New()
	for _, f := range fields {
		h.Write([]byte(f))
		h.Write([]byte{0x1f})
		h.Write([]byte(normalize(data[f])))
		h.Write([]byte{0x1e})
	}
	return hex.EncodeToString(h.Sum(nil))
}

// BlockKey is the lowercase prefix of the blocking field, spaces removed.
// prefixLen <= 0 uses the whole value.
func BlockKey(data model.Fields, blockingField string, prefixLen int) string {
	if blockingField == "" {
		return ""
	}
	s := strings.ReplaceAll(normalize(data[blockingField]), " ", "")
	if prefixLen <= 0 || utf8.RuneCountInString(s) <= prefixLen {
		return s
	}
	return string([]rune(s)[:prefixLen])
}

// StringSimilarity is 1 - levenshtein(a, b) / max(len(a), len(b)) over runes.
// Two empty strings are identical; one empty string scores 0.
func StringSimilarity(a, b string) float64 {
	la, lb := utf8.RuneCountInString(a), utf8.RuneCountInString(b)
	if la == 0 && lb == 0 {
		return 1
	}
	if la == 0 || lb == 0 {
		return 0
	}
	longest := la
	if lb > longest {
		longest = lb
	}
	return 1 - float64(levenshtein.ComputeDistance(a, b))/float64(longest)
}

// Similarity is the weighted mean of the per-field StringSimilarity over fields.
// Fields missing from weights weigh 1; non-positive weights exclude the field.
func Similarity(a, b model.Fields, fields []string, weights map[string]float64) float64 {
	var sum, total float64
	for _, f := range fields {
		w := 1.0
		if cw, ok := weights[f]; ok {
			w = cw
		}
		if w <= 0 {
			continue
		}
		sum += w * StringSimilarity(normalize(a[f]), normalize(b[f]))
		total += w
	}
	if total == 0 {
		return 0
	}
	return sum / total
}
