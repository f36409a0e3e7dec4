package core

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// SpecHash computes a stable sha256 hash of an opaque spec tree. Map keys are
// visited in sorted order so the hash is independent of map iteration order,
// and numeric scalars are normalized so YAML and JSON decodings of the same
// document hash identically. Two specs hash equal exactly when SpecsEqual
// reports them equal: the canonical form tags every value with its type and
// length-delimits strings, so a string can never alias a number, a bool, or a
// container boundary.
func SpecHash(spec map[string]any) string {
	if len(spec) == 0 {
		return ""
	}
	builder := strings.Builder{}
	writeCanonical(&builder, spec)
	sum := sha256.Sum256([]byte(builder.String()))
	return hex.EncodeToString(sum[:])
}

func writeCanonical(builder *strings.Builder, value any) {
	switch typed := value.(type) {
	case map[string]any:
		keys := make([]string, 0, len(typed))
		for key := range typed {
			keys = append(keys, key)
		}
		sort.Strings(keys)
		fmt.Fprintf(builder, "m%d:", len(keys))
		for _, key := range keys {
			fmt.Fprintf(builder, "%d:%s", len(key), key)
			writeCanonical(builder, typed[key])
		}
	case []any:
		fmt.Fprintf(builder, "l%d:", len(typed))
		for _, item := range typed {
			writeCanonical(builder, item)
		}
	case nil:
		builder.WriteByte('~')
	case bool:
		if typed {
			builder.WriteString("b:1")
		} else {
			builder.WriteString("b:0")
		}
	case string:
		fmt.Fprintf(builder, "s%d:%s", len(typed), typed)
	default:
		if number, ok := toFloat(typed); ok {
			builder.WriteString("n:")
			builder.WriteString(strconv.FormatFloat(number, 'g', -1, 64))
			return
		}
		text := fmt.Sprintf("%v", typed)
		fmt.Fprintf(builder, "v%d:%s", len(text), text)
	}
}
