package overlay

import (
	"fmt"
	"strconv"
	"time"

	"github.com/mohammed-shakir/panoview-bridge/internal/host"
)

type Attribute struct {
	Name  string
	Value string
}

// Attributes reads the original value of every attribute field of row, in
// field order. Shape and blob fields, nil values and fields whose value
// cannot be read are skipped.
func Attributes(row host.Row) []Attribute {
	if row == nil {
		return nil
	}
	fields := row.Fields()
	out := make([]Attribute, 0, len(fields))
	for i, f := range fields {
		if f.Type == host.FieldGeometry || f.Type == host.FieldBlob {
			continue
		}
		v, err := row.OriginalValue(i)
		if err != nil || v == nil {
			continue
		}
		s, ok := stringify(v)
		if !ok {
			continue
		}
		out = append(out, Attribute{Name: f.Name, Value: s})
	}
	return out
}

// Properties is Attributes as a map; the first value seen for a name wins.
func Properties(row host.Row) map[string]string {
	attrs := Attributes(row)
	out := make(map[string]string, len(attrs))
	for _, a := range attrs {
		if _, ok := out[a.Name]; !ok {
			out[a.Name] = a.Value
		}
	}
	return out
}

func stringify(v any) (string, bool) {
	switch t := v.(type) {
	case string:
		return t, true
	case []byte:
		return "", false
	case int:
		return strconv.Itoa(t), true
	case int16:
		return strconv.FormatInt(int64(t), 10), true
	case int32:
		return strconv.FormatInt(int64(t), 10), true
	case int64:
		return strconv.FormatInt(t, 10), true
	case uint32:
		return strconv.FormatUint(uint64(t), 10), true
	case uint64:
		return strconv.FormatUint(t, 10), true
	case float32:
		return strconv.FormatFloat(float64(t), 'f', -1, 32), true
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64), true
	case bool:
		return strconv.FormatBool(t), true
	case time.Time:
		return t.Format(time.RFC3339), true
	case fmt.Stringer:
		return t.String(), true
	default:
		return fmt.Sprint(v), true
	}
}
