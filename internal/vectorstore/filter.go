package vectorstore

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/qdrant/go-client/qdrant"
)

const (
	maxFilterKeys   = 32
	maxFilterValues = 100
)

// Validate checks that keys and values are non-empty and within bounds. An
// empty filter is valid and means no filtering.
func (f Filter) Validate() error {
	if len(f) > maxFilterKeys {
		return fmt.Errorf("%w: at most %d fields, got %d", ErrInvalidFilter, maxFilterKeys, len(f))
	}
	for k, values := range f {
		if strings.TrimSpace(k) == "" {
			return fmt.Errorf("%w: empty field name", ErrInvalidFilter)
		}
		if k == payloadNamespace {
			return fmt.Errorf("%w: field %q is reserved", ErrInvalidFilter, k)
		}
		if len(values) == 0 {
			return fmt.Errorf("%w: field %q has no permitted values", ErrInvalidFilter, k)
		}
		if len(values) > maxFilterValues {
			return fmt.Errorf("%w: field %q has more than %d values", ErrInvalidFilter, k, maxFilterValues)
		}
		for _, v := range values {
			if v == "" {
				return fmt.Errorf("%w: field %q has an empty value", ErrInvalidFilter, k)
			}
		}
	}
	return nil
}

// Matches reports whether metadata satisfies every field of the filter.
func (f Filter) Matches(metadata map[string]any) bool {
	for k, allowed := range f {
		v, ok := metadata[k]
		if !ok {
			return false
		}
		s := Stringify(v)
		found := false
		for _, a := range allowed {
			if a == s {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

// Stringify renders a scalar metadata value the way filters compare it.
func Stringify(v any) string {
	switch val := v.(type) {
	case string:
		return val
	case bool:
		return strconv.FormatBool(val)
	case int:
		return strconv.Itoa(val)
	case int32:
		return strconv.FormatInt(int64(val), 10)
	case int64:
		return strconv.FormatInt(val, 10)
	case float32:
		return strconv.FormatFloat(float64(val), 'f', -1, 32)
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case nil:
		return ""
	default:
		return fmt.Sprint(val)
	}
}

// restFilter renders the filter in the $in form of the REST protocol.
func (f Filter) restFilter() map[string]any {
	if len(f) == 0 {
		return nil
	}
	out := make(map[string]any, len(f))
	for k, values := range f {
		out[k] = map[string][]string{"$in": values}
	}
	return out
}

// qdrantFilter restricts a query to namespace and, per field, to any of the
// permitted values. Integer, double and boolean payloads are matched
// alongside the keyword form so stringified comparison holds for them too.
func (f Filter) qdrantFilter(namespace string) *qdrant.Filter {
	must := []*qdrant.Condition{keywordCondition(payloadNamespace, namespace)}

	for k, values := range f {
		should := []*qdrant.Condition{{
			ConditionOneOf: &qdrant.Condition_Field{
				Field: &qdrant.FieldCondition{
					Key: k,
					Match: &qdrant.Match{
						MatchValue: &qdrant.Match_Keywords{
							Keywords: &qdrant.RepeatedStrings{Strings: values},
						},
					},
				},
			},
		}}
		for _, v := range values {
			// Only canonical spellings match numbers, as Stringify would
			// never render 3 as "03" or "3.0".
			if n, err := strconv.ParseInt(v, 10, 64); err == nil && strconv.FormatInt(n, 10) == v {
				should = append(should, &qdrant.Condition{
					ConditionOneOf: &qdrant.Condition_Field{
						Field: &qdrant.FieldCondition{
							Key:   k,
							Match: &qdrant.Match{MatchValue: &qdrant.Match_Integer{Integer: n}},
						},
					},
				})
			} else if x, err := strconv.ParseFloat(v, 64); err == nil && !math.IsInf(x, 0) && strconv.FormatFloat(x, 'f', -1, 64) == v {
				should = append(should, exactRange(k, x))
			}
			if b, err := strconv.ParseBool(v); err == nil && (v == "true" || v == "false") {
				should = append(should, &qdrant.Condition{
					ConditionOneOf: &qdrant.Condition_Field{
						Field: &qdrant.FieldCondition{
							Key:   k,
							Match: &qdrant.Match{MatchValue: &qdrant.Match_Boolean{Boolean: b}},
						},
					},
				})
			}
		}
		must = append(must, &qdrant.Condition{
			ConditionOneOf: &qdrant.Condition_Filter{
				Filter: &qdrant.Filter{Should: should},
			},
		})
	}
	return &qdrant.Filter{Must: must}
}

// exactRange matches a double payload equal to x.
func exactRange(key string, x float64) *qdrant.Condition {
	gte, lte := x, x
	return &qdrant.Condition{
		ConditionOneOf: &qdrant.Condition_Field{
			Field: &qdrant.FieldCondition{
				Key:   key,
				Range: &qdrant.Range{Gte: &gte, Lte: &lte},
			},
		},
	}
}

func keywordCondition(key, value string) *qdrant.Condition {
	return &qdrant.Condition{
		ConditionOneOf: &qdrant.Condition_Field{
			Field: &qdrant.FieldCondition{
				Key:   key,
				Match: &qdrant.Match{MatchValue: &qdrant.Match_Keyword{Keyword: value}},
			},
		},
	}
}
