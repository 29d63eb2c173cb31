package domain

// Undef is the sentinel value passed to [Comparer] and [Matcher] in place of
// a field that [FieldNavigator.Get] reported as absent. It is distinct from
// Go's nil, which represents a JSON null and sorts strictly after it.
var Undef any = undefined{}

type undefined struct{}

// IsUndef reports whether v is the [Undef] sentinel.
func IsUndef(v any) bool {
	_, ok := v.(undefined)
	return ok
}
