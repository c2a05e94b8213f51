package util

func InPlaceFilter[T any](s *[]T, p func(T) bool) {
	i := 0
	for _, e := range *s {
		if p(e) {
			(*s)[i] = e
			i++
		}
	}
	clear((*s)[i:])
	*s = (*s)[:i]
}

// Unique keeps the first occurrence of every non-zero value.
func Unique[T comparable](values []T) []T {
	var zero T
	seen := make(map[T]struct{}, len(values))
	list := make([]T, 0, len(values))

	for _, value := range values {
		if value == zero {
			continue
		}
		if _, ok := seen[value]; ok {
			continue
		}
		seen[value] = struct{}{}
		list = append(list, value)
	}

	return list
}
