package util

import (
	"os"
	"strings"
)

func GetEnvironmentVariables() map[string]string {
	environmentVariables := map[string]string{}

	for _, variable := range os.Environ() {
		key, value, found := strings.Cut(variable, "=")
		if !found {
			continue
		}

		environmentVariables[key] = value
	}

	return environmentVariables
}

// EnvironmentWithPrefix returns every variable starting with prefix, keyed by
// the remainder of its name.
func EnvironmentWithPrefix(prefix string) map[string]string {
	scoped := map[string]string{}

	for key, value := range GetEnvironmentVariables() {
		if name, ok := strings.CutPrefix(key, prefix); ok && name != "" {
			scoped[name] = value
		}
	}

	return scoped
}
