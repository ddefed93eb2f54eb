package configs

import (
	"fmt"
	"strings"
)

// ExpandPermutations performs brace expansion: the leftmost '{' opens a
// comma-delimited alternative list terminated by the next '}', and each
// alternative is expanded recursively. A line without braces yields itself.
func ExpandPermutations(line string) ([]string, error) {
	opening := strings.IndexByte(line, '{')
	if opening < 0 {
		return []string{line}, nil
	}

	closing := strings.IndexByte(line[opening:], '}')
	if closing < 0 {
		return nil, fmt.Errorf("missing '}'")
	}
	closing += opening

	var expanded []string
	for _, alternative := range strings.Split(line[opening+1:closing], ",") {
		sub, err := ExpandPermutations(line[:opening] + alternative + line[closing+1:])
		if err != nil {
			return nil, err
		}
		expanded = append(expanded, sub...)
	}

	return expanded, nil
}
