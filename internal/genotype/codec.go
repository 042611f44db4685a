package genotype

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

const parameterSeparator = ";"

// Marshal encodes the parameters as decimal text joined by ';' with no
// trailing separator. Values use the shortest representation that parses
// back to the same float64.
func (g *Genotype) Marshal() []byte {
	var b strings.Builder
	for i, value := range g.parameters {
		if i > 0 {
			b.WriteString(parameterSeparator)
		}
		b.WriteString(strconv.FormatFloat(value, 'g', -1, 64))
	}
	return []byte(b.String())
}

// Unmarshal decodes text produced by Marshal. A token that does not parse as
// a float64 fails with ErrFormat. Empty input decodes to a genotype with no
// parameters.
func Unmarshal(data []byte) (*Genotype, error) {
	text := strings.TrimSpace(string(data))
	if text == "" {
		return Zero(0), nil
	}

	tokens := strings.Split(text, parameterSeparator)
	parameters := make([]float64, 0, len(tokens))
	for i, token := range tokens {
		value, err := strconv.ParseFloat(strings.TrimSpace(token), 64)
		if err != nil {
			return nil, fmt.Errorf("%w: token %d %q", ErrFormat, i, token)
		}
		parameters = append(parameters, value)
	}
	return New(parameters), nil
}

// SaveToFile writes the serialised genotype to path, one genotype per file.
func (g *Genotype) SaveToFile(path string) error {
	if err := os.WriteFile(path, g.Marshal(), 0o644); err != nil {
		return fmt.Errorf("save genotype %s: %w", path, err)
	}
	return nil
}

// LoadFromFile reads a genotype written by SaveToFile.
func LoadFromFile(path string) (*Genotype, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("load genotype %s: %w", path, err)
	}
	g, err := Unmarshal(data)
	if err != nil {
		return nil, fmt.Errorf("load genotype %s: %w", path, err)
	}
	return g, nil
}
