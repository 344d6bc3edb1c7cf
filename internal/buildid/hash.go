package buildid

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
)

// HashVersion discriminates the canonical serialization. It prefixes every
// BuildId so incompatible hashers can never be confused for each other.
const HashVersion = "b1"

// canonicalField mirrors the producer's serialization exactly: object keys
// in lexicographic order, affects_abi always true, value null when absent.
// Field declaration order here is the emitted key order.
type canonicalField struct {
	AffectsABI bool    `json:"affects_abi"`
	Name       string  `json:"name"`
	Value      *string `json:"value"`
}

type canonicalDocument struct {
	Inputs  []canonicalField `json:"inputs"`
	Version string           `json:"version"`
}

// CanonicalJSON serializes inputs into the canonical byte form that is
// hashed. Inputs are sorted by name; absent content becomes explicit null;
// no HTML escaping and no trailing newline, so the bytes match the
// producer's serializer exactly.
func CanonicalJSON(inputs []Input) (string, error) {
	fields := make([]canonicalField, 0, len(inputs))
	for _, input := range inputs {
		fields = append(fields, canonicalField{
			AffectsABI: true,
			Name:       input.Name,
			Value:      input.Content,
		})
	}
	sort.Slice(fields, func(i, j int) bool { return fields[i].Name < fields[j].Name })

	doc := canonicalDocument{Inputs: fields, Version: HashVersion}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(doc); err != nil {
		return "", fmt.Errorf("serialize build inputs: %w", err)
	}
	return string(bytes.TrimRight(buf.Bytes(), "\n")), nil
}

// Hash computes the BuildId string "<hashVersion>-<hexDigest>" for a
// collected input set.
func Hash(inputs []Input) (string, error) {
	canonical, err := CanonicalJSON(inputs)
	if err != nil {
		return "", err
	}
	digest := sha256.Sum256([]byte(canonical))
	return fmt.Sprintf("%s-%s", HashVersion, hex.EncodeToString(digest[:])), nil
}

// Compute reads the crate's build inputs and returns its BuildId.
func Compute(crateDir string) (string, error) {
	inputs, err := CollectInputs(crateDir)
	if err != nil {
		return "", err
	}
	return Hash(inputs)
}
