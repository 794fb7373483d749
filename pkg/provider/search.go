package provider

import (
	"encoding/json"
	"sort"
)

// Match is one entity returned by a Search. Search calls carry the ID
// prefix in TargetID and answer with the encoded match list as Value.Data.
type Match struct {
	ID   string `json:"id"`
	Data []byte `json:"data"`
}

// EncodeMatches renders matches sorted by ID, so equal result sets from
// different providers fingerprint identically.
func EncodeMatches(matches []Match) []byte {
	sorted := append([]Match(nil), matches...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].ID < sorted[j].ID })
	if sorted == nil {
		sorted = []Match{}
	}
	data, _ := json.Marshal(sorted)
	return data
}

// DecodeMatches parses a Search result.
func DecodeMatches(data []byte) ([]Match, error) {
	var out []Match
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, err
	}
	return out, nil
}
