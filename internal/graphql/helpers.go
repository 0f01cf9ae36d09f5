package graphql

import (
	"fmt"

	"github.com/rpattn/fieldver/internal/repository"
)

// parseKey reads a [String!]! argument as a primary key tuple.
func parseKey(table *repository.Table, raw any) ([]any, error) {
	values, ok := raw.([]any)
	if !ok {
		return nil, fmt.Errorf("primary key must be a list, got %T", raw)
	}
	return table.ParseKey(values)
}

// parseKeyList reads a [[String!]!] argument as a list of key tuples.
func parseKeyList(table *repository.Table, raw any) ([][]any, error) {
	if raw == nil {
		return nil, nil
	}
	items, ok := raw.([]any)
	if !ok {
		return nil, fmt.Errorf("ids must be a list of keys, got %T", raw)
	}
	keys := make([][]any, 0, len(items))
	for _, item := range items {
		key, err := parseKey(table, item)
		if err != nil {
			return nil, err
		}
		keys = append(keys, key)
	}
	return keys, nil
}
