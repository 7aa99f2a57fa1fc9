// Package workitem loads and interprets uploaded work-item documents.
//
// A work-item document is a flat list of free-form records, one per
// product to draft. The schema is intentionally open: partner exports
// disagree on field naming, so product codes are recovered by scanning
// a fixed, ordered list of candidate fields rather than by decoding
// into a struct.
package workitem

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
)

// Item is one raw work-item record.
type Item map[string]any

// codePattern gates candidate values: 1-5 letters, a hyphen, digits.
// Anything else (free text, bare numbers, URLs) is rejected.
var codePattern = regexp.MustCompile(`^[A-Za-z]{1,5}-[0-9]+$`)

// codeFields is the ordered list of top-level fields scanned for a
// product code. Order matters: the first matching field wins.
var codeFields = []string{
	"spu",
	"spu_id",
	"spuCode",
	"spu_code",
	"sku",
	"SKU",
	"skuCode",
	"product_id",
	"productId",
	"product_code",
}

// variationFields name nested lists that are scanned with the same
// candidate fields when the top level yields nothing.
var variationFields = []string{"variations", "variants"}

// Load reads a work-item document from disk.
//
// JSON and YAML are both accepted; the extension picks the decoder and
// unknown extensions fall back to JSON first, then YAML.
func Load(path string) ([]Item, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read work items: %w", err)
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return decodeYAML(b)
	case ".json":
		return decodeJSON(b)
	default:
		items, jsonErr := decodeJSON(b)
		if jsonErr == nil {
			return items, nil
		}
		items, yamlErr := decodeYAML(b)
		if yamlErr == nil {
			return items, nil
		}
		return nil, fmt.Errorf("parse work items: %w", jsonErr)
	}
}

func decodeJSON(b []byte) ([]Item, error) {
	if err := ValidateRaw(b); err != nil {
		return nil, err
	}
	var items []Item
	if err := json.Unmarshal(b, &items); err != nil {
		return nil, fmt.Errorf("decode json work items: %w", err)
	}
	return items, nil
}

func decodeYAML(b []byte) ([]Item, error) {
	var items []Item
	if err := yaml.Unmarshal(b, &items); err != nil {
		return nil, fmt.Errorf("decode yaml work items: %w", err)
	}
	if err := Validate(items); err != nil {
		return nil, err
	}
	return items, nil
}

// ExtractCode recovers the product code for one item.
//
// Top-level candidate fields are scanned in order, then any nested
// variation/variant list. A value is only accepted when it matches the
// code pattern; the returned code is upper-cased.
func ExtractCode(item Item) (string, bool) {
	if code, ok := scanFields(item); ok {
		return code, true
	}

	for _, key := range variationFields {
		list, ok := item[key].([]any)
		if !ok {
			continue
		}
		for _, entry := range list {
			nested, ok := asItem(entry)
			if !ok {
				continue
			}
			if code, ok := scanFields(nested); ok {
				return code, true
			}
		}
	}

	return "", false
}

func scanFields(item Item) (string, bool) {
	for _, field := range codeFields {
		raw, ok := item[field]
		if !ok {
			continue
		}
		value, ok := raw.(string)
		if !ok {
			continue
		}
		value = strings.TrimSpace(value)
		if codePattern.MatchString(value) {
			return strings.ToUpper(value), true
		}
	}
	return "", false
}

// asItem normalizes decoded map types. YAML and JSON decoders disagree
// on the concrete map type for nested objects.
func asItem(v any) (Item, bool) {
	switch m := v.(type) {
	case Item:
		return m, true
	case map[string]any:
		return m, true
	default:
		return nil, false
	}
}

// Variants returns the nested variation records of an item, normalized
// to Item, in document order. Items without a variation list return nil.
func Variants(item Item) []Item {
	var out []Item
	for _, key := range variationFields {
		list, ok := item[key].([]any)
		if !ok {
			continue
		}
		for _, entry := range list {
			if nested, ok := asItem(entry); ok {
				out = append(out, nested)
			}
		}
	}
	return out
}

// Codes returns the de-duplicated set of product codes across items,
// in first-seen order. Items with no recoverable code are skipped.
func Codes(items []Item) []string {
	seen := make(map[string]struct{}, len(items))
	out := make([]string, 0, len(items))
	for _, item := range items {
		code, ok := ExtractCode(item)
		if !ok {
			continue
		}
		if _, dup := seen[code]; dup {
			continue
		}
		seen[code] = struct{}{}
		out = append(out, code)
	}
	return out
}
