// Package manifest turns rendered Helm manifests into a stable, diffable
// listing of their ConfigMap contents.
package manifest

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"regexp"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

var (
	nonAlnum = regexp.MustCompile(`[^a-z0-9]`)
	dashRuns = regexp.MustCompile(`-+`)
)

// NormalizeKey lower-cases a file key and reduces it to dash-separated
// alphanumerics. NormalizeKey(NormalizeKey(k)) == NormalizeKey(k).
func NormalizeKey(key string) string {
	normalized := nonAlnum.ReplaceAllString(strings.ToLower(key), "-")
	return strings.Trim(dashRuns.ReplaceAllString(normalized, "-"), "-")
}

type resource map[string]any

func (r resource) kind() string {
	kind, _ := r["kind"].(string)
	return kind
}

func (r resource) name() string {
	if meta, ok := r["metadata"].(map[string]any); ok {
		if name, ok := meta["name"].(string); ok && name != "" {
			return name
		}
	}
	return "unknown"
}

func (r resource) data() map[string]string {
	raw, ok := r["data"].(map[string]any)
	if !ok {
		return nil
	}
	out := make(map[string]string, len(raw))
	for k, v := range raw {
		if s, ok := v.(string); ok {
			out[k] = s
			continue
		}
		out[k] = fmt.Sprint(v)
	}
	return out
}

// Extract reads every YAML document in r and returns the normalized content
// of each ConfigMap entry keyed by "{configmap}-{normalized file key}".
// ConfigMaps embedded as multi-document YAML inside a file key are expanded
// in place of that key. Shell scripts are skipped.
func Extract(r io.Reader) (map[string]string, error) {
	queue, err := decodeResources(r)
	if err != nil {
		return nil, err
	}

	result := make(map[string]string)
	for len(queue) > 0 {
		res := queue[0]
		queue = queue[1:]
		if res.kind() != "ConfigMap" {
			continue
		}
		name := res.name()
		data := res.data()
		if len(data) == 0 {
			continue
		}

		if !hasFileKeys(data) {
			keys := sortedKeys(data)
			lines := make([]string, 0, len(keys))
			for _, key := range keys {
				lines = append(lines, key+": "+transformLines(data[key]))
			}
			result[name] = strings.Join(lines, "\n")
			continue
		}

		for _, key := range sortedKeys(data) {
			if !isFileKey(key) || strings.HasSuffix(strings.ToLower(key), ".sh") {
				continue
			}
			combined := name + "-" + NormalizeKey(key)
			value := data[key]
			if !isYAMLFile(key) {
				result[combined] = transformLines(value)
				continue
			}

			content := sanitizeYAMLContent(value)
			if strings.Contains(content, "---") {
				if nested := nestedConfigMaps(content); len(nested) > 0 {
					queue = append(queue, nested...)
					continue
				}
			}
			result[combined] = sortYAMLKeys(transformLines(content))
		}
	}
	return result, nil
}

func decodeResources(r io.Reader) ([]resource, error) {
	dec := yaml.NewDecoder(r)
	var out []resource
	for {
		var doc any
		err := dec.Decode(&doc)
		if errors.Is(err, io.EOF) {
			return out, nil
		}
		if err != nil {
			return nil, fmt.Errorf("decode manifest: %w", err)
		}
		out = append(out, toResources(doc)...)
	}
}

func toResources(doc any) []resource {
	switch v := doc.(type) {
	case map[string]any:
		return []resource{v}
	case []any:
		var out []resource
		for _, item := range v {
			if m, ok := item.(map[string]any); ok {
				out = append(out, m)
			}
		}
		return out
	default:
		return nil
	}
}

// nestedConfigMaps returns the ConfigMaps of a multi-document value. A value
// that does not parse yields none and is treated as plain YAML.
func nestedConfigMaps(content string) []resource {
	dec := yaml.NewDecoder(strings.NewReader(content))
	var out []resource
	for {
		var doc any
		err := dec.Decode(&doc)
		if errors.Is(err, io.EOF) {
			return out
		}
		if err != nil {
			return nil
		}
		for _, res := range toResources(doc) {
			if res.kind() == "ConfigMap" {
				out = append(out, res)
			}
		}
	}
}

func isFileKey(key string) bool {
	return strings.Contains(key, ".") && !strings.HasPrefix(key, ".")
}

func isYAMLFile(key string) bool {
	lower := strings.ToLower(key)
	return strings.HasSuffix(lower, ".yaml") || strings.HasSuffix(lower, ".yml")
}

func hasFileKeys(data map[string]string) bool {
	for key := range data {
		if isFileKey(key) {
			return true
		}
	}
	return false
}

func sanitizeYAMLContent(content string) string {
	if len(content) >= 2 && strings.HasPrefix(content, `"`) && strings.HasSuffix(content, `"`) {
		content = content[1 : len(content)-1]
	}
	return strings.ReplaceAll(content, `\n`, "\n")
}

// transformLines drops blank lines, comment lines and trailing comments
// outside quotes.
func transformLines(content string) string {
	var kept []string
	for _, line := range strings.Split(content, "\n") {
		line = strings.TrimRight(line, " \t\r")
		if strings.TrimSpace(line) == "" || strings.HasPrefix(strings.TrimSpace(line), "#") {
			continue
		}
		line = stripTrailingComment(line)
		if line != "" {
			kept = append(kept, line)
		}
	}
	return strings.Join(kept, "\n")
}

func stripTrailingComment(line string) string {
	if !strings.Contains(line, "#") {
		return line
	}
	var quote rune
	prev := rune(0)
	for i, ch := range line {
		switch {
		case (ch == '"' || ch == '\'') && prev != '\\':
			if quote == 0 {
				quote = ch
			} else if ch == quote {
				quote = 0
			}
		case ch == '#' && quote == 0:
			return strings.TrimRight(line[:i], " \t")
		}
		prev = ch
	}
	return line
}

// sortYAMLKeys re-emits a mapping with sorted keys. Anything else comes back
// unchanged.
func sortYAMLKeys(content string) string {
	var data any
	if err := yaml.Unmarshal([]byte(content), &data); err != nil {
		return content
	}
	if _, ok := data.(map[string]any); !ok {
		return content
	}
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(data); err != nil {
		return content
	}
	_ = enc.Close()
	return buf.String()
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Render writes entries as a key-sorted YAML list of literal blocks with
// quotes normalized, so two renders diff line by line.
func Render(entries map[string]string) string {
	var lines []string
	for _, key := range sortedKeys(entries) {
		lines = append(lines, "- "+key+": |")
		for _, line := range strings.Split(entries[key], "\n") {
			if strings.TrimSpace(line) != "" {
				lines = append(lines, "    "+line)
			}
		}
	}
	return NormalizeQuotes(strings.Join(lines, "\n"))
}

// NormalizeQuotes rewrites single-quoted scalar values as double-quoted ones.
func NormalizeQuotes(content string) string {
	lines := strings.Split(content, "\n")
	for i, line := range lines {
		if !strings.ContainsAny(line, `'"`) {
			continue
		}
		var prefix, value string
		switch {
		case strings.Contains(line, ": "):
			cut := strings.Index(line, ": ") + 2
			prefix, value = line[:cut], line[cut:]
		case strings.HasPrefix(strings.TrimLeft(line, " \t"), "- "):
			cut := strings.Index(line, "- ") + 2
			prefix, value = line[:cut], line[cut:]
		default:
			continue
		}
		trimmed := strings.TrimSpace(value)
		if len(trimmed) >= 2 && strings.HasPrefix(trimmed, "'") && strings.HasSuffix(trimmed, "'") {
			quoted := `"` + trimmed[1:len(trimmed)-1] + `"`
			lines[i] = prefix + strings.Replace(value, trimmed, quoted, 1)
		}
	}
	return strings.Join(lines, "\n")
}

// Diff reports keys only in before, only in after, and present in both with
// different content. Each list is sorted.
type Diff struct {
	Removed []string
	Added   []string
	Changed []string
}

func (d Diff) Empty() bool {
	return len(d.Removed) == 0 && len(d.Added) == 0 && len(d.Changed) == 0
}

func Compare(before, after map[string]string) Diff {
	var d Diff
	for _, key := range sortedKeys(before) {
		next, ok := after[key]
		switch {
		case !ok:
			d.Removed = append(d.Removed, key)
		case next != before[key]:
			d.Changed = append(d.Changed, key)
		}
	}
	for _, key := range sortedKeys(after) {
		if _, ok := before[key]; !ok {
			d.Added = append(d.Added, key)
		}
	}
	return d
}
