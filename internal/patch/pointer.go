package patch

import (
	"fmt"
	"regexp"
	"strings"
)

// segmentRE keeps segments free of gjson/sjson path metacharacters.
var segmentRE = regexp.MustCompile(`^[A-Za-z0-9_]+$`)

// Segments splits a JSON pointer. "/" yields no segments (the document root).
func Segments(pointer string) ([]string, error) {
	if pointer == "" {
		return nil, fmt.Errorf("empty path")
	}
	if !strings.HasPrefix(pointer, "/") {
		return nil, fmt.Errorf("path must start with /")
	}
	if pointer == "/" {
		return nil, nil
	}
	raw := strings.Split(pointer[1:], "/")
	out := make([]string, 0, len(raw))
	for _, s := range raw {
		s = strings.ReplaceAll(s, "~1", "/")
		s = strings.ReplaceAll(s, "~0", "~")
		if s != "-" && !segmentRE.MatchString(s) {
			return nil, fmt.Errorf("invalid path segment %q", s)
		}
		out = append(out, s)
	}
	return out, nil
}

// Pointer converts a dotted field path to a JSON pointer.
func Pointer(fieldPath string) string {
	return "/" + strings.ReplaceAll(fieldPath, ".", "/")
}

// FieldPath converts a JSON pointer back to a dotted path. Root is "".
func FieldPath(pointer string) (string, error) {
	segs, err := Segments(pointer)
	if err != nil {
		return "", err
	}
	return strings.Join(segs, "."), nil
}

// Target names the logical write target of a batch: the shared top-level group
// when every patch addresses the same one, otherwise "ruleset".
func Target(patches []Patch) string {
	target := ""
	for _, p := range patches {
		segs, err := Segments(p.Path)
		if err != nil || len(segs) == 0 {
			return "ruleset"
		}
		if target != "" && target != segs[0] {
			return "ruleset"
		}
		target = segs[0]
	}
	if target == "" {
		return "ruleset"
	}
	return target
}
