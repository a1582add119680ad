package patch

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"github.com/danielpatrickdp/story-engine/go-controller/internal/ruleset"
)

// #region apply
// Apply applies patches in order to a JSON copy of base and decodes the result.
// base is never modified. The batch is atomic: on the first failing patch a
// *MalformedPatchError is returned and nothing from the batch takes effect.
//
// Each step is checked for unknown fields and wrong kinds. Completeness is only
// required of the final document, so a batch may replace a group with a partial
// object and fill in the remaining leaves with later patches.
func Apply(base ruleset.Ruleset, patches []Patch) (ruleset.Ruleset, error) {
	doc, err := json.Marshal(base.Clone())
	if err != nil {
		return ruleset.Ruleset{}, fmt.Errorf("marshal ruleset: %w", err)
	}

	for i, p := range patches {
		next, err := applyOne(doc, p)
		if err == nil {
			_, err = decode(next, false)
		}
		if err != nil {
			return ruleset.Ruleset{}, &MalformedPatchError{Index: i, Path: p.Path, Reason: err.Error()}
		}
		doc = next
	}

	r, err := decode(doc, true)
	if err != nil && len(patches) > 0 {
		i := len(patches) - 1
		var missing *missingFieldError
		if errors.As(err, &missing) {
			i = culprit(patches, missing.path)
		}
		return ruleset.Ruleset{}, &MalformedPatchError{Index: i, Path: patches[i].Path, Reason: err.Error()}
	}
	return r, err
}

// culprit returns the last patch that replaced path or one of its ancestors.
func culprit(patches []Patch, path string) int {
	ptr := Pointer(path)
	for i := len(patches) - 1; i >= 0; i-- {
		p := strings.TrimSuffix(patches[i].Path, "/")
		if p == "" || ptr == p || strings.HasPrefix(ptr, p+"/") {
			return i
		}
	}
	return len(patches) - 1
}

func applyOne(doc []byte, p Patch) ([]byte, error) {
	if p.Op != OpReplace {
		return nil, fmt.Errorf("unsupported op %q", p.Op)
	}
	segs, err := Segments(p.Path)
	if err != nil {
		return nil, err
	}
	if p.Value == nil {
		return nil, fmt.Errorf("null value")
	}
	raw, err := json.Marshal(p.Value)
	if err != nil {
		return nil, fmt.Errorf("encode value: %v", err)
	}

	if len(segs) == 0 {
		if !gjson.ParseBytes(raw).IsObject() {
			return nil, fmt.Errorf("document replace needs an object")
		}
		return raw, nil
	}

	// Intermediate segments must exist; only the leaf may be new.
	parent := gjson.ParseBytes(doc)
	for _, s := range segs[:len(segs)-1] {
		if s == "-" {
			return nil, fmt.Errorf("append marker only allowed as last segment")
		}
		parent = parent.Get(s)
		if !parent.Exists() {
			return nil, fmt.Errorf("path segment %q does not exist", s)
		}
	}

	leaf := segs[len(segs)-1]
	setPath := append([]string(nil), segs...)
	switch {
	case parent.IsArray():
		n := len(parent.Array())
		if leaf == "-" {
			setPath[len(setPath)-1] = "-1"
			break
		}
		idx, err := strconv.Atoi(leaf)
		if err != nil {
			return nil, fmt.Errorf("array index %q is not a number", leaf)
		}
		if idx < 0 || idx >= n {
			return nil, fmt.Errorf("array index %d out of range [0,%d)", idx, n)
		}
	case parent.IsObject():
		if leaf == "-" {
			return nil, fmt.Errorf("append marker on an object")
		}
	default:
		return nil, fmt.Errorf("parent of %q is not an object or array", leaf)
	}

	out, err := sjson.SetRawBytes(doc, strings.Join(setPath, "."), raw)
	if err != nil {
		return nil, fmt.Errorf("set %s: %v", p.Path, err)
	}
	return out, nil
}

type missingFieldError struct {
	path string
}

func (e *missingFieldError) Error() string {
	return "missing field " + e.path
}

// decode strictly decodes a ruleset document: unknown fields, wrong kinds and
// null leaves are rejected. Missing leaves are rejected when complete is set.
func decode(doc []byte, complete bool) (ruleset.Ruleset, error) {
	dec := json.NewDecoder(bytes.NewReader(doc))
	dec.DisallowUnknownFields()

	var r ruleset.Ruleset
	if err := dec.Decode(&r); err != nil {
		return ruleset.Ruleset{}, fmt.Errorf("decode ruleset: %w", err)
	}
	for _, f := range ruleset.Fields() {
		v := gjson.GetBytes(doc, f.Path)
		if !v.Exists() {
			if complete {
				return ruleset.Ruleset{}, &missingFieldError{path: f.Path}
			}
			continue
		}
		if v.Type == gjson.Null {
			return ruleset.Ruleset{}, fmt.Errorf("field %s is null", f.Path)
		}
		if f.Kind == ruleset.KindList {
			cv, err := f.Coerce(f.Get(r))
			if err != nil {
				return ruleset.Ruleset{}, err
			}
			f.Set(&r, cv)
		}
	}
	return r, nil
}

// #endregion apply

// #region decode
// Decode reads a JSON array of patches.
func Decode(r io.Reader) ([]Patch, error) {
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()

	var patches []Patch
	if err := dec.Decode(&patches); err != nil {
		return nil, fmt.Errorf("decode patches: %w", err)
	}
	for i := range patches {
		if patches[i].Op == "" {
			patches[i].Op = OpReplace
		}
	}
	return patches, nil
}

// #endregion decode
