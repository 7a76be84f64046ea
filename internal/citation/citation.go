// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package citation resolves citation labels to the backend paths that serve
// the cited documents.
//
// Resolution is lazy: the answer parser only records labels, and a label is
// turned into a path when the citation is shown or opened.
package citation

import (
	"errors"
	"fmt"
	"net/url"
	"strings"

	"golang.org/x/text/unicode/norm"

	"github.com/jeranaias/citechat/internal/answer"
)

// ErrNoSuchCitation is returned when a display handle has no citation.
var ErrNoSuchCitation = errors.New("no such citation")

// contentPrefix is the backend route that serves source documents.
const contentPrefix = "/content/"

// Ref is a citation together with its resolved path.
type Ref struct {
	Index int    `json:"index"`
	Label string `json:"label"`
	Path  string `json:"path"`
}

// Resolver maps citation labels to content paths under a backend base URI.
type Resolver struct {
	// BaseURI is the backend root, e.g. "https://app.example.com" or "".
	BaseURI string
}

// NewResolver creates a Resolver for baseURI. A trailing slash is dropped.
func NewResolver(baseURI string) *Resolver {
	return &Resolver{BaseURI: strings.TrimRight(baseURI, "/")}
}

// Path returns "<BaseURI>/content/<label>".
// The label is NFC-normalised and escaped segment by segment; a "#page=N"
// style fragment is kept as a fragment.
func (r *Resolver) Path(label string) string {
	label = norm.NFC.String(strings.TrimSpace(label))

	name, fragment, hasFragment := strings.Cut(label, "#")

	segments := strings.Split(name, "/")
	for i, s := range segments {
		segments[i] = url.PathEscape(s)
	}

	path := strings.TrimRight(r.BaseURI, "/") + contentPrefix + strings.Join(segments, "/")
	if hasFragment {
		path += "#" + url.PathEscape(fragment)
	}
	return path
}

// Resolve looks up the citation with the given display handle and resolves it.
func (r *Resolver) Resolve(parsed answer.Parsed, index int) (Ref, error) {
	c, ok := parsed.Citation(index)
	if !ok {
		return Ref{}, fmt.Errorf("%w: %d of %d", ErrNoSuchCitation, index, len(parsed.Citations))
	}
	return r.ref(c), nil
}

// Refs resolves every citation in display order.
func (r *Resolver) Refs(parsed answer.Parsed) []Ref {
	refs := make([]Ref, len(parsed.Citations))
	for i, c := range parsed.Citations {
		refs[i] = r.ref(c)
	}
	return refs
}

func (r *Resolver) ref(c answer.Citation) Ref {
	return Ref{Index: c.Index, Label: c.Label, Path: r.Path(c.Label)}
}
