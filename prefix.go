// Copyright (c) 2013 Joshua Elliott
// Released under the MIT License
// http://opensource.org/licenses/MIT

package onramp

import (
	"strings"
)

// PrefixMap is a bidirectional mapping between CURIE prefixes and the URIs
// they stand for. Both directions are always updated together.
//
// A PrefixMap is not safe for concurrent use; a Session guards its own.
type PrefixMap struct {
	forward  map[string]string
	backward map[string]string
}

func NewPrefixMap() *PrefixMap {
	return &PrefixMap{
		forward:  make(map[string]string),
		backward: make(map[string]string),
	}
}

// Get returns the URI registered for prefix.
func (pm *PrefixMap) Get(prefix string) (string, bool) {
	uri, ok := pm.forward[prefix]
	return uri, ok
}

// Set maps prefix to uri, replacing any mapping either of them had.
func (pm *PrefixMap) Set(prefix, uri string) {
	if old, ok := pm.forward[prefix]; ok {
		delete(pm.backward, old)
	}
	if old, ok := pm.backward[uri]; ok {
		delete(pm.forward, old)
	}
	pm.forward[prefix] = uri
	pm.backward[uri] = prefix
}

// SetDefault sets the URI used for CURIEs with an empty prefix, e.g. ":event".
func (pm *PrefixMap) SetDefault(uri string) {
	pm.Set("", uri)
}

// Remove deletes prefix and its URI. It reports whether prefix was registered.
func (pm *PrefixMap) Remove(prefix string) bool {
	uri, ok := pm.forward[prefix]
	if !ok {
		return false
	}
	delete(pm.forward, prefix)
	delete(pm.backward, uri)
	return true
}

// Resolve expands a CURIE to the full URI. The second result is false when
// curie has no ':' or its prefix is unknown.
func (pm *PrefixMap) Resolve(curie string) (string, bool) {
	i := strings.Index(curie, ":")
	if i < 0 {
		return "", false
	}
	uri, ok := pm.forward[curie[:i]]
	if !ok {
		return "", false
	}
	return uri + curie[i+1:], true
}

// ResolveOrPass resolves a CURIE, or returns the argument verbatim when it
// cannot be resolved.
func (pm *PrefixMap) ResolveOrPass(curieOrURI string) string {
	if uri, ok := pm.Resolve(curieOrURI); ok {
		return uri
	}
	return curieOrURI
}

// Shrink returns the CURIE for uri using the longest registered URI that is
// a prefix of it, or uri unchanged if there is none.
func (pm *PrefixMap) Shrink(uri string) string {
	for i := len(uri); i > 0; i-- {
		if p, ok := pm.backward[uri[:i]]; ok {
			return p + ":" + uri[i:]
		}
	}
	return uri
}

func (pm *PrefixMap) Len() int {
	return len(pm.forward)
}

func (pm *PrefixMap) Clear() {
	pm.forward = make(map[string]string)
	pm.backward = make(map[string]string)
}
