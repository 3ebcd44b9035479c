package core

import (
	"fmt"
	"strings"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/htmlindex"
	"golang.org/x/text/encoding/ianaindex"
	"golang.org/x/text/encoding/unicode"
)

// LookupEncoding resolves an encoding name such as "UTF-8", "ISO-8859-1",
// "windows-1252" or "UTF-16LE". IANA names are tried first, then the WHATWG
// labels browsers accept ("latin1", "utf8", ...).
func LookupEncoding(name string) (encoding.Encoding, error) {
	name = strings.TrimSpace(name)
	if name == "" || strings.EqualFold(name, DefaultEncoding) {
		return unicode.UTF8, nil
	}

	if enc, err := ianaindex.IANA.Encoding(name); err == nil && enc != nil {
		return enc, nil
	}
	if enc, err := htmlindex.Get(name); err == nil {
		return enc, nil
	}

	return nil, &PreconditionError{
		Field:  "encoding",
		Reason: fmt.Sprintf("unsupported encoding %q", name),
	}
}
