package mdb

import (
	"fmt"
	"strings"
	"time"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/htmlindex"
	"golang.org/x/text/encoding/ianaindex"
)

// DefaultDelimiter separates fields in exported text. Data values are assumed
// never to contain it.
const DefaultDelimiter = "|"

// DefaultEncoding is the code page mdb-tools emits by default
var DefaultEncoding encoding.Encoding = charmap.Windows1252

// Option configures a Database
type Option func(*Database)

// WithDelimiter sets the field delimiter passed to the export command
func WithDelimiter(delimiter string) Option {
	return func(db *Database) {
		if delimiter != "" {
			db.delim = delimiter
		}
	}
}

// WithEncoding sets the code page the extractor output is decoded from
func WithEncoding(enc encoding.Encoding) Option {
	return func(db *Database) {
		if enc != nil {
			db.encoding = enc
		}
	}
}

// WithExtractor replaces the mdb-tools extractor
func WithExtractor(extractor Extractor) Option {
	return func(db *Database) {
		if extractor != nil {
			db.extractor = extractor
		}
	}
}

// WithTimeout bounds every process run by the default extractor. It has no
// effect when a custom extractor is set.
func WithTimeout(timeout time.Duration) Option {
	return func(db *Database) {
		db.timeout = timeout
	}
}

// LookupEncoding resolves a code page name such as "windows-1252" or "cp1256"
func LookupEncoding(name string) (encoding.Encoding, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return DefaultEncoding, nil
	}

	// IANA first so "ISO-8859-1" stays Latin-1; the HTML index maps it to
	// windows-1252 but knows aliases like "cp1256"
	if enc, err := ianaindex.IANA.Encoding(name); err == nil && enc != nil {
		return enc, nil
	}
	if enc, err := htmlindex.Get(name); err == nil && enc != nil {
		return enc, nil
	}
	if enc, err := ianaindex.MIME.Encoding(name); err == nil && enc != nil {
		return enc, nil
	}

	return nil, fmt.Errorf("unsupported encoding: %s", name)
}
