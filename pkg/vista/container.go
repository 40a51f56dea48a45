package vista

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"strconv"
	"strings"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/charmap"
)

// Header framing.
const (
	magic   = "V-data"
	version = "2"
)

// Attr is one named header entry. Value holds a string, a nested *AttrList or
// an *Object.
type Attr struct {
	Name  string
	Value interface{}
}

// AttrList is an ordered list of attributes. Names need not be unique.
type AttrList struct {
	attrs []Attr
}

// NewAttrList returns an empty list.
func NewAttrList() *AttrList {
	return &AttrList{}
}

// Len returns the number of attributes.
func (l *AttrList) Len() int { return len(l.attrs) }

// Attrs returns the attributes in order.
func (l *AttrList) Attrs() []Attr {
	return append([]Attr(nil), l.attrs...)
}

// Append adds an attribute at the end.
func (l *AttrList) Append(name string, v interface{}) {
	l.attrs = append(l.attrs, Attr{Name: name, Value: v})
}

// Prepend adds an attribute at the front.
func (l *AttrList) Prepend(name string, v interface{}) {
	l.attrs = append([]Attr{{Name: name, Value: v}}, l.attrs...)
}

// Set replaces the first attribute called name, or appends one.
func (l *AttrList) Set(name string, v interface{}) {
	for i := range l.attrs {
		if l.attrs[i].Name == name {
			l.attrs[i].Value = v
			return
		}
	}
	l.Append(name, v)
}

// Get returns the value of the first attribute called name.
func (l *AttrList) Get(name string) (interface{}, bool) {
	for _, a := range l.attrs {
		if a.Name == name {
			return a.Value, true
		}
	}
	return nil, false
}

// GetString returns the first attribute called name if it holds a string.
func (l *AttrList) GetString(name string) (string, bool) {
	v, ok := l.Get(name)
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

// GetInt parses the first attribute called name as an integer.
func (l *AttrList) GetInt(name string) (int, error) {
	s, ok := l.GetString(name)
	if !ok {
		return 0, fmt.Errorf("attribute %q missing: %w", name, ErrMalformed)
	}
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return 0, fmt.Errorf("attribute %q = %q: %w", name, s, ErrMalformed)
	}
	return n, nil
}

// Remove deletes every attribute called name and reports whether any existed.
func (l *AttrList) Remove(name string) bool {
	kept := l.attrs[:0]
	for _, a := range l.attrs {
		if a.Name != name {
			kept = append(kept, a)
		}
	}
	removed := len(kept) != len(l.attrs)
	l.attrs = kept
	return removed
}

// Object is a typed attribute value such as an image. Objects that carry a
// binary block hold it in Data; its offset and length are implied by position
// and regenerated when encoding.
type Object struct {
	Type  string
	Attrs *AttrList
	Data  []byte
}

// File is a whole Vista container.
type File struct {
	Attrs *AttrList
}

// NewFile returns an empty container.
func NewFile() *File {
	return &File{Attrs: NewAttrList()}
}

// Images returns the top level objects of type "image" in file order.
func (f *File) Images() []*Object {
	var out []*Object
	for _, a := range f.Attrs.attrs {
		if o, ok := a.Value.(*Object); ok && o.Type == "image" {
			out = append(out, o)
		}
	}
	return out
}

// Parse decodes a complete container held in memory.
func Parse(data []byte) (*File, error) {
	p := &parser{buf: data, dec: charmap.ISO8859_1.NewDecoder()}
	p.skipSpace()
	if !bytes.HasPrefix(p.buf[p.pos:], []byte(magic)) {
		return nil, fmt.Errorf("missing %q signature: %w", magic, ErrMalformed)
	}
	p.pos += len(magic)
	p.skipSpace()
	if v := p.word(false); v != version {
		return nil, fmt.Errorf("unsupported version %q: %w", v, ErrMalformed)
	}
	p.skipSpace()
	if !p.consume('{') {
		return nil, p.errorf("expected '{'")
	}
	attrs, err := p.list()
	if err != nil {
		return nil, err
	}
	for p.pos < len(p.buf) && (p.buf[p.pos] == ' ' || p.buf[p.pos] == '\t' || p.buf[p.pos] == '\r' || p.buf[p.pos] == '\n') {
		p.pos++
	}
	if !p.consume('\f') {
		return nil, p.errorf("expected form feed after header")
	}
	p.consume('\r')
	if !p.consume('\n') {
		return nil, p.errorf("expected newline after form feed")
	}

	bin := p.buf[p.pos:]
	if err := attachData(attrs, bin); err != nil {
		return nil, err
	}
	return &File{Attrs: attrs}, nil
}

// Decode reads a complete container from r.
func Decode(r io.Reader) (*File, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	return Parse(data)
}

// attachData moves each object's binary block out of the binary section and
// drops the positional attributes.
func attachData(l *AttrList, bin []byte) error {
	for _, a := range l.attrs {
		switch v := a.Value.(type) {
		case *AttrList:
			if err := attachData(v, bin); err != nil {
				return err
			}
		case *Object:
			if err := attachData(v.Attrs, bin); err != nil {
				return err
			}
			if _, ok := v.Attrs.Get("data"); !ok {
				continue
			}
			off, err := v.Attrs.GetInt("data")
			if err != nil {
				return err
			}
			n, err := v.Attrs.GetInt("length")
			if err != nil {
				return err
			}
			if off < 0 || n < 0 || off+n > len(bin) {
				return fmt.Errorf("%s %q block [%d,+%d) beyond %d data bytes: %w", v.Type, a.Name, off, n, len(bin), ErrMalformed)
			}
			v.Data = bin[off : off+n]
			v.Attrs.Remove("data")
			v.Attrs.Remove("length")
		}
	}
	return nil
}

type parser struct {
	buf []byte
	pos int
	dec *encoding.Decoder
}

func (p *parser) errorf(format string, args ...interface{}) error {
	return fmt.Errorf("offset %d: %s: %w", p.pos, fmt.Sprintf(format, args...), ErrMalformed)
}

func (p *parser) skipSpace() {
	for p.pos < len(p.buf) {
		switch p.buf[p.pos] {
		case ' ', '\t', '\r', '\n':
			p.pos++
		default:
			return
		}
	}
}

func (p *parser) consume(c byte) bool {
	if p.pos < len(p.buf) && p.buf[p.pos] == c {
		p.pos++
		return true
	}
	return false
}

func (p *parser) text(b []byte) string {
	s, err := p.dec.Bytes(b)
	if err != nil {
		return string(b)
	}
	return string(s)
}

// word reads a bare token. Names also stop at ':'.
func (p *parser) word(name bool) string {
	start := p.pos
	for p.pos < len(p.buf) {
		c := p.buf[p.pos]
		if c <= ' ' || c == '{' || c == '}' || c == '"' || (name && c == ':') {
			break
		}
		p.pos++
	}
	return p.text(p.buf[start:p.pos])
}

func (p *parser) quoted() (string, error) {
	p.pos++
	var b []byte
	for p.pos < len(p.buf) {
		c := p.buf[p.pos]
		p.pos++
		switch c {
		case '"':
			return p.text(b), nil
		case '\\':
			if p.pos >= len(p.buf) {
				return "", p.errorf("unterminated escape")
			}
			e := p.buf[p.pos]
			p.pos++
			if e == 'n' {
				e = '\n'
			}
			b = append(b, e)
		default:
			b = append(b, c)
		}
	}
	return "", p.errorf("unterminated string")
}

func (p *parser) list() (*AttrList, error) {
	l := NewAttrList()
	for {
		p.skipSpace()
		if p.pos >= len(p.buf) {
			return nil, p.errorf("unterminated attribute list")
		}
		if p.consume('}') {
			return l, nil
		}
		var name string
		if p.buf[p.pos] == '"' {
			s, err := p.quoted()
			if err != nil {
				return nil, err
			}
			name = s
		} else if name = p.word(true); name == "" {
			return nil, p.errorf("expected attribute name, got %q", p.buf[p.pos])
		}
		p.skipSpace()
		if !p.consume(':') {
			return nil, p.errorf("expected ':' after %q", name)
		}
		p.skipSpace()
		v, err := p.value()
		if err != nil {
			return nil, fmt.Errorf("attribute %q: %w", name, err)
		}
		l.Append(name, v)
	}
}

func (p *parser) value() (interface{}, error) {
	if p.pos >= len(p.buf) {
		return nil, p.errorf("missing value")
	}
	switch p.buf[p.pos] {
	case '{':
		p.pos++
		return p.list()
	case '"':
		return p.quoted()
	}
	w := p.word(false)
	if w == "" {
		return nil, p.errorf("missing value")
	}
	save := p.pos
	p.skipSpace()
	if p.consume('{') {
		attrs, err := p.list()
		if err != nil {
			return nil, err
		}
		return &Object{Type: w, Attrs: attrs}, nil
	}
	p.pos = save
	return w, nil
}

// Encode writes f as a container. Strings outside Latin-1 are replaced.
func Encode(w io.Writer, f *File) error {
	var blocks [][]byte
	var hdr strings.Builder
	hdr.WriteString(magic + " " + version + " {\n")
	writeList(&hdr, f.Attrs, 1, &blocks)
	hdr.WriteString("}\n\f\n")

	enc := encoding.ReplaceUnsupported(charmap.ISO8859_1.NewEncoder())
	text, err := enc.String(hdr.String())
	if err != nil {
		return err
	}
	bw := bufio.NewWriter(w)
	if _, err := bw.WriteString(text); err != nil {
		return err
	}
	for _, b := range blocks {
		if _, err := bw.Write(b); err != nil {
			return err
		}
	}
	return bw.Flush()
}

func writeList(b *strings.Builder, l *AttrList, depth int, blocks *[][]byte) {
	indent := strings.Repeat("\t", depth)
	for _, a := range l.attrs {
		b.WriteString(indent + quote(a.Name) + ": ")
		switch v := a.Value.(type) {
		case *AttrList:
			b.WriteString("{\n")
			writeList(b, v, depth+1, blocks)
			b.WriteString(indent + "}\n")
		case *Object:
			b.WriteString(quote(v.Type) + " {\n")
			if v.Data != nil {
				off := 0
				for _, blk := range *blocks {
					off += len(blk)
				}
				*blocks = append(*blocks, v.Data)
				fmt.Fprintf(b, "%s\tdata: %d\n%s\tlength: %d\n", indent, off, indent, len(v.Data))
			}
			writeList(b, v.Attrs, depth+1, blocks)
			b.WriteString(indent + "}\n")
		default:
			b.WriteString(quote(fmt.Sprint(v)) + "\n")
		}
	}
}

// quote leaves plain words bare and quotes everything else.
func quote(s string) string {
	plain := s != ""
	for _, r := range s {
		if !(r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r >= '0' && r <= '9' || strings.ContainsRune("_-+.", r)) {
			plain = false
			break
		}
	}
	if plain {
		return s
	}
	r := strings.NewReplacer(`\`, `\\`, `"`, `\"`, "\n", `\n`)
	return `"` + r.Replace(s) + `"`
}
