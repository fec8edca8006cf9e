package header

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/meigma/asar/internal/asartype"
)

// field is a scalar object member.
type field struct {
	value  json.RawMessage
	offset int64 // absolute archive offset of the value, approximately
}

// treeDecoder walks the JSON index as a single token stream. Every byte of
// the index is consumed once regardless of nesting depth.
type treeDecoder struct {
	dec   *json.Decoder
	base  int64
	names []string
}

// decodeTree parses the JSON index. base is the absolute archive offset of
// data[0] and is only used for diagnostics.
func decodeTree(data []byte, base int64) (*Directory, error) {
	// A full syntax check first keeps the walk free of syntax errors and
	// bounds its recursion by the decoder's nesting limit.
	var raw json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, jsonError("", base, err)
	}

	d := &treeDecoder{dec: json.NewDecoder(bytes.NewReader(data)), base: base}
	d.dec.UseNumber()
	root, err := d.node(base)
	if err != nil {
		return nil, err
	}
	dir, ok := root.(*Directory)
	if !ok {
		return nil, invalid("", base, errors.New("root is not a directory"))
	}
	return dir, nil
}

func (d *treeDecoder) path() string {
	return strings.Join(d.names, "/")
}

func (d *treeDecoder) offset() int64 {
	return d.base + d.dec.InputOffset()
}

// openObject consumes the '{' starting an object value.
func (d *treeDecoder) openObject(start int64, what string) error {
	tok, err := d.dec.Token()
	if err != nil {
		return jsonError(d.path(), start, err)
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return invalid(d.path(), start, fmt.Errorf("%s must be an object", what))
	}
	return nil
}

// key reads the next object key.
func (d *treeDecoder) key() (string, error) {
	tok, err := d.dec.Token()
	if err != nil {
		return "", jsonError(d.path(), d.offset(), err)
	}
	key, ok := tok.(string)
	if !ok {
		return "", invalid(d.path(), d.offset(), errors.New("expected an object key"))
	}
	return key, nil
}

// closeObject consumes the '}' ending an object value.
func (d *treeDecoder) closeObject() error {
	if _, err := d.dec.Token(); err != nil {
		return jsonError(d.path(), d.offset(), err)
	}
	return nil
}

// node classifies and decodes the node starting at the next token. The
// "files" member is decoded in place; other members are kept as raw values
// until the node is classified.
func (d *treeDecoder) node(start int64) (Node, error) {
	if err := d.openObject(start, "node"); err != nil {
		return nil, err
	}

	var dir *Directory
	byKey := make(map[string]field)
	for d.dec.More() {
		key, err := d.key()
		if err != nil {
			return nil, err
		}
		offset := d.offset()
		if _, dup := byKey[key]; dup || (key == "files" && dir != nil) {
			return nil, invalid(d.path(), offset, fmt.Errorf("duplicate key %q", key))
		}

		if key == "files" {
			if dir, err = d.children(offset); err != nil {
				return nil, err
			}
			continue
		}
		var value json.RawMessage
		if err := d.dec.Decode(&value); err != nil {
			return nil, jsonError(d.path(), offset, err)
		}
		byKey[key] = field{value: value, offset: offset}
	}
	if err := d.closeObject(); err != nil {
		return nil, err
	}

	nodePath := d.path()
	if dir != nil {
		if f, ok := byKey["unpacked"]; ok {
			if err := json.Unmarshal(f.value, &dir.Unpacked); err != nil {
				return nil, invalid(nodePath, f.offset, errors.New("unpacked must be a boolean"))
			}
		}
		return dir, nil
	}
	if f, ok := byKey["link"]; ok {
		var target string
		if err := json.Unmarshal(f.value, &target); err != nil {
			return nil, invalid(nodePath, f.offset, errors.New("link must be a string"))
		}
		return &Link{Target: target}, nil
	}
	if _, ok := byKey["size"]; ok {
		return decodeFile(byKey, nodePath, start)
	}
	return nil, invalid(nodePath, start, errors.New("node is neither a directory, a file nor a link"))
}

// children decodes the value of a "files" member in document order.
func (d *treeDecoder) children(start int64) (*Directory, error) {
	if err := d.openObject(start, "files"); err != nil {
		return nil, err
	}

	dir := NewDirectory()
	for d.dec.More() {
		name, err := d.key()
		if err != nil {
			return nil, err
		}
		offset := d.offset()
		if _, dup := dir.Lookup(name); dup {
			return nil, invalid(d.path(), offset, fmt.Errorf("duplicate key %q", name))
		}

		d.names = append(d.names, name)
		child, err := d.node(offset)
		if err != nil {
			return nil, err
		}
		d.names = d.names[:len(d.names)-1]

		if err := dir.Add(name, child); err != nil {
			return nil, invalid(d.path(), offset, err)
		}
	}
	if err := d.closeObject(); err != nil {
		return nil, err
	}
	return dir, nil
}

func decodeFile(byKey map[string]field, nodePath string, base int64) (*File, error) {
	file := &File{}

	sizeField := byKey["size"]
	var size json.Number
	if err := unmarshalNumber(sizeField.value, &size); err != nil {
		return nil, invalid(nodePath, sizeField.offset, errors.New("size must be a number"))
	}
	n, err := strconv.ParseUint(size.String(), 10, 64)
	if err != nil {
		return nil, invalid(nodePath, sizeField.offset, fmt.Errorf("size %s is not a non-negative integer", size))
	}
	file.Size = n

	if f, ok := byKey["unpacked"]; ok {
		if err := json.Unmarshal(f.value, &file.Unpacked); err != nil {
			return nil, invalid(nodePath, f.offset, errors.New("unpacked must be a boolean"))
		}
	}
	if f, ok := byKey["executable"]; ok {
		if err := json.Unmarshal(f.value, &file.Executable); err != nil {
			return nil, invalid(nodePath, f.offset, errors.New("executable must be a boolean"))
		}
	}

	offsetField, ok := byKey["offset"]
	switch {
	case ok:
		off, err := parseOffset(offsetField.value)
		if err != nil {
			return nil, invalid(nodePath, offsetField.offset, err)
		}
		file.Offset = off
	case !file.Unpacked:
		return nil, invalid(nodePath, base, errors.New("file has no offset"))
	}

	if f, ok := byKey["integrity"]; ok && !bytes.Equal(bytes.TrimSpace(f.value), []byte("null")) {
		var integrity asartype.Integrity
		if err := json.Unmarshal(f.value, &integrity); err != nil {
			return nil, invalid(nodePath, f.offset, fmt.Errorf("integrity: %w", err))
		}
		file.Integrity = &integrity
	}
	return file, nil
}

// parseOffset parses the offset field, which the format stores as a
// decimal string rather than a JSON number.
func parseOffset(raw json.RawMessage) (uint64, error) {
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return 0, errors.New("offset must be a decimal string")
	}
	if s == "" {
		return 0, errors.New("offset is empty")
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return 0, fmt.Errorf("offset %q is not a non-negative integer", s)
		}
	}
	n, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("offset %q: %w", s, err)
	}
	return n, nil
}

func unmarshalNumber(raw json.RawMessage, n *json.Number) error {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return err
	}
	num, ok := v.(json.Number)
	if !ok {
		return errors.New("not a number")
	}
	*n = num
	return nil
}

// jsonError converts a decoding error into an InvalidHeaderJSON error,
// using the syntax error position when available.
func jsonError(nodePath string, base int64, err error) error {
	var syntaxErr *json.SyntaxError
	if errors.As(err, &syntaxErr) {
		return invalid(nodePath, base+syntaxErr.Offset, err)
	}
	return invalid(nodePath, base, err)
}

func invalid(nodePath string, offset int64, err error) error {
	return asartype.NewFormatError(asartype.InvalidHeaderJSON, nodePath, offset, err)
}

// encodeTree renders the index JSON for root with insertion order preserved.
func encodeTree(root *Directory) ([]byte, error) {
	var buf bytes.Buffer
	if err := encodeDirectory(&buf, root); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func encodeDirectory(buf *bytes.Buffer, dir *Directory) error {
	buf.WriteString(`{"files":{`)
	first := true
	for name, child := range dir.Children() {
		if !first {
			buf.WriteByte(',')
		}
		first = false
		if err := writeString(buf, name); err != nil {
			return err
		}
		buf.WriteByte(':')
		if err := encodeNode(buf, child); err != nil {
			return err
		}
	}
	buf.WriteByte('}')
	if dir.Unpacked {
		buf.WriteString(`,"unpacked":true`)
	}
	buf.WriteByte('}')
	return nil
}

func encodeNode(buf *bytes.Buffer, n Node) error {
	switch n := n.(type) {
	case *Directory:
		return encodeDirectory(buf, n)
	case *File:
		fmt.Fprintf(buf, `{"size":%d`, n.Size)
		if n.Unpacked {
			buf.WriteString(`,"unpacked":true`)
		} else {
			fmt.Fprintf(buf, `,"offset":"%d"`, n.Offset)
		}
		if n.Executable {
			buf.WriteString(`,"executable":true`)
		}
		if n.Integrity != nil {
			data, err := json.Marshal(n.Integrity)
			if err != nil {
				return err
			}
			buf.WriteString(`,"integrity":`)
			buf.Write(data)
		}
		buf.WriteByte('}')
		return nil
	case *Link:
		buf.WriteString(`{"link":`)
		if err := writeString(buf, n.Target); err != nil {
			return err
		}
		buf.WriteByte('}')
		return nil
	default:
		return fmt.Errorf("header: unknown node type %T", n)
	}
}

func writeString(buf *bytes.Buffer, s string) error {
	data, err := json.Marshal(s)
	if err != nil {
		return err
	}
	buf.Write(data)
	return nil
}
