package writer

import (
	"bufio"
	"encoding/json"
	"io"
)

// jsonEncoder streams a JSON array. With headings every row becomes an object
// keyed by heading, in heading order; without them every row is an array.
type jsonEncoder struct {
	w      *bufio.Writer
	keys   [][]byte
	first  bool
	opened bool
}

func newJSONEncoder(out io.Writer) *jsonEncoder {
	return &jsonEncoder{
		w:     bufio.NewWriter(out),
		first: true,
	}
}

func (e *jsonEncoder) open() error {
	if e.opened {
		return nil
	}
	e.opened = true
	return e.w.WriteByte('[')
}

// writeHeadings only prepares object keys; headings are not emitted as a row.
func (e *jsonEncoder) writeHeadings(headings []string) error {
	e.keys = make([][]byte, len(headings))
	for i, h := range headings {
		key, err := json.Marshal(h)
		if err != nil {
			return err
		}
		e.keys[i] = key
	}
	return e.open()
}

func (e *jsonEncoder) writeRow(cells []any) error {
	if err := e.open(); err != nil {
		return err
	}
	if !e.first {
		if err := e.w.WriteByte(','); err != nil {
			return err
		}
	}
	e.first = false

	if e.keys == nil {
		data, err := json.Marshal(cells)
		if err != nil {
			return err
		}
		_, err = e.w.Write(data)
		return err
	}

	if err := e.w.WriteByte('{'); err != nil {
		return err
	}
	for i, c := range cells {
		if i > 0 {
			if err := e.w.WriteByte(','); err != nil {
				return err
			}
		}
		value, err := json.Marshal(c)
		if err != nil {
			return err
		}
		if _, err := e.w.Write(e.keys[i]); err != nil {
			return err
		}
		if err := e.w.WriteByte(':'); err != nil {
			return err
		}
		if _, err := e.w.Write(value); err != nil {
			return err
		}
	}
	return e.w.WriteByte('}')
}

func (e *jsonEncoder) flush() error {
	return e.w.Flush()
}

func (e *jsonEncoder) finish() error {
	if err := e.open(); err != nil {
		return err
	}
	if err := e.w.WriteByte(']'); err != nil {
		return err
	}
	return e.w.Flush()
}

func (e *jsonEncoder) close() error {
	return nil
}
