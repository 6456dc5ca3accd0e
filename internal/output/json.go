package output

import (
	"bufio"
	"encoding/json"
	"io"
)

// jsonWriter buffers records and writes them on Close: a single record as an
// object, several as an array.
type jsonWriter struct {
	w       *bufio.Writer
	records []Record
}

func newJSONWriter(w io.Writer) *jsonWriter {
	return &jsonWriter{w: bufio.NewWriter(w)}
}

func (w *jsonWriter) Write(r Record) error {
	w.records = append(w.records, r)
	return nil
}

func (w *jsonWriter) Close() error {
	var v any = w.records
	switch len(w.records) {
	case 0:
		v = []Record{}
	case 1:
		v = w.records[0]
	}
	enc := json.NewEncoder(w.w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return err
	}
	return w.w.Flush()
}

// jsonlWriter writes one compact line per record as it arrives.
type jsonlWriter struct {
	w   *bufio.Writer
	enc *json.Encoder
}

func newJSONLWriter(w io.Writer) *jsonlWriter {
	bw := bufio.NewWriter(w)
	return &jsonlWriter{w: bw, enc: json.NewEncoder(bw)}
}

func (w *jsonlWriter) Write(r Record) error {
	if err := w.enc.Encode(r); err != nil {
		return err
	}
	return w.w.Flush()
}

func (w *jsonlWriter) Close() error { return w.w.Flush() }
