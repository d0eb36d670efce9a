package secrets

import (
	"bytes"
	"io"
	"sort"
	"strings"
	"sync"
)

// Mask is written in place of every secret value.
const Mask = "********"

// Masker replaces known secret values in text.
type Masker struct {
	replacer *strings.Replacer
	empty    bool
}

// NewMasker returns a masker for the given values. Empty values are ignored
// and longer values are replaced first so overlapping secrets never leak a
// suffix.
func NewMasker(values ...string) *Masker {
	uniq := make(map[string]struct{}, len(values))
	for _, v := range values {
		if v != "" {
			uniq[v] = struct{}{}
		}
	}
	sorted := make([]string, 0, len(uniq))
	for v := range uniq {
		sorted = append(sorted, v)
	}
	sort.Slice(sorted, func(i, j int) bool {
		if len(sorted[i]) != len(sorted[j]) {
			return len(sorted[i]) > len(sorted[j])
		}
		return sorted[i] < sorted[j]
	})

	pairs := make([]string, 0, 2*len(sorted))
	for _, v := range sorted {
		pairs = append(pairs, v, Mask)
	}
	return &Masker{replacer: strings.NewReplacer(pairs...), empty: len(sorted) == 0}
}

// Mask returns s with every secret value replaced.
func (m *Masker) Mask(s string) string {
	if m == nil || m.empty {
		return s
	}
	return m.replacer.Replace(s)
}

// maxLine bounds how much unterminated output is buffered before it is
// flushed anyway.
const maxLine = 64 * 1024

// Writer masks secrets in everything written through it. Output is buffered
// per line so a secret split across two writes is still caught; Close
// flushes any trailing partial line.
type Writer struct {
	mu  sync.Mutex
	dst io.Writer
	m   *Masker
	buf bytes.Buffer
}

// NewWriter wraps dst.
func (m *Masker) NewWriter(dst io.Writer) *Writer {
	return &Writer{dst: dst, m: m}
}

func (w *Writer) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.buf.Write(p)
	for {
		i := bytes.IndexByte(w.buf.Bytes(), '\n')
		if i < 0 {
			break
		}
		line := w.buf.Next(i + 1)
		if _, err := io.WriteString(w.dst, w.m.Mask(string(line))); err != nil {
			return 0, err
		}
	}
	if w.buf.Len() > maxLine {
		if err := w.flushLocked(); err != nil {
			return 0, err
		}
	}
	return len(p), nil
}

// Close flushes buffered output. It does not close the underlying writer.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.flushLocked()
}

func (w *Writer) flushLocked() error {
	if w.buf.Len() == 0 {
		return nil
	}
	_, err := io.WriteString(w.dst, w.m.Mask(w.buf.String()))
	w.buf.Reset()
	return err
}
