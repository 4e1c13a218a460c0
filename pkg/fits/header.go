// Package fits reads and rewrites the primary header of a FITS container.
//
// A FITS file is a sequence of units, each a header followed by a data
// section. The header is a run of 80 byte ASCII cards, terminated by an END
// card and padded with spaces to a multiple of 2880 bytes. This package only
// understands enough of that to produce header-only cutouts; it never reads
// the data section.
package fits

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
)

const (
	BlockSize = 2880
	CardSize  = 80

	cardsPerBlock = BlockSize / CardSize

	// maxHeaderBlocks bounds how far ReadHeader looks for the END card.
	maxHeaderBlocks = 1024
)

// ErrMalformed is returned (wrapped) when the input is not a valid header.
var ErrMalformed = errors.New("malformed FITS header")

// Header is the ordered list of cards of one unit, not including END.
type Header struct {
	cards []card
}

type card [CardSize]byte

func (c *card) keyword() string {
	return strings.TrimRight(string(c[:8]), " ")
}

// hasValue reports whether the card has a value indicator in columns 9-10.
func (c *card) hasValue() bool {
	return c[8] == '=' && c[9] == ' '
}

// value returns the value field, without any trailing comment.
func (c *card) value() string {
	v := string(c[10:])
	if i := strings.IndexByte(v, '/'); i >= 0 && !strings.HasPrefix(strings.TrimSpace(v), "'") {
		v = v[:i]
	}
	return strings.TrimSpace(v)
}

// comment returns the comment of a value card, starting with the slash, or
// the empty string.
func (c *card) comment() string {
	v := string(c[10:])
	if strings.HasPrefix(strings.TrimSpace(v), "'") {
		return ""
	}
	i := strings.IndexByte(v, '/')
	if i < 0 {
		return ""
	}
	return strings.TrimRight(v[i:], " ")
}

// ReadHeader reads header blocks from r until the END card. Exactly the header
// blocks are consumed from r, so r is left at the start of the data section.
func ReadHeader(r io.Reader) (*Header, error) {
	h := &Header{}
	block := make([]byte, BlockSize)

	for n := 0; n < maxHeaderBlocks; n++ {
		if _, err := io.ReadFull(r, block); err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
				return nil, fmt.Errorf("%w: short block %d", ErrMalformed, n)
			}
			return nil, fmt.Errorf("ReadFull: %w", err)
		}

		for i := 0; i < cardsPerBlock; i++ {
			var c card
			copy(c[:], block[i*CardSize:(i+1)*CardSize])

			if err := checkASCII(c[:]); err != nil {
				return nil, fmt.Errorf("%w: card %d: %s", ErrMalformed, n*cardsPerBlock+i, err)
			}

			if c.keyword() == "END" {
				return h, nil
			}

			h.cards = append(h.cards, c)
		}
	}

	return nil, fmt.Errorf("%w: no END card within %d blocks", ErrMalformed, maxHeaderBlocks)
}

func checkASCII(b []byte) error {
	for _, ch := range b {
		if ch < 0x20 || ch > 0x7e {
			return fmt.Errorf("non-ASCII byte 0x%02x", ch)
		}
	}
	return nil
}

// Len returns the number of cards, not including END.
func (h *Header) Len() int {
	return len(h.cards)
}

func (h *Header) find(key string) *card {
	for i := range h.cards {
		if h.cards[i].keyword() == key {
			return &h.cards[i]
		}
	}
	return nil
}

// Value returns the value of the given keyword with any string quoting
// removed, and whether it was present.
func (h *Header) Value(key string) (string, bool) {
	c := h.find(key)
	if c == nil || !c.hasValue() {
		return "", false
	}
	v := c.value()
	if strings.HasPrefix(v, "'") {
		v = strings.TrimSuffix(strings.TrimPrefix(v, "'"), "'")
		v = strings.TrimRight(v, " ")
	}
	return v, true
}

// Int returns the integer value of the given keyword.
func (h *Header) Int(key string) (int64, bool, error) {
	c := h.find(key)
	if c == nil || !c.hasValue() {
		return 0, false, nil
	}
	n, err := strconv.ParseInt(c.value(), 10, 64)
	if err != nil {
		return 0, true, fmt.Errorf("%w: %s: %s", ErrMalformed, key, err)
	}
	return n, true, nil
}

// SetInt rewrites the value of an existing keyword as a fixed-format integer,
// right-justified to column 30. Any comment is kept, truncated if needed.
func (h *Header) SetInt(key string, v int64) error {
	c := h.find(key)
	if c == nil {
		return fmt.Errorf("%w: missing keyword %s", ErrMalformed, key)
	}

	s := fmt.Sprintf("%-8s= %20d", key, v)
	if com := c.comment(); com != "" {
		s += " " + com
	}

	var nc card
	copy(nc[:], bytes.Repeat([]byte{' '}, CardSize))
	copy(nc[:], s)
	*c = nc
	return nil
}

// Axes returns the extents NAXIS1..NAXISn. An absent NAXIS means no axes.
func (h *Header) Axes() ([]int64, error) {
	n, ok, err := h.Int("NAXIS")
	if err != nil || !ok {
		return nil, err
	}
	if n < 0 || n > 999 {
		return nil, fmt.Errorf("%w: NAXIS out of range: %d", ErrMalformed, n)
	}

	axes := make([]int64, n)
	for i := range axes {
		key := fmt.Sprintf("NAXIS%d", i+1)
		v, ok, err := h.Int(key)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, fmt.Errorf("%w: missing keyword %s", ErrMalformed, key)
		}
		axes[i] = v
	}

	return axes, nil
}

// WriteTo writes the cards, an END card, and space padding up to the next
// block boundary.
func (h *Header) WriteTo(w io.Writer) (int64, error) {
	n := len(h.cards) + 1
	blocks := (n + cardsPerBlock - 1) / cardsPerBlock

	buf := bytes.Repeat([]byte{' '}, blocks*BlockSize)
	for i, c := range h.cards {
		copy(buf[i*CardSize:], c[:])
	}
	copy(buf[len(h.cards)*CardSize:], "END")

	written, err := w.Write(buf)
	return int64(written), err
}
