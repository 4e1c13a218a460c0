package fits

import (
	"fmt"
	"io"
)

// Cutout reads the header of the first unit from src, zeroes each axis
// extent, and writes the modified header to dst followed by an empty data
// section. The data section of src is never read, nor are any later units.
//
// The returned header is the modified one, which callers may want for
// logging (e.g. its EXTNAME).
func Cutout(dst io.Writer, src io.Reader) (*Header, error) {
	h, err := ReadHeader(src)
	if err != nil {
		return nil, err
	}

	axes, err := h.Axes()
	if err != nil {
		return nil, err
	}

	for i := range axes {
		if err := h.SetInt(fmt.Sprintf("NAXIS%d", i+1), 0); err != nil {
			return nil, err
		}
	}

	if _, err := h.WriteTo(dst); err != nil {
		return nil, &SinkError{Err: err}
	}

	return h, nil
}

// SinkError wraps a failure to write to the destination of a cutout, so
// callers can tell it apart from a malformed or unreadable source.
type SinkError struct {
	Err error
}

func (e *SinkError) Error() string {
	return fmt.Sprintf("write cutout: %s", e.Err)
}

func (e *SinkError) Unwrap() error {
	return e.Err
}
