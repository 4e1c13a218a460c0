package fits

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"strings"
	"testing"
	"testing/iotest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// unit builds one header+data unit with the given axes. The data section is
// filled with 0xff so that any accidental read of it is visible.
func unit(t *testing.T, extname string, axes ...int) []byte {
	t.Helper()

	cards := []string{
		fmt.Sprintf("%-8s= %20s", "SIMPLE", "T"),
		fmt.Sprintf("%-8s= %20d / bits per pixel", "BITPIX", 8),
		fmt.Sprintf("%-8s= %20d / number of axes", "NAXIS", len(axes)),
	}
	size := 1
	for i, n := range axes {
		cards = append(cards, fmt.Sprintf("%-8s= %20d / length of axis %d", fmt.Sprintf("NAXIS%d", i+1), n, i+1))
		size *= n
	}
	if extname != "" {
		cards = append(cards, fmt.Sprintf("%-8s= '%s'", "EXTNAME", extname))
	}
	cards = append(cards, "END")

	var buf bytes.Buffer
	for _, c := range cards {
		buf.WriteString(fmt.Sprintf("%-80s", c))
	}
	pad(&buf, ' ')

	if len(axes) > 0 {
		buf.Write(bytes.Repeat([]byte{0xff}, size))
		pad(&buf, 0)
	}

	return buf.Bytes()
}

func pad(buf *bytes.Buffer, b byte) {
	if r := buf.Len() % BlockSize; r != 0 {
		buf.Write(bytes.Repeat([]byte{b}, BlockSize-r))
	}
}

func TestCutoutSingleUnit(t *testing.T) {
	src := unit(t, "SCI", 100, 200)

	var dst bytes.Buffer
	h, err := Cutout(&dst, bytes.NewReader(src))
	require.NoError(t, err)

	// header only, no data
	require.Equal(t, BlockSize, dst.Len())

	out, err := ReadHeader(bytes.NewReader(dst.Bytes()))
	require.NoError(t, err)

	axes, err := out.Axes()
	require.NoError(t, err)
	assert.Equal(t, []int64{0, 0}, axes)

	name, ok := h.Value("EXTNAME")
	assert.True(t, ok)
	assert.Equal(t, "SCI", name)

	// fixed format, right-justified to column 30, comment kept
	got := string(dst.Bytes()[3*CardSize : 4*CardSize])
	assert.Equal(t, fmt.Sprintf("%-80s", "NAXIS1  =                    0 / length of axis 1"), got)
}

func TestCutoutMultiUnit(t *testing.T) {
	src := append(unit(t, "", 10, 10), unit(t, "SECOND", 3)...)

	var dst bytes.Buffer
	_, err := Cutout(&dst, bytes.NewReader(src))
	require.NoError(t, err)

	require.Equal(t, BlockSize, dst.Len())
	assert.NotContains(t, dst.String(), "SECOND")
	assert.NotContains(t, dst.String(), "\xff")
}

func TestCutoutDoesNotReadData(t *testing.T) {
	src := unit(t, "", 4000)
	r := bytes.NewReader(src)

	var dst bytes.Buffer
	_, err := Cutout(&dst, r)
	require.NoError(t, err)

	// only the single header block was consumed
	assert.Equal(t, int64(len(src)-BlockSize), int64(r.Len()))
}

func TestCutoutNoAxes(t *testing.T) {
	var dst bytes.Buffer
	_, err := Cutout(&dst, bytes.NewReader(unit(t, "")))
	require.NoError(t, err)
	assert.Equal(t, BlockSize, dst.Len())
}

func TestCutoutMultiBlockHeader(t *testing.T) {
	var buf bytes.Buffer
	buf.WriteString(fmt.Sprintf("%-80s", "SIMPLE  =                    T"))
	buf.WriteString(fmt.Sprintf("%-80s", "NAXIS   =                    1"))
	buf.WriteString(fmt.Sprintf("%-80s", "NAXIS1  =                   42"))
	for i := 0; i < 40; i++ {
		buf.WriteString(fmt.Sprintf("%-80s", fmt.Sprintf("HISTORY padding %d", i)))
	}
	buf.WriteString(fmt.Sprintf("%-80s", "END"))
	pad(&buf, ' ')
	require.Equal(t, 2*BlockSize, buf.Len())

	var dst bytes.Buffer
	h, err := Cutout(&dst, bytes.NewReader(buf.Bytes()))
	require.NoError(t, err)
	assert.Equal(t, 43, h.Len())
	assert.Equal(t, 2*BlockSize, dst.Len())

	n, ok, err := h.Int("NAXIS1")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, int64(0), n)
}

func TestCutoutMalformed(t *testing.T) {
	tests := map[string][]byte{
		"empty":        {},
		"short block":  []byte(strings.Repeat(" ", 100)),
		"no END":       []byte(strings.Repeat(fmt.Sprintf("%-80s", "COMMENT x"), 2*cardsPerBlock) + "x"),
		"binary":       bytes.Repeat([]byte{0x00}, BlockSize),
		"bad NAXIS":    []byte(fmt.Sprintf("%-80s%-2800s", "NAXIS   =                  two", "END")),
		"missing axis": []byte(fmt.Sprintf("%-80s%-2800s", "NAXIS   =                    2", "END")),
	}

	for name, src := range tests {
		t.Run(name, func(t *testing.T) {
			var dst bytes.Buffer
			_, err := Cutout(&dst, bytes.NewReader(src))
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrMalformed)
			assert.Zero(t, dst.Len())
		})
	}
}

func TestCutoutSourceError(t *testing.T) {
	boom := errors.New("boom")

	_, err := Cutout(io.Discard, iotest.ErrReader(boom))
	require.ErrorIs(t, err, boom)
	assert.NotErrorIs(t, err, ErrMalformed)
}

type failWriter struct{}

func (failWriter) Write([]byte) (int, error) {
	return 0, errors.New("disk full")
}

func TestCutoutSinkError(t *testing.T) {
	_, err := Cutout(failWriter{}, bytes.NewReader(unit(t, "", 1)))

	var se *SinkError
	require.ErrorAs(t, err, &se)
	assert.EqualError(t, se.Err, "disk full")
}
