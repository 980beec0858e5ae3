package vm

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/fxamacker/cbor/v2"
)

// ---------------------------------------------------------------------------
// Program images
// ---------------------------------------------------------------------------

// ImageMagic identifies a ferrite program image file.
var ImageMagic = [4]byte{'F', 'E', 'V', 'M'}

// ImageVersion is the current image format version.
// v1: initial format (name + words + string table)
const ImageVersion uint32 = 1

// ErrBadImage is returned when image data is truncated, has the wrong
// magic, or carries an unsupported version.
var ErrBadImage = errors.New("vm: bad program image")

// cborEncMode uses canonical encoding so identical programs produce
// byte-identical images.
var cborEncMode cbor.EncMode

func init() {
	em, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("vm: failed to create CBOR enc mode: %v", err))
	}
	cborEncMode = em
}

// imageBody is the CBOR payload following the image header.
type imageBody struct {
	Name    string
	Words   []Word
	Strings []string
}

// WriteImage serializes a program: a magic + version header followed by
// a canonical CBOR body.
func WriteImage(w io.Writer, p *Program) error {
	body, err := cborEncMode.Marshal(&imageBody{
		Name:    p.Name,
		Words:   p.Words,
		Strings: p.Strings,
	})
	if err != nil {
		return fmt.Errorf("vm: encode image: %w", err)
	}
	if _, err := w.Write(ImageMagic[:]); err != nil {
		return fmt.Errorf("vm: write image: %w", err)
	}
	var version [4]byte
	binary.BigEndian.PutUint32(version[:], ImageVersion)
	if _, err := w.Write(version[:]); err != nil {
		return fmt.Errorf("vm: write image: %w", err)
	}
	if _, err := w.Write(body); err != nil {
		return fmt.Errorf("vm: write image: %w", err)
	}
	return nil
}

// ReadImage deserializes a program image.
func ReadImage(r io.Reader) (*Program, error) {
	var header [8]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return nil, fmt.Errorf("%w: truncated header: %v", ErrBadImage, err)
	}
	if [4]byte(header[:4]) != ImageMagic {
		return nil, fmt.Errorf("%w: magic %q", ErrBadImage, header[:4])
	}
	if v := binary.BigEndian.Uint32(header[4:]); v != ImageVersion {
		return nil, fmt.Errorf("%w: unsupported version %d", ErrBadImage, v)
	}
	body, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("vm: read image: %w", err)
	}
	var img imageBody
	if err := cbor.Unmarshal(body, &img); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadImage, err)
	}
	return &Program{Name: img.Name, Words: img.Words, Strings: img.Strings}, nil
}

// SaveImage writes a program image to a file.
func SaveImage(path string, p *Program) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("vm: save image: %w", err)
	}
	if err := WriteImage(f, p); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// LoadImage reads a program image from a file.
func LoadImage(path string) (*Program, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("vm: load image: %w", err)
	}
	defer f.Close()
	return ReadImage(f)
}
