// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package manifest

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"filippo.io/age"
	"filippo.io/age/armor"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"

	"github.com/bureau-foundation/verifyfs/lib/digest"
)

// MaxSize bounds the decoded size of a manifest. Compressed and
// encrypted layers are decoded through a limit of this size so a small
// hostile input cannot expand without bound.
const MaxSize = 256 << 20

// maxLayers bounds how many container layers Parse will peel.
const maxLayers = 4

// maxLineLength is the longest text line accepted: a digest, the
// separator, and a path of up to 64 KiB.
const maxLineLength = digest.HexLength + 2 + 64<<10

var (
	ageMagic      = []byte("age-encryption.org/v1\n")
	ageArmorMagic = []byte(armor.Header)
	zstdMagic     = []byte{0x28, 0xb5, 0x2f, 0xfd}
	lz4Magic      = []byte{0x04, 0x22, 0x4d, 0x18}
)

// LoadFile opens and parses the manifest at path. Any failure,
// including an unreadable file, is a *FormatError.
func LoadFile(path string, options Options) (*Manifest, error) {
	if options.Source == "" {
		options.Source = path
	}
	file, err := os.Open(path)
	if err != nil {
		return nil, &FormatError{Source: options.Source, Err: fmt.Errorf("opening manifest: %w", err)}
	}
	defer file.Close()
	return Parse(file, options)
}

// Parse reads a manifest in any supported container and encoding.
func Parse(r io.Reader, options Options) (*Manifest, error) {
	data, err := readBounded(r)
	if err != nil {
		return nil, &FormatError{Source: options.Source, Err: err}
	}

	for layer := 0; layer < maxLayers; layer++ {
		switch {
		case bytes.HasPrefix(data, ageMagic), bytes.HasPrefix(data, ageArmorMagic):
			data, err = decrypt(data, options.Identities)
		case bytes.HasPrefix(data, zstdMagic):
			data, err = decompressZstd(data)
		case bytes.HasPrefix(data, lz4Magic):
			data, err = readBounded(lz4.NewReader(bytes.NewReader(data)))
		case isBinary(data):
			return unmarshalBinary(data, options)
		default:
			return parseText(bytes.NewReader(data), options)
		}
		if err != nil {
			return nil, &FormatError{Source: options.Source, Err: err}
		}
	}
	return nil, &FormatError{Source: options.Source, Err: fmt.Errorf("more than %d container layers", maxLayers)}
}

func parseText(r io.Reader, options Options) (*Manifest, error) {
	builder, err := newBuilder(options)
	if err != nil {
		return nil, err
	}

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineLength)
	lineNumber := 0
	for scanner.Scan() {
		lineNumber++
		line := scanner.Text()
		if line == "" {
			continue
		}
		entryPath, entryDigest, err := parseLine(line)
		if err != nil {
			return nil, &FormatError{Source: options.Source, Line: lineNumber, Err: err}
		}
		if err := builder.add(entryPath, entryDigest); err != nil {
			return nil, &FormatError{Source: options.Source, Line: lineNumber, Err: err}
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, &FormatError{Source: options.Source, Line: lineNumber + 1, Err: err}
	}
	return builder.build(), nil
}

// parseLine splits one text line into its path and digest.
func parseLine(line string) (string, digest.Digest, error) {
	escaped := strings.HasPrefix(line, "\\")
	if escaped {
		line = line[1:]
	}

	if len(line) < digest.HexLength+3 {
		return "", digest.Digest{}, fmt.Errorf("line is %d bytes, too short for a digest, separator and path", len(line))
	}

	entryDigest, err := digest.Parse(line[:digest.HexLength])
	if err != nil {
		return "", digest.Digest{}, err
	}

	separator := line[digest.HexLength : digest.HexLength+2]
	if separator != "  " && separator != " *" {
		return "", digest.Digest{}, fmt.Errorf("separator %q after digest, want two spaces or space-asterisk", separator)
	}

	entryPath := line[digest.HexLength+2:]
	if escaped {
		entryPath, err = unescapeName(entryPath)
		if err != nil {
			return "", digest.Digest{}, err
		}
	}
	return entryPath, entryDigest, nil
}

// unescapeName decodes the GNU coreutils file name escaping: "\\" is a
// backslash and "\n" a newline. Any other escape is an error.
func unescapeName(name string) (string, error) {
	var out strings.Builder
	out.Grow(len(name))
	for i := 0; i < len(name); i++ {
		if name[i] != '\\' {
			out.WriteByte(name[i])
			continue
		}
		if i+1 >= len(name) {
			return "", fmt.Errorf("dangling escape at end of name")
		}
		i++
		switch name[i] {
		case '\\':
			out.WriteByte('\\')
		case 'n':
			out.WriteByte('\n')
		default:
			return "", fmt.Errorf("unknown escape \\%c in name", name[i])
		}
	}
	return out.String(), nil
}

func readBounded(r io.Reader) ([]byte, error) {
	data, err := io.ReadAll(io.LimitReader(r, MaxSize+1))
	if err != nil {
		return nil, fmt.Errorf("reading manifest: %w", err)
	}
	if len(data) > MaxSize {
		return nil, fmt.Errorf("manifest exceeds %d bytes", MaxSize)
	}
	return data, nil
}

func decrypt(data []byte, identities []age.Identity) ([]byte, error) {
	if len(identities) == 0 {
		return nil, errors.New("manifest is age-encrypted but no identity was provided")
	}
	var source io.Reader = bytes.NewReader(data)
	if bytes.HasPrefix(data, ageArmorMagic) {
		source = armor.NewReader(source)
	}
	plaintext, err := age.Decrypt(source, identities...)
	if err != nil {
		return nil, fmt.Errorf("decrypting manifest: %w", err)
	}
	return readBounded(plaintext)
}

func decompressZstd(data []byte) ([]byte, error) {
	decoder, err := zstd.NewReader(bytes.NewReader(data), zstd.WithDecoderMaxMemory(MaxSize))
	if err != nil {
		return nil, fmt.Errorf("zstd: %w", err)
	}
	defer decoder.Close()
	return readBounded(decoder)
}

// ParseIdentities reads age identities (one AGE-SECRET-KEY-1 per line,
// comments allowed) from r.
func ParseIdentities(r io.Reader) ([]age.Identity, error) {
	identities, err := age.ParseIdentities(r)
	if err != nil {
		return nil, fmt.Errorf("parsing age identities: %w", err)
	}
	return identities, nil
}

// LoadIdentities reads an age identity file.
func LoadIdentities(path string) ([]age.Identity, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening identity file: %w", err)
	}
	defer file.Close()
	return ParseIdentities(file)
}
