// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package manifest

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strings"

	"filippo.io/age"
	"filippo.io/age/armor"
	"github.com/fxamacker/cbor/v2"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"

	"github.com/bureau-foundation/verifyfs/lib/digest"
)

// binaryVersion is the only binary manifest layout this package
// reads and writes.
const binaryVersion = 1

// binaryManifest is the CBOR wire form of a manifest. Digests are raw
// 32-byte strings rather than hex.
type binaryManifest struct {
	Version   int               `cbor:"version"`
	Algorithm string            `cbor:"algorithm"`
	Entries   map[string][]byte `cbor:"entries"`
}

// encMode is Core Deterministic Encoding (sorted keys, shortest
// lengths) so the same manifest always produces the same bytes and
// therefore the same digest when the manifest itself is pinned.
var encMode cbor.EncMode

var decMode cbor.DecMode

func init() {
	var err error
	encMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("manifest: CBOR encoder initialization failed: " + err.Error())
	}
	decMode, err = cbor.DecOptions{
		DupMapKey:   cbor.DupMapKeyEnforcedAPF,
		MaxMapPairs: 1 << 24,
	}.DecMode()
	if err != nil {
		panic("manifest: CBOR decoder initialization failed: " + err.Error())
	}
}

// isBinary reports whether data starts with a CBOR map header. Text
// manifests start with a hex digit or a backslash, so the two forms
// cannot be confused.
func isBinary(data []byte) bool {
	return len(data) > 0 && data[0] >= 0xa0 && data[0] <= 0xbf
}

// MarshalBinary encodes the manifest in its deterministic CBOR form.
func (m *Manifest) MarshalBinary() ([]byte, error) {
	wire := binaryManifest{
		Version:   binaryVersion,
		Algorithm: string(m.algorithm),
		Entries:   make(map[string][]byte, len(m.digests)),
	}
	for entryPath, entryDigest := range m.digests {
		raw := entryDigest
		wire.Entries[entryPath] = raw[:]
	}
	return encMode.Marshal(wire)
}

func unmarshalBinary(data []byte, options Options) (*Manifest, error) {
	var wire binaryManifest
	if err := decMode.Unmarshal(data, &wire); err != nil {
		return nil, &FormatError{Source: options.Source, Err: fmt.Errorf("decoding binary manifest: %w", err)}
	}
	if wire.Version != binaryVersion {
		return nil, &FormatError{Source: options.Source, Err: fmt.Errorf("binary manifest version %d, want %d", wire.Version, binaryVersion)}
	}

	recorded, err := digest.ParseAlgorithm(wire.Algorithm)
	if err != nil {
		return nil, &FormatError{Source: options.Source, Err: err}
	}
	if options.Algorithm != "" && options.Algorithm != recorded {
		return nil, &FormatError{Source: options.Source, Err: fmt.Errorf(
			"manifest digests are %s but %s was requested", recorded, options.Algorithm)}
	}
	options.Algorithm = recorded

	builder, err := newBuilder(options)
	if err != nil {
		return nil, err
	}
	for entryPath, raw := range wire.Entries {
		if len(raw) != digest.Size {
			return nil, &FormatError{Source: options.Source, Err: fmt.Errorf("entry %q: digest is %d bytes, want %d", entryPath, len(raw), digest.Size)}
		}
		var entryDigest digest.Digest
		copy(entryDigest[:], raw)
		if err := builder.add(entryPath, entryDigest); err != nil {
			return nil, &FormatError{Source: options.Source, Err: err}
		}
	}
	return builder.build(), nil
}

// WriteText writes the manifest in sha256sum-compatible text form,
// sorted by path. Names containing a newline or backslash are written
// with the GNU escaping convention.
func (m *Manifest) WriteText(w io.Writer) error {
	buffered := bufio.NewWriter(w)
	for _, entry := range m.Entries() {
		name := entry.Path
		prefix := ""
		if strings.ContainsAny(name, "\\\n") {
			prefix = "\\"
			name = strings.NewReplacer("\\", "\\\\", "\n", "\\n").Replace(name)
		}
		if _, err := fmt.Fprintf(buffered, "%s%s  %s\n", prefix, entry.Digest, name); err != nil {
			return err
		}
	}
	return buffered.Flush()
}

// Encoding selects the manifest serialization.
type Encoding string

const (
	EncodingText   Encoding = "text"
	EncodingBinary Encoding = "binary"
)

// Compression selects an optional compression layer.
type Compression string

const (
	CompressionNone Compression = "none"
	CompressionZstd Compression = "zstd"
	CompressionLZ4  Compression = "lz4"
)

// ParseEncoding parses an encoding name; empty selects text.
func ParseEncoding(name string) (Encoding, error) {
	switch Encoding(name) {
	case "", EncodingText:
		return EncodingText, nil
	case EncodingBinary:
		return EncodingBinary, nil
	default:
		return "", fmt.Errorf("unknown manifest encoding %q", name)
	}
}

// ParseCompression parses a compression name; empty selects none.
func ParseCompression(name string) (Compression, error) {
	switch Compression(name) {
	case "", CompressionNone:
		return CompressionNone, nil
	case CompressionZstd:
		return CompressionZstd, nil
	case CompressionLZ4:
		return CompressionLZ4, nil
	default:
		return "", fmt.Errorf("unknown manifest compression %q", name)
	}
}

// EncodeOptions selects the layers Encode writes.
type EncodeOptions struct {
	Encoding    Encoding
	Compression Compression

	// Recipients, when non-empty, encrypt the output with age.
	Recipients []age.Recipient

	// Armor writes the encrypted output in ASCII armor. Ignored
	// without recipients.
	Armor bool
}

// Encode writes the manifest to w with the requested encoding,
// compression, and encryption layers. Parse reverses every
// combination.
func (m *Manifest) Encode(w io.Writer, options EncodeOptions) (err error) {
	var closers []io.Closer
	defer func() {
		for i := len(closers) - 1; i >= 0; i-- {
			if closeErr := closers[i].Close(); closeErr != nil && err == nil {
				err = closeErr
			}
		}
	}()

	sink := w
	if len(options.Recipients) > 0 {
		if options.Armor {
			armored := armor.NewWriter(sink)
			closers = append(closers, armored)
			sink = armored
		}
		encrypted, encryptErr := age.Encrypt(sink, options.Recipients...)
		if encryptErr != nil {
			return fmt.Errorf("encrypting manifest: %w", encryptErr)
		}
		closers = append(closers, encrypted)
		sink = encrypted
	}

	switch options.Compression {
	case "", CompressionNone:
	case CompressionZstd:
		compressor, zstdErr := zstd.NewWriter(sink, zstd.WithEncoderLevel(zstd.SpeedDefault))
		if zstdErr != nil {
			return fmt.Errorf("zstd: %w", zstdErr)
		}
		closers = append(closers, compressor)
		sink = compressor
	case CompressionLZ4:
		compressor := lz4.NewWriter(sink)
		closers = append(closers, compressor)
		sink = compressor
	default:
		return fmt.Errorf("unknown manifest compression %q", options.Compression)
	}

	switch options.Encoding {
	case "", EncodingText:
		return m.WriteText(sink)
	case EncodingBinary:
		data, marshalErr := m.MarshalBinary()
		if marshalErr != nil {
			return fmt.Errorf("encoding binary manifest: %w", marshalErr)
		}
		_, err = sink.Write(data)
		return err
	default:
		return errors.New("unknown manifest encoding " + string(options.Encoding))
	}
}

// ParseRecipients parses age recipient strings (age1...).
func ParseRecipients(values []string) ([]age.Recipient, error) {
	recipients := make([]age.Recipient, 0, len(values))
	for _, value := range values {
		recipient, err := age.ParseX25519Recipient(value)
		if err != nil {
			return nil, fmt.Errorf("parsing age recipient %q: %w", value, err)
		}
		recipients = append(recipients, recipient)
	}
	return recipients, nil
}
