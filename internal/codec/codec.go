// Package codec implements the in-process filters that can stand in for an
// external decoder or encoder command.
//
// A filter is written as "builtin:<name>" or "builtin:<name>:<arg>":
//
//	builtin:zstd                     compress with zstd
//	builtin:unzstd                   decompress zstd
//	builtin:lz4                      compress with the lz4 frame format
//	builtin:unlz4                    decompress an lz4 frame
//	builtin:age-encrypt:<recipient>  encrypt to an age X25519 recipient (age1...)
//	builtin:age-decrypt:<file>       decrypt with the identities in <file>
package codec

import (
	"fmt"
	"io"
	"os"
	"strings"

	"filippo.io/age"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// Prefix marks a filter string as a built-in codec.
const Prefix = "builtin:"

// Filter streams bytes from src to dst, transforming them on the way.
type Filter interface {
	Apply(dst io.Writer, src io.Reader) error
}

// FilterFunc adapts a function to Filter.
type FilterFunc func(dst io.Writer, src io.Reader) error

func (f FilterFunc) Apply(dst io.Writer, src io.Reader) error { return f(dst, src) }

// IsBuiltin reports whether filter names a built-in codec.
func IsBuiltin(filter string) bool {
	return strings.HasPrefix(strings.TrimSpace(filter), Prefix)
}

// Parse resolves a "builtin:" filter string.
func Parse(filter string) (Filter, error) {
	filter = strings.TrimSpace(filter)
	if !strings.HasPrefix(filter, Prefix) {
		return nil, fmt.Errorf("not a builtin filter: %q", filter)
	}
	name, arg, _ := strings.Cut(strings.TrimPrefix(filter, Prefix), ":")
	switch name {
	case "zstd":
		return FilterFunc(compressZstd), nil
	case "unzstd":
		return FilterFunc(decompressZstd), nil
	case "lz4":
		return FilterFunc(compressLZ4), nil
	case "unlz4":
		return FilterFunc(decompressLZ4), nil
	case "age-encrypt":
		recipient, err := age.ParseX25519Recipient(arg)
		if err != nil {
			return nil, fmt.Errorf("parse age recipient: %w", err)
		}
		return ageEncrypter{recipient: recipient}, nil
	case "age-decrypt":
		if arg == "" {
			return nil, fmt.Errorf("age-decrypt needs an identity file")
		}
		return ageDecrypter{identityFile: arg}, nil
	default:
		return nil, fmt.Errorf("unknown builtin filter: %q", name)
	}
}

func compressZstd(dst io.Writer, src io.Reader) error {
	encoder, err := zstd.NewWriter(dst, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return fmt.Errorf("zstd encoder: %w", err)
	}
	if _, err := io.Copy(encoder, src); err != nil {
		encoder.Close()
		return fmt.Errorf("zstd compress: %w", err)
	}
	return encoder.Close()
}

func decompressZstd(dst io.Writer, src io.Reader) error {
	decoder, err := zstd.NewReader(src)
	if err != nil {
		return fmt.Errorf("zstd decoder: %w", err)
	}
	defer decoder.Close()
	if _, err := io.Copy(dst, decoder); err != nil {
		return fmt.Errorf("zstd decompress: %w", err)
	}
	return nil
}

func compressLZ4(dst io.Writer, src io.Reader) error {
	writer := lz4.NewWriter(dst)
	if _, err := io.Copy(writer, src); err != nil {
		return fmt.Errorf("lz4 compress: %w", err)
	}
	return writer.Close()
}

func decompressLZ4(dst io.Writer, src io.Reader) error {
	if _, err := io.Copy(dst, lz4.NewReader(src)); err != nil {
		return fmt.Errorf("lz4 decompress: %w", err)
	}
	return nil
}

type ageEncrypter struct {
	recipient age.Recipient
}

func (e ageEncrypter) Apply(dst io.Writer, src io.Reader) error {
	writer, err := age.Encrypt(dst, e.recipient)
	if err != nil {
		return fmt.Errorf("creating age encryptor: %w", err)
	}
	if _, err := io.Copy(writer, src); err != nil {
		return fmt.Errorf("writing plaintext to age encryptor: %w", err)
	}
	if err := writer.Close(); err != nil {
		return fmt.Errorf("finalizing age encryption: %w", err)
	}
	return nil
}

// ageDecrypter reads its identity file on every use so that key rotation on
// the host does not need a restart.
type ageDecrypter struct {
	identityFile string
}

func (d ageDecrypter) Apply(dst io.Writer, src io.Reader) error {
	file, err := os.Open(d.identityFile)
	if err != nil {
		return fmt.Errorf("open age identity file: %w", err)
	}
	defer file.Close()
	identities, err := age.ParseIdentities(file)
	if err != nil {
		return fmt.Errorf("parse age identities: %w", err)
	}
	reader, err := age.Decrypt(src, identities...)
	if err != nil {
		return fmt.Errorf("decrypting: %w", err)
	}
	if _, err := io.Copy(dst, reader); err != nil {
		return fmt.Errorf("reading decrypted plaintext: %w", err)
	}
	return nil
}
