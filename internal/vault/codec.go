package vault

import (
	"encoding/binary"
	"fmt"
	"math"
	"sort"
)

const (
	// RecordMagic prefixes every encoded vault record
	RecordMagic = "ANCRYPT"
	// RecordVersion is the current record format version
	RecordVersion = 1
)

// EncodeRecord serializes the on-disk vault record. The record carries the
// key material and the sealed secret map; it has no field for the derived key
// or for plaintext secrets.
//
// Layout (big-endian):
//
//	magic[7] version u8
//	iterations u32 | salt u16+bytes
//	verifier alg u8 | argon2 iterations u32 | argon2 memory u32 | argon2 parallelism u8
//	verifier id u16+bytes | credential u16+bytes
//	domain tag u16+bytes | nonce prefix [4] | counter u64
//	ciphertext u32+bytes
func EncodeRecord(keys *KeyMaterial, sealed *SealedStore) []byte {
	size := len(RecordMagic) + 1 +
		4 + 2 + len(keys.Salt) +
		1 + 4 + 4 + 1 +
		2 + len(keys.VerifierID) + 2 + len(keys.Credential) +
		2 + len(sealed.domainTag) + NoncePrefixSize + 8 +
		4 + len(sealed.ciphertext)
	buf := make([]byte, 0, size)

	buf = append(buf, RecordMagic...)
	buf = append(buf, RecordVersion)

	buf = binary.BigEndian.AppendUint32(buf, keys.Iterations)
	buf = appendShort(buf, keys.Salt)

	buf = append(buf, byte(keys.Algorithm))
	buf = binary.BigEndian.AppendUint32(buf, keys.Argon2.Iterations)
	buf = binary.BigEndian.AppendUint32(buf, keys.Argon2.Memory)
	buf = append(buf, keys.Argon2.Parallelism)
	buf = appendShort(buf, keys.VerifierID)
	buf = appendShort(buf, keys.Credential)

	buf = appendShort(buf, sealed.domainTag)
	buf = append(buf, sealed.prefix[:]...)
	buf = binary.BigEndian.AppendUint64(buf, sealed.counter)
	buf = appendLong(buf, sealed.ciphertext)

	return buf
}

// DecodeRecord parses an encoded vault record. Any deviation from the format
// is reported as ErrCorruptStore; no defaults are filled in.
func DecodeRecord(data []byte) (*KeyMaterial, *SealedStore, error) {
	r := &reader{data: data}

	magic := r.fixed(len(RecordMagic))
	if r.err != nil || string(magic) != RecordMagic {
		return nil, nil, fmt.Errorf("%w: missing record header", ErrCorruptStore)
	}
	if version := r.u8(); r.err == nil && version != RecordVersion {
		return nil, nil, fmt.Errorf("%w: unsupported record version %d", ErrCorruptStore, version)
	}

	keys := &KeyMaterial{}
	keys.Iterations = r.u32()
	keys.Salt = r.short()
	keys.Algorithm = VerifierAlgorithm(r.u8())
	keys.Argon2.Iterations = r.u32()
	keys.Argon2.Memory = r.u32()
	keys.Argon2.Parallelism = r.u8()
	keys.VerifierID = r.short()
	keys.Credential = r.short()

	sealed := &SealedStore{}
	sealed.domainTag = r.short()
	copy(sealed.prefix[:], r.fixed(NoncePrefixSize))
	sealed.counter = r.u64()
	sealed.ciphertext = r.long()

	if r.err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrCorruptStore, r.err)
	}
	if r.remaining() != 0 {
		return nil, nil, fmt.Errorf("%w: %d trailing bytes", ErrCorruptStore, r.remaining())
	}
	if err := validateRecord(keys, sealed); err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrCorruptStore, err)
	}

	return keys, sealed, nil
}

func validateRecord(keys *KeyMaterial, sealed *SealedStore) error {
	if keys.Iterations < MinIterations {
		return fmt.Errorf("iteration count %d below minimum %d", keys.Iterations, MinIterations)
	}
	if len(keys.Salt) != SaltSize {
		return fmt.Errorf("salt length %d, want %d", len(keys.Salt), SaltSize)
	}
	switch keys.Algorithm {
	case VerifierPBKDF2:
	case VerifierArgon2id:
		if err := ValidateArgon2Params(keys.Argon2); err != nil {
			return err
		}
	default:
		return fmt.Errorf("unknown verifier algorithm %d", uint8(keys.Algorithm))
	}
	if len(keys.VerifierID) != VerifierIDSize {
		return fmt.Errorf("verifier identifier length %d, want %d", len(keys.VerifierID), VerifierIDSize)
	}
	if len(keys.Credential) != CredentialSize {
		return fmt.Errorf("credential length %d, want %d", len(keys.Credential), CredentialSize)
	}
	if len(sealed.domainTag) != DomainTagSize {
		return fmt.Errorf("domain tag length %d, want %d", len(sealed.domainTag), DomainTagSize)
	}
	if sealed.counter == 0 || len(sealed.ciphertext) < TagSize {
		return fmt.Errorf("record was never sealed")
	}
	return nil
}

// encodeSecrets serializes the secret map in name order:
// count u32, then per entry name u16+bytes and value u32+bytes.
func encodeSecrets(secrets map[string][]byte) []byte {
	names := make([]string, 0, len(secrets))
	size := 4
	for name, value := range secrets {
		names = append(names, name)
		size += 2 + len(name) + 4 + len(value)
	}
	sort.Strings(names)

	buf := make([]byte, 0, size)
	buf = binary.BigEndian.AppendUint32(buf, uint32(len(names)))
	for _, name := range names {
		buf = appendShort(buf, []byte(name))
		buf = appendLong(buf, secrets[name])
	}
	return buf
}

// decodeSecrets parses a serialized secret map. Values are copied into fresh
// buffers owned by the returned map.
func decodeSecrets(data []byte) (map[string][]byte, error) {
	r := &reader{data: data}
	count := r.u32()
	if r.err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptStore, r.err)
	}
	// every entry takes at least 6 bytes, which bounds a hostile count
	if uint64(count)*6 > uint64(r.remaining()) {
		return nil, fmt.Errorf("%w: secret count %d exceeds payload", ErrCorruptStore, count)
	}

	secrets := make(map[string][]byte, count)
	for i := uint32(0); i < count; i++ {
		name := string(r.short())
		value := r.long()
		if r.err != nil {
			wipeSecrets(secrets)
			return nil, fmt.Errorf("%w: %v", ErrCorruptStore, r.err)
		}
		if _, dup := secrets[name]; dup {
			wipeSecrets(secrets)
			return nil, fmt.Errorf("%w: duplicate secret name", ErrCorruptStore)
		}
		secrets[name] = value
	}
	if r.remaining() != 0 {
		wipeSecrets(secrets)
		return nil, fmt.Errorf("%w: %d trailing bytes in secret payload", ErrCorruptStore, r.remaining())
	}
	return secrets, nil
}

func wipeSecrets(secrets map[string][]byte) {
	for name, value := range secrets {
		Zeroize(value)
		delete(secrets, name)
	}
}

func appendShort(buf, field []byte) []byte {
	if len(field) > math.MaxUint16 {
		panic("vault: field too long for u16 length prefix")
	}
	buf = binary.BigEndian.AppendUint16(buf, uint16(len(field)))
	return append(buf, field...)
}

func appendLong(buf, field []byte) []byte {
	buf = binary.BigEndian.AppendUint32(buf, uint32(len(field)))
	return append(buf, field...)
}

// reader walks an encoded buffer. The first failure is sticky and every
// subsequent read returns zero values.
type reader struct {
	data []byte
	off  int
	err  error
}

func (r *reader) remaining() int {
	return len(r.data) - r.off
}

func (r *reader) fixed(n int) []byte {
	if r.err != nil {
		return nil
	}
	if n < 0 || r.remaining() < n {
		r.err = fmt.Errorf("truncated at offset %d: need %d bytes, have %d", r.off, n, r.remaining())
		return nil
	}
	out := make([]byte, n)
	copy(out, r.data[r.off:r.off+n])
	r.off += n
	return out
}

func (r *reader) u8() byte {
	b := r.fixed(1)
	if b == nil {
		return 0
	}
	return b[0]
}

func (r *reader) u32() uint32 {
	b := r.fixed(4)
	if b == nil {
		return 0
	}
	return binary.BigEndian.Uint32(b)
}

func (r *reader) u64() uint64 {
	b := r.fixed(8)
	if b == nil {
		return 0
	}
	return binary.BigEndian.Uint64(b)
}

func (r *reader) short() []byte {
	b := r.fixed(2)
	if b == nil {
		return nil
	}
	return r.fixed(int(binary.BigEndian.Uint16(b)))
}

func (r *reader) long() []byte {
	b := r.fixed(4)
	if b == nil {
		return nil
	}
	n := binary.BigEndian.Uint32(b)
	if uint64(n) > uint64(r.remaining()) {
		r.err = fmt.Errorf("truncated at offset %d: length %d exceeds %d remaining", r.off, n, r.remaining())
		return nil
	}
	return r.fixed(int(n))
}
