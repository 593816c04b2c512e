package session

import (
	"bytes"
	"encoding/binary"
	"errors"
	"io"
)

// CurrentSchemaVersion is the encoding version written by Encode.
// Decode accepts only this version; there are no legacy blobs to migrate
// yet, and an unknown version is treated as corrupt.
const CurrentSchemaVersion uint8 = 1

const (
	maxFieldLen = 255
	fixedTail   = 4 + 32 + 8 + 8 + 8 // token version, refresh hash, three timestamps
)

var (
	// ErrSessionCorrupt is returned when a stored blob cannot be decoded.
	ErrSessionCorrupt = errors.New("session blob corrupt")
	// ErrFieldTooLong is returned when a variable-length field exceeds 255 bytes.
	ErrFieldTooLong = errors.New("session field too long")
)

// Encode serializes sess into the compact binary layout shared with the
// Lua rotation script. Layout (version 1):
//
//	[1] schema version
//	[1+n] principal ID (len-prefixed)
//	[1+n] role (len-prefixed)
//	[1+n] ip address (len-prefixed)
//	[1+n] user agent (len-prefixed)
//	[4]  token version (BE)
//	[32] refresh hash
//	[8]  created at (BE, unix seconds)
//	[8]  last activity at (BE, unix seconds)
//	[8]  expires at (BE, unix seconds)
//
// The Lua script depends on this ordering: the refresh hash sits at a
// computable offset after the four variable-length fields, and expiresAt
// is the final 8 bytes.
func Encode(sess *Session) ([]byte, error) {
	if sess == nil {
		return nil, errors.New("nil session")
	}

	var buf bytes.Buffer
	buf.Grow(4*2 + len(sess.PrincipalID) + len(sess.Role) + len(sess.IPAddress) + len(sess.UserAgent) + 1 + fixedTail)

	buf.WriteByte(CurrentSchemaVersion)

	for _, field := range []string{sess.PrincipalID, sess.Role, sess.IPAddress, sess.UserAgent} {
		if len(field) > maxFieldLen {
			return nil, ErrFieldTooLong
		}
		buf.WriteByte(byte(len(field)))
		buf.WriteString(field)
	}

	if err := binary.Write(&buf, binary.BigEndian, sess.TokenVersion); err != nil {
		return nil, err
	}
	buf.Write(sess.RefreshHash[:])
	for _, ts := range []int64{sess.CreatedAt, sess.LastActivityAt, sess.ExpiresAt} {
		if err := binary.Write(&buf, binary.BigEndian, ts); err != nil {
			return nil, err
		}
	}

	return buf.Bytes(), nil
}

// Decode deserializes a blob produced by Encode. SessionID is not part
// of the blob; callers set it from the Redis key.
func Decode(data []byte) (*Session, error) {
	reader := bytes.NewReader(data)

	version, err := reader.ReadByte()
	if err != nil {
		return nil, ErrSessionCorrupt
	}
	if version != CurrentSchemaVersion {
		return nil, ErrSessionCorrupt
	}

	sess := &Session{SchemaVersion: version}

	fields := []*string{&sess.PrincipalID, &sess.Role, &sess.IPAddress, &sess.UserAgent}
	for _, field := range fields {
		n, err := reader.ReadByte()
		if err != nil {
			return nil, ErrSessionCorrupt
		}
		raw := make([]byte, n)
		if _, err := io.ReadFull(reader, raw); err != nil {
			return nil, ErrSessionCorrupt
		}
		*field = string(raw)
	}

	if err := binary.Read(reader, binary.BigEndian, &sess.TokenVersion); err != nil {
		return nil, ErrSessionCorrupt
	}
	if _, err := io.ReadFull(reader, sess.RefreshHash[:]); err != nil {
		return nil, ErrSessionCorrupt
	}
	for _, ts := range []*int64{&sess.CreatedAt, &sess.LastActivityAt, &sess.ExpiresAt} {
		if err := binary.Read(reader, binary.BigEndian, ts); err != nil {
			return nil, ErrSessionCorrupt
		}
	}

	if reader.Len() != 0 {
		return nil, ErrSessionCorrupt
	}
	if sess.PrincipalID == "" {
		return nil, ErrSessionCorrupt
	}

	return sess, nil
}
