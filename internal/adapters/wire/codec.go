package wire

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"sort"
)

// maxStringLen bounds decoded strings; anything longer is a corrupt frame.
const maxStringLen = 1 << 12

// Encode serializes a message into a self-describing frame: one type byte
// followed by the fields in declaration order. Strings and payload maps
// beyond the length-prefix bound fail with ErrFrameTooLarge instead of
// producing a truncated frame.
func Encode(msg Message) ([]byte, error) {
	w := &frameWriter{}
	w.writeByte(byte(msg.Type()))

	switch m := msg.(type) {
	case SyncRequest:
		w.writeString(m.DeviceID)
		w.writeInt64(m.ClientSend)
	case SyncResponse:
		w.writeString(m.DeviceID)
		w.writeInt64(m.ClientSend)
		w.writeInt64(m.ServerReceive)
		w.writeInt64(m.ServerSend)
	case Marker:
		w.writeByte(byte(m.Kind))
		w.writeInt64(m.OriginTimestamp)
		w.writeMap(m.Payload)
	case MarkerAck:
		w.writeString(m.DeviceID)
		w.writeBool(m.Received)
	case ScheduledStart:
		w.writeString(m.SessionID)
		w.writeInt64(m.LocalStartTime)
	case StartAck:
		w.writeString(m.DeviceID)
		w.writeString(m.SessionID)
		w.writeBool(m.Accepted)
	case StartReport:
		w.writeString(m.DeviceID)
		w.writeString(m.SessionID)
		w.writeInt64(m.ActualLocalStart)
	case Heartbeat:
		w.writeString(m.DeviceID)
		w.writeInt64(m.Seq)
	case HeartbeatAck:
		w.writeString(m.DeviceID)
		w.writeInt64(m.Seq)
	case CancelStart:
		w.writeString(m.SessionID)
	case ReportRequest:
		w.writeString(m.SessionID)
	default:
		return nil, fmt.Errorf("%w: %T", ErrUnknownType, msg)
	}

	if w.err != nil {
		return nil, w.err
	}
	return w.buf.Bytes(), nil
}

// Decode parses a frame produced by Encode.
func Decode(data []byte) (Message, error) {
	if len(data) == 0 {
		return nil, ErrShortFrame
	}
	r := bytes.NewReader(data)
	t, _ := r.ReadByte()

	var (
		msg Message
		err error
	)
	switch Type(t) {
	case TypeSyncRequest:
		m := SyncRequest{}
		m.DeviceID, err = readString(r)
		if err == nil {
			m.ClientSend, err = readInt64(r)
		}
		msg = m
	case TypeSyncResponse:
		m := SyncResponse{}
		m.DeviceID, err = readString(r)
		if err == nil {
			m.ClientSend, err = readInt64(r)
		}
		if err == nil {
			m.ServerReceive, err = readInt64(r)
		}
		if err == nil {
			m.ServerSend, err = readInt64(r)
		}
		msg = m
	case TypeMarker:
		m := Marker{}
		var kind byte
		kind, err = r.ReadByte()
		m.Kind = Kind(kind)
		if err == nil {
			m.OriginTimestamp, err = readInt64(r)
		}
		if err == nil {
			m.Payload, err = readMap(r)
		}
		msg = m
	case TypeMarkerAck:
		m := MarkerAck{}
		m.DeviceID, err = readString(r)
		if err == nil {
			m.Received, err = readBool(r)
		}
		msg = m
	case TypeScheduledStart:
		m := ScheduledStart{}
		m.SessionID, err = readString(r)
		if err == nil {
			m.LocalStartTime, err = readInt64(r)
		}
		msg = m
	case TypeStartAck:
		m := StartAck{}
		m.DeviceID, err = readString(r)
		if err == nil {
			m.SessionID, err = readString(r)
		}
		if err == nil {
			m.Accepted, err = readBool(r)
		}
		msg = m
	case TypeStartReport:
		m := StartReport{}
		m.DeviceID, err = readString(r)
		if err == nil {
			m.SessionID, err = readString(r)
		}
		if err == nil {
			m.ActualLocalStart, err = readInt64(r)
		}
		msg = m
	case TypeHeartbeat:
		m := Heartbeat{}
		m.DeviceID, err = readString(r)
		if err == nil {
			m.Seq, err = readInt64(r)
		}
		msg = m
	case TypeHeartbeatAck:
		m := HeartbeatAck{}
		m.DeviceID, err = readString(r)
		if err == nil {
			m.Seq, err = readInt64(r)
		}
		msg = m
	case TypeCancelStart:
		m := CancelStart{}
		m.SessionID, err = readString(r)
		msg = m
	case TypeReportRequest:
		m := ReportRequest{}
		m.SessionID, err = readString(r)
		msg = m
	default:
		return nil, fmt.Errorf("%w: 0x%02x", ErrUnknownType, t)
	}

	if err != nil {
		return nil, err
	}
	if r.Len() != 0 {
		return nil, ErrTrailingBytes
	}
	return msg, nil
}

// frameWriter accumulates a frame with a sticky error: once a field fails
// validation, later writes are no-ops and Encode surfaces the error.
type frameWriter struct {
	buf bytes.Buffer
	err error
}

func (w *frameWriter) writeByte(b byte) {
	if w.err != nil {
		return
	}
	w.buf.WriteByte(b)
}

func (w *frameWriter) writeInt64(v int64) {
	if w.err != nil {
		return
	}
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], uint64(v))
	w.buf.Write(b[:])
}

func (w *frameWriter) writeBool(v bool) {
	if w.err != nil {
		return
	}
	if v {
		w.buf.WriteByte(1)
		return
	}
	w.buf.WriteByte(0)
}

func (w *frameWriter) writeString(s string) {
	if w.err != nil {
		return
	}
	if len(s) > maxStringLen {
		w.err = fmt.Errorf("%w: string of %d bytes", ErrFrameTooLarge, len(s))
		return
	}
	var b [2]byte
	binary.BigEndian.PutUint16(b[:], uint16(len(s)))
	w.buf.Write(b[:])
	w.buf.WriteString(s)
}

// writeMap serializes payload entries in sorted key order so identical
// payloads always produce identical frames.
func (w *frameWriter) writeMap(m map[string]string) {
	if w.err != nil {
		return
	}
	if len(m) > maxStringLen {
		w.err = fmt.Errorf("%w: payload of %d entries", ErrFrameTooLarge, len(m))
		return
	}
	var b [2]byte
	binary.BigEndian.PutUint16(b[:], uint16(len(m)))
	w.buf.Write(b[:])

	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		w.writeString(k)
		w.writeString(m[k])
	}
}

func readInt64(r *bytes.Reader) (int64, error) {
	var b [8]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return 0, ErrShortFrame
	}
	return int64(binary.BigEndian.Uint64(b[:])), nil
}

func readBool(r *bytes.Reader) (bool, error) {
	b, err := r.ReadByte()
	if err != nil {
		return false, ErrShortFrame
	}
	return b != 0, nil
}

func readString(r *bytes.Reader) (string, error) {
	var b [2]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return "", ErrShortFrame
	}
	n := int(binary.BigEndian.Uint16(b[:]))
	if n > maxStringLen {
		return "", ErrFrameTooLarge
	}
	s := make([]byte, n)
	if _, err := io.ReadFull(r, s); err != nil {
		return "", ErrShortFrame
	}
	return string(s), nil
}

func readMap(r *bytes.Reader) (map[string]string, error) {
	var b [2]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return nil, ErrShortFrame
	}
	n := int(binary.BigEndian.Uint16(b[:]))
	m := make(map[string]string, n)
	for i := 0; i < n; i++ {
		k, err := readString(r)
		if err != nil {
			return nil, err
		}
		v, err := readString(r)
		if err != nil {
			return nil, err
		}
		m[k] = v
	}
	return m, nil
}
