package snapshot

import (
	"fmt"

	"github.com/imedwei/file-backup/internal/codec"
)

const (
	recordType = "SnapshotRecord"
	updateType = "UpdateEntry"
)

// CodecRecord implements codec.Recorder.
func (r Record) CodecRecord() codec.Record {
	return codec.Record{Type: recordType, Fields: map[string]any{
		"uuid":      r.UUID,
		"timestamp": r.Timestamp,
		"timestr":   r.TimeStr,
	}}
}

// CodecRecord implements codec.Recorder.
func (u UpdateEntry) CodecRecord() codec.Record {
	var hash any
	if u.Kind == KindFile {
		hash = u.Hash
	}
	return codec.Record{Type: updateType, Fields: map[string]any{
		"kind": string(u.Kind),
		"path": codec.Path(u.Path),
		"hash": hash,
	}}
}

// Codec encodes snapshot metadata with the tagged codec and obfuscates the
// result.
type Codec struct {
	obf *codec.Obfuscator
}

// NewCodec creates a codec using obf.
func NewCodec(obf *codec.Obfuscator) *Codec {
	return &Codec{obf: obf}
}

func (c *Codec) encode(items []any) ([]byte, error) {
	w := codec.NewWriter()
	if err := w.WriteList(items); err != nil {
		return nil, err
	}
	return c.obf.Obfuscate(w.Bytes()), nil
}

func (c *Codec) decode(op string, data []byte) ([]any, error) {
	plain, err := c.obf.Deobfuscate(data)
	if err != nil {
		return nil, err
	}
	r := codec.NewReader(plain)
	items, err := r.ReadList()
	if err != nil {
		return nil, err
	}
	if r.HasMore() {
		return nil, &codec.Error{Op: op, Offset: -1, Msg: "trailing data"}
	}
	return items, nil
}

// EncodeChain serializes a chain.
func (c *Codec) EncodeChain(chain Chain) ([]byte, error) {
	items := make([]any, len(chain))
	for i, r := range chain {
		items[i] = r
	}
	return c.encode(items)
}

// DecodeChain parses a chain and restores timestamp order.
func (c *Codec) DecodeChain(data []byte) (Chain, error) {
	items, err := c.decode("decode chain", data)
	if err != nil {
		return nil, err
	}
	var chain Chain
	for i, item := range items {
		rec, err := asRecord("decode chain", i, item, recordType)
		if err != nil {
			return nil, err
		}
		r := Record{}
		var ok1, ok2, ok3 bool
		r.UUID, ok1 = rec.Fields["uuid"].(string)
		r.Timestamp, ok2 = rec.Fields["timestamp"].(float64)
		r.TimeStr, ok3 = rec.Fields["timestr"].(string)
		if !ok1 || !ok2 || !ok3 || r.UUID == "" {
			return nil, fieldError("decode chain", i)
		}
		chain = chain.Append(r)
	}
	return chain, nil
}

// EncodeUpdates serializes an update list.
func (c *Codec) EncodeUpdates(updates []UpdateEntry) ([]byte, error) {
	items := make([]any, len(updates))
	for i, u := range updates {
		items[i] = u
	}
	return c.encode(items)
}

// DecodeUpdates parses an update list.
func (c *Codec) DecodeUpdates(data []byte) ([]UpdateEntry, error) {
	items, err := c.decode("decode updates", data)
	if err != nil {
		return nil, err
	}
	updates := make([]UpdateEntry, 0, len(items))
	for i, item := range items {
		rec, err := asRecord("decode updates", i, item, updateType)
		if err != nil {
			return nil, err
		}
		kind, ok1 := rec.Fields["kind"].(string)
		p, ok2 := rec.Fields["path"].(codec.Path)
		if !ok1 || !ok2 || p == "" {
			return nil, fieldError("decode updates", i)
		}
		u := UpdateEntry{Kind: UpdateKind(kind), Path: string(p)}
		switch u.Kind {
		case KindFile:
			hash, ok := rec.Fields["hash"].(string)
			if !ok {
				return nil, fieldError("decode updates", i)
			}
			u.Hash = hash
		case KindDir, KindDel:
		default:
			return nil, &codec.Error{Op: "decode updates", Offset: -1, Msg: fmt.Sprintf("item %d: unknown kind %q", i, kind)}
		}
		updates = append(updates, u)
	}
	return updates, nil
}

// EncodeManifest serializes the ordered volume names of one archive.
func (c *Codec) EncodeManifest(volumes []string) ([]byte, error) {
	items := make([]any, len(volumes))
	for i, v := range volumes {
		items[i] = v
	}
	return c.encode(items)
}

// DecodeManifest parses a manifest.
func (c *Codec) DecodeManifest(data []byte) ([]string, error) {
	items, err := c.decode("decode manifest", data)
	if err != nil {
		return nil, err
	}
	volumes := make([]string, 0, len(items))
	for i, item := range items {
		name, ok := item.(string)
		if !ok || name == "" {
			return nil, fieldError("decode manifest", i)
		}
		volumes = append(volumes, name)
	}
	return volumes, nil
}

func asRecord(op string, i int, item any, typ string) (codec.Record, error) {
	rec, ok := item.(codec.Record)
	if !ok || rec.Type != typ {
		return codec.Record{}, &codec.Error{Op: op, Offset: -1, Msg: fmt.Sprintf("item %d: expected %s", i, typ)}
	}
	return rec, nil
}

func fieldError(op string, i int) error {
	return &codec.Error{Op: op, Offset: -1, Msg: fmt.Sprintf("item %d: missing or invalid field", i)}
}
