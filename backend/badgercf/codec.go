package badgercf

import (
	"bytes"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/dgraph-io/badger/v4"

	"github.com/quellcloud/tessera/backend"
	"github.com/quellcloud/tessera/model"
)

// Key layout. Scalar key components are hex-encoded so that the 0x00
// separator can never occur inside a component and partition prefixes
// match exactly.
//
//	meta: !m 0x00 <keyspace> 0x00 <table>
//	row:  r  0x00 <keyspace> 0x00 <table> 0x00 <hash> 0x00 [<clustering> 0x00 ...]
const (
	metaPrefix = "!m"
	rowMarker  = "r"
	keySep     = byte(0x00)
)

func metaKey(keyspace, table string) []byte {
	var buf bytes.Buffer
	buf.WriteString(metaPrefix)
	buf.WriteByte(keySep)
	buf.WriteString(keyspace)
	buf.WriteByte(keySep)
	buf.WriteString(table)
	return buf.Bytes()
}

func tablePrefix(keyspace, table string) []byte {
	var buf bytes.Buffer
	buf.WriteString(rowMarker)
	buf.WriteByte(keySep)
	buf.WriteString(keyspace)
	buf.WriteByte(keySep)
	buf.WriteString(table)
	buf.WriteByte(keySep)
	return buf.Bytes()
}

func encodeScalar(v model.AttributeValue) (string, error) {
	switch v.Type {
	case model.TypeString:
		return "S" + hex.EncodeToString([]byte(v.S)), nil
	case model.TypeNumber:
		return "N" + hex.EncodeToString([]byte(v.N.String())), nil
	case model.TypeBinary:
		return "B" + hex.EncodeToString(v.B), nil
	}
	return "", fmt.Errorf("key component must be a scalar, got %s", v.Type)
}

func partitionPrefix(keyspace, table string, hash model.AttributeValue) ([]byte, error) {
	enc, err := encodeScalar(hash)
	if err != nil {
		return nil, err
	}
	prefix := tablePrefix(keyspace, table)
	prefix = append(prefix, enc...)
	return append(prefix, keySep), nil
}

func rowKey(keyspace, table string, hash model.AttributeValue, clustering []model.AttributeValue) ([]byte, error) {
	key, err := partitionPrefix(keyspace, table, hash)
	if err != nil {
		return nil, err
	}
	for _, c := range clustering {
		enc, err := encodeScalar(c)
		if err != nil {
			return nil, err
		}
		key = append(key, enc...)
		key = append(key, keySep)
	}
	return key, nil
}

// keyColumns extracts the partition and clustering values a statement's
// row or key map must carry.
func keyColumns(def *tableDef, row backend.Row) (model.AttributeValue, []model.AttributeValue, error) {
	hashVal, ok := row[def.PartitionKey].(model.AttributeValue)
	if !ok {
		return model.AttributeValue{}, nil, fmt.Errorf("missing partition key column %q", def.PartitionKey)
	}
	clustering := make([]model.AttributeValue, 0, len(def.ClusteringKeys))
	for _, col := range def.ClusteringKeys {
		v, ok := row[col].(model.AttributeValue)
		if !ok {
			return model.AttributeValue{}, nil, fmt.Errorf("missing clustering key column %q", col)
		}
		clustering = append(clustering, v)
	}
	return hashVal, clustering, nil
}

// storedValue is the serialized form of one backend.Value.
type storedValue struct {
	Kind    string                `json:"k"`
	Attr    *model.AttributeValue `json:"a,omitempty"`
	BlobMap map[string][]byte     `json:"bm,omitempty"`
	TextMap map[string]string     `json:"tm,omitempty"`
	TextSet []string              `json:"ts,omitempty"`
}

func encodeRow(row backend.Row) ([]byte, error) {
	stored := make(map[string]storedValue, len(row))
	for col, val := range row {
		if val == nil {
			continue
		}
		switch v := val.(type) {
		case model.AttributeValue:
			attr := v
			stored[col] = storedValue{Kind: "attr", Attr: &attr}
		case backend.BlobMap:
			stored[col] = storedValue{Kind: "bmap", BlobMap: v}
		case backend.TextMap:
			stored[col] = storedValue{Kind: "tmap", TextMap: v}
		case backend.TextSet:
			stored[col] = storedValue{Kind: "tset", TextSet: v}
		default:
			return nil, fmt.Errorf("unsupported value type %T in column %q", val, col)
		}
	}
	return json.Marshal(stored)
}

func decodeRow(data []byte) (backend.Row, error) {
	var stored map[string]storedValue
	if err := json.Unmarshal(data, &stored); err != nil {
		return nil, err
	}
	row := make(backend.Row, len(stored))
	for col, sv := range stored {
		switch sv.Kind {
		case "attr":
			row[col] = *sv.Attr
		case "bmap":
			row[col] = backend.BlobMap(sv.BlobMap)
		case "tmap":
			row[col] = backend.TextMap(sv.TextMap)
		case "tset":
			row[col] = backend.TextSet(sv.TextSet)
		default:
			return nil, fmt.Errorf("unknown stored value kind %q", sv.Kind)
		}
	}
	return row, nil
}

func (s *Store) loadTableDefs() error {
	return s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		prefix := append([]byte(metaPrefix), keySep)
		opts.Prefix = prefix

		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(prefix); it.Valid(); it.Next() {
			key := it.Item().Key()
			parts := bytes.SplitN(key[len(prefix):], []byte{keySep}, 2)
			if len(parts) != 2 {
				return fmt.Errorf("malformed metadata key %q", key)
			}
			keyspace, table := string(parts[0]), string(parts[1])

			var def tableDef
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &def)
			}); err != nil {
				return err
			}

			tables, ok := s.keyspaces[keyspace]
			if !ok {
				tables = make(map[string]*tableDef)
				s.keyspaces[keyspace] = tables
			}
			tables[table] = &def
		}
		return nil
	})
}
