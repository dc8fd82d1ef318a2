package storage

import (
	"encoding/binary"
	"strings"

	bolt "go.etcd.io/bbolt"
)

// LastSequence returns the highest server-assigned sequence number the
// sync engine has advanced this collection's cursor to (spec §3
// Database attribute "per-collection lastSequence cursor"). 0 means the
// collection has never synced.
func (d *Database) LastSequence(collection string) (uint64, error) {
	var seq uint64
	err := d.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(metaBucketName))
		v := b.Get(lastSequenceKey(collection))
		if v == nil {
			return nil
		}
		seq = binary.BigEndian.Uint64(v)
		return nil
	})
	return seq, err
}

// SetLastSequence persists the collection's sequence cursor.
func (d *Database) SetLastSequence(collection string, seq uint64) error {
	d.beginWrite()
	defer d.endWrite()
	return d.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(metaBucketName))
		buf := make([]byte, 8)
		binary.BigEndian.PutUint64(buf, seq)
		return b.Put(lastSequenceKey(collection), buf)
	})
}

func lastSequenceKey(collection string) []byte {
	return []byte("seq:" + collection)
}

// Quarantine persists the set of record ids excluded from sync for one
// collection, keyed "<collection>\x00<id>" within the library-reserved
// __quarantine bucket (spec §6 Persisted state layout).
func quarantineKey(collection, id string) []byte {
	return []byte(collection + "\x00" + id)
}

// AddQuarantine marks a record id quarantined for a collection.
func (d *Database) AddQuarantine(collection, id string) error {
	d.beginWrite()
	defer d.endWrite()
	return d.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(quarantineBucketName))
		return b.Put(quarantineKey(collection, id), []byte{1})
	})
}

// RemoveQuarantine clears one id's quarantine mark.
func (d *Database) RemoveQuarantine(collection, id string) error {
	d.beginWrite()
	defer d.endWrite()
	return d.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(quarantineBucketName))
		return b.Delete(quarantineKey(collection, id))
	})
}

// ClearQuarantine drops every quarantine mark for a collection
// (spec §4.G "retryQuarantined(collection)").
func (d *Database) ClearQuarantine(collection string) error {
	d.beginWrite()
	defer d.endWrite()
	return d.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(quarantineBucketName))
		c := b.Cursor()
		prefix := []byte(collection + "\x00")
		var keys [][]byte
		for k, _ := c.Seek(prefix); k != nil && strings.HasPrefix(string(k), string(prefix)); k, _ = c.Next() {
			keys = append(keys, append([]byte(nil), k...))
		}
		for _, k := range keys {
			if err := b.Delete(k); err != nil {
				return err
			}
		}
		return nil
	})
}

// QuarantinedIDs returns every quarantined record id for a collection.
func (d *Database) QuarantinedIDs(collection string) (map[string]bool, error) {
	out := make(map[string]bool)
	err := d.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(quarantineBucketName))
		c := b.Cursor()
		prefix := []byte(collection + "\x00")
		for k, _ := c.Seek(prefix); k != nil && strings.HasPrefix(string(k), string(prefix)); k, _ = c.Next() {
			id := strings.TrimPrefix(string(k), string(prefix))
			out[id] = true
		}
		return nil
	})
	return out, err
}
