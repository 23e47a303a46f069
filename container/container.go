// Package container implements the self-describing hierarchical file that
// carries a job's configuration in and its moment arrays out. Datasets are
// flat typed arrays addressed by slash-separated paths, stored in a single
// SQLite file; the master thread is the only writer.
package container

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/binary"
	"fmt"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/pkg/errors"
)

const (
	tableDatasets = "ds"

	dtypeInt     = "i8"
	dtypeFloat   = "f8"
	dtypeComplex = "c16"
	dtypeString  = "s"
)

// File is an open container.
type File struct {
	Path string
	db   *sql.DB
}

// Create makes a fresh container, dropping any previous content.
func Create(path string) (*File, error) {
	return open(path, true)
}

// Open opens an existing container for read-write.
func Open(path string) (*File, error) {
	return open(path, false)
}

func open(path string, fresh bool) (*File, error) {
	db, err := sql.Open("sqlite3", fmt.Sprintf("file:%s", path))
	if err != nil {
		return nil, errors.Wrap(err, "")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if fresh {
		sqlStr := fmt.Sprintf(`DROP TABLE IF EXISTS %s`, tableDatasets)
		if _, err := db.ExecContext(ctx, sqlStr); err != nil {
			db.Close()
			return nil, errors.Wrap(err, "")
		}
	}
	sqlStr := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (path TEXT PRIMARY KEY, dtype TEXT, data BLOB) STRICT`, tableDatasets)
	if _, err := db.ExecContext(ctx, sqlStr); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "")
	}
	return &File{Path: path, db: db}, nil
}

func (f *File) Close() error {
	return errors.Wrap(f.db.Close(), "")
}

func (f *File) put(path, dtype string, data []byte) error {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	sqlStr := fmt.Sprintf(`INSERT OR REPLACE INTO %s (path, dtype, data) VALUES (?, ?, ?)`, tableDatasets)
	if _, err := f.db.ExecContext(ctx, sqlStr, path, dtype, data); err != nil {
		return errors.Wrap(err, fmt.Sprintf("%s", path))
	}
	return nil
}

func (f *File) get(path, dtype string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	sqlStr := fmt.Sprintf(`SELECT dtype, data FROM %s WHERE path=?`, tableDatasets)
	var dt string
	var data []byte
	err := f.db.QueryRowContext(ctx, sqlStr, path).Scan(&dt, &data)
	switch {
	case err == sql.ErrNoRows:
		return nil, errors.Errorf("missing dataset %s", path)
	case err != nil:
		return nil, errors.Wrap(err, fmt.Sprintf("%s", path))
	case dt != dtype:
		return nil, errors.Errorf("dataset %s has type %s, expected %s", path, dt, dtype)
	}
	return data, nil
}

// Has reports whether a dataset exists.
func (f *File) Has(path string) (bool, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	sqlStr := fmt.Sprintf(`SELECT count(1) FROM %s WHERE path=?`, tableDatasets)
	var n int
	if err := f.db.QueryRowContext(ctx, sqlStr, path).Scan(&n); err != nil {
		return false, errors.Wrap(err, "")
	}
	return n > 0, nil
}

// Children lists the distinct first path components under a prefix.
func (f *File) Children(prefix string) ([]string, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	sqlStr := fmt.Sprintf(`SELECT path FROM %s WHERE path LIKE ? ORDER BY path`, tableDatasets)
	rows, err := f.db.QueryContext(ctx, sqlStr, prefix+"%")
	if err != nil {
		return nil, errors.Wrap(err, "")
	}
	defer rows.Close()

	children := make([]string, 0)
	seen := make(map[string]bool)
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return nil, errors.Wrap(err, "")
		}
		rest := strings.TrimPrefix(p, prefix)
		name, _, _ := strings.Cut(rest, "/")
		if !seen[name] {
			seen[name] = true
			children = append(children, name)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "")
	}
	return children, nil
}

func (f *File) PutInts(path string, v []int64) error {
	buf := &bytes.Buffer{}
	if err := binary.Write(buf, binary.LittleEndian, v); err != nil {
		return errors.Wrap(err, "")
	}
	return f.put(path, dtypeInt, buf.Bytes())
}

func (f *File) PutInt(path string, v int) error {
	return f.PutInts(path, []int64{int64(v)})
}

func (f *File) PutFloats(path string, v []float64) error {
	buf := &bytes.Buffer{}
	if err := binary.Write(buf, binary.LittleEndian, v); err != nil {
		return errors.Wrap(err, "")
	}
	return f.put(path, dtypeFloat, buf.Bytes())
}

func (f *File) PutFloat(path string, v float64) error {
	return f.PutFloats(path, []float64{v})
}

func (f *File) PutComplex(path string, v []complex128) error {
	buf := &bytes.Buffer{}
	if err := binary.Write(buf, binary.LittleEndian, v); err != nil {
		return errors.Wrap(err, "")
	}
	return f.put(path, dtypeComplex, buf.Bytes())
}

func (f *File) PutString(path, v string) error {
	return f.put(path, dtypeString, []byte(v))
}

func (f *File) Ints(path string) ([]int64, error) {
	data, err := f.get(path, dtypeInt)
	if err != nil {
		return nil, errors.Wrap(err, "")
	}
	v := make([]int64, len(data)/8)
	if err := binary.Read(bytes.NewReader(data), binary.LittleEndian, v); err != nil {
		return nil, errors.Wrap(err, "")
	}
	return v, nil
}

func (f *File) Int(path string) (int, error) {
	v, err := f.Ints(path)
	if err != nil {
		return 0, errors.Wrap(err, "")
	}
	if len(v) != 1 {
		return 0, errors.Errorf("dataset %s has %d entries", path, len(v))
	}
	return int(v[0]), nil
}

func (f *File) Floats(path string) ([]float64, error) {
	data, err := f.get(path, dtypeFloat)
	if err != nil {
		return nil, errors.Wrap(err, "")
	}
	v := make([]float64, len(data)/8)
	if err := binary.Read(bytes.NewReader(data), binary.LittleEndian, v); err != nil {
		return nil, errors.Wrap(err, "")
	}
	return v, nil
}

func (f *File) Float(path string) (float64, error) {
	v, err := f.Floats(path)
	if err != nil {
		return 0, errors.Wrap(err, "")
	}
	if len(v) != 1 {
		return 0, errors.Errorf("dataset %s has %d entries", path, len(v))
	}
	return v[0], nil
}

func (f *File) Complex(path string) ([]complex128, error) {
	data, err := f.get(path, dtypeComplex)
	if err != nil {
		return nil, errors.Wrap(err, "")
	}
	v := make([]complex128, len(data)/16)
	if err := binary.Read(bytes.NewReader(data), binary.LittleEndian, v); err != nil {
		return nil, errors.Wrap(err, "")
	}
	return v, nil
}

func (f *File) String(path string) (string, error) {
	data, err := f.get(path, dtypeString)
	if err != nil {
		return "", errors.Wrap(err, "")
	}
	return string(data), nil
}
