/*************************************************************************
 * Copyright 2023 Gravwell, Inc. All rights reserved.
 * Contact: <legal@gravwell.io>
 *
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

// Package ircdconfig loads the server's gcfg-format configuration file,
// applies conf.d directory overlays on top of it, and lets environment
// variables punch through onto individual fields for secrets that
// shouldn't live in a file on disk.
package ircdconfig

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"reflect"
	"strconv"
	"strings"

	"github.com/gravwell/gcfg"
)

const (
	kb = 1024
	mb = 1024 * kb

	maxConfigSize int64  = 4 * mb
	confExt       string = `.conf`
)

var (
	ErrConfigFileTooLarge  = errors.New("config file is too large")
	ErrFailedFileRead      = errors.New("failed to read entire config file")
	ErrInvalidImportParam  = errors.New("parameter is not a pointer")
	ErrInvalidMapValueType = errors.New("invalid map value type, must be pointer to struct")
	ErrBadMap              = errors.New("VariableConfig has not been initialized")
	ErrIsNotDirectory      = errors.New("path is not a directory")
)

// VariableConfig maps environment-variable-style overrides (collected
// by gcfg's Idxer) onto the fields of a config struct by reflection.
type VariableConfig struct {
	gcfg.Idxer
	Vals map[gcfg.Idx]*[]string
}

// LoadConfigFile opens a config file, enforces a size ceiling, and
// parses its bytes into v.
func LoadConfigFile(v interface{}, p string) (err error) {
	var fin *os.File
	var fi os.FileInfo
	var n int64
	if fin, err = os.Open(p); err != nil {
		return
	} else if fi, err = fin.Stat(); err != nil {
		fin.Close()
		return
	} else if fi.Size() > maxConfigSize {
		fin.Close()
		err = ErrConfigFileTooLarge
		return
	}

	bb := bytes.NewBuffer(nil)
	if n, err = io.Copy(bb, fin); err != nil {
		fin.Close()
		return
	} else if n != fi.Size() {
		fin.Close()
		err = ErrFailedFileRead
	} else if err = fin.Close(); err == nil {
		err = LoadConfigBytes(v, bb.Bytes())
	}
	return
}

// LoadConfigOverlays scans pth for *.conf files and loads each on top
// of v in directory order, letting a conf.d directory layer
// per-listener or per-link overrides on top of the base file.
func LoadConfigOverlays(v interface{}, pth string) (err error) {
	if pth == `` || v == nil {
		return
	}
	var fi os.FileInfo
	if fi, err = os.Stat(pth); err != nil {
		if os.IsNotExist(err) {
			err = nil
		}
		return
	} else if !fi.IsDir() {
		err = ErrIsNotDirectory
		return
	}

	var dents []os.DirEntry
	if dents, err = os.ReadDir(pth); err != nil {
		return
	}
	for _, dent := range dents {
		if !dent.Type().IsRegular() {
			continue
		} else if filepath.Ext(dent.Name()) != confExt {
			continue
		}
		p := filepath.Join(pth, dent.Name())
		if err = LoadConfigFile(v, p); err != nil {
			err = fmt.Errorf("failed to load %q: %w", p, err)
			return
		}
	}
	return
}

// LoadConfigBytes parses the contents of b into v.
func LoadConfigBytes(v interface{}, b []byte) error {
	if int64(len(b)) > maxConfigSize {
		return ErrConfigFileTooLarge
	}
	return gcfg.ReadStringInto(v, string(b))
}

func (vc VariableConfig) MapTo(v interface{}) (err error) {
	if vc.Vals == nil {
		err = ErrBadMap
	} else if v == nil {
		err = ErrInvalidImportParam
	} else if reflect.ValueOf(v).Kind() != reflect.Ptr {
		return ErrInvalidImportParam
	} else {
		err = vc.mapStruct(v)
	}
	return
}

func (vc VariableConfig) get(name string) (v string, ok bool) {
	if temp := vc.Vals[vc.Idx(name)]; temp != nil {
		x := *temp
		if len(x) > 0 {
			v = x[0]
			ok = true
		}
	}
	return
}

func (vc VariableConfig) getSlice(name string) (v []string, ok bool) {
	if temp := vc.Vals[vc.Idx(name)]; temp != nil {
		v = *temp
		ok = true
	}
	return
}

func (vc VariableConfig) mapStruct(v interface{}) error {
	if reflect.ValueOf(v).Kind() != reflect.Ptr {
		return ErrInvalidImportParam
	}
	rv := reflect.ValueOf(v).Elem()
	if rv.Type().Kind() != reflect.Struct {
		return ErrInvalidMapValueType
	}
	typeOf := rv.Type()
	for i := 0; i < rv.NumField(); i++ {
		if err := vc.setField(typeOf.Field(i).Name, rv.Field(i)); err != nil {
			return err
		}
	}
	return nil
}

func (vc VariableConfig) setField(name string, v reflect.Value) (err error) {
	strv, ok := vc.get(nameMapper(name))
	if !ok {
		return
	}
	switch v.Type().Kind() {
	case reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64, reflect.Int:
		var vint int64
		if vint, err = ParseInt64(strv); err == nil {
			if v.OverflowInt(vint) {
				err = fmt.Errorf("%d overflows %T", vint, v.Interface())
			} else {
				v.SetInt(vint)
			}
		}
	case reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uint:
		var vint uint64
		if vint, err = ParseUint64(strv); err == nil {
			if v.OverflowUint(vint) {
				err = fmt.Errorf("%d overflows %T", vint, v.Interface())
			} else {
				v.SetUint(vint)
			}
		}
	case reflect.Float32, reflect.Float64:
		var vf float64
		if vf, err = strconv.ParseFloat(strv, 64); err == nil {
			if v.OverflowFloat(vf) {
				err = fmt.Errorf("%f overflows %T", vf, v.Interface())
			} else {
				v.SetFloat(vf)
			}
		}
	case reflect.Bool:
		var vb bool
		if vb, err = ParseBool(strv); err == nil {
			v.SetBool(vb)
		}
	case reflect.String:
		v.SetString(strv)
	case reflect.Slice:
		slc, ok := vc.getSlice(nameMapper(name))
		if !ok {
			return
		}
		v.Set(reflect.AppendSlice(v, reflect.ValueOf(slc)))
	default:
		err = fmt.Errorf("cannot store into member %v: unknown type %T", name, v.Interface())
	}
	return
}

func nameMapper(v string) string {
	return strings.ReplaceAll(v, "_", "-")
}
