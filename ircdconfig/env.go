/*************************************************************************
 * Copyright 2023 Gravwell, Inc. All rights reserved.
 * Contact: <legal@gravwell.io>
 *
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

package ircdconfig

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"reflect"
)

const (
	maxFileValueSize int64 = 1024 * 16 // link/oper secrets cannot be bigger than 16k when loaded from a file
)

var (
	errNoEnvArg     = errors.New("no env arg")
	ErrInvalidArg   = errors.New("invalid arguments")
	ErrEmptyEnvFile = errors.New("environment secret file is empty")
)

func loadEnvFile(nm string) (r string, err error) {
	var fin *os.File
	if fin, err = os.Open(nm); err != nil {
		return
	}
	s := bufio.NewScanner(fin)
	s.Scan()
	if err = s.Err(); err != nil {
		fin.Close()
		return
	}
	r = s.Text()
	if err = fin.Close(); err != nil {
		return
	} else if r == `` {
		err = ErrEmptyEnvFile
	}
	return
}

func loadEnv(nm string) (s string, err error) {
	var ok bool
	if s, ok = os.LookupEnv(nm); ok {
		return
	}
	if fp, ok := os.LookupEnv(nm + `_FILE`); ok {
		s, err = loadEnvFile(fp)
	} else {
		err = errNoEnvArg
	}
	return
}

// LoadEnvVar reads envName from the environment into cnd (a pointer).
// If envName isn't set, it checks envName+"_FILE" for a path holding
// the value, so a secret need not sit in a conf.d file on disk.
func LoadEnvVar(cnd interface{}, envName string, defVal interface{}) error {
	if cnd == nil {
		return ErrInvalidArg
	}
	if reflect.ValueOf(cnd).Kind() != reflect.Ptr {
		return ErrInvalidArg
	}
	switch v := cnd.(type) {
	case *string:
		var def string
		if defVal != nil {
			var ok bool
			if def, ok = defVal.(string); !ok {
				return ErrInvalidArg
			}
		}
		return loadEnvVarString(v, envName, def)
	case *bool:
		var def bool
		if defVal != nil {
			var ok bool
			if def, ok = defVal.(bool); !ok {
				return ErrInvalidArg
			}
		}
		return loadEnvVarBool(v, envName, def)
	case *int:
		var def int
		if defVal != nil {
			var ok bool
			if def, ok = defVal.(int); !ok {
				return ErrInvalidArg
			}
		}
		return loadEnvVarInt(v, envName, def)
	}
	return ErrInvalidArg
}

func loadEnvVarString(cnd *string, envName, defVal string) (err error) {
	if cnd == nil {
		return ErrInvalidArg
	} else if len(*cnd) > 0 {
		return nil
	} else if len(envName) == 0 {
		return nil
	}
	if *cnd, err = loadEnv(envName); err != nil {
		if err == errNoEnvArg {
			err = nil
			*cnd = defVal
		}
	}
	return
}

func loadEnvVarBool(cnd *bool, envName string, defVal bool) (err error) {
	if cnd == nil {
		return ErrInvalidArg
	} else if *cnd {
		return nil
	} else if len(envName) == 0 {
		return nil
	}
	var argstr string
	if argstr, err = loadEnv(envName); err == errNoEnvArg {
		*cnd = defVal
		return nil
	} else if err != nil {
		return
	}
	*cnd, err = ParseBool(argstr)
	return
}

func loadEnvVarInt(cnd *int, envName string, defVal int) (err error) {
	if cnd == nil {
		return ErrInvalidArg
	} else if *cnd != 0 {
		return nil
	} else if len(envName) == 0 {
		return nil
	}
	var s string
	if s, err = loadEnv(envName); err == errNoEnvArg {
		*cnd = defVal
		return nil
	} else if err != nil {
		return
	}
	var v int64
	if v, err = ParseInt64(s); err == nil {
		*cnd = int(v)
	}
	return
}

// LoadStringFromFile reads a trimmed string value out of a regular
// file, refusing anything over maxFileValueSize.
func LoadStringFromFile(pth string, val *string) (err error) {
	if pth == `` {
		return errors.New("invalid path")
	} else if val == nil {
		return errors.New("invalid string pointer")
	}
	var fin *os.File
	var fi os.FileInfo
	var sz int64
	if fin, err = os.Open(pth); err != nil {
		return
	} else if fi, err = fin.Stat(); err != nil {
		fin.Close()
		return
	} else if !fi.Mode().IsRegular() {
		fin.Close()
		return fmt.Errorf("%q is not a regular file", pth)
	}
	if sz = fi.Size(); sz > maxFileValueSize {
		fin.Close()
		return fmt.Errorf("%q is too large %d", pth, sz)
	}
	buff := make([]byte, sz)
	_, err = io.ReadFull(fin, buff)
	fin.Close()
	if err != nil {
		return fmt.Errorf("failed to read complete string from %q: %w", pth, err)
	}
	*val = string(bytes.Trim(buff, "\n\t\r\x00"))
	return
}
